package engine

import (
	"time"
)

const (
	// DefaultRequestsPerWindow is the helpdesk API ceiling per window.
	DefaultRequestsPerWindow = 500
	// DefaultWindow is the trailing window the ceiling applies to.
	DefaultWindow = time.Minute
)

// RateBudget paces requests so that no trailing window holds more than
// Limit sends. It is owned by a single Dispatcher and is not safe for
// concurrent use on its own.
type RateBudget struct {
	Limit  int
	Window time.Duration

	sent []time.Time
}

// NewRateBudget returns a budget with the given ceiling and window. Zero
// values fall back to the defaults.
func NewRateBudget(limit int, window time.Duration) *RateBudget {
	return &RateBudget{Limit: limit, Window: window}
}

// Wait returns how long a caller must wait at now before the next send
// fits in the budget. Expired entries are pruned as a side effect.
func (b *RateBudget) Wait(now time.Time) time.Duration {
	if b == nil {
		return 0
	}

	b.prune(now)
	if len(b.sent) < b.limit() {
		return 0
	}

	wait := b.window() - now.Sub(b.sent[0])
	if wait < 0 {
		return 0
	}
	return wait
}

// Record notes a send at now.
func (b *RateBudget) Record(now time.Time) {
	if b == nil {
		return
	}
	b.prune(now)
	b.sent = append(b.sent, now)
}

// InWindow returns the number of sends within the trailing window at now.
func (b *RateBudget) InWindow(now time.Time) int {
	if b == nil {
		return 0
	}
	b.prune(now)
	return len(b.sent)
}

// prune drops sends at or before now-window; windows are half-open so an
// entry exactly one window old no longer counts.
func (b *RateBudget) prune(now time.Time) {
	cutoff := now.Add(-b.window())
	idx := 0
	for idx < len(b.sent) && !b.sent[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return
	}
	b.sent = append(b.sent[:0], b.sent[idx:]...)
}

func (b *RateBudget) limit() int {
	if b.Limit <= 0 {
		return DefaultRequestsPerWindow
	}
	return b.Limit
}

func (b *RateBudget) window() time.Duration {
	if b.Window <= 0 {
		return DefaultWindow
	}
	return b.Window
}
