package engine

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/deskops/requesterctl/internal/core"
)

const (
	HeaderRateLimitRemaining = "X-Ratelimit-Remaining"
	HeaderRetryAfter         = "Retry-After"
)

// SignalPolicy controls how the dispatcher reacts to rate limit headers.
type SignalPolicy struct {
	// DefaultRemaining is assumed when x-ratelimit-remaining is missing.
	DefaultRemaining int
	// LowRemaining triggers a pause when remaining drops below it.
	LowRemaining int
	// LowRemainingPause is how long to pause on a low remaining count.
	LowRemainingPause time.Duration
	// DefaultRetryAfter is used on 429 when Retry-After is missing.
	DefaultRetryAfter time.Duration
}

// DefaultSignalPolicy mirrors the helpdesk API's documented behaviour.
func DefaultSignalPolicy() SignalPolicy {
	return SignalPolicy{
		DefaultRemaining:  100,
		LowRemaining:      10,
		LowRemainingPause: 30 * time.Second,
		DefaultRetryAfter: 30 * time.Second,
	}
}

func (p SignalPolicy) withDefaults() SignalPolicy {
	def := DefaultSignalPolicy()
	if p.DefaultRemaining <= 0 {
		p.DefaultRemaining = def.DefaultRemaining
	}
	if p.LowRemaining <= 0 {
		p.LowRemaining = def.LowRemaining
	}
	if p.LowRemainingPause <= 0 {
		p.LowRemainingPause = def.LowRemainingPause
	}
	if p.DefaultRetryAfter <= 0 {
		p.DefaultRetryAfter = def.DefaultRetryAfter
	}
	return p
}

// ParseSignal reads the rate limit headers of a response.
func ParseSignal(header http.Header, statusCode int, policy SignalPolicy, now time.Time) core.RateLimitSignal {
	policy = policy.withDefaults()
	signal := core.RateLimitSignal{
		Remaining: remainingHeader(header, policy.DefaultRemaining),
	}
	if statusCode == http.StatusTooManyRequests {
		signal.RetryAfter = retryAfterHeader(header, policy.DefaultRetryAfter, now)
	}
	return signal
}

func remainingHeader(header http.Header, fallback int) int {
	if header == nil {
		return fallback
	}
	raw := strings.TrimSpace(header.Get(HeaderRateLimitRemaining))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func retryAfterHeader(header http.Header, fallback time.Duration, now time.Time) time.Duration {
	if header == nil {
		return fallback
	}

	retry := strings.TrimSpace(header.Get(HeaderRetryAfter))
	if retry == "" {
		return fallback
	}

	if seconds, err := strconv.Atoi(retry); err == nil {
		if seconds < 0 {
			return fallback
		}
		return time.Duration(seconds) * time.Second
	}
	if parsed, err := http.ParseTime(retry); err == nil {
		wait := parsed.Sub(now)
		if wait < 0 {
			return 0
		}
		return wait
	}

	return fallback
}
