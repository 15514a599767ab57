package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateBudgetWindow(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	budget := NewRateBudget(1, time.Minute)

	require.Zero(t, budget.Wait(clock))
	budget.Record(clock)

	require.Equal(t, time.Minute, budget.Wait(clock))
	require.Equal(t, 20*time.Second, budget.Wait(clock.Add(40*time.Second)))
	require.Zero(t, budget.Wait(clock.Add(time.Minute)))
}

func TestRateBudgetDefaults(t *testing.T) {
	budget := &RateBudget{}
	require.Equal(t, DefaultRequestsPerWindow, budget.limit())
	require.Equal(t, DefaultWindow, budget.window())
}

func TestRateBudgetPrunesExpired(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	budget := NewRateBudget(10, time.Minute)
	for i := 0; i < 5; i++ {
		budget.Record(start.Add(time.Duration(i) * time.Second))
	}

	require.Equal(t, 5, budget.InWindow(start.Add(30*time.Second)))
	require.Equal(t, 3, budget.InWindow(start.Add(61*time.Second)))
	require.Zero(t, budget.InWindow(start.Add(2*time.Minute)))
}

func TestRateBudgetNeverExceedsCeiling(t *testing.T) {
	const limit = 500
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	budget := NewRateBudget(limit, time.Minute)

	sent := make([]time.Time, 0, 1600)
	waits := 0
	for i := 0; i < 1600; i++ {
		if wait := budget.Wait(now); wait > 0 {
			waits++
			now = now.Add(wait)
			require.Zero(t, budget.Wait(now))
		}
		budget.Record(now)
		sent = append(sent, now)
		now = now.Add(10 * time.Millisecond)
	}

	require.Greater(t, waits, 0)

	lo := 0
	for hi := range sent {
		for !sent[lo].After(sent[hi].Add(-time.Minute)) {
			lo++
		}
		require.LessOrEqual(t, hi-lo+1, limit, "window ending at send %d holds too many sends", hi)
	}
}
