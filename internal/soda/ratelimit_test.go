package soda

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterTracksWindowBudget(t *testing.T) {
	l := NewRateLimiter(3600) // one per second, burst of a minute
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}

	snap := l.Snapshot()
	assert.Equal(t, 3600, snap.Ceiling)
	assert.Equal(t, 5, snap.Used)
	assert.Equal(t, 3595, snap.Remaining)
	assert.Equal(t, clock.Add(time.Hour), snap.WindowReset)
}

func TestRateLimiterWindowRollsOver(t *testing.T) {
	l := NewRateLimiter(3600)
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }

	require.NoError(t, l.Wait(context.Background()))
	require.Equal(t, 1, l.Snapshot().Used)

	clock = clock.Add(time.Hour + time.Minute)
	snap := l.Snapshot()
	assert.Equal(t, 0, snap.Used)
	assert.Equal(t, 3600, snap.Remaining)

	require.NoError(t, l.Wait(context.Background()))
	assert.Equal(t, 1, l.Snapshot().Used)
}

func TestRateLimiterRollingHourStaysUnderCeiling(t *testing.T) {
	// Worst case over any 60-minute window is the full burst plus one
	// hour of refills; together they must not exceed the ceiling.
	for _, perHour := range []int{60, 1000, 3600} {
		l := NewRateLimiter(perHour)
		refillPerHour := float64(l.limiter.Limit()) * 3600
		worstWindow := refillPerHour + float64(l.limiter.Burst())
		assert.LessOrEqual(t, worstWindow, float64(perHour)+0.5, "ceiling %d", perHour)
	}
}

func TestRateLimiterWaitHonorsContext(t *testing.T) {
	// Tiny budget so the second call must block for minutes.
	l := NewRateLimiter(1)

	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx)
	assert.Error(t, err)
}
