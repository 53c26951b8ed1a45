package soda

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream down")

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.Record(errUpstream)
	}
	assert.Equal(t, BreakerClosed, b.Snapshot().State)

	require.NoError(t, b.Allow())
	b.Record(errUpstream)

	assert.Equal(t, BreakerOpen, b.Snapshot().State)
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	require.NoError(t, b.Allow())
	b.Record(errUpstream)
	require.NoError(t, b.Allow())
	b.Record(errUpstream)
	require.NoError(t, b.Allow())
	b.Record(nil)

	snap := b.Snapshot()
	assert.Equal(t, BreakerClosed, snap.State)
	assert.Equal(t, 0, snap.ConsecutiveFailures)
}

func TestBreakerHalfOpenTrialCloses(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(1, time.Minute)
	b.now = func() time.Time { return clock }

	require.NoError(t, b.Allow())
	b.Record(errUpstream)
	require.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	// Cooldown elapses; exactly one trial call is admitted.
	clock = clock.Add(61 * time.Second)
	require.NoError(t, b.Allow())
	assert.Equal(t, BreakerHalfOpen, b.Snapshot().State)
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	b.Record(nil)
	snap := b.Snapshot()
	assert.Equal(t, BreakerClosed, snap.State)
	assert.Equal(t, 0, snap.ConsecutiveFailures)
}

func TestBreakerHalfOpenTrialFailureReopens(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(1, time.Minute)
	b.now = func() time.Time { return clock }

	require.NoError(t, b.Allow())
	b.Record(errUpstream)

	clock = clock.Add(61 * time.Second)
	require.NoError(t, b.Allow())
	b.Record(errUpstream)

	assert.Equal(t, BreakerOpen, b.Snapshot().State)
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	// The failed trial restarts the cooldown.
	clock = clock.Add(61 * time.Second)
	assert.NoError(t, b.Allow())
}
