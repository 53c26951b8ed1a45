package soda

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces outbound requests to the configured requests/hour
// ceiling. A caller that would exceed the budget blocks in Wait until
// a token refills; it never fails fast. Budget accounting for the
// health surface is tracked per rolling hour window.
type RateLimiter struct {
	limiter *rate.Limiter
	ceiling int

	mu          sync.Mutex
	windowStart time.Time
	used        int

	now func() time.Time
}

func NewRateLimiter(perHour int) *RateLimiter {
	if perHour <= 0 {
		perHour = 1000
	}
	// The burst allows up to one minute of budget to be consumed
	// back-to-back. Refill covers the ceiling minus the burst, so
	// burst plus refills in any rolling hour stay within the ceiling.
	burst := perHour / 60
	if burst < 1 {
		burst = 1
	}
	refill := perHour - burst
	if refill < 1 {
		refill = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Every(time.Hour/time.Duration(refill)), burst),
		ceiling: perHour,
		now:     time.Now,
	}
}

// Wait blocks until a request token is available or ctx is done.
func (l *RateLimiter) Wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	now := l.now()
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= time.Hour {
		l.windowStart = now
		l.used = 0
	}
	l.used++
	l.mu.Unlock()
	return nil
}

// RateLimiterSnapshot is the health-surface view of the limiter.
type RateLimiterSnapshot struct {
	Ceiling     int
	Used        int
	Remaining   int
	WindowReset time.Time
}

func (l *RateLimiter) Snapshot() RateLimiterSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	used := l.used
	reset := l.windowStart.Add(time.Hour)
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= time.Hour {
		used = 0
		reset = now.Add(time.Hour)
	}

	remaining := l.ceiling - used
	if remaining < 0 {
		remaining = 0
	}
	return RateLimiterSnapshot{
		Ceiling:     l.ceiling,
		Used:        used,
		Remaining:   remaining,
		WindowReset: reset,
	}
}
