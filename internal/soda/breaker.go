package soda

import (
	"errors"
	"sync"
	"time"
)

// Breaker states.
const (
	BreakerClosed   = "closed"
	BreakerOpen     = "open"
	BreakerHalfOpen = "half_open"
)

// ErrCircuitOpen is returned by Allow while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker is a consecutive-failure circuit breaker guarding the SODA
// upstream. After threshold consecutive failures it opens; once the
// cooldown elapses it admits exactly one trial call, whose outcome
// closes or re-opens the circuit.
type Breaker struct {
	mu          sync.Mutex
	threshold   int
	cooldown    time.Duration
	state       string
	failures    int
	lastFailure time.Time
	trialActive bool

	now func() time.Time
}

func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		state:     BreakerClosed,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. It performs the
// OPEN→HALF_OPEN transition when the cooldown has elapsed and reserves
// the half-open trial slot for the caller.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if b.now().Sub(b.lastFailure) < b.cooldown {
			return ErrCircuitOpen
		}
		b.state = BreakerHalfOpen
		b.trialActive = true
		return nil
	case BreakerHalfOpen:
		if b.trialActive {
			return ErrCircuitOpen
		}
		b.trialActive = true
		return nil
	}
	return nil
}

// Record reports the outcome of a call admitted by Allow. A nil error
// counts as success.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.trialActive = false
		if err != nil {
			b.state = BreakerOpen
			b.failures++
			b.lastFailure = b.now()
			return
		}
		b.state = BreakerClosed
		b.failures = 0
		return
	}

	if err != nil {
		b.failures++
		b.lastFailure = b.now()
		if b.failures >= b.threshold {
			b.state = BreakerOpen
		}
		return
	}
	b.failures = 0
}

// BreakerSnapshot is the health-surface view of the breaker.
type BreakerSnapshot struct {
	State               string
	ConsecutiveFailures int
	LastFailure         time.Time
	Cooldown            time.Duration
}

func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		State:               b.state,
		ConsecutiveFailures: b.failures,
		LastFailure:         b.lastFailure,
		Cooldown:            b.cooldown,
	}
}
