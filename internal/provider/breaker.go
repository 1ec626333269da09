package provider

import (
	"sync"
	"time"
)

// BreakerState is the state of a per-model circuit breaker.
type BreakerState int

const (
	// BreakerClosed lets requests through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects requests until the reset timeout elapses.
	BreakerOpen
	// BreakerHalfOpen lets trial requests through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker trips after failureThreshold consecutive failures, stays open for
// resetTimeout, then closes again after halfOpenMax trial successes. A
// failure while half-open reopens it.
type Breaker struct {
	mu sync.Mutex

	state            BreakerState
	failureThreshold int
	resetTimeout     time.Duration
	halfOpenMax      int

	failures        int
	trialSuccesses  int
	lastFailureTime time.Time
}

// NewBreaker creates a closed Breaker.
func NewBreaker(failureThreshold int, resetTimeout time.Duration, halfOpenMax int) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 1
	}
	if halfOpenMax <= 0 {
		halfOpenMax = 1
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		halfOpenMax:      halfOpenMax,
	}
}

// Allow reports whether a request may proceed. An open breaker moves to
// half-open once the reset timeout has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerOpen {
		return true
	}
	if time.Since(b.lastFailureTime) >= b.resetTimeout {
		b.state = BreakerHalfOpen
		b.trialSuccesses = 0
		return true
	}
	return false
}

// RecordSuccess records a successful request.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == BreakerHalfOpen {
		b.trialSuccesses++
		if b.trialSuccesses >= b.halfOpenMax {
			b.state = BreakerClosed
		}
	}
}

// RecordFailure records a failed request.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailureTime = time.Now()

	switch b.state {
	case BreakerClosed:
		if b.failures >= b.failureThreshold {
			b.state = BreakerOpen
		}
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.trialSuccesses = 0
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Breakers lazily creates one Breaker per model.
type Breakers struct {
	mu sync.Mutex

	byModel          map[string]*Breaker
	failureThreshold int
	resetTimeout     time.Duration
	halfOpenMax      int
}

// NewBreakers creates a registry whose breakers share the given parameters.
func NewBreakers(failureThreshold int, resetTimeout time.Duration, halfOpenMax int) *Breakers {
	return &Breakers{
		byModel:          make(map[string]*Breaker),
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		halfOpenMax:      halfOpenMax,
	}
}

// Get returns the breaker for model, creating it if necessary.
func (r *Breakers) Get(model string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.byModel[model]
	if !ok {
		b = NewBreaker(r.failureThreshold, r.resetTimeout, r.halfOpenMax)
		r.byModel[model] = b
	}
	return b
}
