package graph

import (
	"context"
	"sync"
	"time"
)

// BreakerState is a CircuitBreaker's current state.
type BreakerState string

// Breaker states.
const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	FailureWindow    time.Duration

	// OnStateChange, if set, is called after every transition.
	OnStateChange func(service string, from, to BreakerState)
}

// DefaultCircuitBreakerConfig returns this package's documented defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		Timeout:          30 * time.Second,
		FailureWindow:    60 * time.Second,
	}
}

// CircuitBreaker implements the Closed -> Open -> HalfOpen -> {Closed |
// Open} state machine described in this package's specification. One
// breaker instance protects one logical service identity (an MCP server, or
// a node key); callers may share a breaker across concurrent tasks.
type CircuitBreaker struct {
	cfg     CircuitBreakerConfig
	service string

	mu          sync.Mutex
	state       BreakerState
	failures    []time.Time
	openedAt    time.Time
	halfOpenInFlight bool
	consecutiveSuccesses int
}

// NewCircuitBreaker returns a breaker for service under cfg.
func NewCircuitBreaker(service string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultCircuitBreakerConfig().FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultCircuitBreakerConfig().SuccessThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCircuitBreakerConfig().Timeout
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = DefaultCircuitBreakerConfig().FailureWindow
	}
	return &CircuitBreaker{cfg: cfg, service: service, state: BreakerClosed}
}

// State returns the breaker's current state, first lazily transitioning
// Open -> HalfOpen if the open timeout has elapsed.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpenLocked(time.Now())
	return cb.state
}

func (cb *CircuitBreaker) maybeHalfOpenLocked(now time.Time) {
	if cb.state == BreakerOpen && now.Sub(cb.openedAt) >= cb.cfg.Timeout {
		cb.transitionLocked(BreakerHalfOpen)
		cb.consecutiveSuccesses = 0
		cb.halfOpenInFlight = false
	}
}

func (cb *CircuitBreaker) transitionLocked(to BreakerState) {
	from := cb.state
	cb.state = to
	if to == BreakerOpen {
		cb.openedAt = time.Now()
	}
	if cb.cfg.OnStateChange != nil && from != to {
		cb.cfg.OnStateChange(cb.service, from, to)
	}
}

// Execute runs fn if the breaker permits it, otherwise returns
// ErrCircuitOpen without invoking fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	now := time.Now()

	cb.mu.Lock()
	cb.maybeHalfOpenLocked(now)
	switch cb.state {
	case BreakerOpen:
		cb.mu.Unlock()
		return ErrCircuitOpen(cb.service)
	case BreakerHalfOpen:
		if cb.halfOpenInFlight {
			cb.mu.Unlock()
			return ErrCircuitOpen(cb.service)
		}
		cb.halfOpenInFlight = true
	}
	cb.mu.Unlock()

	err := fn(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == BreakerHalfOpen {
		cb.halfOpenInFlight = false
	}

	if err != nil {
		cb.recordFailureLocked(time.Now())
		return err
	}
	cb.recordSuccessLocked()
	return nil
}

func (cb *CircuitBreaker) recordFailureLocked(now time.Time) {
	if cb.state == BreakerHalfOpen {
		cb.transitionLocked(BreakerOpen)
		return
	}

	cb.failures = append(cb.failures, now)
	cb.evictOldFailuresLocked(now)
	if len(cb.failures) >= cb.cfg.FailureThreshold {
		cb.transitionLocked(BreakerOpen)
		cb.failures = nil
	}
}

func (cb *CircuitBreaker) recordSuccessLocked() {
	switch cb.state {
	case BreakerHalfOpen:
		cb.consecutiveSuccesses++
		if cb.consecutiveSuccesses >= cb.cfg.SuccessThreshold {
			cb.transitionLocked(BreakerClosed)
			cb.failures = nil
			cb.consecutiveSuccesses = 0
		}
	case BreakerClosed:
		cb.failures = nil
	}
}

// evictOldFailuresLocked drops failures older than FailureWindow before
// comparing against FailureThreshold, per the sliding-window rule adopted
// from the Rust source (SPEC_FULL.md §4).
func (cb *CircuitBreaker) evictOldFailuresLocked(now time.Time) {
	cutoff := now.Add(-cb.cfg.FailureWindow)
	kept := cb.failures[:0]
	for _, t := range cb.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	cb.failures = kept
}

// Reset forces the breaker back to Closed, discarding failure history.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(BreakerClosed)
	cb.failures = nil
	cb.consecutiveSuccesses = 0
}
