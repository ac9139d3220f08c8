// Package infra provides shared runtime primitives: circuit breakers,
// idempotency caching, per-lane serialization, and the push-to-pull event
// queue that bridges bus subscriptions into ordered iteration.
package infra

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Circuit breaker states.
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half-open"
)

// ErrCircuitOpen is returned when a call is rejected by an open breaker.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies the protected dependency.
	Name string

	// FailureThreshold is the number of failures within FailureWindow
	// before the breaker opens.
	FailureThreshold int

	// FailureWindow is the sliding window over which failures count.
	FailureWindow time.Duration

	// Cooldown is how long the circuit stays open before admitting a
	// half-open probe.
	Cooldown time.Duration

	// OnStateChange is called when the circuit state changes.
	OnStateChange func(name, from, to string)
}

// CircuitBreaker isolates a failing dependency by failing fast.
//
// State machine: CLOSED → OPEN when failures within the window reach the
// threshold; OPEN → HALF_OPEN after the cooldown; HALF_OPEN → CLOSED on
// the first success and back to OPEN on any failure. While HALF_OPEN only
// a single probe call is admitted.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu       sync.Mutex
	state    string
	failures []time.Time
	openedAt time.Time
	probing  bool

	now func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given config.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.FailureWindow <= 0 {
		config.FailureWindow = 30 * time.Second
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		config: config,
		state:  CircuitClosed,
		now:    time.Now,
	}
}

// Execute runs fn with circuit breaker protection.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

// ExecuteWithResult runs a value-returning function with protection.
func ExecuteWithResult[T any](cb *CircuitBreaker, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.admit(); err != nil {
		return zero, err
	}
	result, err := fn(ctx)
	cb.record(err)
	return result, err
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.now().Sub(cb.openedAt) >= cb.config.Cooldown {
		return CircuitHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.Cooldown {
			return ErrCircuitOpen
		}
		cb.transition(CircuitHalfOpen)
		cb.probing = true
		return nil
	case CircuitHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
		return nil
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	switch cb.state {
	case CircuitHalfOpen:
		cb.probing = false
		if err != nil {
			cb.openedAt = now
			cb.transition(CircuitOpen)
			return
		}
		cb.failures = cb.failures[:0]
		cb.transition(CircuitClosed)
	case CircuitClosed:
		if err == nil {
			return
		}
		cutoff := now.Add(-cb.config.FailureWindow)
		kept := cb.failures[:0]
		for _, t := range cb.failures {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		cb.failures = append(kept, now)
		if len(cb.failures) >= cb.config.FailureThreshold {
			cb.openedAt = now
			cb.transition(CircuitOpen)
		}
	}
}

// transition must be called with the mutex held.
func (cb *CircuitBreaker) transition(to string) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(cb.config.Name, from, to)
	}
}
