package errors

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a call is refused because the guarded
// dependency is considered down.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker's position.
type State int

const (
	// StateClosed passes calls through; failures are being counted.
	StateClosed State = iota
	// StateOpen refuses calls until the reset timeout elapses.
	StateOpen
	// StateHalfOpen lets calls through again to test recovery; the next
	// recorded outcome closes or re-opens the breaker.
	StateHalfOpen
)

// String returns the conventional lowercase state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CircuitBreaker sheds load from a dependency that keeps failing. The
// daemon puts one in front of the embedding pool: when the model runtime
// dies, queued indexing tasks fail fast instead of each waiting out a
// full timeout, and the first calls after the reset timeout probe for
// recovery. Opens after
// maxFailures consecutive failures; half-opens after resetTimeout.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration

	mu          sync.RWMutex
	state       State
	consecutive int
	openedAt    time.Time
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithMaxFailures sets how many consecutive failures trip the breaker.
func WithMaxFailures(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.maxFailures = n }
}

// WithResetTimeout sets how long the breaker stays open before probing.
func WithResetTimeout(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.resetTimeout = d }
}

// NewCircuitBreaker creates a closed breaker. Defaults: trips after 5
// consecutive failures, probes again after 30 seconds.
func NewCircuitBreaker(name string, opts ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:         name,
		maxFailures:  5,
		resetTimeout: 30 * time.Second,
		state:        StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name returns the breaker's name (used in logs).
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the effective state, accounting for an elapsed reset
// timeout.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.effectiveState()
}

// effectiveState maps "open but the timeout has passed" to half-open.
// Caller holds at least the read lock.
func (cb *CircuitBreaker) effectiveState() State {
	if cb.state == StateOpen && time.Since(cb.openedAt) > cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Failures returns the current consecutive-failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.consecutive
}

// Allow reports whether a call should proceed. Closed and half-open both
// allow (half-open is the recovery probe).
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.effectiveState() != StateOpen
}

// RecordSuccess resets the failure streak and closes the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutive = 0
	cb.state = StateClosed
}

// RecordFailure extends the failure streak, tripping the breaker when it
// reaches the threshold. A failed half-open probe re-opens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutive++
	if cb.consecutive >= cb.maxFailures || cb.effectiveState() == StateHalfOpen {
		cb.trip()
	}
}

// trip opens the breaker. Caller holds the write lock.
func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = time.Now()
}

// Execute runs fn through the breaker: refused with ErrCircuitOpen while
// open, counted as the recovery probe while half-open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}

	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}
