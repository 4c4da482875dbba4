package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Execute while the circuit is open
var ErrOpen = errors.New("circuit breaker open")

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the state name used in logs
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// CircuitBreaker fails fast once a dependency has failed failureThreshold times
// in a row. After timeout it lets probes through (half-open); successThreshold
// consecutive successes close it again, any failure reopens it.
type CircuitBreaker struct {
	failureThreshold int32
	successThreshold int32
	timeout          time.Duration
	now              func() time.Time

	mu            sync.Mutex
	state         State
	failures      int32
	successes     int32
	openedAt      time.Time
	onStateChange func(from, to State)
}

// NewCircuitBreaker creates a closed circuit breaker. Thresholds below one are
// treated as one.
func NewCircuitBreaker(failureThreshold, successThreshold int32, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: max(failureThreshold, 1),
		successThreshold: max(successThreshold, 1),
		timeout:          timeout,
		now:              time.Now,
	}
}

// SetStateChangeCallback registers a callback for state transitions. It runs
// outside the breaker's lock.
func (cb *CircuitBreaker) SetStateChangeCallback(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// GetState returns the current state. An open breaker whose timeout has passed
// still reports open until the next AllowRequest.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// AllowRequest reports whether a call may proceed, moving an expired open
// breaker to half-open.
func (cb *CircuitBreaker) AllowRequest() bool {
	cb.mu.Lock()
	switch cb.state {
	case StateClosed, StateHalfOpen:
		cb.mu.Unlock()
		return true
	}
	if cb.now().Sub(cb.openedAt) <= cb.timeout {
		cb.mu.Unlock()
		return false
	}
	notify := cb.transition(StateHalfOpen)
	cb.mu.Unlock()
	notify()
	return true
}

// RecordSuccess counts a successful call
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	notify := func() {}
	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			notify = cb.transition(StateClosed)
		}
	}
	cb.mu.Unlock()
	notify()
}

// RecordFailure counts a failed call
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	notify := func() {}
	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			notify = cb.transition(StateOpen)
		}
	case StateHalfOpen:
		notify = cb.transition(StateOpen)
	}
	cb.mu.Unlock()
	notify()
}

// Execute runs fn if the circuit allows it and records the outcome
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.AllowRequest() {
		return ErrOpen
	}
	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

// transition must be called with mu held; the returned func fires the callback
// and must be called after unlocking.
func (cb *CircuitBreaker) transition(to State) func() {
	from := cb.state
	cb.state = to
	cb.failures, cb.successes = 0, 0
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
	fn := cb.onStateChange
	if fn == nil || from == to {
		return func() {}
	}
	return func() { fn(from, to) }
}
