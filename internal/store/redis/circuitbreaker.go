package redis

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the position of a CircuitBreaker. The numeric values are
// exported as the breaker gauge.
type State int

const (
	StateClosed   State = 0
	StateOpen     State = 1
	StateHalfOpen State = 2
)

var stateNames = [...]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// ErrCircuitOpen is returned without touching Redis while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker fails cache calls fast while Redis is down so that catalog
// lookups fall through to the exchange at once.
//
// It opens after maxFailures consecutive failures. Once resetTimeout has
// passed, one trial call is let through; its outcome closes or reopens the
// breaker, and other calls are refused meanwhile. A call that ends because
// its own context was cancelled proves nothing about Redis and is not
// counted.
type CircuitBreaker struct {
	mu          sync.Mutex
	state       State
	streak      int
	maxFailures int
	cooldown    time.Duration
	retryAt     time.Time
	trial       bool
	now         func() time.Time

	// OnStateChange is called on every transition, under the breaker lock.
	OnStateChange func(from, to State)
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures: max(maxFailures, 1),
		cooldown:    resetTimeout,
		now:         time.Now,
	}
}

// Execute runs fn unless the breaker refuses it.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	ok, trial := cb.allow()
	if !ok {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(err, trial)
	return err
}

// CurrentState returns the current state.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// allow reports whether a call may run and whether it is the trial call.
func (cb *CircuitBreaker) allow() (ok, trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateClosed:
		return true, false
	case StateOpen:
		if cb.now().Before(cb.retryAt) {
			return false, false
		}
		cb.setState(StateHalfOpen)
	}
	if cb.trial {
		return false, false
	}
	cb.trial = true
	return true, true
}

func (cb *CircuitBreaker) record(err error, trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if trial {
		cb.trial = false
	}

	switch {
	case err == nil:
		cb.streak = 0
		cb.setState(StateClosed)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// A cancelled trial leaves the breaker half-open for the next caller.
	default:
		cb.streak++
		if trial || cb.streak >= cb.maxFailures {
			cb.retryAt = cb.now().Add(cb.cooldown)
			cb.setState(StateOpen)
		}
	}
}

func (cb *CircuitBreaker) setState(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if to == StateClosed {
		cb.streak = 0
	}
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
}
