package safety

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Call while the breaker rejects work
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the circuit breaker state
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds configuration for a circuit breaker
type CircuitBreakerConfig struct {
	FailureThreshold uint32        `json:"failure_threshold" toml:"failure_threshold"` // consecutive failures before opening
	SuccessThreshold uint32        `json:"success_threshold" toml:"success_threshold"` // successes to close from half-open
	Timeout          time.Duration `json:"timeout" toml:"timeout"`                     // open period before a trial call

	// IsFailure decides which errors count against the breaker. Nil counts every error.
	IsFailure func(error) bool `json:"-" toml:"-"`
}

// CircuitBreaker implements the circuit breaker pattern for preventing cascading failures
type CircuitBreaker struct {
	config        CircuitBreakerConfig
	state         CircuitBreakerState
	failures      uint32
	successes     uint32
	lastFailure   time.Time
	nextAttempt   time.Time
	mutex         sync.Mutex
	name          string
	now           func() time.Time
	onStateChange func(name string, from, to CircuitBreakerState)
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 1
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
		name:   name,
		now:    time.Now,
	}
}

// WithClock replaces time.Now, for tests
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.now = now
	return cb
}

// SetStateChangeCallback sets a callback invoked after every state change
func (cb *CircuitBreaker) SetStateChangeCallback(callback func(name string, from, to CircuitBreakerState)) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.onStateChange = callback
}

// Call executes fn unless the breaker is open
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.canExecute() {
		return fmt.Errorf("%s: %w", cb.name, ErrCircuitOpen)
	}

	err := fn()
	if err != nil && (cb.config.IsFailure == nil || cb.config.IsFailure(err)) {
		cb.recordFailure()
		return err
	}

	cb.recordSuccess()
	return err
}

// canExecute determines if the circuit breaker allows execution
func (cb *CircuitBreaker) canExecute() bool {
	cb.mutex.Lock()
	var change func()
	allowed := true
	switch cb.state {
	case StateOpen:
		if cb.now().Before(cb.nextAttempt) {
			allowed = false
		} else {
			change = cb.setState(StateHalfOpen)
			cb.successes = 0
		}
	}
	cb.mutex.Unlock()

	if change != nil {
		change()
	}
	return allowed
}

// recordSuccess records a successful execution
func (cb *CircuitBreaker) recordSuccess() {
	cb.mutex.Lock()
	var change func()
	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			change = cb.setState(StateClosed)
			cb.successes = 0
		}
	}
	cb.mutex.Unlock()

	if change != nil {
		change()
	}
}

// recordFailure records a failed execution
func (cb *CircuitBreaker) recordFailure() {
	cb.mutex.Lock()
	var change func()
	cb.failures++
	cb.lastFailure = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.FailureThreshold {
			change = cb.open()
		}
	case StateHalfOpen:
		change = cb.open()
	}
	cb.mutex.Unlock()

	if change != nil {
		change()
	}
}

// open moves to StateOpen. Caller holds the mutex.
func (cb *CircuitBreaker) open() func() {
	cb.nextAttempt = cb.now().Add(cb.config.Timeout)
	cb.successes = 0
	return cb.setState(StateOpen)
}

// setState changes state under the mutex and returns the callback to run after unlocking
func (cb *CircuitBreaker) setState(newState CircuitBreakerState) func() {
	oldState := cb.state
	cb.state = newState
	if cb.onStateChange == nil || oldState == newState {
		return nil
	}
	callback, name := cb.onStateChange, cb.name
	return func() { callback(name, oldState, newState) }
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// CircuitBreakerStats holds statistics about a circuit breaker
type CircuitBreakerStats struct {
	Name        string
	State       CircuitBreakerState
	Failures    uint32
	Successes   uint32
	LastFailure time.Time
	NextAttempt time.Time
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() CircuitBreakerStats {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return CircuitBreakerStats{
		Name:        cb.name,
		State:       cb.state,
		Failures:    cb.failures,
		Successes:   cb.successes,
		LastFailure: cb.lastFailure,
		NextAttempt: cb.nextAttempt,
	}
}

// Reset resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	change := cb.setState(StateClosed)
	cb.failures = 0
	cb.successes = 0
	cb.mutex.Unlock()

	if change != nil {
		change()
	}
}
