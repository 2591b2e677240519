// Package breaker implements the circuit breaker that gates pipeline
// execution against a failing downstream resource, plus a named registry
// so distinct coordinators referencing the same breaker name observe the
// same state.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State represents the current state of a circuit breaker.
type State int

const (
	// Closed is the normal operating state. Calls pass through.
	Closed State = iota
	// Open indicates the circuit has tripped. Calls are rejected.
	Open
	// HalfOpen indicates the circuit is testing whether the protected
	// resource has recovered.
	HalfOpen
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ErrOpen is returned when the circuit breaker is open and refuses to
// execute the call. It is deliberately distinct from any error the
// wrapped function may return.
var ErrOpen = errors.New("circuit breaker is open")

// Config holds the parameters for a circuit breaker.
type Config struct {
	// Name identifies this circuit breaker instance within a registry.
	Name string `json:"name" yaml:"name"`

	// FailureThreshold is the number of consecutive failures required to
	// trip the circuit from closed to open. Defaults to 5.
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`

	// SuccessThreshold is the number of consecutive successes in the
	// half-open state required to close the circuit. Defaults to 1, so a
	// single successful probe restores normal operation.
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold"`

	// RecoveryTimeout is the duration the circuit stays open before the
	// next call is allowed through as a probe. Defaults to 30 seconds.
	RecoveryTimeout time.Duration `json:"recovery_timeout" yaml:"recovery_timeout"`

	// MaxProbes is the maximum number of concurrent probe calls allowed
	// in the half-open state. Defaults to 1.
	MaxProbes int `json:"max_probes" yaml:"max_probes"`
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 30 * time.Second
	}
	if c.MaxProbes <= 0 {
		c.MaxProbes = 1
	}
	return c
}

// CircuitBreaker tracks consecutive failures for a named resource and
// short-circuits calls once the failure threshold is reached. All state
// transitions happen under a single critical section so racing callers
// cannot disagree about whether the circuit opened.
type CircuitBreaker struct {
	config        Config
	state         State
	failures      int
	successes     int
	lastFailure   time.Time
	probeCount    int
	mu            sync.RWMutex
	onStateChange func(from, to State)
	// now is injectable for testing recovery timeouts.
	now func() time.Time
}

// New creates a circuit breaker with the given configuration.
func New(config Config) *CircuitBreaker {
	return &CircuitBreaker{
		config: config.withDefaults(),
		state:  Closed,
		now:    time.Now,
	}
}

// OnStateChange registers a callback invoked on every state transition.
// The callback runs while the breaker's lock is held, so it must not call
// back into the breaker.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Execute runs fn through the circuit breaker. If the circuit is open and
// the recovery timeout has not elapsed, it returns ErrOpen without
// invoking fn. Success and failure are recorded based on fn's error.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.allow(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil {
		cb.RecordFailure()
	} else {
		cb.RecordSuccess()
	}
	return err
}

// allow checks whether a call should pass through, transitioning
// open -> half-open when the recovery timeout has elapsed.
func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		return nil

	case Open:
		if cb.now().Sub(cb.lastFailure) >= cb.config.RecoveryTimeout {
			cb.transitionTo(HalfOpen)
			cb.probeCount++
			return nil
		}
		return ErrOpen

	case HalfOpen:
		if cb.probeCount >= cb.config.MaxProbes {
			return ErrOpen
		}
		cb.probeCount++
		return nil

	default:
		return ErrOpen
	}
}

// State returns the current state. An open circuit whose recovery timeout
// has elapsed reports HalfOpen; the actual transition happens on the next
// Execute call.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if cb.state == Open && cb.now().Sub(cb.lastFailure) >= cb.config.RecoveryTimeout {
		return HalfOpen
	}
	return cb.state
}

// Name returns the breaker's registry name.
func (cb *CircuitBreaker) Name() string { return cb.config.Name }

// Failures returns the current consecutive-failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// LastFailure returns the time of the most recent recorded failure.
func (cb *CircuitBreaker) LastFailure() time.Time {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.lastFailure
}

// Reset manually restores the breaker to the closed state, clearing all
// counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	old := cb.state
	cb.state = Closed
	cb.failures = 0
	cb.successes = 0
	cb.probeCount = 0

	if old != Closed && cb.onStateChange != nil {
		cb.onStateChange(old, Closed)
	}
}

// RecordSuccess records a successful call outcome.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		cb.failures = 0

	case HalfOpen:
		cb.successes++
		cb.probeCount--
		if cb.probeCount < 0 {
			cb.probeCount = 0
		}
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transitionTo(Closed)
		}

	case Open:
		// A success can only arrive here from a call admitted before the
		// circuit opened; it does not affect the open state.
	}
}

// RecordFailure records a failed call outcome. In the half-open state a
// single failure re-opens the circuit and restarts the recovery timer.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.lastFailure = cb.now()
			cb.transitionTo(Open)
		}

	case HalfOpen:
		cb.probeCount--
		if cb.probeCount < 0 {
			cb.probeCount = 0
		}
		cb.lastFailure = cb.now()
		cb.transitionTo(Open)

	case Open:
		cb.lastFailure = cb.now()
	}
}

// transitionTo changes state and fires the callback. Caller must hold mu.
func (cb *CircuitBreaker) transitionTo(newState State) {
	old := cb.state
	if old == newState {
		return
	}
	cb.state = newState
	cb.failures = 0
	cb.successes = 0
	cb.probeCount = 0

	if cb.onStateChange != nil {
		cb.onStateChange(old, newState)
	}
}
