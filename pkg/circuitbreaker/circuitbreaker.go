// Package circuitbreaker stops hammering an external service that keeps
// failing. After enough consecutive failures the circuit opens and calls
// fail fast; once a cooldown passes, a few probe requests decide whether
// to close it again.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the circuit position.
type State int

const (
	// StateClosed lets requests through.
	StateClosed State = iota
	// StateOpen fails requests immediately.
	StateOpen
	// StateHalfOpen admits a limited number of probe requests.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen means the call was rejected without being attempted.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTooManyRequests means the half-open probe quota is already taken.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config tunes the breaker. Build it through Options.
type Config struct {
	// Name shows up in the state change callback.
	Name string

	// FailureThreshold is how many consecutive failures open the circuit.
	FailureThreshold int

	// SuccessThreshold is how many consecutive half-open successes close it.
	SuccessThreshold int

	// Timeout is the open-state cooldown before probing starts.
	Timeout time.Duration

	// MaxHalfOpenRequests caps concurrent probes.
	MaxHalfOpenRequests int

	// OnStateChange fires on every transition.
	OnStateChange func(name string, from, to State)

	// IsFailure filters which errors count against the breaker. Nil
	// counts every non-nil error.
	IsFailure func(error) bool
}

// DefaultConfig: open after 5 failures, close after 2 probe successes,
// 30s cooldown, one probe at a time.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		MaxHalfOpenRequests: 1,
	}
}

// Option mutates a Config.
type Option func(*Config)

// WithFailureThreshold sets how many consecutive failures open the circuit.
func WithFailureThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.FailureThreshold = n
		}
	}
}

// WithSuccessThreshold sets how many probe successes close the circuit.
func WithSuccessThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.SuccessThreshold = n
		}
	}
}

// WithTimeout sets the open-state cooldown.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Timeout = d
		}
	}
}

// WithMaxHalfOpenRequests caps concurrent half-open probes.
func WithMaxHalfOpenRequests(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxHalfOpenRequests = n
		}
	}
}

// WithOnStateChange installs the transition callback.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(c *Config) {
		c.OnStateChange = fn
	}
}

// WithIsFailure installs the error filter.
func WithIsFailure(fn func(error) bool) Option {
	return func(c *Config) {
		c.IsFailure = fn
	}
}

// CircuitBreaker guards calls to one upstream service.
type CircuitBreaker struct {
	config Config

	mu              sync.Mutex
	state           State
	consecFailures  int
	consecSuccesses int
	lastFailureAt   time.Time
	probes          int
}

// New creates a closed breaker.
func New(name string, opts ...Option) *CircuitBreaker {
	config := DefaultConfig(name)
	for _, opt := range opts {
		opt(&config)
	}
	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// Execute runs fn when the circuit allows it and feeds the outcome back
// into the state machine. The fn error is returned as-is; rejections
// return ErrCircuitOpen or ErrTooManyRequests instead.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.observe(err)
	return err
}

// State returns the current circuit position.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// admit decides whether a request may proceed.
func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(cb.lastFailureAt) >= cb.config.Timeout {
			cb.transition(StateHalfOpen)
			cb.probes = 1
			return nil
		}
		return ErrCircuitOpen

	case StateHalfOpen:
		if cb.probes < cb.config.MaxHalfOpenRequests {
			cb.probes++
			return nil
		}
		return ErrTooManyRequests

	default:
		return ErrCircuitOpen
	}
}

// observe feeds one call outcome into the state machine.
func (cb *CircuitBreaker) observe(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failed := err != nil
	if failed && cb.config.IsFailure != nil {
		failed = cb.config.IsFailure(err)
	}

	if failed {
		cb.consecFailures++
		cb.consecSuccesses = 0
		cb.lastFailureAt = time.Now()

		switch cb.state {
		case StateClosed:
			if cb.consecFailures >= cb.config.FailureThreshold {
				cb.transition(StateOpen)
			}
		case StateHalfOpen:
			// One failed probe is enough to re-open.
			cb.transition(StateOpen)
		}
		return
	}

	cb.consecSuccesses++
	cb.consecFailures = 0
	if cb.state == StateHalfOpen && cb.consecSuccesses >= cb.config.SuccessThreshold {
		cb.transition(StateClosed)
	}
}

// transition moves to a new state and resets the streaks. Callers hold
// the mutex.
func (cb *CircuitBreaker) transition(next State) {
	if cb.state == next {
		return
	}

	prev := cb.state
	cb.state = next
	cb.consecFailures = 0
	cb.consecSuccesses = 0
	cb.probes = 0

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, prev, next)
	}
}

// CodeforcesBreaker is the breaker for the Codeforces API: trip fast,
// probe once a minute.
func CodeforcesBreaker(onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(
		"codeforces-api",
		WithFailureThreshold(3),
		WithSuccessThreshold(2),
		WithTimeout(60*time.Second),
		WithMaxHalfOpenRequests(1),
		WithOnStateChange(onStateChange),
	)
}
