// Package circuit stops a storage backend from hammering a remote service
// that keeps failing.
package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/devstatic/devstatic/pkg/errors"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed - requests pass through
	StateClosed State = iota
	// StateOpen - requests are rejected without reaching the backend
	StateOpen
	// StateHalfOpen - a limited number of probe requests are allowed
	StateHalfOpen
)

// String returns string representation of state
func (s State) String() string {
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

// Config contains circuit breaker configuration
type Config struct {
	// Enabled turns the breaker on; a disabled breaker passes every call.
	Enabled bool `yaml:"enabled"`

	// ConsecutiveFailures trips the breaker once reached. Zero means 5.
	ConsecutiveFailures uint32 `yaml:"consecutive_failures"`

	// Maximum number of probe requests allowed while half-open
	MaxRequests uint32 `yaml:"max_requests"`

	// Period of the closed state after which counts are cleared
	Interval time.Duration `yaml:"interval"`

	// Period of the open state after which the breaker enters half-open state
	Timeout time.Duration `yaml:"timeout"`

	// Function called when state changes
	OnStateChange func(name string, from State, to State) `yaml:"-"`

	// IsFailure decides whether an error counts against the backend. The
	// default counts every error that is not a caller-side outcome.
	IsFailure func(err error) bool `yaml:"-"`
}

// DefaultConfig returns an enabled breaker tuned for object storage.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		ConsecutiveFailures: 5,
		MaxRequests:         1,
		Interval:            60 * time.Second,
		Timeout:             15 * time.Second,
	}
}

// Counts holds the numbers of requests and their successes/failures
type Counts struct {
	Requests             uint32    `json:"requests"`
	TotalSuccesses       uint32    `json:"total_successes"`
	TotalFailures        uint32    `json:"total_failures"`
	ConsecutiveSuccesses uint32    `json:"consecutive_successes"`
	ConsecutiveFailures  uint32    `json:"consecutive_failures"`
	LastActivity         time.Time `json:"last_activity"`
}

// Breaker implements the circuit breaker pattern
type Breaker struct {
	name   string
	config Config
	now    func() time.Time

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// New creates a breaker. A nil *Breaker is valid and never trips.
func New(name string, config Config) *Breaker {
	if !config.Enabled {
		return nil
	}
	if config.ConsecutiveFailures == 0 {
		config.ConsecutiveFailures = 5
	}
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.IsFailure == nil {
		config.IsFailure = IsBackendFailure
	}

	cb := &Breaker{
		name:   name,
		config: config,
		now:    time.Now,
		state:  StateClosed,
	}
	cb.expiry = cb.now().Add(config.Interval)
	return cb
}

// IsBackendFailure reports whether err says something about the health of
// the backend. Missing objects, denied access, invalid paths and canceled
// requests do not.
func IsBackendFailure(err error) bool {
	if err == nil {
		return false
	}
	switch errors.CodeOf(err) {
	case errors.ErrCodeObjectNotFound, errors.ErrCodeNotRegular,
		errors.ErrCodeAccessDenied, errors.ErrCodePathInvalid,
		errors.ErrCodeOperationCanceled:
		return false
	}
	return true
}

// Execute runs fn if the breaker allows it. A rejected call returns a
// BACKEND_UNAVAILABLE error without invoking fn.
func (cb *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if cb == nil {
		return fn(ctx)
	}
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.afterRequest(err)
	return err
}

func (cb *Breaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.currentState(cb.now())

	if state == StateOpen {
		return errors.NewError(errors.ErrCodeUnavailable, "circuit breaker is open").
			WithComponent("circuit").
			WithContext("breaker", cb.name)
	}

	if state == StateHalfOpen && cb.counts.Requests >= cb.config.MaxRequests {
		return errors.NewError(errors.ErrCodeUnavailable, "too many requests in half-open state").
			WithComponent("circuit").
			WithContext("breaker", cb.name)
	}

	cb.counts.onRequest(cb.now())
	return nil
}

func (cb *Breaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	state := cb.currentState(now)

	if cb.config.IsFailure(err) {
		cb.onFailure(state, now)
	} else {
		cb.onSuccess(state, now)
	}
}

func (cb *Breaker) onSuccess(state State, now time.Time) {
	cb.counts.onSuccess()

	if state == StateHalfOpen {
		cb.setState(StateClosed, now)
	}
}

func (cb *Breaker) onFailure(state State, now time.Time) {
	cb.counts.onFailure()

	switch state {
	case StateClosed:
		if cb.counts.ConsecutiveFailures >= cb.config.ConsecutiveFailures {
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		cb.setState(StateOpen, now)
	}
}

func (cb *Breaker) currentState(now time.Time) State {
	switch cb.state {
	case StateClosed:
		if !cb.expiry.IsZero() && cb.expiry.Before(now) {
			cb.counts.clear()
			cb.expiry = now.Add(cb.config.Interval)
		}
	case StateOpen:
		if cb.expiry.Before(now) {
			cb.setState(StateHalfOpen, now)
		}
	}
	return cb.state
}

func (cb *Breaker) setState(state State, now time.Time) {
	prev := cb.state
	if prev == state {
		return
	}

	cb.state = state
	cb.counts.clear()

	switch state {
	case StateClosed:
		cb.expiry = now.Add(cb.config.Interval)
	case StateOpen:
		cb.expiry = now.Add(cb.config.Timeout)
	case StateHalfOpen:
		cb.expiry = time.Time{}
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, prev, state)
	}
}

// State returns the current state of the breaker
func (cb *Breaker) State() State {
	if cb == nil {
		return StateClosed
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState(cb.now())
}

// Counts returns a copy of the current counts
func (cb *Breaker) Counts() Counts {
	if cb == nil {
		return Counts{}
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset closes the breaker and clears its counts
func (cb *Breaker) Reset() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.counts.clear()
	cb.setState(StateClosed, cb.now())
}

// Name returns the name of the breaker
func (cb *Breaker) Name() string {
	if cb == nil {
		return ""
	}
	return cb.name
}

func (c *Counts) onRequest(now time.Time) {
	c.Requests++
	c.LastActivity = now
}

func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

func (c *Counts) clear() {
	*c = Counts{}
}
