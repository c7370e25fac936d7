// Package breaker provides a process-local circuit breaker and a registry of
// named breakers.
//
// Breaker state deliberately lives in the process: each API instance protects
// itself from a failing dependency on its own observations.
package breaker

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stockcount-sync-api/internal/logging"
	"stockcount-sync-api/internal/metrics"
	"stockcount-sync-api/internal/syncerr"
)

// State of a circuit breaker.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config tunes a breaker.
type Config struct {
	// FailureThreshold consecutive failures while closed open the circuit.
	FailureThreshold int
	// SuccessThreshold consecutive successes while half-open close it.
	SuccessThreshold int
	// Timeout is how long the circuit stays open after the last failure.
	Timeout time.Duration
	// HalfOpenMaxCalls bounds concurrent trial calls while half-open.
	HalfOpenMaxCalls int
}

// DefaultConfig returns the defaults used when a field is left at zero.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = d.HalfOpenMaxCalls
	}
	return c
}

// Option customises a breaker at construction.
type Option func(*CircuitBreaker)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// CircuitBreaker is safe for concurrent use. Every admitted call (Acquire
// returned true) must be followed by exactly one RecordSuccess or RecordFailure.
type CircuitBreaker struct {
	name string
	cfg  Config
	now  func() time.Time
	log  zerolog.Logger

	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	halfOpenCalls   int
	lastFailureTime time.Time
}

// New creates a closed breaker.
func New(name string, cfg Config, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		name: name,
		cfg:  cfg.withDefaults(),
		now:  time.Now,
		log:  logging.Component("breaker").With().Str("breaker", name).Logger(),
	}
	for _, opt := range opts {
		opt(cb)
	}
	metrics.BreakerState.WithLabelValues(name).Set(float64(StateClosed))
	return cb
}

// Name returns the breaker's name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Acquire decides whether a call may proceed.
func (cb *CircuitBreaker) Acquire() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) < cb.cfg.Timeout {
			return false
		}
		cb.transition(StateHalfOpen)
		cb.halfOpenCalls = 1
		return true
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.cfg.HalfOpenMaxCalls {
			return false
		}
		cb.halfOpenCalls++
		return true
	}
	return false
}

// RecordSuccess reports that an admitted call succeeded.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.halfOpenCalls > 0 {
			cb.halfOpenCalls--
		}
		if cb.successCount >= cb.cfg.SuccessThreshold {
			cb.transition(StateClosed)
		}
	}
}

// RecordFailure reports that an admitted call failed.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = cb.now()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
	}
}

// Execute runs fn if admitted and records its outcome. It returns an
// admission-denied error without calling fn when the circuit is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.Acquire() {
		return syncerr.CircuitOpen(cb.name, cb.RetryAfter())
	}
	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

// State returns the current state without side effects. An open breaker
// whose timeout has elapsed still reports open until the next Acquire.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// RetryAfter is how long until an open breaker will admit a trial call.
func (cb *CircuitBreaker) RetryAfter() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.retryAfterLocked()
}

func (cb *CircuitBreaker) retryAfterLocked() time.Duration {
	switch cb.state {
	case StateOpen:
		left := cb.cfg.Timeout - cb.now().Sub(cb.lastFailureTime)
		if left < 0 {
			return 0
		}
		return left
	case StateHalfOpen:
		// Trial slots free up as calls complete; suggest a short wait.
		return time.Second
	}
	return 0
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
}

// transition changes state and zeroes all counters. Caller holds mu.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	cb.state = to
	cb.failureCount = 0
	cb.successCount = 0
	cb.halfOpenCalls = 0

	metrics.BreakerState.WithLabelValues(cb.name).Set(float64(to))
	if from != to {
		metrics.BreakerTransitions.WithLabelValues(cb.name, to.String()).Inc()
		cb.log.Info().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
	}
}

// Snapshot is a point-in-time view for status endpoints.
type Snapshot struct {
	Name              string     `json:"name"`
	State             string     `json:"state"`
	FailureCount      int        `json:"failure_count"`
	SuccessCount      int        `json:"success_count"`
	HalfOpenCalls     int        `json:"half_open_calls"`
	LastFailureTime   *time.Time `json:"last_failure_time,omitempty"`
	RetryAfterSeconds float64    `json:"retry_after_seconds"`
	FailureThreshold  int        `json:"failure_threshold"`
	SuccessThreshold  int        `json:"success_threshold"`
	TimeoutSeconds    float64    `json:"timeout_seconds"`
	HalfOpenMaxCalls  int        `json:"half_open_max_calls"`
}

// Snapshot returns the breaker's counters and configuration.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := Snapshot{
		Name:              cb.name,
		State:             cb.state.String(),
		FailureCount:      cb.failureCount,
		SuccessCount:      cb.successCount,
		HalfOpenCalls:     cb.halfOpenCalls,
		RetryAfterSeconds: cb.retryAfterLocked().Seconds(),
		FailureThreshold:  cb.cfg.FailureThreshold,
		SuccessThreshold:  cb.cfg.SuccessThreshold,
		TimeoutSeconds:    cb.cfg.Timeout.Seconds(),
		HalfOpenMaxCalls:  cb.cfg.HalfOpenMaxCalls,
	}
	if !cb.lastFailureTime.IsZero() {
		t := cb.lastFailureTime
		s.LastFailureTime = &t
	}
	return s
}
