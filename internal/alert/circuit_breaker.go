package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ordersentry/ordersentry/internal/errors"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means requests are flowing normally.
	CircuitClosed CircuitState = iota
	// CircuitHalfOpen means the breaker is testing if the provider recovered.
	CircuitHalfOpen
	// CircuitOpen means requests are being rejected.
	CircuitOpen
)

// String returns the string representation of CircuitState.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitHalfOpen:
		return "half-open"
	case CircuitOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.Newf("circuit breaker is open").
			Component("alert").
			Category(errors.CategoryLimit).
			Build()
	// ErrTooManyRequests is returned when the breaker is half-open and has
	// already allowed its test request.
	ErrTooManyRequests = errors.Newf("circuit breaker is half-open, too many requests").
				Component("alert").
				Category(errors.CategoryLimit).
				Build()
)

// CircuitBreakerConfig holds configuration for a push circuit breaker.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures before opening.
	MaxFailures int
	// Timeout is how long to wait before probing a failed provider again.
	Timeout time.Duration
	// HalfOpenMaxRequests caps concurrent probes while half-open.
	HalfOpenMaxRequests int
}

// DefaultCircuitBreakerConfig returns default circuit breaker configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:         5,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// Validate checks the circuit breaker configuration.
func (c CircuitBreakerConfig) Validate() error {
	if c.MaxFailures < 1 {
		return fmt.Errorf("max_failures must be at least 1, got %d", c.MaxFailures)
	}
	if c.Timeout < time.Second {
		return fmt.Errorf("timeout must be at least 1 second, got %v", c.Timeout)
	}
	if c.HalfOpenMaxRequests < 1 {
		return fmt.Errorf("half_open_max_requests must be at least 1, got %d", c.HalfOpenMaxRequests)
	}
	return nil
}

// PushCircuitBreaker guards one push provider. After MaxFailures consecutive
// failures it rejects sends until Timeout passes, then allows a single probe.
type PushCircuitBreaker struct {
	config           CircuitBreakerConfig
	state            CircuitState
	failures         int
	lastFailureTime  time.Time
	lastStateChange  time.Time
	halfOpenRequests int
	mu               sync.RWMutex
	providerName     string
	logger           *slog.Logger
}

// NewPushCircuitBreaker creates a breaker for the named provider. An invalid
// config is logged and used as-is so tests can run with short timeouts.
func NewPushCircuitBreaker(config CircuitBreakerConfig, providerName string, logger *slog.Logger) *PushCircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}
	if err := config.Validate(); err != nil {
		logger.Warn("circuit breaker config validation failed",
			"provider", providerName,
			"error", err)
	}
	return &PushCircuitBreaker{
		config:          config,
		state:           CircuitClosed,
		lastStateChange: time.Now(),
		providerName:    providerName,
		logger:          logger,
	}
}

// Call executes fn if the breaker allows it and records the outcome.
func (cb *PushCircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return fmt.Errorf("circuit breaker rejected request (%v, %d consecutive failures): %w",
			cb.State(), cb.Failures(), err)
	}
	err := fn(ctx)
	cb.afterCall(err)
	return err
}

func (cb *PushCircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if time.Since(cb.lastStateChange) >= cb.config.Timeout {
			cb.setState(CircuitHalfOpen)
			cb.halfOpenRequests = 1
			return nil
		}
		return ErrCircuitOpen
	case CircuitHalfOpen:
		if cb.halfOpenRequests >= cb.config.HalfOpenMaxRequests {
			return ErrTooManyRequests
		}
		cb.halfOpenRequests++
		return nil
	default:
		return ErrCircuitOpen
	}
}

func (cb *PushCircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.onSuccess()
		return
	}
	// Client-side cancellation is not a provider failure.
	if errors.Is(err, context.Canceled) {
		return
	}
	cb.onFailure()
}

func (cb *PushCircuitBreaker) onSuccess() {
	cb.failures = 0
	cb.lastFailureTime = time.Time{}
	if cb.state == CircuitHalfOpen {
		cb.setState(CircuitClosed)
	}
}

func (cb *PushCircuitBreaker) onFailure() {
	cb.failures++
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.setState(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.setState(CircuitOpen)
	case CircuitOpen:
	}
}

func (cb *PushCircuitBreaker) setState(newState CircuitState) {
	if cb.state == newState {
		return
	}
	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = time.Now()

	cb.logger.Info("circuit breaker state transition",
		"provider", cb.providerName,
		"old_state", oldState.String(),
		"new_state", newState.String(),
		"consecutive_failures", cb.failures)
}

// State returns the current state of the circuit breaker.
func (cb *PushCircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Failures returns the current number of consecutive failures.
func (cb *PushCircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// IsHealthy reports whether the breaker is closed.
func (cb *PushCircuitBreaker) IsHealthy() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state == CircuitClosed
}

// Reset manually returns the breaker to closed state.
func (cb *PushCircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.lastFailureTime = time.Time{}
	cb.halfOpenRequests = 0
	cb.setState(CircuitClosed)
}
