package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrCircuitBreakerOpen    = errors.New("circuit breaker is open")
	ErrCircuitBreakerTimeout = errors.New("circuit breaker operation timeout")
)

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int32

const (
	StateClosed CircuitBreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig defines configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures before opening the circuit
	MaxFailures int

	// Cooldown is how long the circuit stays open before a probe is allowed
	Cooldown time.Duration

	// MaxConcurrentRequests is the max probes allowed in Half-Open state
	MaxConcurrentRequests int

	// SuccessThreshold is the number of probe successes needed in Half-Open to go to Closed
	SuccessThreshold int

	// RequestTimeout is the maximum time to wait for a single request. Zero disables it.
	RequestTimeout time.Duration

	// OnStateChange is called, outside the breaker lock, after every transition.
	OnStateChange func(from, to CircuitBreakerState)
}

// DefaultCircuitBreakerConfig returns the configuration used in front of the
// narrative store: five strikes, a one minute cooldown and a single probe.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:           5,
		Cooldown:              60 * time.Second,
		MaxConcurrentRequests: 1,
		SuccessThreshold:      1,
		RequestTimeout:        time.Second,
	}
}

// CircuitBreaker implements the circuit breaker pattern for fault tolerance
type CircuitBreaker struct {
	config CircuitBreakerConfig
	now    func() time.Time

	mu        sync.Mutex
	state     CircuitBreakerState
	failures  int
	successes int
	probes    int
	openedAt  time.Time
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 1
	}
	if config.MaxConcurrentRequests <= 0 {
		config.MaxConcurrentRequests = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{
		config: config,
		now:    time.Now,
		state:  StateClosed,
	}
}

// Execute wraps a function call with circuit breaker logic. fn receives a
// context bounded by RequestTimeout; a call that outlives it is counted as a
// failure and ErrCircuitBreakerTimeout is returned without waiting for fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	probe, err := cb.beforeRequest()
	if err != nil {
		return err
	}

	reqCtx, cancel := ctx, context.CancelFunc(func() {})
	if cb.config.RequestTimeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, cb.config.RequestTimeout)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("circuit breaker: panic in operation: %v", r)
			}
		}()
		done <- fn(reqCtx)
	}()

	select {
	case err := <-done:
		cb.afterRequest(probe, err)
		return err
	case <-reqCtx.Done():
		if ctx.Err() != nil {
			// the caller went away, which says nothing about the dependency
			cb.afterRequest(probe, context.Canceled)
			return ctx.Err()
		}
		cb.afterRequest(probe, ErrCircuitBreakerTimeout)
		return ErrCircuitBreakerTimeout
	}
}

// Call is Execute for operations that produce a value.
func Call[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := cb.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// beforeRequest decides whether a call may proceed. probe is true when the
// call is a half-open trial.
func (cb *CircuitBreaker) beforeRequest() (probe bool, err error) {
	var from CircuitBreakerState
	changed := false
	defer func() {
		if changed {
			cb.notify(from, StateHalfOpen)
		}
	}()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.Cooldown {
			return false, ErrCircuitBreakerOpen
		}
		from, changed = cb.state, true
		cb.state = StateHalfOpen
		cb.successes = 0
		cb.probes = 0
	}

	// half-open
	if cb.probes >= cb.config.MaxConcurrentRequests {
		return false, ErrCircuitBreakerOpen
	}
	cb.probes++
	return true, nil
}

// afterRequest records the outcome of a call admitted by beforeRequest.
func (cb *CircuitBreaker) afterRequest(probe bool, err error) {
	cb.mu.Lock()
	from := cb.state
	if probe {
		cb.probes--
	}

	switch {
	case errors.Is(err, context.Canceled):
	case err == nil:
		switch cb.state {
		case StateClosed:
			cb.failures = 0
		case StateHalfOpen:
			if probe {
				cb.successes++
				if cb.successes >= cb.config.SuccessThreshold {
					cb.toClosed()
				}
			}
		}
	default:
		cb.failures++
		switch cb.state {
		case StateClosed:
			if cb.failures >= cb.config.MaxFailures {
				cb.toOpen()
			}
		case StateHalfOpen:
			if probe {
				cb.toOpen()
			}
		}
	}
	to := cb.state
	cb.mu.Unlock()

	if from != to {
		cb.notify(from, to)
	}
}

func (cb *CircuitBreaker) toClosed() {
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.probes = 0
}

func (cb *CircuitBreaker) toOpen() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.successes = 0
}

func (cb *CircuitBreaker) notify(from, to CircuitBreakerState) {
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}

// State returns the current state of the circuit breaker. An open breaker whose
// cooldown has elapsed still reports open until the next call probes it.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current consecutive failure count
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.toClosed()
	cb.mu.Unlock()
	if from != StateClosed {
		cb.notify(from, StateClosed)
	}
}

// CircuitBreakerStats is a point-in-time snapshot for diagnostics.
type CircuitBreakerStats struct {
	State     CircuitBreakerState
	Failures  int
	Successes int
	Probes    int
	OpenedAt  time.Time
}

// Stats returns current statistics
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerStats{
		State:     cb.state,
		Failures:  cb.failures,
		Successes: cb.successes,
		Probes:    cb.probes,
		OpenedAt:  cb.openedAt,
	}
}
