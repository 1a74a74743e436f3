package guard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call without
// invoking it.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerState is the circuit breaker state.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half-open"
)

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	FailureThreshold int           // Consecutive failures that open the breaker
	ResetTimeout     time.Duration // Quiet period before a half-open probe
	SuccessThreshold int           // Half-open successes required to close (default 1)
}

// BreakerStatus is a read-only snapshot of the breaker.
type BreakerStatus struct {
	State       BreakerState
	Failures    int
	Successes   int
	LastFailure time.Time
}

// CircuitBreaker stops calling a known-bad dependency. The open → half-open
// transition is lazy: it happens on the next call attempt after ResetTimeout
// has elapsed since the last recorded failure.
type CircuitBreaker struct {
	cfg    BreakerConfig
	logger *slog.Logger

	mu          sync.Mutex
	state       BreakerState
	failures    int
	successes   int // half-open successes
	lastFailure time.Time
}

// NewCircuitBreaker creates a CircuitBreaker in the closed state.
func NewCircuitBreaker(cfg BreakerConfig, logger *slog.Logger) *CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 1
	}
	return &CircuitBreaker{
		cfg:    cfg,
		logger: logger,
		state:  StateClosed,
	}
}

// Execute runs call unless the breaker is open. While open, calls fail fast
// with ErrCircuitOpen and the wrapped call is never invoked.
func (b *CircuitBreaker) Execute(ctx context.Context, call func(ctx context.Context) error) error {
	b.mu.Lock()

	if b.state == StateOpen {
		if time.Since(b.lastFailure) < b.cfg.ResetTimeout {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
	}
	b.mu.Unlock()

	err := call(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status returns a snapshot of the breaker counters.
func (b *CircuitBreaker) Status() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStatus{
		State:       b.state,
		Failures:    b.failures,
		Successes:   b.successes,
		LastFailure: b.lastFailure,
	}
}

// Reset forces the breaker closed with counters cleared. Manual operator
// intervention only.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
}

// onSuccess records a successful call. Must be called with the lock held.
func (b *CircuitBreaker) onSuccess() {
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
		}
	}
}

// onFailure records a failed call. Must be called with the lock held.
func (b *CircuitBreaker) onFailure() {
	b.lastFailure = time.Now()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		// Any failure during the probe reopens immediately.
		b.transition(StateOpen)
	}
}

// transition moves to a new state, clearing counters so a prior cycle
// never leaks into the next. Must be called with the lock held.
func (b *CircuitBreaker) transition(next BreakerState) {
	if b.state != next {
		b.logger.Info("circuit breaker state change",
			"from", b.state,
			"to", next,
			"failures", b.failures,
		)
	}

	b.state = next
	switch next {
	case StateClosed:
		b.failures = 0
		b.successes = 0
	case StateOpen:
		b.successes = 0
	case StateHalfOpen:
		b.successes = 0
	}
}
