package guard

import (
	"context"
	"log/slog"
)

// ProtectedClient composes admission control and failure isolation around
// an arbitrary call. The limiter runs first: it is cheap and local, and a
// rate-limit rejection must never count as a circuit-breaker failure.
type ProtectedClient struct {
	limiter *RateLimiter
	breaker *CircuitBreaker
}

// NewProtectedClient wires a limiter and breaker together.
func NewProtectedClient(limCfg LimiterConfig, brkCfg BreakerConfig, logger *slog.Logger) *ProtectedClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProtectedClient{
		limiter: NewRateLimiter(limCfg, logger),
		breaker: NewCircuitBreaker(brkCfg, logger),
	}
}

// Execute runs call through the limiter, then the breaker.
func (p *ProtectedClient) Execute(ctx context.Context, call func(ctx context.Context) error) error {
	return p.limiter.Execute(ctx, func(ctx context.Context) error {
		return p.breaker.Execute(ctx, call)
	})
}

// LimiterStatus reports the limiter's window and queue occupancy.
func (p *ProtectedClient) LimiterStatus() LimiterStatus {
	return p.limiter.Status()
}

// BreakerState reports the breaker's current state.
func (p *ProtectedClient) BreakerState() BreakerState {
	return p.breaker.State()
}

// ResetBreaker forces the breaker closed.
func (p *ProtectedClient) ResetBreaker() {
	p.breaker.Reset()
}

// Close releases the limiter queue.
func (p *ProtectedClient) Close() {
	p.limiter.Close()
}
