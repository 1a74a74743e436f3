// Package guard implements call protection for outbound venue requests.
//
// Guard components:
//   - RateLimiter: sliding-window admission control with optional FIFO queueing
//   - CircuitBreaker: failure-threshold state machine with lazy half-open probing
//   - ProtectedClient: composes limiter then breaker around an arbitrary call
//
// Each venue gets its own instances; there is no cross-venue coordination.
// Admission and dependency failures are returned to the immediate caller and
// never retried here — retry policy belongs to the caller.
package guard
