package guard

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// countingCall returns a call that fails while *failing is true, and counts
// every invocation.
func countingCall(calls *atomic.Int64, failing *atomic.Bool) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		calls.Add(1)
		if failing.Load() {
			return errBoom
		}
		return nil
	}
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
	}, nil)

	ctx := context.Background()
	var calls atomic.Int64
	var failing atomic.Bool
	failing.Store(true)
	call := countingCall(&calls, &failing)

	for i := 0; i < 2; i++ {
		require.ErrorIs(t, b.Execute(ctx, call), errBoom)
		require.Equal(t, StateClosed, b.State())
	}

	require.ErrorIs(t, b.Execute(ctx, call), errBoom)
	assert.Equal(t, StateOpen, b.State())

	// While open, calls fail fast without invoking the wrapped call.
	before := calls.Load()
	assert.ErrorIs(t, b.Execute(ctx, call), ErrCircuitOpen)
	assert.Equal(t, before, calls.Load())
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
	}, nil)

	ctx := context.Background()
	var calls atomic.Int64
	var failing atomic.Bool
	call := countingCall(&calls, &failing)

	failing.Store(true)
	require.Error(t, b.Execute(ctx, call))

	failing.Store(false)
	require.NoError(t, b.Execute(ctx, call))

	// The earlier failure no longer counts toward the threshold.
	failing.Store(true)
	require.Error(t, b.Execute(ctx, call))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     100 * time.Millisecond,
		SuccessThreshold: 1,
	}, nil)

	ctx := context.Background()
	var calls atomic.Int64
	var failing atomic.Bool
	call := countingCall(&calls, &failing)

	failing.Store(true)
	require.ErrorIs(t, b.Execute(ctx, call), errBoom)
	require.Equal(t, StateOpen, b.State())

	// 50ms later: still open, rejected without invocation.
	time.Sleep(50 * time.Millisecond)
	before := calls.Load()
	require.ErrorIs(t, b.Execute(ctx, call), ErrCircuitOpen)
	require.Equal(t, before, calls.Load())

	// 110ms after the failure: the next call is attempted and, succeeding
	// with SuccessThreshold=1, closes the breaker immediately.
	time.Sleep(60 * time.Millisecond)
	failing.Store(false)
	require.NoError(t, b.Execute(ctx, call))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenNeedsSuccessThreshold(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     10 * time.Millisecond,
		SuccessThreshold: 2,
	}, nil)

	ctx := context.Background()
	var calls atomic.Int64
	var failing atomic.Bool
	call := countingCall(&calls, &failing)

	failing.Store(true)
	require.Error(t, b.Execute(ctx, call))
	time.Sleep(20 * time.Millisecond)

	failing.Store(false)
	require.NoError(t, b.Execute(ctx, call))
	assert.Equal(t, StateHalfOpen, b.State(), "one success is not enough")

	require.NoError(t, b.Execute(ctx, call))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     10 * time.Millisecond,
		SuccessThreshold: 3,
	}, nil)

	ctx := context.Background()
	var calls atomic.Int64
	var failing atomic.Bool
	call := countingCall(&calls, &failing)

	failing.Store(true)
	require.Error(t, b.Execute(ctx, call))
	time.Sleep(20 * time.Millisecond)

	// Accumulate successes in half-open, then fail once.
	failing.Store(false)
	require.NoError(t, b.Execute(ctx, call))
	require.NoError(t, b.Execute(ctx, call))
	require.Equal(t, StateHalfOpen, b.State())

	failing.Store(true)
	require.ErrorIs(t, b.Execute(ctx, call), errBoom)
	assert.Equal(t, StateOpen, b.State(), "any half-open failure reverts to open")

	// Prior half-open successes must not leak into the next cycle.
	time.Sleep(20 * time.Millisecond)
	failing.Store(false)
	require.NoError(t, b.Execute(ctx, call))
	assert.Equal(t, StateHalfOpen, b.State())
	assert.Equal(t, 1, b.Status().Successes)
}

func TestBreaker_Reset(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
	}, nil)

	ctx := context.Background()
	var calls atomic.Int64
	var failing atomic.Bool
	call := countingCall(&calls, &failing)

	failing.Store(true)
	require.Error(t, b.Execute(ctx, call))
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())

	st := b.Status()
	assert.Zero(t, st.Failures)
	assert.Zero(t, st.Successes)

	failing.Store(false)
	assert.NoError(t, b.Execute(ctx, call))
}
