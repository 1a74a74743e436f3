package guard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Errors returned by the rate limiter.
var (
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrQueueFull    = errors.New("rate limit queue full")
	ErrLimiterClose = errors.New("rate limiter closed")
)

// LimiterConfig configures a RateLimiter.
type LimiterConfig struct {
	MaxRequests   int           // Admission ceiling within the window
	Window        time.Duration // Trailing window length
	QueueRequests bool          // Queue instead of rejecting when at ceiling
	MaxQueueSize  int           // Queue capacity when queueing is enabled
}

// LimiterStatus is an observability snapshot, not used for control.
type LimiterStatus struct {
	InWindow  int // Admissions inside the current window
	Queued    int // Calls waiting for admission
	Remaining int // Capacity left in the current window
}

// RateLimiter admits at most MaxRequests calls per trailing Window.
// At the ceiling it either rejects immediately or, when QueueRequests
// is set, parks callers FIFO until window slots expire.
type RateLimiter struct {
	cfg    LimiterConfig
	logger *slog.Logger

	mu       sync.Mutex
	window   []time.Time // admission timestamps, oldest first
	queue    []*waiter
	draining bool
	closed   bool

	// Wakes the drain loop when the limiter closes.
	done chan struct{}
}

// waiter is one queued caller.
type waiter struct {
	ready     chan struct{} // closed when admitted
	cancelled bool          // set if the caller gave up
}

// NewRateLimiter creates a RateLimiter.
func NewRateLimiter(cfg LimiterConfig, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Execute runs call immediately if the window has capacity, queues it when
// queueing is enabled, and rejects it otherwise. The call itself runs on the
// caller's goroutine; queued callers block until admitted or ctx is done.
func (l *RateLimiter) Execute(ctx context.Context, call func(ctx context.Context) error) error {
	l.mu.Lock()

	if l.closed {
		l.mu.Unlock()
		return ErrLimiterClose
	}

	now := time.Now()
	l.trim(now)

	if len(l.window) < l.cfg.MaxRequests {
		l.window = append(l.window, now)
		l.mu.Unlock()
		return call(ctx)
	}

	if !l.cfg.QueueRequests {
		l.mu.Unlock()
		return ErrRateLimited
	}

	if len(l.queue) >= l.cfg.MaxQueueSize {
		l.mu.Unlock()
		return ErrQueueFull
	}

	w := &waiter{ready: make(chan struct{})}
	l.queue = append(l.queue, w)

	// One drain loop per instance; concurrent callers must not spawn
	// competing drains.
	if !l.draining {
		l.draining = true
		go l.drain()
	}
	l.mu.Unlock()

	select {
	case <-w.ready:
		return call(ctx)
	case <-ctx.Done():
		l.mu.Lock()
		w.cancelled = true
		l.mu.Unlock()
		return ctx.Err()
	case <-l.done:
		return ErrLimiterClose
	}
}

// Status reports the current window occupancy and queue depth.
func (l *RateLimiter) Status() LimiterStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.trim(time.Now())

	remaining := l.cfg.MaxRequests - len(l.window)
	if remaining < 0 {
		remaining = 0
	}
	return LimiterStatus{
		InWindow:  len(l.window),
		Queued:    len(l.queue),
		Remaining: remaining,
	}
}

// Close rejects all queued callers and stops the drain loop. Subsequent
// Execute calls fail with ErrLimiterClose.
func (l *RateLimiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	l.queue = nil
	close(l.done)
}

// trim discards window entries that have fallen out of the trailing window.
// The window is right-open: an entry is in-window iff elapsed < Window.
// Entries recorded in the same instant always count, so a zero Window
// degenerates to "reject once anything was admitted this instant".
// Must be called with the lock held.
func (l *RateLimiter) trim(now time.Time) {
	i := 0
	for ; i < len(l.window); i++ {
		elapsed := now.Sub(l.window[i])
		if elapsed == 0 || elapsed < l.cfg.Window {
			break
		}
	}
	if i > 0 {
		l.window = append(l.window[:0], l.window[i:]...)
	}
}

// drain admits queued callers one at a time as window slots expire.
func (l *RateLimiter) drain() {
	for {
		l.mu.Lock()

		if l.closed {
			l.draining = false
			l.mu.Unlock()
			return
		}

		// Drop callers that gave up while queued.
		for len(l.queue) > 0 && l.queue[0].cancelled {
			l.queue = l.queue[1:]
		}

		if len(l.queue) == 0 {
			l.draining = false
			l.mu.Unlock()
			return
		}

		now := time.Now()
		l.trim(now)

		if len(l.window) < l.cfg.MaxRequests {
			w := l.queue[0]
			l.queue = l.queue[1:]
			l.window = append(l.window, now)
			close(w.ready)
			l.mu.Unlock()
			continue
		}

		// Wait for the oldest in-window admission to expire.
		wait := l.window[0].Add(l.cfg.Window).Sub(now)
		l.mu.Unlock()

		if wait <= 0 {
			wait = time.Millisecond
		}

		select {
		case <-time.After(wait):
		case <-l.done:
			return
		}
	}
}
