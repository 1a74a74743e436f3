// Package bus implements the in-process event distribution mechanism.
//
// The bus:
//   - Publishes typed events on named topics (candle, trade, connection status)
//   - Fans out to subscribers with at-most-once, in-process delivery
//   - Bounds the subscriber list per topic, so listeners cannot accumulate
//   - Never blocks publishers: a subscriber with a full buffer drops the event
package bus

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Well-known topics.
const (
	TopicCandle = "candle"
	TopicTrade  = "trade"
	TopicStatus = "connection_status"
)

// Errors returned by the bus.
var (
	ErrTooManySubscribers = errors.New("subscriber limit reached for topic")
	ErrBusClosed          = errors.New("bus closed")
)

// Event is the unit passed through the bus.
type Event struct {
	Topic       string
	Payload     any
	PublishedAt time.Time
}

// Config bounds the bus.
type Config struct {
	MaxSubscribers int // Per-topic subscriber cap (default 32)
	BufferSize     int // Per-subscriber channel buffer (default 256)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxSubscribers: 32,
		BufferSize:     256,
	}
}

// Stats is an observability snapshot of the bus.
type Stats struct {
	Published   int64
	Delivered   int64
	Dropped     int64
	Subscribers int
}

// Bus is a bounded, non-blocking publish/subscribe hub.
type Bus struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[string][]*subscriber
	closed bool

	published int64
	delivered int64
	dropped   int64
}

type subscriber struct {
	ch chan Event
}

// New creates a Bus.
func New(cfg Config, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxSubscribers < 1 {
		cfg.MaxSubscribers = DefaultConfig().MaxSubscribers
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	return &Bus{
		cfg:    cfg,
		logger: logger,
		subs:   make(map[string][]*subscriber),
	}
}

// Subscribe registers a listener for a topic. The returned cancel function
// removes the subscription and closes the channel.
func (b *Bus) Subscribe(topic string) (<-chan Event, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, nil, ErrBusClosed
	}
	if len(b.subs[topic]) >= b.cfg.MaxSubscribers {
		return nil, nil, ErrTooManySubscribers
	}

	s := &subscriber{ch: make(chan Event, b.cfg.BufferSize)}
	b.subs[topic] = append(b.subs[topic], s)

	cancel := func() { b.unsubscribe(topic, s) }
	return s.ch, cancel, nil
}

// Publish delivers an event to every subscriber of the topic. Delivery is
// at-most-once: subscribers with a full buffer miss the event.
func (b *Bus) Publish(topic string, payload any) {
	evt := Event{
		Topic:       topic,
		Payload:     payload,
		PublishedAt: time.Now(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.published++

	for _, s := range b.subs[topic] {
		select {
		case s.ch <- evt:
			b.delivered++
		default:
			b.dropped++
			b.logger.Warn("subscriber buffer full, dropping event", "topic", topic)
		}
	}
}

// Stats returns bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, subs := range b.subs {
		n += len(subs)
	}
	return Stats{
		Published:   b.published,
		Delivered:   b.delivered,
		Dropped:     b.dropped,
		Subscribers: n,
	}
}

// Close removes all subscribers and closes their channels. Publishing to a
// closed bus is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, subs := range b.subs {
		for _, s := range subs {
			close(s.ch)
		}
	}
	b.subs = make(map[string][]*subscriber)
}

func (b *Bus) unsubscribe(topic string, target *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	subs := b.subs[topic]
	for i, s := range subs {
		if s == target {
			b.subs[topic] = append(subs[:i], subs[i+1:]...)
			close(s.ch)
			return
		}
	}
}
