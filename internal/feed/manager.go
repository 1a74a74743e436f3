// Package feed orchestrates per-venue feeds: registration, backfill,
// stream bridging, persistence, and event publication.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/candlekeep/candlekeep/internal/backfill"
	"github.com/candlekeep/candlekeep/internal/bus"
	"github.com/candlekeep/candlekeep/internal/model"
	"github.com/candlekeep/candlekeep/internal/storage"
	"github.com/candlekeep/candlekeep/internal/venue"
)

// Errors
var (
	ErrManagerClosed = errors.New("feed manager closed")
	ErrFeedNotFound  = errors.New("feed not found")
	ErrFeedExists    = errors.New("feed already registered")
)

// FeedConfig describes one feed to keep populated.
type FeedConfig struct {
	Symbol   string
	Interval model.Interval
	Persist  bool // Upsert live candles into storage
	Backfill bool // Run a forward backfill when the feed is added
	Trades   bool // Also stream trades for the symbol

	// Handler, when set, receives every live candle after persistence
	// and bus publication.
	Handler func(model.Candle)
}

// FeedStatus is a point-in-time view of one feed.
type FeedStatus struct {
	ID         string
	Symbol     string
	Interval   model.Interval
	Streaming  bool
	LastCandle *model.Candle
	Sync       *model.SyncStatus
}

type feedState struct {
	id         string
	cfg        FeedConfig
	streaming  bool
	lastCandle *model.Candle
}

// Manager owns one venue stream client and the feeds multiplexed over
// it. Live candles flow: last-candle update, optional persistence, bus
// publication, feed-local handler.
type Manager struct {
	venueName string
	stream    venue.StreamClient
	engine    *backfill.Engine
	store     storage.Store
	events    *bus.Bus
	logger    *slog.Logger

	mu     sync.Mutex
	feeds  map[string]*feedState
	closed bool
}

// NewManager creates a Manager. engine may be nil when no backfill is
// wanted. Stream status changes are republished on the bus.
func NewManager(venueName string, stream venue.StreamClient, engine *backfill.Engine, store storage.Store, events *bus.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		venueName: venueName,
		stream:    stream,
		engine:    engine,
		store:     store,
		events:    events,
		logger:    logger.With("component", "feed_manager", "venue", venueName),
	}
	m.feeds = make(map[string]*feedState)

	stream.OnStatusChange(func(status venue.ConnectionStatus) {
		m.logger.Info("connection status changed", "status", status)
		m.events.Publish(bus.TopicStatus, status)
	})

	return m
}

// AddFeed registers a feed and returns its ID. When the config asks for
// backfill it runs to completion first, so stream traffic lands on a
// populated store. A failed backfill leaves the feed registered with its
// sync status marked error, and the error is returned.
func (m *Manager) AddFeed(ctx context.Context, cfg FeedConfig) (string, error) {
	if _, err := model.ParseInterval(string(cfg.Interval)); err != nil {
		return "", fmt.Errorf("feed %s: %w", cfg.Symbol, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrManagerClosed
	}
	for _, st := range m.feeds {
		if st.cfg.Symbol == cfg.Symbol && st.cfg.Interval == cfg.Interval {
			m.mu.Unlock()
			return "", fmt.Errorf("%w: %s %s", ErrFeedExists, cfg.Symbol, cfg.Interval)
		}
	}

	id := uuid.NewString()
	m.feeds[id] = &feedState{id: id, cfg: cfg}
	m.mu.Unlock()

	m.logger.Info("feed added",
		"feed_id", id, "symbol", cfg.Symbol, "interval", cfg.Interval,
		"persist", cfg.Persist, "backfill", cfg.Backfill, "trades", cfg.Trades)

	if cfg.Backfill && m.engine != nil {
		if _, err := m.engine.Forward(ctx, backfill.Request{
			Symbol:   cfg.Symbol,
			Interval: cfg.Interval,
		}); err != nil {
			return id, fmt.Errorf("backfill %s %s: %w", cfg.Symbol, cfg.Interval, err)
		}
	}
	return id, nil
}

// RemoveFeed tears down the feed's stream subscription first, then
// discards its in-memory state.
func (m *Manager) RemoveFeed(id string) error {
	if err := m.StopStream(id); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.feeds, id)
	m.mu.Unlock()

	m.logger.Info("feed removed", "feed_id", id)
	return nil
}

// StartStream subscribes the feed on the venue connection. Starting an
// already-streaming feed is a no-op.
func (m *Manager) StartStream(id string) error {
	m.mu.Lock()
	st, ok := m.feeds[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrFeedNotFound, id)
	}
	if st.streaming {
		m.mu.Unlock()
		return nil
	}
	cfg := st.cfg
	m.mu.Unlock()

	if err := m.stream.SubscribeCandles(cfg.Symbol, cfg.Interval, func(c model.Candle) {
		m.handleCandle(id, c)
	}); err != nil {
		return fmt.Errorf("subscribe candles %s %s: %w", cfg.Symbol, cfg.Interval, err)
	}

	if cfg.Trades {
		if err := m.stream.SubscribeTrades(cfg.Symbol, m.handleTrade); err != nil {
			return fmt.Errorf("subscribe trades %s: %w", cfg.Symbol, err)
		}
	}

	m.mu.Lock()
	st.streaming = true
	m.mu.Unlock()

	m.logger.Info("stream started", "feed_id", id, "symbol", cfg.Symbol, "interval", cfg.Interval)
	return nil
}

// StopStream unsubscribes the feed. Stopping a non-streaming feed is a
// no-op. The trade subscription is shared per symbol and is only torn
// down once no other streaming feed wants trades for it.
func (m *Manager) StopStream(id string) error {
	m.mu.Lock()
	st, ok := m.feeds[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrFeedNotFound, id)
	}
	if !st.streaming {
		m.mu.Unlock()
		return nil
	}
	st.streaming = false
	cfg := st.cfg
	dropTrades := cfg.Trades && !m.tradesWantedLocked(cfg.Symbol)
	m.mu.Unlock()

	if err := m.stream.UnsubscribeCandles(cfg.Symbol, cfg.Interval); err != nil && !errors.Is(err, venue.ErrNotSubscribed) {
		return fmt.Errorf("unsubscribe candles %s %s: %w", cfg.Symbol, cfg.Interval, err)
	}
	if dropTrades {
		if err := m.stream.UnsubscribeTrades(cfg.Symbol); err != nil && !errors.Is(err, venue.ErrNotSubscribed) {
			return fmt.Errorf("unsubscribe trades %s: %w", cfg.Symbol, err)
		}
	}

	m.logger.Info("stream stopped", "feed_id", id, "symbol", cfg.Symbol, "interval", cfg.Interval)
	return nil
}

// tradesWantedLocked reports whether any streaming feed still needs the
// symbol's trade stream. Caller holds m.mu.
func (m *Manager) tradesWantedLocked(symbol string) bool {
	for _, st := range m.feeds {
		if st.streaming && st.cfg.Trades && st.cfg.Symbol == symbol {
			return true
		}
	}
	return false
}

// StartAll starts streaming on every registered feed concurrently.
func (m *Manager) StartAll(ctx context.Context) error {
	return m.forEachFeed(ctx, m.StartStream)
}

// StopAll stops streaming on every registered feed concurrently.
func (m *Manager) StopAll(ctx context.Context) error {
	return m.forEachFeed(ctx, m.StopStream)
}

func (m *Manager) forEachFeed(ctx context.Context, op func(string) error) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.feeds))
	for id := range m.feeds {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error { return op(id) })
	}
	return g.Wait()
}

// Status reports every feed with its sync status from storage. Reads
// never fail the whole call, a feed whose sync status cannot be read is
// reported without one.
func (m *Manager) Status(ctx context.Context) []FeedStatus {
	m.mu.Lock()
	states := make([]*feedState, 0, len(m.feeds))
	for _, st := range m.feeds {
		states = append(states, st)
	}
	m.mu.Unlock()

	out := make([]FeedStatus, 0, len(states))
	for _, st := range states {
		m.mu.Lock()
		fs := FeedStatus{
			ID:         st.id,
			Symbol:     st.cfg.Symbol,
			Interval:   st.cfg.Interval,
			Streaming:  st.streaming,
			LastCandle: st.lastCandle,
		}
		m.mu.Unlock()

		sync, err := m.store.GetSyncStatus(ctx, m.venueName, fs.Symbol, fs.Interval)
		if err != nil {
			m.logger.Warn("sync status read failed", "feed_id", fs.ID, "error", err)
		} else {
			fs.Sync = sync
		}
		out = append(out, fs)
	}
	return out
}

// ConnectionStatus returns the venue connection state.
func (m *Manager) ConnectionStatus() venue.ConnectionStatus {
	return m.stream.ConnectionStatus()
}

// Close stops all streams and closes the venue connection. The store and
// bus are owned by the caller and stay open.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if err := m.StopAll(ctx); err != nil {
		m.logger.Warn("stop all failed during close", "error", err)
	}
	return m.stream.Close()
}

func (m *Manager) handleCandle(id string, c model.Candle) {
	m.mu.Lock()
	st, ok := m.feeds[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	candle := c
	st.lastCandle = &candle
	persist := st.cfg.Persist
	handler := st.cfg.Handler
	m.mu.Unlock()

	if persist {
		if _, err := m.store.UpsertCandles(context.Background(), []model.Candle{c}); err != nil {
			m.logger.Error("live candle persist failed",
				"symbol", c.Symbol, "interval", c.Interval, "ts", c.Timestamp, "error", err)
		}
	}

	m.events.Publish(bus.TopicCandle, c)

	if handler != nil {
		handler(c)
	}
}

func (m *Manager) handleTrade(t model.Trade) {
	m.events.Publish(bus.TopicTrade, t)
}
