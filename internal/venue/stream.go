package venue

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/candlekeep/candlekeep/internal/model"
)

// Stream is the shared WebSocket streaming core. It implements
// StreamClient for any venue Protocol: one connection, demultiplexed
// subscriptions, automatic reconnection with subscription replay.
type Stream struct {
	proto  Protocol
	cfg    StreamConfig
	logger *slog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	gen      int // bumped per successful connect, stale loops self-retire
	status   ConnectionStatus
	subs     map[Topic]subscription
	onStatus []StatusHandler
	closed   bool

	writeMu  sync.Mutex
	statusCh chan ConnectionStatus
	done     chan struct{}
	wg       sync.WaitGroup
}

type subscription struct {
	candle CandleHandler
	trade  TradeHandler
}

// NewStream creates a stream client for the given protocol. Zero config
// fields take defaults. A nil logger falls back to slog.Default().
func NewStream(proto Protocol, cfg StreamConfig, logger *slog.Logger) *Stream {
	def := DefaultStreamConfig()
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Stream{
		proto:    proto,
		cfg:      cfg,
		logger:   logger.With("component", "stream", "venue", proto.Venue()),
		status:   StatusDisconnected,
		subs:     make(map[Topic]subscription),
		statusCh: make(chan ConnectionStatus, 16),
		done:     make(chan struct{}),
	}

	s.wg.Add(1)
	go s.notifyLoop()

	return s
}

// SubscribeCandles registers a candle handler for the symbol and interval.
// The first subscription opens the connection. Duplicate subscriptions
// are no-ops.
func (s *Stream) SubscribeCandles(symbol string, interval model.Interval, h CandleHandler) error {
	t := Topic{Kind: TopicCandles, Symbol: symbol, Interval: interval}
	return s.subscribe(t, subscription{candle: h})
}

// SubscribeTrades registers a trade handler for the symbol.
func (s *Stream) SubscribeTrades(symbol string, h TradeHandler) error {
	t := Topic{Kind: TopicTrades, Symbol: symbol}
	return s.subscribe(t, subscription{trade: h})
}

// UnsubscribeCandles removes the candle subscription. The topic is no
// longer replayed after reconnects.
func (s *Stream) UnsubscribeCandles(symbol string, interval model.Interval) error {
	return s.unsubscribe(Topic{Kind: TopicCandles, Symbol: symbol, Interval: interval})
}

// UnsubscribeTrades removes the trade subscription.
func (s *Stream) UnsubscribeTrades(symbol string) error {
	return s.unsubscribe(Topic{Kind: TopicTrades, Symbol: symbol})
}

// ConnectionStatus returns the current lifecycle state.
func (s *Stream) ConnectionStatus() ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// OnStatusChange registers a handler invoked on every status transition.
func (s *Stream) OnStatusChange(h StatusHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStatus = append(s.onStatus, h)
}

// Close tears down the connection and stops all background work. No
// handler fires after Close returns.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.setStatusLocked(StatusDisconnected)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("stream closed")
	return nil
}

func (s *Stream) subscribe(t Topic, sub subscription) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClientClosed
	}
	if _, ok := s.subs[t]; ok {
		s.mu.Unlock()
		return nil
	}
	s.subs[t] = sub

	if s.conn == nil {
		s.setStatusLocked(StatusConnecting)
		if err := s.connectLocked(); err != nil {
			delete(s.subs, t)
			s.setStatusLocked(StatusDisconnected)
			s.mu.Unlock()
			return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
		s.mu.Unlock()
		s.logger.Info("subscribed", "kind", t.Kind, "symbol", t.Symbol, "interval", t.Interval)
		return nil
	}

	conn := s.conn
	s.mu.Unlock()

	frame, err := s.proto.SubscribeFrame(t)
	if err != nil {
		s.mu.Lock()
		delete(s.subs, t)
		s.mu.Unlock()
		return err
	}
	if err := s.writeFrame(conn, frame); err != nil {
		// Subscription stays registered; the read loop will notice the
		// broken connection and the topic gets replayed on reconnect.
		return fmt.Errorf("subscribe write: %w", err)
	}
	s.logger.Info("subscribed", "kind", t.Kind, "symbol", t.Symbol, "interval", t.Interval)
	return nil
}

func (s *Stream) unsubscribe(t Topic) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClientClosed
	}
	if _, ok := s.subs[t]; !ok {
		s.mu.Unlock()
		return ErrNotSubscribed
	}
	delete(s.subs, t)
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	frame, err := s.proto.UnsubscribeFrame(t)
	if err != nil {
		return err
	}
	if err := s.writeFrame(conn, frame); err != nil {
		s.logger.Warn("unsubscribe write failed", "symbol", t.Symbol, "error", err)
	}
	s.logger.Info("unsubscribed", "kind", t.Kind, "symbol", t.Symbol, "interval", t.Interval)
	return nil
}

// connectLocked dials the venue, replays every active subscription, and
// starts the read and ping loops. Caller holds s.mu.
func (s *Stream) connectLocked() error {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.DialTimeout}
	conn, _, err := dialer.Dial(s.proto.URL(), nil)
	if err != nil {
		return err
	}

	for t := range s.subs {
		frame, err := s.proto.SubscribeFrame(t)
		if err != nil {
			conn.Close()
			return err
		}
		if err := s.writeFrame(conn, frame); err != nil {
			conn.Close()
			return err
		}
	}

	s.conn = conn
	s.gen++
	gen := s.gen
	s.setStatusLocked(StatusConnected)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readLoop(conn, gen)
	}()

	if frame, interval, ok := s.proto.Ping(); ok && interval > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.pingLoop(conn, gen, frame, interval)
		}()
	}

	return nil
}

func (s *Stream) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleDisconnect(conn, gen, err)
			return
		}
		s.dispatch(data)
	}
}

func (s *Stream) dispatch(data []byte) {
	msgs, err := s.proto.Parse(data)
	if err != nil {
		s.logger.Warn("unparseable frame", "error", err)
		return
	}

	for _, msg := range msgs {
		s.mu.Lock()
		sub, ok := s.subs[msg.Topic]
		s.mu.Unlock()
		if !ok {
			continue
		}

		switch {
		case msg.Candle != nil && sub.candle != nil:
			sub.candle(*msg.Candle)
		case msg.Trade != nil && sub.trade != nil:
			sub.trade(*msg.Trade)
		}
	}
}

func (s *Stream) pingLoop(conn *websocket.Conn, gen int, frame []byte, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		current := !s.closed && s.gen == gen && s.conn == conn
		s.mu.Unlock()
		if !current {
			return
		}

		if err := s.writeFrame(conn, frame); err != nil {
			// The read loop sees the same broken connection and drives
			// reconnection.
			return
		}
	}
}

func (s *Stream) handleDisconnect(conn *websocket.Conn, gen int, cause error) {
	s.mu.Lock()
	if s.closed || gen != s.gen || s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn.Close()
	s.conn = nil

	if len(s.subs) == 0 {
		s.setStatusLocked(StatusDisconnected)
		s.mu.Unlock()
		return
	}
	s.setStatusLocked(StatusReconnecting)
	s.mu.Unlock()

	s.logger.Warn("connection lost", "error", cause)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reconnect()
	}()
}

// reconnect retries the connection with doubling delays. It stands down
// if another path opened a connection in the meantime, so there is never
// more than one live connection per stream. Once the attempt budget is
// spent the stream settles in disconnected and stays there.
func (s *Stream) reconnect() {
	delay := s.cfg.ReconnectBaseDelay

	for attempt := 1; attempt <= s.cfg.MaxReconnectAttempts; attempt++ {
		select {
		case <-s.done:
			return
		case <-time.After(delay):
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if s.conn != nil {
			// A subscribe call re-opened the connection during the
			// backoff window.
			s.mu.Unlock()
			return
		}
		if len(s.subs) == 0 {
			s.setStatusLocked(StatusDisconnected)
			s.mu.Unlock()
			return
		}
		err := s.connectLocked()
		s.mu.Unlock()

		if err == nil {
			s.logger.Info("reconnected", "attempt", attempt)
			return
		}
		s.logger.Warn("reconnect attempt failed",
			"attempt", attempt,
			"max_attempts", s.cfg.MaxReconnectAttempts,
			"delay", delay,
			"error", err)

		delay *= 2
		if delay > s.cfg.ReconnectMaxDelay {
			delay = s.cfg.ReconnectMaxDelay
		}
	}

	s.mu.Lock()
	s.setStatusLocked(StatusDisconnected)
	s.mu.Unlock()
	s.logger.Error("reconnect budget exhausted",
		"max_attempts", s.cfg.MaxReconnectAttempts,
		"error", ErrReconnectsSpent)
}

func (s *Stream) writeFrame(conn *websocket.Conn, frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// setStatusLocked records a transition and queues the notification.
// Caller holds s.mu.
func (s *Stream) setStatusLocked(status ConnectionStatus) {
	if s.status == status {
		return
	}
	s.status = status
	select {
	case s.statusCh <- status:
	default:
		s.logger.Warn("status notification dropped", "status", status)
	}
}

// notifyLoop delivers status transitions to registered handlers in order,
// off the locked paths that produce them.
func (s *Stream) notifyLoop() {
	defer s.wg.Done()

	deliver := func(status ConnectionStatus) {
		s.mu.Lock()
		handlers := make([]StatusHandler, len(s.onStatus))
		copy(handlers, s.onStatus)
		s.mu.Unlock()
		for _, h := range handlers {
			h(status)
		}
	}

	for {
		select {
		case status := <-s.statusCh:
			deliver(status)
		case <-s.done:
			for {
				select {
				case status := <-s.statusCh:
					deliver(status)
				default:
					return
				}
			}
		}
	}
}
