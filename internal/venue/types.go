package venue

import (
	"context"
	"errors"
	"time"

	"github.com/candlekeep/candlekeep/internal/model"
)

// Errors
var (
	ErrClientClosed     = errors.New("stream client closed")
	ErrUnknownInterval  = errors.New("interval not supported by venue")
	ErrReconnectsSpent  = errors.New("reconnect attempt budget exhausted")
	ErrNotSubscribed    = errors.New("not subscribed")
	ErrConnectionFailed = errors.New("connection failed")
)

// ConnectionStatus is the stream client lifecycle state.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
)

// Handlers receive normalized market data and status changes.
type (
	CandleHandler func(model.Candle)
	TradeHandler  func(model.Trade)
	StatusHandler func(ConnectionStatus)
)

// TopicKind distinguishes subscription channels.
type TopicKind string

const (
	TopicCandles TopicKind = "candles"
	TopicTrades  TopicKind = "trades"
)

// Topic keys one subscription on the shared connection. Interval is empty
// for trade topics.
type Topic struct {
	Kind     TopicKind
	Symbol   string
	Interval model.Interval
}

// Message is one decoded market-data update.
type Message struct {
	Topic  Topic
	Candle *model.Candle
	Trade  *model.Trade
}

// Protocol is the per-venue frame codec. Implementations hold no
// connection state; the shared Stream owns the socket.
type Protocol interface {
	// Venue returns the canonical venue identifier.
	Venue() string

	// URL returns the WebSocket endpoint.
	URL() string

	// SubscribeFrame encodes the control frame that subscribes the topic.
	SubscribeFrame(t Topic) ([]byte, error)

	// UnsubscribeFrame encodes the control frame that unsubscribes the topic.
	UnsubscribeFrame(t Topic) ([]byte, error)

	// Parse decodes an inbound frame into normalized messages. Venues
	// may batch several updates per frame. Control frames (acks,
	// pongs) return (nil, nil).
	Parse(data []byte) ([]Message, error)

	// Ping returns the application-level keep-alive frame and its cadence.
	// Venues that rely on transport pings return ok=false.
	Ping() (frame []byte, interval time.Duration, ok bool)
}

// StreamClient is the venue-agnostic streaming contract.
type StreamClient interface {
	SubscribeCandles(symbol string, interval model.Interval, h CandleHandler) error
	UnsubscribeCandles(symbol string, interval model.Interval) error
	SubscribeTrades(symbol string, h TradeHandler) error
	UnsubscribeTrades(symbol string) error

	ConnectionStatus() ConnectionStatus
	OnStatusChange(h StatusHandler)
	Close() error
}

// RESTClient fetches historical candles. Pages are returned in ascending
// timestamp order, at most limit candles at or after since.
type RESTClient interface {
	Venue() string
	FetchCandles(ctx context.Context, symbol string, interval model.Interval, since int64, limit int) ([]model.Candle, error)
}

// StreamConfig configures the shared streaming core.
type StreamConfig struct {
	ReconnectBaseDelay   time.Duration // Doubles per failed attempt
	ReconnectMaxDelay    time.Duration // Delay growth cap
	MaxReconnectAttempts int           // Terminal failure once exceeded
	DialTimeout          time.Duration
	WriteTimeout         time.Duration
}

// DefaultStreamConfig returns sensible defaults.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    60 * time.Second,
		MaxReconnectAttempts: 10,
		DialTimeout:          10 * time.Second,
		WriteTimeout:         5 * time.Second,
	}
}

// NormalizeMillis converts a venue timestamp to milliseconds since epoch.
// Values below 1e12 are treated as seconds (1e12 ms is ~2001, 1e12 s is
// ~33658, so the ranges cannot collide for market data).
func NormalizeMillis(ts int64) int64 {
	if ts > 0 && ts < 1_000_000_000_000 {
		return ts * 1000
	}
	return ts
}
