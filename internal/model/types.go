package model

import (
	"github.com/shopspring/decimal"
)

// Side is the canonical taker side of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Candle is a fixed-interval OHLCV summary for one venue symbol.
//
// (Venue, Symbol, Interval, Timestamp) is the natural key: re-delivery of
// the same key overwrites, it never duplicates.
type Candle struct {
	Venue     string          // Venue identifier (e.g., "binance")
	Symbol    string          // Venue symbol (e.g., "BTCUSDT")
	Interval  Interval        // Candle interval
	Timestamp int64           // Open time (ms since epoch, UTC)
	Open      decimal.Decimal // Open price
	High      decimal.Decimal // High price
	Low       decimal.Decimal // Low price
	Close     decimal.Decimal // Close price
	Volume    decimal.Decimal // Base asset volume
}

// CandleKey is the natural key of a Candle.
type CandleKey struct {
	Venue     string
	Symbol    string
	Interval  Interval
	Timestamp int64
}

// Key returns the candle's natural key.
func (c Candle) Key() CandleKey {
	return CandleKey{
		Venue:     c.Venue,
		Symbol:    c.Symbol,
		Interval:  c.Interval,
		Timestamp: c.Timestamp,
	}
}

// Trade is a single executed trade on a venue.
type Trade struct {
	Venue     string          // Venue identifier
	Symbol    string          // Venue symbol
	TradeID   string          // Venue-assigned trade ID
	Timestamp int64           // Execution time (ms since epoch, UTC)
	Price     decimal.Decimal // Trade price
	Size      decimal.Decimal // Trade size (base asset)
	Side      Side            // Canonical taker side
}

// SyncState describes the backfill state of a feed.
type SyncState string

const (
	SyncIdle    SyncState = "idle"
	SyncSyncing SyncState = "syncing"
	SyncError   SyncState = "error"
)

// SyncStatus tracks persisted-range bookkeeping per (venue, symbol, interval).
type SyncStatus struct {
	Venue           string
	Symbol          string
	Interval        Interval
	LastSyncedAt    int64 // Last successful sync (ms since epoch)
	OldestTimestamp int64 // Oldest persisted candle open time (ms), 0 if none
	NewestTimestamp int64 // Newest persisted candle open time (ms), 0 if none
	CandleCount     int64 // Number of persisted candles
	State           SyncState
	LastError       string // Message of the most recent failure, empty if none
}
