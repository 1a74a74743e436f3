package storage

import (
	"context"

	"github.com/candlekeep/candlekeep/internal/model"
)

// Filter selects candles for a query.
type Filter struct {
	Venue    string
	Symbol   string
	Interval model.Interval
	Since    int64 // Inclusive lower bound (ms), 0 = unbounded
	Until    int64 // Exclusive upper bound (ms), 0 = unbounded
	Limit    int   // 0 = no limit
}

// SyncStatusUpdate is a partial update of a feed's sync status. Nil fields
// are left unchanged.
type SyncStatusUpdate struct {
	Venue    string
	Symbol   string
	Interval model.Interval

	State           *model.SyncState
	LastSyncedAt    *int64
	OldestTimestamp *int64
	NewestTimestamp *int64
	CandleCount     *int64
	LastError       *string
}

// Store is the durable storage collaborator shared by backfill and live
// streaming. Implementations must tolerate concurrent upserts for the same
// natural key.
type Store interface {
	// UpsertCandles writes candles, overwriting on natural-key conflict.
	// Returns the number of candles processed.
	UpsertCandles(ctx context.Context, candles []model.Candle) (int, error)

	// QueryCandles returns candles matching the filter in ascending
	// timestamp order.
	QueryCandles(ctx context.Context, f Filter) ([]model.Candle, error)

	// NewestTimestamp returns the newest persisted open time, 0 if none.
	NewestTimestamp(ctx context.Context, venue, symbol string, interval model.Interval) (int64, error)

	// OldestTimestamp returns the oldest persisted open time, 0 if none.
	OldestTimestamp(ctx context.Context, venue, symbol string, interval model.Interval) (int64, error)

	// CandleCount returns the number of persisted candles for the feed.
	CandleCount(ctx context.Context, venue, symbol string, interval model.Interval) (int64, error)

	// UpdateSyncStatus applies a partial sync status update.
	UpdateSyncStatus(ctx context.Context, upd SyncStatusUpdate) error

	// GetSyncStatus returns the feed's sync status, nil if never synced.
	GetSyncStatus(ctx context.Context, venue, symbol string, interval model.Interval) (*model.SyncStatus, error)

	// Close releases the store.
	Close()
}

// Helpers for building partial updates.

// StatePtr returns a pointer to a sync state value.
func StatePtr(s model.SyncState) *model.SyncState { return &s }

// Int64Ptr returns a pointer to an int64 value.
func Int64Ptr(v int64) *int64 { return &v }

// StringPtr returns a pointer to a string value.
func StringPtr(s string) *string { return &s }
