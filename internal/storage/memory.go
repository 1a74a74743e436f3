package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/candlekeep/candlekeep/internal/model"
)

// MemoryStore is an in-memory Store for tests and ephemeral runs. It has
// the same overwrite-on-conflict semantics as the Postgres store.
type MemoryStore struct {
	mu      sync.RWMutex
	candles map[model.CandleKey]model.Candle
	sync    map[syncKey]model.SyncStatus
}

type syncKey struct {
	venue    string
	symbol   string
	interval model.Interval
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		candles: make(map[model.CandleKey]model.Candle),
		sync:    make(map[syncKey]model.SyncStatus),
	}
}

// UpsertCandles writes candles, overwriting on natural-key conflict.
func (s *MemoryStore) UpsertCandles(ctx context.Context, candles []model.Candle) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range candles {
		s.candles[c.Key()] = c
	}
	return len(candles), nil
}

// QueryCandles returns matching candles in ascending timestamp order.
func (s *MemoryStore) QueryCandles(ctx context.Context, f Filter) ([]model.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Candle
	for k, c := range s.candles {
		if k.Venue != f.Venue || k.Symbol != f.Symbol || k.Interval != f.Interval {
			continue
		}
		if f.Since != 0 && k.Timestamp < f.Since {
			continue
		}
		if f.Until != 0 && k.Timestamp >= f.Until {
			continue
		}
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// NewestTimestamp returns the newest persisted open time, 0 if none.
func (s *MemoryStore) NewestTimestamp(ctx context.Context, venue, symbol string, interval model.Interval) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var newest int64
	for k := range s.candles {
		if k.Venue == venue && k.Symbol == symbol && k.Interval == interval && k.Timestamp > newest {
			newest = k.Timestamp
		}
	}
	return newest, nil
}

// OldestTimestamp returns the oldest persisted open time, 0 if none.
func (s *MemoryStore) OldestTimestamp(ctx context.Context, venue, symbol string, interval model.Interval) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var oldest int64
	for k := range s.candles {
		if k.Venue != venue || k.Symbol != symbol || k.Interval != interval {
			continue
		}
		if oldest == 0 || k.Timestamp < oldest {
			oldest = k.Timestamp
		}
	}
	return oldest, nil
}

// CandleCount returns the number of persisted candles for the feed.
func (s *MemoryStore) CandleCount(ctx context.Context, venue, symbol string, interval model.Interval) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for k := range s.candles {
		if k.Venue == venue && k.Symbol == symbol && k.Interval == interval {
			n++
		}
	}
	return n, nil
}

// UpdateSyncStatus applies a partial sync status update.
func (s *MemoryStore) UpdateSyncStatus(ctx context.Context, upd SyncStatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := syncKey{upd.Venue, upd.Symbol, upd.Interval}
	st, ok := s.sync[key]
	if !ok {
		st = model.SyncStatus{
			Venue:    upd.Venue,
			Symbol:   upd.Symbol,
			Interval: upd.Interval,
			State:    model.SyncIdle,
		}
	}

	if upd.State != nil {
		st.State = *upd.State
	}
	if upd.LastSyncedAt != nil {
		st.LastSyncedAt = *upd.LastSyncedAt
	}
	if upd.OldestTimestamp != nil {
		st.OldestTimestamp = *upd.OldestTimestamp
	}
	if upd.NewestTimestamp != nil {
		st.NewestTimestamp = *upd.NewestTimestamp
	}
	if upd.CandleCount != nil {
		st.CandleCount = *upd.CandleCount
	}
	if upd.LastError != nil {
		st.LastError = *upd.LastError
	}

	s.sync[key] = st
	return nil
}

// GetSyncStatus returns the feed's sync status, nil if never recorded.
func (s *MemoryStore) GetSyncStatus(ctx context.Context, venue, symbol string, interval model.Interval) (*model.SyncStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.sync[syncKey{venue, symbol, interval}]
	if !ok {
		return nil, nil
	}
	out := st
	return &out, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() {}
