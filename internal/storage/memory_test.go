package storage

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candlekeep/candlekeep/internal/model"
)

func testCandle(ts int64, close string) model.Candle {
	return model.Candle{
		Venue:     "binance",
		Symbol:    "BTCUSDT",
		Interval:  model.Interval1h,
		Timestamp: ts,
		Open:      decimal.RequireFromString("100"),
		High:      decimal.RequireFromString("110"),
		Low:       decimal.RequireFromString("90"),
		Close:     decimal.RequireFromString(close),
		Volume:    decimal.RequireFromString("12.5"),
	}
}

func TestMemoryStore_UpsertOverwritesOnNaturalKey(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	n, err := s.UpsertCandles(ctx, []model.Candle{testCandle(1000, "105")})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Same natural key, different close: must overwrite, never duplicate.
	_, err = s.UpsertCandles(ctx, []model.Candle{testCandle(1000, "107")})
	require.NoError(t, err)

	count, err := s.CandleCount(ctx, "binance", "BTCUSDT", model.Interval1h)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	got, err := s.QueryCandles(ctx, Filter{Venue: "binance", Symbol: "BTCUSDT", Interval: model.Interval1h})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Close.Equal(decimal.RequireFromString("107")),
		"second write wins, got close %s", got[0].Close)
}

func TestMemoryStore_Bounds(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	newest, err := s.NewestTimestamp(ctx, "binance", "BTCUSDT", model.Interval1h)
	require.NoError(t, err)
	assert.Zero(t, newest, "empty store reports 0")

	_, err = s.UpsertCandles(ctx, []model.Candle{
		testCandle(3000, "1"),
		testCandle(1000, "2"),
		testCandle(2000, "3"),
	})
	require.NoError(t, err)

	newest, err = s.NewestTimestamp(ctx, "binance", "BTCUSDT", model.Interval1h)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), newest)

	oldest, err := s.OldestTimestamp(ctx, "binance", "BTCUSDT", model.Interval1h)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), oldest)

	// A different feed sees nothing.
	newest, err = s.NewestTimestamp(ctx, "binance", "ETHUSDT", model.Interval1h)
	require.NoError(t, err)
	assert.Zero(t, newest)
}

func TestMemoryStore_QueryOrderAndRange(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.UpsertCandles(ctx, []model.Candle{
		testCandle(4000, "4"),
		testCandle(1000, "1"),
		testCandle(3000, "3"),
		testCandle(2000, "2"),
	})
	require.NoError(t, err)

	got, err := s.QueryCandles(ctx, Filter{
		Venue:    "binance",
		Symbol:   "BTCUSDT",
		Interval: model.Interval1h,
		Since:    2000,
		Until:    4000, // exclusive
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2000), got[0].Timestamp)
	assert.Equal(t, int64(3000), got[1].Timestamp)
}

func TestMemoryStore_SyncStatusPartialUpdate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	st, err := s.GetSyncStatus(ctx, "binance", "BTCUSDT", model.Interval1h)
	require.NoError(t, err)
	assert.Nil(t, st, "unknown feed has no status")

	err = s.UpdateSyncStatus(ctx, SyncStatusUpdate{
		Venue:    "binance",
		Symbol:   "BTCUSDT",
		Interval: model.Interval1h,
		State:    StatePtr(model.SyncSyncing),
	})
	require.NoError(t, err)

	err = s.UpdateSyncStatus(ctx, SyncStatusUpdate{
		Venue:           "binance",
		Symbol:          "BTCUSDT",
		Interval:        model.Interval1h,
		NewestTimestamp: Int64Ptr(5000),
		CandleCount:     Int64Ptr(7),
	})
	require.NoError(t, err)

	st, err = s.GetSyncStatus(ctx, "binance", "BTCUSDT", model.Interval1h)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, model.SyncSyncing, st.State, "earlier state survives partial update")
	assert.Equal(t, int64(5000), st.NewestTimestamp)
	assert.Equal(t, int64(7), st.CandleCount)
}
