package backfill

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candlekeep/candlekeep/internal/guard"
	"github.com/candlekeep/candlekeep/internal/model"
	"github.com/candlekeep/candlekeep/internal/storage"
)

const hourMs = int64(3_600_000)

// alignedT is an hour-aligned reference "now" for scenarios.
const alignedT = int64(472_223) * hourMs

// fakeREST serves synthetic hour-grid candles between oldest and newest.
type fakeREST struct {
	mu     sync.Mutex
	oldest int64
	newest int64
	cap    int // venue-side response cap, 0 = honor the requested limit
	sinces []int64
	failAt int // 1-based call number that starts failing, 0 = never
	calls  int
}

func (f *fakeREST) Venue() string { return "fake" }

func (f *fakeREST) FetchCandles(ctx context.Context, symbol string, interval model.Interval, since int64, limit int) ([]model.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.sinces = append(f.sinces, since)
	if f.failAt != 0 && f.calls >= f.failAt {
		return nil, errors.New("venue 500")
	}
	if f.cap > 0 && limit > f.cap {
		limit = f.cap
	}

	start := since
	if start < f.oldest {
		start = f.oldest
	}
	if rem := start % hourMs; rem != 0 {
		start += hourMs - rem
	}

	var out []model.Candle
	for ts := start; ts <= f.newest && len(out) < limit; ts += hourMs {
		out = append(out, gridCandle(ts))
	}
	return out, nil
}

func gridCandle(ts int64) model.Candle {
	price := decimal.NewFromInt(ts / hourMs)
	return model.Candle{
		Venue:     "fake",
		Symbol:    "BTCUSDT",
		Interval:  model.Interval1h,
		Timestamp: ts,
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		Volume:    decimal.NewFromInt(1),
	}
}

func newTestEngine(store storage.Store, rest *fakeREST, protected *guard.ProtectedClient) *Engine {
	return NewEngine(store, rest, protected, Config{PageSize: 1000, PageDelay: 0, Horizon: 365 * 24 * time.Hour}, nil)
}

func TestForward_HorizonScenario(t *testing.T) {
	store := storage.NewMemoryStore()
	rest := &fakeREST{oldest: alignedT - 2*8760*hourMs, newest: alignedT - hourMs}
	e := newTestEngine(store, rest, nil)

	res, err := e.Forward(context.Background(), Request{
		Symbol:   "BTCUSDT",
		Interval: model.Interval1h,
		Until:    alignedT,
	})
	require.NoError(t, err)

	yearMs := int64(365*24) * hourMs
	assert.Equal(t, alignedT-yearMs, res.Oldest, "oldest lands one horizon back from until")
	assert.Equal(t, alignedT-hourMs, res.Newest, "newest is the last full interval before until")
	assert.Equal(t, int64(365*24), res.Count)
	assert.Equal(t, res.Count, res.Fetched)

	st, err := store.GetSyncStatus(context.Background(), "fake", "BTCUSDT", model.Interval1h)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, model.SyncIdle, st.State)
	assert.Equal(t, res.Newest, st.NewestTimestamp)
}

func TestForward_Idempotent(t *testing.T) {
	store := storage.NewMemoryStore()
	rest := &fakeREST{oldest: alignedT - 100*hourMs, newest: alignedT - hourMs}
	e := newTestEngine(store, rest, nil)

	req := Request{Symbol: "BTCUSDT", Interval: model.Interval1h, Until: alignedT}

	first, err := e.Forward(context.Background(), req)
	require.NoError(t, err)

	second, err := e.Forward(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Oldest, second.Oldest)
	assert.Equal(t, first.Newest, second.Newest)
	assert.Equal(t, first.Count, second.Count)
	assert.Zero(t, second.Fetched, "second run resumes past the newest candle and fetches nothing")
}

func TestForward_ResumesAfterNewestPersisted(t *testing.T) {
	store := storage.NewMemoryStore()
	seeded := alignedT - 10*hourMs
	_, err := store.UpsertCandles(context.Background(), []model.Candle{gridCandle(seeded)})
	require.NoError(t, err)

	rest := &fakeREST{oldest: alignedT - 100*hourMs, newest: alignedT - hourMs}
	e := newTestEngine(store, rest, nil)

	_, err = e.Forward(context.Background(), Request{Symbol: "BTCUSDT", Interval: model.Interval1h, Until: alignedT})
	require.NoError(t, err)

	require.NotEmpty(t, rest.sinces)
	assert.Equal(t, seeded+hourMs, rest.sinces[0], "cursor starts one interval after the newest persisted candle")
}

func TestForward_VenueCapsPageSize(t *testing.T) {
	store := storage.NewMemoryStore()
	// The venue returns at most 100 candles per call regardless of the
	// requested limit. Short pages must not end the run early.
	rest := &fakeREST{oldest: alignedT - 250*hourMs, newest: alignedT - hourMs, cap: 100}
	e := newTestEngine(store, rest, nil)

	res, err := e.Forward(context.Background(), Request{
		Symbol:   "BTCUSDT",
		Interval: model.Interval1h,
		Until:    alignedT,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(250), res.Fetched, "run continues past capped pages to until")
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, alignedT-250*hourMs, res.Oldest)
	assert.Equal(t, alignedT-hourMs, res.Newest)
	assert.Equal(t, int64(250), res.Count)

	st, err := store.GetSyncStatus(context.Background(), "fake", "BTCUSDT", model.Interval1h)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, model.SyncIdle, st.State)
}

func TestForward_ErrorMarksSyncStatus(t *testing.T) {
	store := storage.NewMemoryStore()
	rest := &fakeREST{oldest: alignedT - 3000*hourMs, newest: alignedT - hourMs, failAt: 2}
	e := newTestEngine(store, rest, nil)

	res, err := e.Forward(context.Background(), Request{Symbol: "BTCUSDT", Interval: model.Interval1h, Until: alignedT})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "venue 500")
	assert.Equal(t, 1, res.Pages, "first page committed before the abort")

	count, err2 := store.CandleCount(context.Background(), "fake", "BTCUSDT", model.Interval1h)
	require.NoError(t, err2)
	assert.Equal(t, int64(1000), count, "partial progress stays committed")

	st, err2 := store.GetSyncStatus(context.Background(), "fake", "BTCUSDT", model.Interval1h)
	require.NoError(t, err2)
	require.NotNil(t, st)
	assert.Equal(t, model.SyncError, st.State)
	assert.Contains(t, st.LastError, "venue 500")
}

func TestForward_AdmissionFailureAborts(t *testing.T) {
	store := storage.NewMemoryStore()
	rest := &fakeREST{oldest: alignedT - 3000*hourMs, newest: alignedT - hourMs}

	protected := guard.NewProtectedClient(
		guard.LimiterConfig{MaxRequests: 1, Window: time.Hour, QueueRequests: false},
		guard.BreakerConfig{FailureThreshold: 5, ResetTimeout: time.Minute},
		nil)
	defer protected.Close()

	e := newTestEngine(store, rest, protected)

	_, err := e.Forward(context.Background(), Request{Symbol: "BTCUSDT", Interval: model.Interval1h, Until: alignedT})
	require.Error(t, err)
	assert.ErrorIs(t, err, guard.ErrRateLimited, "second page is rejected by the limiter and aborts the run")

	st, err2 := store.GetSyncStatus(context.Background(), "fake", "BTCUSDT", model.Interval1h)
	require.NoError(t, err2)
	require.NotNil(t, st)
	assert.Equal(t, model.SyncError, st.State)
}

func TestBackward_FiltersBoundaryCandle(t *testing.T) {
	store := storage.NewMemoryStore()
	_, err := store.UpsertCandles(context.Background(), []model.Candle{gridCandle(alignedT)})
	require.NoError(t, err)

	rest := &fakeREST{oldest: alignedT - 10*hourMs, newest: alignedT}
	e := newTestEngine(store, rest, nil)

	res, err := e.Backward(context.Background(), Request{
		Symbol:   "BTCUSDT",
		Interval: model.Interval1h,
		Since:    alignedT - 5*hourMs,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(5), res.Fetched, "boundary candle at the cursor is filtered out")
	assert.Equal(t, alignedT-5*hourMs, res.Oldest)
	assert.Equal(t, alignedT, res.Newest)
	assert.Equal(t, int64(6), res.Count)
}

func TestBackward_EmptyStoreUsesHorizon(t *testing.T) {
	store := storage.NewMemoryStore()
	rest := &fakeREST{oldest: alignedT - 50*hourMs, newest: alignedT - hourMs}
	e := newTestEngine(store, rest, nil)

	res, err := e.Backward(context.Background(), Request{
		Symbol:   "BTCUSDT",
		Interval: model.Interval1h,
		Until:    alignedT,
	})
	require.NoError(t, err)

	// Venue history only reaches 50 intervals back, well inside the horizon.
	assert.Equal(t, alignedT-50*hourMs, res.Oldest)
	assert.Equal(t, alignedT-hourMs, res.Newest)
	assert.Equal(t, int64(50), res.Count)
}

func TestForward_ProgressCappedAt100(t *testing.T) {
	store := storage.NewMemoryStore()
	rest := &fakeREST{oldest: alignedT - 3000*hourMs, newest: alignedT - hourMs}
	e := newTestEngine(store, rest, nil)

	var updates []Progress
	_, err := e.Forward(context.Background(), Request{
		Symbol:   "BTCUSDT",
		Interval: model.Interval1h,
		Since:    alignedT - 2500*hourMs,
		Until:    alignedT,
		OnProgress: func(p Progress) {
			updates = append(updates, p)
		},
	})
	require.NoError(t, err)
	require.Len(t, updates, 3)

	var prev int64
	for i, p := range updates {
		assert.GreaterOrEqual(t, p.Fetched, prev, "fetched is monotonic at update "+strconv.Itoa(i))
		assert.LessOrEqual(t, p.Percent, 100.0)
		prev = p.Fetched
	}
	assert.Equal(t, int64(2500), updates[len(updates)-1].Fetched)
	assert.Equal(t, 100.0, updates[len(updates)-1].Percent)
}
