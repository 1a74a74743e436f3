// Package backfill fills historical candle gaps page by page over a
// venue REST client, resuming from whatever is already persisted.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/candlekeep/candlekeep/internal/guard"
	"github.com/candlekeep/candlekeep/internal/model"
	"github.com/candlekeep/candlekeep/internal/storage"
	"github.com/candlekeep/candlekeep/internal/venue"
)

// Config tunes pagination. Zero fields take defaults.
type Config struct {
	PageSize  int           // Candles per REST page
	PageDelay time.Duration // Pause between pages, skipped after the last
	Horizon   time.Duration // How far back to reach when nothing is persisted
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PageSize:  1000,
		PageDelay: 250 * time.Millisecond,
		Horizon:   365 * 24 * time.Hour,
	}
}

// Progress is reported after every page.
type Progress struct {
	Fetched        int64
	EstimatedTotal int64
	Percent        float64 // Capped at 100
}

// ProgressFunc receives per-page progress updates.
type ProgressFunc func(Progress)

// Request describes one backfill run. Zero Since/Until fall back to the
// resume rules: forward resumes after the newest persisted candle,
// backward extends below the oldest, and an empty store reaches back one
// Horizon from Until.
type Request struct {
	Symbol     string
	Interval   model.Interval
	Since      int64 // ms, inclusive lower bound
	Until      int64 // ms, exclusive upper bound, default now
	OnProgress ProgressFunc
}

// Result summarizes a completed run. On failure the counts reflect the
// pages committed before the abort; those writes stay committed.
type Result struct {
	Fetched int64
	Pages   int
	Oldest  int64 // Persisted bounds after the run
	Newest  int64
	Count   int64
}

// Engine runs paginated backfills for one venue. REST calls go through
// the protected client when one is configured, so rate-limit and breaker
// rejections abort the run like any other fetch error.
type Engine struct {
	store     storage.Store
	client    venue.RESTClient
	protected *guard.ProtectedClient
	cfg       Config
	logger    *slog.Logger
}

// NewEngine creates an Engine. protected may be nil, in which case REST
// calls are issued directly. A nil logger falls back to slog.Default().
func NewEngine(store storage.Store, client venue.RESTClient, protected *guard.ProtectedClient, cfg Config, logger *slog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.PageDelay < 0 {
		cfg.PageDelay = def.PageDelay
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = def.Horizon
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     store,
		client:    client,
		protected: protected,
		cfg:       cfg,
		logger:    logger.With("component", "backfill", "venue", client.Venue()),
	}
}

// Forward fills from the resume point toward Until. The cursor starts at
// newestPersisted plus one interval when prior data exists, else Horizon
// back from Until. Stops on an empty page or once the cursor reaches
// Until. A page smaller than PageSize is not a stop signal: venues cap
// responses below the configured size.
func (e *Engine) Forward(ctx context.Context, req Request) (Result, error) {
	ivMs := req.Interval.Millis()
	if ivMs <= 0 {
		return Result{}, fmt.Errorf("invalid interval %q", req.Interval)
	}

	until := req.Until
	if until == 0 {
		until = time.Now().UnixMilli()
	}

	since := req.Since
	if since == 0 {
		newest, err := e.store.NewestTimestamp(ctx, e.client.Venue(), req.Symbol, req.Interval)
		if err != nil {
			return Result{}, e.fail(ctx, req, Result{}, fmt.Errorf("resume point: %w", err))
		}
		if newest > 0 {
			since = newest + ivMs
		} else {
			since = until - e.cfg.Horizon.Milliseconds()
		}
	}

	if err := e.markSyncing(ctx, req); err != nil {
		return Result{}, err
	}

	e.logger.Info("forward backfill starting",
		"symbol", req.Symbol, "interval", req.Interval, "since", since, "until", until)

	estimated := max((until-since)/ivMs, 1)
	cursor := since
	var res Result

	for cursor < until {
		page, err := e.fetchPage(ctx, req.Symbol, req.Interval, cursor)
		if err != nil {
			return res, e.fail(ctx, req, res, err)
		}
		if len(page) == 0 {
			break
		}

		if _, err := e.store.UpsertCandles(ctx, page); err != nil {
			return res, e.fail(ctx, req, res, fmt.Errorf("upsert page: %w", err))
		}
		res.Fetched += int64(len(page))
		res.Pages++
		cursor = page[len(page)-1].Timestamp + ivMs

		e.report(req, res.Fetched, estimated)

		if cursor >= until {
			break
		}
		if err := e.pause(ctx); err != nil {
			return res, e.fail(ctx, req, res, err)
		}
	}

	return e.finalize(ctx, req, res)
}

// Backward extends history below the oldest persisted candle toward a
// floor, Since when given, else Horizon below the starting point. Each
// fetched page is filtered to candles strictly older than the cursor so
// the boundary candle is never reprocessed.
func (e *Engine) Backward(ctx context.Context, req Request) (Result, error) {
	ivMs := req.Interval.Millis()
	if ivMs <= 0 {
		return Result{}, fmt.Errorf("invalid interval %q", req.Interval)
	}

	cursor := req.Until
	if cursor == 0 {
		oldest, err := e.store.OldestTimestamp(ctx, e.client.Venue(), req.Symbol, req.Interval)
		if err != nil {
			return Result{}, e.fail(ctx, req, Result{}, fmt.Errorf("resume point: %w", err))
		}
		if oldest > 0 {
			cursor = oldest
		} else {
			cursor = time.Now().UnixMilli()
		}
	}

	floor := req.Since
	if floor == 0 {
		floor = cursor - e.cfg.Horizon.Milliseconds()
	}

	if err := e.markSyncing(ctx, req); err != nil {
		return Result{}, err
	}

	e.logger.Info("backward backfill starting",
		"symbol", req.Symbol, "interval", req.Interval, "floor", floor, "until", cursor)

	estimated := max((cursor-floor)/ivMs, 1)
	var res Result

	for cursor > floor {
		start := max(cursor-int64(e.cfg.PageSize)*ivMs, floor)

		page, err := e.fetchPage(ctx, req.Symbol, req.Interval, start)
		if err != nil {
			return res, e.fail(ctx, req, res, err)
		}

		var older []model.Candle
		for _, c := range page {
			if c.Timestamp < cursor {
				older = append(older, c)
			}
		}
		if len(older) == 0 {
			break
		}

		if _, err := e.store.UpsertCandles(ctx, older); err != nil {
			return res, e.fail(ctx, req, res, fmt.Errorf("upsert page: %w", err))
		}
		res.Fetched += int64(len(older))
		res.Pages++
		cursor = older[0].Timestamp

		e.report(req, res.Fetched, estimated)

		if cursor <= floor {
			break
		}
		if err := e.pause(ctx); err != nil {
			return res, e.fail(ctx, req, res, err)
		}
	}

	return e.finalize(ctx, req, res)
}

func (e *Engine) fetchPage(ctx context.Context, symbol string, interval model.Interval, since int64) ([]model.Candle, error) {
	var page []model.Candle
	call := func(ctx context.Context) error {
		var err error
		page, err = e.client.FetchCandles(ctx, symbol, interval, since, e.cfg.PageSize)
		return err
	}

	var err error
	if e.protected != nil {
		err = e.protected.Execute(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch page since %d: %w", since, err)
	}
	return page, nil
}

func (e *Engine) pause(ctx context.Context) error {
	if e.cfg.PageDelay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(e.cfg.PageDelay):
		return nil
	}
}

func (e *Engine) report(req Request, fetched, estimated int64) {
	if req.OnProgress == nil {
		return
	}
	percent := float64(fetched) / float64(estimated) * 100
	if percent > 100 {
		percent = 100
	}
	req.OnProgress(Progress{Fetched: fetched, EstimatedTotal: estimated, Percent: percent})
}

func (e *Engine) markSyncing(ctx context.Context, req Request) error {
	return e.store.UpdateSyncStatus(ctx, storage.SyncStatusUpdate{
		Venue:     e.client.Venue(),
		Symbol:    req.Symbol,
		Interval:  req.Interval,
		State:     storage.StatePtr(model.SyncSyncing),
		LastError: storage.StringPtr(""),
	})
}

// fail records the error in sync status and wraps it. Pages already
// upserted stay committed.
func (e *Engine) fail(ctx context.Context, req Request, res Result, cause error) error {
	e.logger.Error("backfill aborted",
		"symbol", req.Symbol, "interval", req.Interval,
		"fetched", res.Fetched, "pages", res.Pages, "error", cause)

	if err := e.store.UpdateSyncStatus(ctx, storage.SyncStatusUpdate{
		Venue:     e.client.Venue(),
		Symbol:    req.Symbol,
		Interval:  req.Interval,
		State:     storage.StatePtr(model.SyncError),
		LastError: storage.StringPtr(cause.Error()),
	}); err != nil {
		e.logger.Error("sync status update failed", "error", err)
	}
	return cause
}

// finalize reads the persisted bounds and records an idle sync status.
func (e *Engine) finalize(ctx context.Context, req Request, res Result) (Result, error) {
	v := e.client.Venue()

	var err error
	if res.Oldest, err = e.store.OldestTimestamp(ctx, v, req.Symbol, req.Interval); err != nil {
		return res, e.fail(ctx, req, res, fmt.Errorf("read oldest: %w", err))
	}
	if res.Newest, err = e.store.NewestTimestamp(ctx, v, req.Symbol, req.Interval); err != nil {
		return res, e.fail(ctx, req, res, fmt.Errorf("read newest: %w", err))
	}
	if res.Count, err = e.store.CandleCount(ctx, v, req.Symbol, req.Interval); err != nil {
		return res, e.fail(ctx, req, res, fmt.Errorf("read count: %w", err))
	}

	if err := e.store.UpdateSyncStatus(ctx, storage.SyncStatusUpdate{
		Venue:           v,
		Symbol:          req.Symbol,
		Interval:        req.Interval,
		State:           storage.StatePtr(model.SyncIdle),
		LastSyncedAt:    storage.Int64Ptr(time.Now().UnixMilli()),
		OldestTimestamp: storage.Int64Ptr(res.Oldest),
		NewestTimestamp: storage.Int64Ptr(res.Newest),
		CandleCount:     storage.Int64Ptr(res.Count),
		LastError:       storage.StringPtr(""),
	}); err != nil {
		return res, e.fail(ctx, req, res, fmt.Errorf("record sync status: %w", err))
	}

	e.logger.Info("backfill complete",
		"symbol", req.Symbol, "interval", req.Interval,
		"fetched", res.Fetched, "pages", res.Pages,
		"oldest", res.Oldest, "newest", res.Newest, "count", res.Count)
	return res, nil
}
