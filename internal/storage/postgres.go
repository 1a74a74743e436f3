package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/candlekeep/candlekeep/internal/config"
	"github.com/candlekeep/candlekeep/internal/model"
)

// schema creates the candle and sync status tables. Prices are NUMERIC so
// venue decimal strings round-trip exactly.
const schema = `
CREATE TABLE IF NOT EXISTS candles (
	venue      TEXT    NOT NULL,
	symbol     TEXT    NOT NULL,
	interval   TEXT    NOT NULL,
	ts         BIGINT  NOT NULL,
	open       NUMERIC NOT NULL,
	high       NUMERIC NOT NULL,
	low        NUMERIC NOT NULL,
	close      NUMERIC NOT NULL,
	volume     NUMERIC NOT NULL,
	PRIMARY KEY (venue, symbol, interval, ts)
);

CREATE TABLE IF NOT EXISTS sync_status (
	venue          TEXT   NOT NULL,
	symbol         TEXT   NOT NULL,
	interval       TEXT   NOT NULL,
	state          TEXT   NOT NULL DEFAULT 'idle',
	last_synced_at BIGINT NOT NULL DEFAULT 0,
	oldest_ts      BIGINT NOT NULL DEFAULT 0,
	newest_ts      BIGINT NOT NULL DEFAULT 0,
	candle_count   BIGINT NOT NULL DEFAULT 0,
	last_error     TEXT   NOT NULL DEFAULT '',
	PRIMARY KEY (venue, symbol, interval)
);
`

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to Postgres, verifies the connection, and ensures the
// schema exists. The caller owns the lifecycle: Close at shutdown.
func Open(ctx context.Context, cfg config.DBConfig, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return &PostgresStore{db: pool, logger: logger}, nil
}

// Ping verifies the connection is healthy.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.db.Close()
}

// UpsertCandles writes candles in a single pgx batch with
// overwrite-on-conflict semantics on the natural key.
func (s *PostgresStore) UpsertCandles(ctx context.Context, candles []model.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(`
			INSERT INTO candles (venue, symbol, interval, ts, open, high, low, close, volume)
			VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8::numeric, $9::numeric)
			ON CONFLICT (venue, symbol, interval, ts) DO UPDATE SET
				open   = EXCLUDED.open,
				high   = EXCLUDED.high,
				low    = EXCLUDED.low,
				close  = EXCLUDED.close,
				volume = EXCLUDED.volume
		`, c.Venue, c.Symbol, string(c.Interval), c.Timestamp,
			c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume.String())
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range candles {
		if _, err := results.Exec(); err != nil {
			return 0, fmt.Errorf("upsert candles: %w", err)
		}
	}

	return len(candles), nil
}

// QueryCandles returns candles matching the filter in ascending order.
func (s *PostgresStore) QueryCandles(ctx context.Context, f Filter) ([]model.Candle, error) {
	query := `
		SELECT venue, symbol, interval, ts,
		       open::text, high::text, low::text, close::text, volume::text
		FROM candles
		WHERE venue = $1 AND symbol = $2 AND interval = $3
		  AND ($4 = 0 OR ts >= $4)
		  AND ($5 = 0 OR ts < $5)
		ORDER BY ts ASC
	`
	args := []any{f.Venue, f.Symbol, string(f.Interval), f.Since, f.Until}
	if f.Limit > 0 {
		query += " LIMIT $6"
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	var out []model.Candle
	for rows.Next() {
		var c model.Candle
		var interval, open, high, low, cls, volume string
		if err := rows.Scan(&c.Venue, &c.Symbol, &interval, &c.Timestamp,
			&open, &high, &low, &cls, &volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Interval = model.Interval(interval)
		if c.Open, err = decimal.NewFromString(open); err != nil {
			return nil, fmt.Errorf("parse open: %w", err)
		}
		if c.High, err = decimal.NewFromString(high); err != nil {
			return nil, fmt.Errorf("parse high: %w", err)
		}
		if c.Low, err = decimal.NewFromString(low); err != nil {
			return nil, fmt.Errorf("parse low: %w", err)
		}
		if c.Close, err = decimal.NewFromString(cls); err != nil {
			return nil, fmt.Errorf("parse close: %w", err)
		}
		if c.Volume, err = decimal.NewFromString(volume); err != nil {
			return nil, fmt.Errorf("parse volume: %w", err)
		}
		out = append(out, c)
	}

	return out, rows.Err()
}

// NewestTimestamp returns the newest persisted open time, 0 if none.
func (s *PostgresStore) NewestTimestamp(ctx context.Context, venue, symbol string, interval model.Interval) (int64, error) {
	return s.boundTimestamp(ctx, "MAX", venue, symbol, interval)
}

// OldestTimestamp returns the oldest persisted open time, 0 if none.
func (s *PostgresStore) OldestTimestamp(ctx context.Context, venue, symbol string, interval model.Interval) (int64, error) {
	return s.boundTimestamp(ctx, "MIN", venue, symbol, interval)
}

func (s *PostgresStore) boundTimestamp(ctx context.Context, agg, venue, symbol string, interval model.Interval) (int64, error) {
	var ts *int64
	err := s.db.QueryRow(ctx,
		"SELECT "+agg+"(ts) FROM candles WHERE venue = $1 AND symbol = $2 AND interval = $3",
		venue, symbol, string(interval),
	).Scan(&ts)
	if err != nil {
		return 0, fmt.Errorf("query %s ts: %w", agg, err)
	}
	if ts == nil {
		return 0, nil
	}
	return *ts, nil
}

// CandleCount returns the number of persisted candles for the feed.
func (s *PostgresStore) CandleCount(ctx context.Context, venue, symbol string, interval model.Interval) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM candles WHERE venue = $1 AND symbol = $2 AND interval = $3",
		venue, symbol, string(interval),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count candles: %w", err)
	}
	return n, nil
}

// UpdateSyncStatus upserts the feed's sync status row, leaving nil fields
// unchanged.
func (s *PostgresStore) UpdateSyncStatus(ctx context.Context, upd SyncStatusUpdate) error {
	var state *string
	if upd.State != nil {
		state = StringPtr(string(*upd.State))
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO sync_status (venue, symbol, interval, state, last_synced_at, oldest_ts, newest_ts, candle_count, last_error)
		VALUES ($1, $2, $3,
			COALESCE($4, 'idle'),
			COALESCE($5, 0),
			COALESCE($6, 0),
			COALESCE($7, 0),
			COALESCE($8, 0),
			COALESCE($9, ''))
		ON CONFLICT (venue, symbol, interval) DO UPDATE SET
			state          = COALESCE($4, sync_status.state),
			last_synced_at = COALESCE($5, sync_status.last_synced_at),
			oldest_ts      = COALESCE($6, sync_status.oldest_ts),
			newest_ts      = COALESCE($7, sync_status.newest_ts),
			candle_count   = COALESCE($8, sync_status.candle_count),
			last_error     = COALESCE($9, sync_status.last_error)
	`, upd.Venue, upd.Symbol, string(upd.Interval),
		state, upd.LastSyncedAt, upd.OldestTimestamp, upd.NewestTimestamp, upd.CandleCount, upd.LastError)
	if err != nil {
		return fmt.Errorf("update sync status: %w", err)
	}
	return nil
}

// GetSyncStatus returns the feed's sync status, nil if never recorded.
func (s *PostgresStore) GetSyncStatus(ctx context.Context, venue, symbol string, interval model.Interval) (*model.SyncStatus, error) {
	var st model.SyncStatus
	var ivl, state string
	err := s.db.QueryRow(ctx, `
		SELECT venue, symbol, interval, state, last_synced_at, oldest_ts, newest_ts, candle_count, last_error
		FROM sync_status
		WHERE venue = $1 AND symbol = $2 AND interval = $3
	`, venue, symbol, string(interval)).Scan(
		&st.Venue, &st.Symbol, &ivl, &state,
		&st.LastSyncedAt, &st.OldestTimestamp, &st.NewestTimestamp, &st.CandleCount, &st.LastError,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync status: %w", err)
	}
	st.Interval = model.Interval(ivl)
	st.State = model.SyncState(state)
	return &st, nil
}
