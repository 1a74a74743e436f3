// Package storage provides durable candle persistence.
//
// Storage:
//   - Upserts candles on their natural key (venue, symbol, interval, ts)
//   - Serves newest/oldest timestamps and counts for backfill resumption
//   - Tracks per-feed sync status (state, range, last error)
//   - Postgres implementation batches upserts via pgx
//   - In-memory implementation backs tests and ephemeral runs
//
// Last-writer-wins on the natural key reconciles overlap between backfill
// and live streaming; no path ever duplicates a key.
package storage
