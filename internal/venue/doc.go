// Package venue defines the venue client contracts and the shared
// streaming core.
//
// The streaming core:
//   - Maintains one WebSocket connection per venue client
//   - Multiplexes candle and trade subscriptions over that connection
//   - Handles reconnection with exponential backoff up to an attempt budget
//   - Replays active subscriptions after a successful reconnect
//   - Normalizes venue payloads into canonical model types before dispatch
//
// Venue variants (binance, bybit) implement only the Protocol: frame
// encode/decode, symbol and interval mapping, and keep-alive cadence.
// Everything else lives here once.
package venue
