package bybit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candlekeep/candlekeep/internal/model"
	"github.com/candlekeep/candlekeep/internal/venue"
)

func TestFetchCandles(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v5/market/kline", r.URL.Path)
		gotQuery = map[string]string{
			"category": r.URL.Query().Get("category"),
			"symbol":   r.URL.Query().Get("symbol"),
			"interval": r.URL.Query().Get("interval"),
			"start":    r.URL.Query().Get("start"),
			"limit":    r.URL.Query().Get("limit"),
		}
		w.Header().Set("Content-Type", "application/json")
		// Bybit lists newest first.
		w.Write([]byte(`{
			"retCode": 0, "retMsg": "OK",
			"result": {
				"category": "spot", "symbol": "BTCUSDT",
				"list": [
					["1700003600000", "36510.0", "36550.0", "36480.0", "36530.5", "120.5", "4400000"],
					["1700000000000", "36400.5", "36600.0", "36350.25", "36510.0", "812.44", "29600000"]
				]
			}
		}`))
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL)
	candles, err := c.FetchCandles(context.Background(), "BTCUSDT", model.Interval1h, 1700000000000, 2)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"category": "spot",
		"symbol":   "BTCUSDT",
		"interval": "60",
		"start":    "1700000000000",
		"limit":    "2",
	}, gotQuery)

	require.Len(t, candles, 2)
	assert.Equal(t, int64(1700000000000), candles[0].Timestamp, "rows reversed to ascending order")
	assert.Equal(t, int64(1700003600000), candles[1].Timestamp)
	assert.True(t, candles[0].Open.Equal(decimal.RequireFromString("36400.5")))
	assert.Equal(t, VenueName, candles[0].Venue)
}

func TestFetchCandles_RetCodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode": 10001, "retMsg": "params error", "result": {}}`))
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL)
	_, err := c.FetchCandles(context.Background(), "BTCUSDT", model.Interval1h, 0, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retCode 10001")
}

func TestFetchCandles_UnknownInterval(t *testing.T) {
	c := NewRESTClient("http://unused.invalid")
	_, err := c.FetchCandles(context.Background(), "BTCUSDT", model.Interval("7m"), 0, 10)
	assert.ErrorIs(t, err, venue.ErrUnknownInterval)
}
