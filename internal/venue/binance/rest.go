package binance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/candlekeep/candlekeep/internal/model"
	"github.com/candlekeep/candlekeep/internal/venue"
)

// RESTClient fetches historical klines from the Binance spot REST API.
type RESTClient struct {
	baseURL string
	http    *http.Client
}

// NewRESTClient creates a REST client. An empty baseURL falls back to
// the public endpoint.
func NewRESTClient(baseURL string) *RESTClient {
	if baseURL == "" {
		baseURL = DefaultRestURL
	}
	return &RESTClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *RESTClient) Venue() string { return VenueName }

// FetchCandles returns up to limit candles with open time at or after
// since, ascending. Binance rows are positional arrays:
// [openTime, open, high, low, close, volume, closeTime, ...].
func (c *RESTClient) FetchCandles(ctx context.Context, symbol string, interval model.Interval, since int64, limit int) ([]model.Candle, error) {
	if _, ok := supportedIntervals[interval]; !ok {
		return nil, fmt.Errorf("%w: %s", venue.ErrUnknownInterval, interval)
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", string(interval))
	q.Set("limit", strconv.Itoa(limit))
	if since > 0 {
		q.Set("startTime", strconv.FormatInt(since, 10))
	}

	reqURL := c.baseURL + "/api/v3/klines?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("klines request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("klines request: status %d: %s", resp.StatusCode, truncate(body, 200))
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var rows [][]any
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	candles := make([]model.Candle, 0, len(rows))
	for i, row := range rows {
		c, err := parseKlineRow(symbol, interval, row)
		if err != nil {
			return nil, fmt.Errorf("kline row %d: %w", i, err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func parseKlineRow(symbol string, interval model.Interval, row []any) (model.Candle, error) {
	if len(row) < 6 {
		return model.Candle{}, fmt.Errorf("short row, %d fields", len(row))
	}

	openTime, ok := row[0].(json.Number)
	if !ok {
		return model.Candle{}, fmt.Errorf("open time is %T", row[0])
	}
	ts, err := openTime.Int64()
	if err != nil {
		return model.Candle{}, fmt.Errorf("open time %q: %w", openTime, err)
	}

	c := model.Candle{
		Venue:     VenueName,
		Symbol:    symbol,
		Interval:  interval,
		Timestamp: venue.NormalizeMillis(ts),
	}

	fields := []struct {
		name string
		dst  *decimal.Decimal
	}{
		{"open", &c.Open},
		{"high", &c.High},
		{"low", &c.Low},
		{"close", &c.Close},
		{"volume", &c.Volume},
	}
	for i, f := range fields {
		s, ok := row[i+1].(string)
		if !ok {
			return model.Candle{}, fmt.Errorf("%s is %T", f.name, row[i+1])
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return model.Candle{}, fmt.Errorf("%s %q: %w", f.name, s, err)
		}
		*f.dst = d
	}
	return c, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
