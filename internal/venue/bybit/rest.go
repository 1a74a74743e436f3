package bybit

import (
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

// RESTClient fetches historical klines from the Bybit v5 REST API.
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

type klineResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Symbol string     `json:"symbol"`
		List   [][]string `json:"list"`
	} `json:"result"`
}

// FetchCandles returns up to limit candles with open time at or after
// since. Bybit lists rows newest first, the result is reversed to the
// canonical ascending order. Rows are positional string arrays:
// [startTime, open, high, low, close, volume, turnover].
func (c *RESTClient) FetchCandles(ctx context.Context, symbol string, interval model.Interval, since int64, limit int) ([]model.Candle, error) {
	code, ok := intervalToCode[interval]
	if !ok {
		return nil, fmt.Errorf("%w: %s", venue.ErrUnknownInterval, interval)
	}

	q := url.Values{}
	q.Set("category", "spot")
	q.Set("symbol", symbol)
	q.Set("interval", code)
	q.Set("limit", strconv.Itoa(limit))
	if since > 0 {
		q.Set("start", strconv.FormatInt(since, 10))
	}

	reqURL := c.baseURL + "/v5/market/kline?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kline request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kline request: status %d", resp.StatusCode)
	}

	var kr klineResponse
	if err := json.Unmarshal(body, &kr); err != nil {
		return nil, fmt.Errorf("decode kline response: %w", err)
	}
	if kr.RetCode != 0 {
		return nil, fmt.Errorf("kline request: retCode %d: %s", kr.RetCode, kr.RetMsg)
	}

	rows := kr.Result.List
	candles := make([]model.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		candle, err := parseKlineRow(symbol, interval, rows[i])
		if err != nil {
			return nil, fmt.Errorf("kline row %d: %w", i, err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func parseKlineRow(symbol string, interval model.Interval, row []string) (model.Candle, error) {
	if len(row) < 6 {
		return model.Candle{}, fmt.Errorf("short row, %d fields", len(row))
	}

	ts, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return model.Candle{}, fmt.Errorf("start time %q: %w", row[0], err)
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
		d, err := decimal.NewFromString(row[i+1])
		if err != nil {
			return model.Candle{}, fmt.Errorf("%s %q: %w", f.name, row[i+1], err)
		}
		*f.dst = d
	}
	return c, nil
}
