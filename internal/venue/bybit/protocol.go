// Package bybit adapts Bybit v5 spot market data to the canonical venue
// contracts: kline and public trade streams over WebSocket, historical
// klines over REST.
package bybit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/candlekeep/candlekeep/internal/model"
	"github.com/candlekeep/candlekeep/internal/venue"
)

const (
	// VenueName is the canonical venue identifier.
	VenueName = "bybit"

	// DefaultWSURL is the public v5 spot stream endpoint.
	DefaultWSURL = "wss://stream.bybit.com/v5/public/spot"

	// DefaultRestURL is the public v5 REST endpoint.
	DefaultRestURL = "https://api.bybit.com"

	// pingInterval is the cadence Bybit requires for application-level
	// pings before it drops the connection.
	pingInterval = 20 * time.Second
)

// Bybit encodes intervals as bare minute counts plus D and W.
var intervalToCode = map[model.Interval]string{
	model.Interval1m:  "1",
	model.Interval5m:  "5",
	model.Interval15m: "15",
	model.Interval1h:  "60",
	model.Interval4h:  "240",
	model.Interval1d:  "D",
	model.Interval1w:  "W",
}

var codeToInterval = map[string]model.Interval{}

func init() {
	for iv, code := range intervalToCode {
		codeToInterval[code] = iv
	}
}

// Protocol implements venue.Protocol for the Bybit v5 spot stream.
type Protocol struct {
	wsURL string
}

// NewProtocol creates a Bybit protocol codec. An empty wsURL falls back
// to the public endpoint.
func NewProtocol(wsURL string) *Protocol {
	if wsURL == "" {
		wsURL = DefaultWSURL
	}
	return &Protocol{wsURL: wsURL}
}

func (p *Protocol) Venue() string { return VenueName }
func (p *Protocol) URL() string   { return p.wsURL }

// Ping returns the application-level keep-alive Bybit expects.
func (p *Protocol) Ping() ([]byte, time.Duration, bool) {
	return []byte(`{"op":"ping"}`), pingInterval, true
}

type opFrame struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// SubscribeFrame encodes an op:subscribe frame for the topic.
func (p *Protocol) SubscribeFrame(t venue.Topic) ([]byte, error) {
	arg, err := topicArg(t)
	if err != nil {
		return nil, err
	}
	return json.Marshal(opFrame{Op: "subscribe", Args: []string{arg}})
}

// UnsubscribeFrame encodes an op:unsubscribe frame for the topic.
func (p *Protocol) UnsubscribeFrame(t venue.Topic) ([]byte, error) {
	arg, err := topicArg(t)
	if err != nil {
		return nil, err
	}
	return json.Marshal(opFrame{Op: "unsubscribe", Args: []string{arg}})
}

func topicArg(t venue.Topic) (string, error) {
	switch t.Kind {
	case venue.TopicCandles:
		code, ok := intervalToCode[t.Interval]
		if !ok {
			return "", fmt.Errorf("%w: %s", venue.ErrUnknownInterval, t.Interval)
		}
		return fmt.Sprintf("kline.%s.%s", code, t.Symbol), nil
	case venue.TopicTrades:
		return "publicTrade." + t.Symbol, nil
	default:
		return "", fmt.Errorf("unknown topic kind %q", t.Kind)
	}
}

type wsEnvelope struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
}

type wsKline struct {
	Start    int64  `json:"start"`
	Interval string `json:"interval"`
	Open     string `json:"open"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Close    string `json:"close"`
	Volume   string `json:"volume"`
	Confirm  bool   `json:"confirm"`
}

type wsTrade struct {
	TradeTime int64  `json:"T"`
	Symbol    string `json:"s"`
	Side      string `json:"S"`
	Size      string `json:"v"`
	Price     string `json:"p"`
	TradeID   string `json:"i"`
}

// Parse decodes a stream event. Frames without a topic (acks, pongs)
// return (nil, nil). Bybit batches updates, every entry is emitted.
func (p *Protocol) Parse(data []byte) ([]venue.Message, error) {
	var env wsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Topic == "" {
		return nil, nil
	}

	parts := strings.Split(env.Topic, ".")
	switch parts[0] {
	case "kline":
		if len(parts) != 3 {
			return nil, fmt.Errorf("malformed kline topic %q", env.Topic)
		}
		return parseKlines(parts[2], env.Data)
	case "publicTrade":
		return parseTrades(env.Data)
	default:
		return nil, nil
	}
}

func parseKlines(symbol string, data json.RawMessage) ([]venue.Message, error) {
	var klines []wsKline
	if err := json.Unmarshal(data, &klines); err != nil {
		return nil, fmt.Errorf("decode kline data: %w", err)
	}

	msgs := make([]venue.Message, 0, len(klines))
	for _, k := range klines {
		interval, ok := codeToInterval[k.Interval]
		if !ok {
			return nil, fmt.Errorf("%w: code %q", venue.ErrUnknownInterval, k.Interval)
		}

		c := model.Candle{
			Venue:     VenueName,
			Symbol:    symbol,
			Interval:  interval,
			Timestamp: venue.NormalizeMillis(k.Start),
		}
		var err error
		if c.Open, err = decimal.NewFromString(k.Open); err != nil {
			return nil, fmt.Errorf("kline open %q: %w", k.Open, err)
		}
		if c.High, err = decimal.NewFromString(k.High); err != nil {
			return nil, fmt.Errorf("kline high %q: %w", k.High, err)
		}
		if c.Low, err = decimal.NewFromString(k.Low); err != nil {
			return nil, fmt.Errorf("kline low %q: %w", k.Low, err)
		}
		if c.Close, err = decimal.NewFromString(k.Close); err != nil {
			return nil, fmt.Errorf("kline close %q: %w", k.Close, err)
		}
		if c.Volume, err = decimal.NewFromString(k.Volume); err != nil {
			return nil, fmt.Errorf("kline volume %q: %w", k.Volume, err)
		}

		msgs = append(msgs, venue.Message{
			Topic:  venue.Topic{Kind: venue.TopicCandles, Symbol: symbol, Interval: interval},
			Candle: &c,
		})
	}
	return msgs, nil
}

func parseTrades(data json.RawMessage) ([]venue.Message, error) {
	var trades []wsTrade
	if err := json.Unmarshal(data, &trades); err != nil {
		return nil, fmt.Errorf("decode trade data: %w", err)
	}

	msgs := make([]venue.Message, 0, len(trades))
	for _, t := range trades {
		price, err := decimal.NewFromString(t.Price)
		if err != nil {
			return nil, fmt.Errorf("trade price %q: %w", t.Price, err)
		}
		size, err := decimal.NewFromString(t.Size)
		if err != nil {
			return nil, fmt.Errorf("trade size %q: %w", t.Size, err)
		}
		side, err := mapSide(t.Side)
		if err != nil {
			return nil, err
		}

		tr := model.Trade{
			Venue:     VenueName,
			Symbol:    t.Symbol,
			TradeID:   t.TradeID,
			Timestamp: venue.NormalizeMillis(t.TradeTime),
			Price:     price,
			Size:      size,
			Side:      side,
		}
		msgs = append(msgs, venue.Message{
			Topic: venue.Topic{Kind: venue.TopicTrades, Symbol: t.Symbol},
			Trade: &tr,
		})
	}
	return msgs, nil
}

func mapSide(s string) (model.Side, error) {
	switch s {
	case "Buy":
		return model.SideBuy, nil
	case "Sell":
		return model.SideSell, nil
	default:
		return "", fmt.Errorf("unknown trade side %q", s)
	}
}
