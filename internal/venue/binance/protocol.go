// Package binance adapts Binance spot market data to the canonical
// venue contracts: kline and trade streams over WebSocket, historical
// klines over REST.
package binance

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/candlekeep/candlekeep/internal/model"
	"github.com/candlekeep/candlekeep/internal/venue"
)

const (
	// VenueName is the canonical venue identifier.
	VenueName = "binance"

	// DefaultWSURL is the public spot stream endpoint.
	DefaultWSURL = "wss://stream.binance.com:9443/ws"

	// DefaultRestURL is the public spot REST endpoint.
	DefaultRestURL = "https://api.binance.com"
)

// Binance interval strings match the canonical ones, so mapping is a
// membership check.
var supportedIntervals = map[model.Interval]struct{}{
	model.Interval1m:  {},
	model.Interval5m:  {},
	model.Interval15m: {},
	model.Interval1h:  {},
	model.Interval4h:  {},
	model.Interval1d:  {},
	model.Interval1w:  {},
}

// Protocol implements venue.Protocol for the Binance spot stream.
type Protocol struct {
	wsURL  string
	nextID atomic.Int64
}

// NewProtocol creates a Binance protocol codec. An empty wsURL falls
// back to the public endpoint.
func NewProtocol(wsURL string) *Protocol {
	if wsURL == "" {
		wsURL = DefaultWSURL
	}
	return &Protocol{wsURL: wsURL}
}

func (p *Protocol) Venue() string { return VenueName }
func (p *Protocol) URL() string   { return p.wsURL }

// Ping reports no application-level keep-alive. Binance pings over the
// transport and gorilla answers those automatically.
func (p *Protocol) Ping() ([]byte, time.Duration, bool) {
	return nil, 0, false
}

type controlFrame struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// SubscribeFrame encodes a SUBSCRIBE control frame for the topic.
func (p *Protocol) SubscribeFrame(t venue.Topic) ([]byte, error) {
	name, err := streamName(t)
	if err != nil {
		return nil, err
	}
	return json.Marshal(controlFrame{
		Method: "SUBSCRIBE",
		Params: []string{name},
		ID:     p.nextID.Add(1),
	})
}

// UnsubscribeFrame encodes an UNSUBSCRIBE control frame for the topic.
func (p *Protocol) UnsubscribeFrame(t venue.Topic) ([]byte, error) {
	name, err := streamName(t)
	if err != nil {
		return nil, err
	}
	return json.Marshal(controlFrame{
		Method: "UNSUBSCRIBE",
		Params: []string{name},
		ID:     p.nextID.Add(1),
	})
}

func streamName(t venue.Topic) (string, error) {
	sym := strings.ToLower(t.Symbol)
	switch t.Kind {
	case venue.TopicCandles:
		if _, ok := supportedIntervals[t.Interval]; !ok {
			return "", fmt.Errorf("%w: %s", venue.ErrUnknownInterval, t.Interval)
		}
		return fmt.Sprintf("%s@kline_%s", sym, t.Interval), nil
	case venue.TopicTrades:
		return sym + "@trade", nil
	default:
		return "", fmt.Errorf("unknown topic kind %q", t.Kind)
	}
}

type wsEvent struct {
	Event  string  `json:"e"`
	Symbol string  `json:"s"`
	Kline  wsKline `json:"k"`

	// Trade fields
	TradeID      int64  `json:"t"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

type wsKline struct {
	OpenTime int64  `json:"t"`
	Interval string `json:"i"`
	Open     string `json:"o"`
	High     string `json:"h"`
	Low      string `json:"l"`
	Close    string `json:"c"`
	Volume   string `json:"v"`
	Closed   bool   `json:"x"`
}

// Parse decodes a stream event. Binance sends one update per frame.
// Subscription acks and unknown events return (nil, nil).
func (p *Protocol) Parse(data []byte) ([]venue.Message, error) {
	var ev wsEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	var (
		msg *venue.Message
		err error
	)
	switch ev.Event {
	case "kline":
		msg, err = parseKline(ev)
	case "trade":
		msg, err = parseTrade(ev)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []venue.Message{*msg}, nil
}

func parseKline(ev wsEvent) (*venue.Message, error) {
	k := ev.Kline
	c := model.Candle{
		Venue:     VenueName,
		Symbol:    ev.Symbol,
		Interval:  model.Interval(k.Interval),
		Timestamp: venue.NormalizeMillis(k.OpenTime),
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

	return &venue.Message{
		Topic:  venue.Topic{Kind: venue.TopicCandles, Symbol: ev.Symbol, Interval: c.Interval},
		Candle: &c,
	}, nil
}

func parseTrade(ev wsEvent) (*venue.Message, error) {
	price, err := decimal.NewFromString(ev.Price)
	if err != nil {
		return nil, fmt.Errorf("trade price %q: %w", ev.Price, err)
	}
	size, err := decimal.NewFromString(ev.Quantity)
	if err != nil {
		return nil, fmt.Errorf("trade quantity %q: %w", ev.Quantity, err)
	}

	// Buyer-is-maker means the aggressor sold.
	side := model.SideBuy
	if ev.IsBuyerMaker {
		side = model.SideSell
	}

	tr := model.Trade{
		Venue:     VenueName,
		Symbol:    ev.Symbol,
		TradeID:   fmt.Sprintf("%d", ev.TradeID),
		Timestamp: venue.NormalizeMillis(ev.TradeTime),
		Price:     price,
		Size:      size,
		Side:      side,
	}
	return &venue.Message{
		Topic: venue.Topic{Kind: venue.TopicTrades, Symbol: ev.Symbol},
		Trade: &tr,
	}, nil
}
