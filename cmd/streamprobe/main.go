// streamprobe connects to a venue WebSocket stream and prints normalized
// candles and trades to the console.
// Usage: go run ./cmd/streamprobe --venue binance --symbol BTCUSDT --interval 1m --trades
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/candlekeep/candlekeep/internal/model"
	"github.com/candlekeep/candlekeep/internal/venue"
	"github.com/candlekeep/candlekeep/internal/venue/binance"
	"github.com/candlekeep/candlekeep/internal/venue/bybit"
)

func main() {
	venueName := flag.String("venue", "binance", "venue to connect to (binance or bybit)")
	symbol := flag.String("symbol", "BTCUSDT", "symbol to stream")
	intervalArg := flag.String("interval", "1m", "candle interval")
	trades := flag.Bool("trades", false, "also stream trades")
	wsURL := flag.String("ws-url", "", "optional WebSocket endpoint override")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	interval, err := model.ParseInterval(*intervalArg)
	if err != nil {
		logger.Error("invalid interval", "interval", *intervalArg, "error", err)
		os.Exit(1)
	}

	var client venue.StreamClient
	switch *venueName {
	case binance.VenueName:
		client = binance.NewStreamClient(*wsURL, venue.DefaultStreamConfig(), logger)
	case bybit.VenueName:
		client = bybit.NewStreamClient(*wsURL, venue.DefaultStreamConfig(), logger)
	default:
		logger.Error("unknown venue", "venue", *venueName)
		os.Exit(1)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	client.OnStatusChange(func(status venue.ConnectionStatus) {
		logger.Info("connection status", "status", status)
	})

	err = client.SubscribeCandles(*symbol, interval, func(c model.Candle) {
		fmt.Printf("[candle] %s %s ts=%d o=%s h=%s l=%s c=%s v=%s\n",
			c.Symbol, c.Interval, c.Timestamp,
			c.Open, c.High, c.Low, c.Close, c.Volume)
	})
	if err != nil {
		logger.Error("subscribe candles failed", "error", err)
		os.Exit(1)
	}

	if *trades {
		err = client.SubscribeTrades(*symbol, func(t model.Trade) {
			fmt.Printf("[trade]  %s id=%s ts=%d side=%s price=%s size=%s\n",
				t.Symbol, t.TradeID, t.Timestamp, t.Side, t.Price, t.Size)
		})
		if err != nil {
			logger.Error("subscribe trades failed", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("streaming", "venue", *venueName, "symbol", *symbol, "interval", interval)

	<-ctx.Done()
	logger.Info("streamprobe stopped")
}
