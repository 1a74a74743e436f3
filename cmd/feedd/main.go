package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/candlekeep/candlekeep/internal/backfill"
	"github.com/candlekeep/candlekeep/internal/bus"
	"github.com/candlekeep/candlekeep/internal/config"
	"github.com/candlekeep/candlekeep/internal/feed"
	"github.com/candlekeep/candlekeep/internal/guard"
	"github.com/candlekeep/candlekeep/internal/model"
	"github.com/candlekeep/candlekeep/internal/storage"
	"github.com/candlekeep/candlekeep/internal/venue"
	"github.com/candlekeep/candlekeep/internal/venue/binance"
	"github.com/candlekeep/candlekeep/internal/venue/bybit"
	"github.com/candlekeep/candlekeep/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/feedd.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting feedd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Optional .env for local runs, config ${VAR} expansion picks it up
	if err := godotenv.Load(); err == nil {
		logger.Info("loaded .env file")
	}

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"venue", cfg.Venue.Name,
		"feeds", len(cfg.Feeds),
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to storage
	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	store, err := storage.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	logger.Info("database connected")

	// Admission control for REST backfill traffic
	protected := guard.NewProtectedClient(
		guard.LimiterConfig{
			MaxRequests:   cfg.Limiter.MaxRequests,
			Window:        cfg.Limiter.Window,
			QueueRequests: cfg.Limiter.QueueRequests,
			MaxQueueSize:  cfg.Limiter.MaxQueueSize,
		},
		guard.BreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			ResetTimeout:     cfg.Breaker.ResetTimeout,
			SuccessThreshold: cfg.Breaker.SuccessThreshold,
		},
		logger,
	)
	defer protected.Close()

	// Venue clients
	restClient, streamClient, err := buildVenue(cfg, logger)
	if err != nil {
		logger.Error("failed to build venue clients", "error", err)
		os.Exit(1)
	}

	engine := backfill.NewEngine(store, restClient, protected, backfill.Config{
		PageSize:  cfg.Backfill.PageSize,
		PageDelay: cfg.Backfill.PageDelay,
		Horizon:   cfg.Backfill.Horizon,
	}, logger)

	events := bus.New(bus.Config{
		MaxSubscribers: cfg.Bus.MaxSubscribers,
		BufferSize:     cfg.Bus.BufferSize,
	}, logger)
	defer events.Close()

	manager := feed.NewManager(cfg.Venue.Name, streamClient, engine, store, events, logger)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		manager.Close(shutdownCtx)
	}()

	// Start health server early so backfill progress is observable
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: createHealthHandler(cfg.Health.Path, store, manager, events, logger),
	}

	go func() {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	// Register feeds (backfill runs inline per feed when configured)
	for _, fc := range cfg.Feeds {
		id, err := manager.AddFeed(ctx, feed.FeedConfig{
			Symbol:   fc.Symbol,
			Interval: model.Interval(fc.Interval),
			Persist:  fc.Persist,
			Backfill: fc.Backfill,
			Trades:   fc.Trades,
		})
		if err != nil {
			logger.Error("failed to add feed",
				"symbol", fc.Symbol, "interval", fc.Interval, "error", err)
			os.Exit(1)
		}
		logger.Info("feed registered", "feed_id", id, "symbol", fc.Symbol, "interval", fc.Interval)
	}

	// Start streaming on every feed
	if err := manager.StartAll(ctx); err != nil {
		logger.Error("failed to start feeds", "error", err)
		os.Exit(1)
	}

	logger.Info("feedd running",
		"instance_id", cfg.Instance.ID,
		"venue", cfg.Venue.Name,
		"health_url", fmt.Sprintf("http://localhost:%d%s", cfg.Health.Port, cfg.Health.Path),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	healthServer.Shutdown(shutdownCtx)

	logger.Info("feedd stopped")
}

// buildVenue returns the REST and stream clients for the configured venue.
func buildVenue(cfg *config.Config, logger *slog.Logger) (venue.RESTClient, venue.StreamClient, error) {
	streamCfg := venue.StreamConfig{
		ReconnectBaseDelay:   cfg.Stream.ReconnectBaseDelay,
		MaxReconnectAttempts: cfg.Stream.MaxReconnectAttempts,
		DialTimeout:          cfg.Stream.DialTimeout,
		WriteTimeout:         cfg.Stream.WriteTimeout,
	}

	switch cfg.Venue.Name {
	case binance.VenueName:
		return binance.NewRESTClient(cfg.Venue.RestURL), binance.NewStreamClient(cfg.Venue.WSURL, streamCfg, logger), nil
	case bybit.VenueName:
		return bybit.NewRESTClient(cfg.Venue.RestURL), bybit.NewStreamClient(cfg.Venue.WSURL, streamCfg, logger), nil
	default:
		return nil, nil, fmt.Errorf("unknown venue %q", cfg.Venue.Name)
	}
}

// healthStore is the slice of storage the health check needs.
type healthStore interface {
	Ping(ctx context.Context) error
}

// createHealthHandler creates the HTTP handler for health checks,
// registered at the configured path.
func createHealthHandler(path string, store healthStore, manager *feed.Manager, events *bus.Bus, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Connection string         `json:"connection"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Connection: string(manager.ConnectionStatus()),
			Components: make(map[string]any),
		}

		// Check database
		if err := store.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["database"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["database"] = "connected"
		}

		// Per-feed status
		feeds := manager.Status(ctx)
		feedViews := make([]map[string]any, 0, len(feeds))
		for _, f := range feeds {
			view := map[string]any{
				"id":        f.ID,
				"symbol":    f.Symbol,
				"interval":  string(f.Interval),
				"streaming": f.Streaming,
			}
			if f.LastCandle != nil {
				view["last_candle_ts"] = f.LastCandle.Timestamp
			}
			if f.Sync != nil {
				view["sync_state"] = string(f.Sync.State)
				view["candle_count"] = f.Sync.CandleCount
				view["oldest_ts"] = f.Sync.OldestTimestamp
				view["newest_ts"] = f.Sync.NewestTimestamp
				if f.Sync.LastError != "" {
					view["last_error"] = f.Sync.LastError
				}
			}
			feedViews = append(feedViews, view)
		}
		health.Components["feeds"] = feedViews

		if manager.ConnectionStatus() == venue.StatusDisconnected && len(feeds) > 0 {
			health.Status = "degraded"
		}

		health.Components["bus"] = events.Stats()

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
