package config

import (
	"errors"
	"fmt"

	"github.com/candlekeep/candlekeep/internal/model"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	switch c.Venue.Name {
	case "binance", "bybit":
	default:
		return fmt.Errorf("venue.name must be binance or bybit, got %q", c.Venue.Name)
	}

	if err := c.Database.validate("database"); err != nil {
		return err
	}

	if c.Limiter.MaxRequests < 1 {
		return errors.New("limiter.max_requests must be >= 1")
	}
	if c.Limiter.Window < 0 {
		return errors.New("limiter.window must be >= 0")
	}
	if c.Limiter.QueueRequests && c.Limiter.MaxQueueSize < 1 {
		return errors.New("limiter.max_queue_size must be >= 1 when queueing is enabled")
	}

	if c.Breaker.FailureThreshold < 1 {
		return errors.New("breaker.failure_threshold must be >= 1")
	}
	if c.Breaker.SuccessThreshold < 1 {
		return errors.New("breaker.success_threshold must be >= 1")
	}

	if c.Stream.MaxReconnectAttempts < 1 {
		return errors.New("stream.max_reconnect_attempts must be >= 1")
	}

	if c.Backfill.PageSize < 1 {
		return errors.New("backfill.page_size must be >= 1")
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	for i, f := range c.Feeds {
		if f.Symbol == "" {
			return fmt.Errorf("feeds[%d].symbol is required", i)
		}
		if _, err := model.ParseInterval(f.Interval); err != nil {
			return fmt.Errorf("feeds[%d].interval: %w", i, err)
		}
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
