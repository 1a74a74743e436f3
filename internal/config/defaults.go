package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultVenue                = "binance"
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultMaxRequests          = 20
	DefaultWindow               = 1 * time.Second
	DefaultMaxQueueSize         = 100
	DefaultFailureThreshold     = 5
	DefaultResetTimeout         = 30 * time.Second
	DefaultSuccessThreshold     = 1
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultDialTimeout          = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultPageSize             = 1000
	DefaultPageDelay            = 250 * time.Millisecond
	DefaultHorizon              = 365 * 24 * time.Hour
	DefaultMaxSubscribers       = 32
	DefaultBusBufferSize        = 256
	DefaultHealthPort           = 8080
	DefaultHealthPath           = "/health"
)

func (c *Config) applyDefaults() {
	if c.Venue.Name == "" {
		c.Venue.Name = DefaultVenue
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	// Limiter defaults
	if c.Limiter.MaxRequests == 0 {
		c.Limiter.MaxRequests = DefaultMaxRequests
	}
	if c.Limiter.Window == 0 {
		c.Limiter.Window = DefaultWindow
	}
	if c.Limiter.MaxQueueSize == 0 {
		c.Limiter.MaxQueueSize = DefaultMaxQueueSize
	}

	// Breaker defaults
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = DefaultFailureThreshold
	}
	if c.Breaker.ResetTimeout == 0 {
		c.Breaker.ResetTimeout = DefaultResetTimeout
	}
	if c.Breaker.SuccessThreshold == 0 {
		c.Breaker.SuccessThreshold = DefaultSuccessThreshold
	}

	// Stream defaults
	if c.Stream.ReconnectBaseDelay == 0 {
		c.Stream.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Stream.MaxReconnectAttempts == 0 {
		c.Stream.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Stream.DialTimeout == 0 {
		c.Stream.DialTimeout = DefaultDialTimeout
	}
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = DefaultWriteTimeout
	}

	// Backfill defaults
	if c.Backfill.PageSize == 0 {
		c.Backfill.PageSize = DefaultPageSize
	}
	if c.Backfill.PageDelay == 0 {
		c.Backfill.PageDelay = DefaultPageDelay
	}
	if c.Backfill.Horizon == 0 {
		c.Backfill.Horizon = DefaultHorizon
	}

	// Bus defaults
	if c.Bus.MaxSubscribers == 0 {
		c.Bus.MaxSubscribers = DefaultMaxSubscribers
	}
	if c.Bus.BufferSize == 0 {
		c.Bus.BufferSize = DefaultBusBufferSize
	}

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
	if c.Health.Path == "" {
		c.Health.Path = DefaultHealthPath
	}
}
