package config

import "time"

// Config is the root configuration for a feed daemon instance.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Venue    VenueConfig    `yaml:"venue"`
	Database DBConfig       `yaml:"database"`
	Limiter  LimiterConfig  `yaml:"limiter"`
	Breaker  BreakerConfig  `yaml:"breaker"`
	Stream   StreamConfig   `yaml:"stream"`
	Backfill BackfillConfig `yaml:"backfill"`
	Bus      BusConfig      `yaml:"bus"`
	Health   HealthConfig   `yaml:"health"`
	Feeds    []FeedConfig   `yaml:"feeds"`
}

// InstanceConfig identifies this daemon.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// VenueConfig selects and overrides the venue endpoints.
type VenueConfig struct {
	Name    string `yaml:"name"`     // "binance" or "bybit"
	RestURL string `yaml:"rest_url"` // Optional endpoint override
	WSURL   string `yaml:"ws_url"`   // Optional endpoint override
}

// DBConfig holds the candle store connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// LimiterConfig holds outbound rate limiting settings.
type LimiterConfig struct {
	MaxRequests   int           `yaml:"max_requests"`
	Window        time.Duration `yaml:"window"`
	QueueRequests bool          `yaml:"queue_requests"`
	MaxQueueSize  int           `yaml:"max_queue_size"`
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
	SuccessThreshold int           `yaml:"success_threshold"`
}

// StreamConfig holds WebSocket stream settings.
type StreamConfig struct {
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	DialTimeout          time.Duration `yaml:"dial_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
}

// BackfillConfig holds historical backfill settings.
type BackfillConfig struct {
	PageSize  int           `yaml:"page_size"`
	PageDelay time.Duration `yaml:"page_delay"`
	Horizon   time.Duration `yaml:"horizon"` // Default lookback when no data exists
}

// BusConfig holds event bus bounds.
type BusConfig struct {
	MaxSubscribers int `yaml:"max_subscribers"`
	BufferSize     int `yaml:"buffer_size"`
}

// HealthConfig holds the health endpoint settings.
type HealthConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// FeedConfig declares one feed to register at startup.
type FeedConfig struct {
	Symbol   string `yaml:"symbol"`
	Interval string `yaml:"interval"`
	Persist  bool   `yaml:"persist"`
	Backfill bool   `yaml:"backfill"`
	Trades   bool   `yaml:"trades"`
}
