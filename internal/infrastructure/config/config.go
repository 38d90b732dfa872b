package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all service configuration.
type Config struct {
	Server     ServerConfig
	Bridge     BridgeConfig
	Supervisor SupervisorConfig
	Store      StoreConfig
	Upstream   UpstreamConfig
	Logging    LogConfig
	RateLimit  RateLimitConfig
	CORS       CORSConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

// BridgeConfig selects the embedded server build and the bridged traffic.
type BridgeConfig struct {
	Manifest    string        `envconfig:"BRIDGE_MANIFEST" default:"bundle/manifest.yaml"`
	Prefix      string        `envconfig:"BRIDGE_PREFIX" default:"/_matrix/client"`
	CallTimeout time.Duration `envconfig:"BRIDGE_CALL_TIMEOUT" default:"60s"`
}

// SupervisorConfig holds boot and restart policy.
type SupervisorConfig struct {
	ReadyAttempts   int           `envconfig:"READY_ATTEMPTS" default:"30"`
	ReadyInterval   time.Duration `envconfig:"READY_INTERVAL" default:"100ms"`
	MaxBootFailures uint32        `envconfig:"MAX_BOOT_FAILURES" default:"5"`
	RestartCooldown time.Duration `envconfig:"RESTART_COOLDOWN" default:"30s"`
}

// StoreConfig holds durable store configuration.
type StoreConfig struct {
	Path          string        `envconfig:"STORE_PATH" default:"meshbridge.db"`
	PoolSize      int           `envconfig:"STORE_POOL_SIZE" default:"0"`
	CompressAbove int           `envconfig:"STORE_COMPRESS_ABOVE" default:"4096"`
	FlushInterval time.Duration `envconfig:"FLUSH_INTERVAL" default:"30s"`
}

// UpstreamConfig holds pass-through configuration.
type UpstreamConfig struct {
	Origin            string        `envconfig:"UPSTREAM_ORIGIN" default:""`
	Timeout           time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"30s"`
	MaxRetries        int           `envconfig:"UPSTREAM_RETRIES" default:"2"`
	RequestsPerSecond float64       `envconfig:"UPSTREAM_RPS" default:"0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// CORSConfig holds allowed origins for the page.
type CORSConfig struct {
	AllowOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			Host:            "0.0.0.0",
			ShutdownTimeout: 15 * time.Second,
		},
		Bridge: BridgeConfig{
			Manifest:    "bundle/manifest.yaml",
			Prefix:      "/_matrix/client",
			CallTimeout: 60 * time.Second,
		},
		Supervisor: SupervisorConfig{
			ReadyAttempts:   30,
			ReadyInterval:   100 * time.Millisecond,
			MaxBootFailures: 5,
			RestartCooldown: 30 * time.Second,
		},
		Store: StoreConfig{
			Path:          "meshbridge.db",
			CompressAbove: 4096,
			FlushInterval: 30 * time.Second,
		},
		Upstream: UpstreamConfig{
			Timeout:    30 * time.Second,
			MaxRetries: 2,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		CORS: CORSConfig{
			AllowOrigins: []string{"*"},
		},
	}
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	var errs []error
	if !strings.HasPrefix(c.Bridge.Prefix, "/") {
		errs = append(errs, fmt.Errorf("BRIDGE_PREFIX must start with /, got %q", c.Bridge.Prefix))
	}
	if c.Supervisor.ReadyAttempts <= 0 {
		errs = append(errs, errors.New("READY_ATTEMPTS must be positive"))
	}
	if c.Supervisor.ReadyInterval <= 0 {
		errs = append(errs, errors.New("READY_INTERVAL must be positive"))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("STORE_PATH is required"))
	}
	if c.Store.FlushInterval <= 0 {
		errs = append(errs, errors.New("FLUSH_INTERVAL must be positive"))
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS must be positive when rate limiting is enabled"))
	}
	return errors.Join(errs...)
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}
