// Package config defines the top-level configuration for the points market
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PTSMKT_* environment variables.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Storage   StorageConfig   `toml:"storage"`
	Lock      LockConfig      `toml:"lock"`
	Economy   EconomyConfig   `toml:"economy"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Notify    NotifyConfig    `toml:"notify"`
	LogLevel  string          `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	AdminKey    string   `toml:"admin_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// DatabaseConfig holds PostgreSQL connection parameters. Ignored when
// storage.driver is "memory".
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Ignored when both
// lock.driver is "local" and storage.driver is "memory".
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for settlement
// archival. Archival is disabled when Bucket is empty.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Driver is "postgres" or "memory".
	Driver string `toml:"driver"`
}

// LockConfig selects the lock backend and its retry policy.
type LockConfig struct {
	// Driver is "redis" or "local". "local" is only safe for single-node
	// deployments.
	Driver         string   `toml:"driver"`
	TTL            duration `toml:"ttl"`
	MaxAttempts    int      `toml:"max_attempts"`
	InitialBackoff duration `toml:"initial_backoff"`
	MaxBackoff     duration `toml:"max_backoff"`
}

// EconomyConfig holds the points issuance amounts.
type EconomyConfig struct {
	InitialGrant float64 `toml:"initial_grant"`
	MonthlyGrant float64 `toml:"monthly_grant"`
}

// RateLimitConfig holds per-user request limits for the trade endpoint.
// Enforcement requires the redis lock driver; with the local driver the
// limiter is disabled.
type RateLimitConfig struct {
	Enabled bool     `toml:"enabled"`
	Limit   int      `toml:"limit"`
	Window  duration `toml:"window"`
}

// NotifyConfig holds operator alert destinations. Senders with empty
// credentials are skipped; Events filters which lifecycle transitions alert
// (empty means all).
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "pointsmarket",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Storage: StorageConfig{
			Driver: "postgres",
		},
		Lock: LockConfig{
			Driver:         "redis",
			TTL:            duration{10 * time.Second},
			MaxAttempts:    5,
			InitialBackoff: duration{25 * time.Millisecond},
			MaxBackoff:     duration{400 * time.Millisecond},
		},
		Economy: EconomyConfig{
			InitialGrant: 1000,
			MonthlyGrant: 500,
		},
		RateLimit: RateLimitConfig{
			Enabled: false,
			Limit:   30,
			Window:  duration{time.Minute},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validStorageDrivers = map[string]bool{
	"postgres": true,
	"memory":   true,
}

var validLockDrivers = map[string]bool{
	"redis": true,
	"local": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	// Storage
	if !validStorageDrivers[c.Storage.Driver] {
		errs = append(errs, fmt.Sprintf("storage: unknown driver %q (valid: postgres, memory)", c.Storage.Driver))
	}

	// Database — only required for the postgres driver.
	if c.Storage.Driver == "postgres" {
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 {
			errs = append(errs, "database: pool_min_conns must be >= 0")
		}
		if c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Lock
	if !validLockDrivers[c.Lock.Driver] {
		errs = append(errs, fmt.Sprintf("lock: unknown driver %q (valid: redis, local)", c.Lock.Driver))
	}
	if c.Lock.TTL.Duration <= 0 {
		errs = append(errs, "lock: ttl must be > 0")
	}
	if c.Lock.MaxAttempts < 1 {
		errs = append(errs, "lock: max_attempts must be >= 1")
	}

	// Redis — only required when something uses it.
	needsRedis := c.Lock.Driver == "redis" || (c.RateLimit.Enabled && c.Lock.Driver == "redis")
	if needsRedis {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3 — archival enabled by a non-empty bucket.
	if c.S3.Bucket != "" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when bucket is set")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when bucket is set")
		}
	}

	// Economy
	if c.Economy.InitialGrant < 0 {
		errs = append(errs, "economy: initial_grant must be >= 0")
	}
	if c.Economy.MonthlyGrant < 0 {
		errs = append(errs, "economy: monthly_grant must be >= 0")
	}

	// Rate limit
	if c.RateLimit.Enabled {
		if c.RateLimit.Limit < 1 {
			errs = append(errs, "rate_limit: limit must be >= 1 when enabled")
		}
		if c.RateLimit.Window.Duration <= 0 {
			errs = append(errs, "rate_limit: window must be > 0 when enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
