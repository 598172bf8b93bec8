package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PTSMKT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PTSMKT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setInt(&cfg.Server.Port, "PTSMKT_SERVER_PORT")
	setStr(&cfg.Server.AdminKey, "PTSMKT_SERVER_ADMIN_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "PTSMKT_SERVER_CORS_ORIGINS")

	// ── Database ──
	setStr(&cfg.Database.DSN, "PTSMKT_DATABASE_DSN")
	setStr(&cfg.Database.Host, "PTSMKT_DATABASE_HOST")
	setInt(&cfg.Database.Port, "PTSMKT_DATABASE_PORT")
	setStr(&cfg.Database.Database, "PTSMKT_DATABASE_NAME")
	setStr(&cfg.Database.User, "PTSMKT_DATABASE_USER")
	setStr(&cfg.Database.Password, "PTSMKT_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "PTSMKT_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "PTSMKT_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "PTSMKT_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "PTSMKT_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PTSMKT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PTSMKT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PTSMKT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PTSMKT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PTSMKT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PTSMKT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PTSMKT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PTSMKT_S3_REGION")
	setStr(&cfg.S3.Bucket, "PTSMKT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PTSMKT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PTSMKT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PTSMKT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PTSMKT_S3_FORCE_PATH_STYLE")

	// ── Storage ──
	setStr(&cfg.Storage.Driver, "PTSMKT_STORAGE_DRIVER")

	// ── Lock ──
	setStr(&cfg.Lock.Driver, "PTSMKT_LOCK_DRIVER")
	setDuration(&cfg.Lock.TTL, "PTSMKT_LOCK_TTL")
	setInt(&cfg.Lock.MaxAttempts, "PTSMKT_LOCK_MAX_ATTEMPTS")
	setDuration(&cfg.Lock.InitialBackoff, "PTSMKT_LOCK_INITIAL_BACKOFF")
	setDuration(&cfg.Lock.MaxBackoff, "PTSMKT_LOCK_MAX_BACKOFF")

	// ── Economy ──
	setFloat64(&cfg.Economy.InitialGrant, "PTSMKT_ECONOMY_INITIAL_GRANT")
	setFloat64(&cfg.Economy.MonthlyGrant, "PTSMKT_ECONOMY_MONTHLY_GRANT")

	// ── Rate limit ──
	setBool(&cfg.RateLimit.Enabled, "PTSMKT_RATE_LIMIT_ENABLED")
	setInt(&cfg.RateLimit.Limit, "PTSMKT_RATE_LIMIT_LIMIT")
	setDuration(&cfg.RateLimit.Window, "PTSMKT_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PTSMKT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PTSMKT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PTSMKT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PTSMKT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "PTSMKT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
