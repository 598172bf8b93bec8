package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/openpredict/pointsmarket/internal/blob/s3"
	"github.com/openpredict/pointsmarket/internal/cache/redis"
	"github.com/openpredict/pointsmarket/internal/config"
	"github.com/openpredict/pointsmarket/internal/domain"
	"github.com/openpredict/pointsmarket/internal/lock"
	"github.com/openpredict/pointsmarket/internal/notify"
	"github.com/openpredict/pointsmarket/internal/store/memory"
	"github.com/openpredict/pointsmarket/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application needs.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	MarketStore   domain.MarketStore
	PositionStore domain.PositionStore
	LedgerStore   domain.LedgerStore

	// Coordination and realtime
	LockProvider domain.LockProvider
	Broadcaster  domain.Broadcaster
	RateLimiter  domain.RateLimiter // nil when rate limiting is off

	// Cold storage
	Archiver domain.SettlementArchiver // nil when archival is not configured

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Persistence ---
	switch cfg.Storage.Driver {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.MarketStore = postgres.NewMarketStore(pool)
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.LedgerStore = postgres.NewLedgerStore(pool)

	case "memory":
		deps.MarketStore = memory.NewMarketStore()
		deps.PositionStore = memory.NewPositionStore()
		deps.LedgerStore = memory.NewLedgerStore()

	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: unsupported storage driver %q", cfg.Storage.Driver)
	}

	// --- Locking and realtime fan-out ---
	// The redis driver serves multi-node deployments; the local driver keeps
	// everything in-process and is only safe on a single node.
	switch cfg.Lock.Driver {
	case "redis":
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LockProvider = redis.NewLockProvider(redisClient)
		deps.Broadcaster = redis.NewBroadcaster(redisClient)
		if cfg.RateLimit.Enabled {
			deps.RateLimiter = redis.NewRateLimiter(redisClient)
		}

	case "local":
		deps.LockProvider = lock.NewLocal()
		deps.Broadcaster = memory.NewBroadcaster()
		// Rate limiting needs the shared redis backend; with the local
		// driver it stays off even when enabled in config.

	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: unsupported lock driver %q", cfg.Lock.Driver)
	}

	// --- S3 settlement archival (enabled by a non-empty bucket) ---
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewSettlementArchiver(s3Client)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
