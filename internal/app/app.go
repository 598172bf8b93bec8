// Package app provides the top-level application lifecycle management for
// the points market service. It wires together all dependencies (stores,
// locks, event bus, blob storage, notifications), assembles the engine and
// HTTP surface, and supervises the serving goroutines until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openpredict/pointsmarket/internal/config"
	"github.com/openpredict/pointsmarket/internal/engine"
	"github.com/openpredict/pointsmarket/internal/ledger"
	"github.com/openpredict/pointsmarket/internal/lock"
	"github.com/openpredict/pointsmarket/internal/notify"
	"github.com/openpredict/pointsmarket/internal/position"
	"github.com/openpredict/pointsmarket/internal/server"
	"github.com/openpredict/pointsmarket/internal/server/handler"
	"github.com/openpredict/pointsmarket/internal/server/ws"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, assembles the
// services and HTTP server, starts the serving goroutines, and blocks until
// the context is cancelled or a goroutine fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("storage_driver", a.cfg.Storage.Driver),
		slog.String("lock_driver", a.cfg.Lock.Driver),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	logger := a.logger

	// --- Services ---
	locks := lock.NewAcquirer(deps.LockProvider, lock.Policy{
		TTL:            a.cfg.Lock.TTL.Duration,
		MaxAttempts:    a.cfg.Lock.MaxAttempts,
		InitialBackoff: a.cfg.Lock.InitialBackoff.Duration,
		MaxBackoff:     a.cfg.Lock.MaxBackoff.Duration,
	})
	ledgerSvc := ledger.NewService(deps.LedgerStore, locks, logger)
	eng := engine.NewService(
		deps.MarketStore,
		deps.PositionStore,
		ledgerSvc,
		locks,
		deps.Broadcaster,
		deps.Archiver,
		logger,
	)
	tracker := position.NewTracker(deps.PositionStore, deps.MarketStore, ledgerSvc, locks, logger)

	// --- HTTP + WebSocket surface ---
	hub := ws.NewHub(deps.Broadcaster, logger)
	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(logger),
		Markets: handler.NewMarketHandler(eng, deps.MarketStore, logger),
		Positions: handler.NewPositionHandler(
			tracker,
			logger,
		),
		Ledger: handler.NewLedgerHandler(ledgerSvc, handler.Grants{
			Initial: a.cfg.Economy.InitialGrant,
			Monthly: a.cfg.Economy.MonthlyGrant,
		}, logger),
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		AdminKey:    a.cfg.Server.AdminKey,
		RateLimiter: deps.RateLimiter,
		RateLimit:   a.cfg.RateLimit.Limit,
		RateWindow:  a.cfg.RateLimit.Window.Duration,
	}, handlers, hub, logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	if deps.Notifier.Enabled() {
		watcher := notify.NewLifecycleWatcher(deps.Broadcaster, deps.Notifier, logger)
		g.Go(func() error {
			return watcher.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) &&
		!errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("app: %w", err)
	}
	return nil
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
