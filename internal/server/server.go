// Package server exposes the market kernel over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openpredict/pointsmarket/internal/domain"
	"github.com/openpredict/pointsmarket/internal/server/handler"
	"github.com/openpredict/pointsmarket/internal/server/middleware"
	"github.com/openpredict/pointsmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// AdminKey guards the /api/admin routes. If empty, those routes reject
	// every request.
	AdminKey string
	// RateLimiter, when non-nil, throttles the trade endpoint.
	RateLimiter domain.RateLimiter
	RateLimit   int
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Markets   *handler.MarketHandler
	Positions *handler.PositionHandler
	Ledger    *handler.LedgerHandler
}

// Server is the HTTP + WebSocket API server for the prediction market.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (identity, logging, CORS) and attaches the WebSocket
// hub. Admin routes sit behind a separate key-auth wrapper.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	admin := middleware.Admin(cfg.AdminKey)

	// Health check (no identity required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Market endpoints.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)

	// The trade endpoint is the hot path; it alone carries the rate limiter.
	trade := http.Handler(http.HandlerFunc(handlers.Markets.PlaceTrade))
	if cfg.RateLimiter != nil {
		trade = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit, cfg.RateWindow)(trade)
	}
	mux.Handle("POST /api/markets/{id}/trades", trade)

	// Lifecycle endpoints, operator-only.
	mux.Handle("POST /api/admin/markets/{id}/close", admin(http.HandlerFunc(handlers.Markets.CloseMarket)))
	mux.Handle("POST /api/admin/markets/{id}/resolve", admin(http.HandlerFunc(handlers.Markets.ResolveMarket)))
	mux.Handle("POST /api/admin/markets/{id}/recover", admin(http.HandlerFunc(handlers.Markets.RecoverSettlement)))

	// Position endpoints.
	mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
	mux.HandleFunc("POST /api/positions/{id}/close", handlers.Positions.ClosePosition)

	// Ledger endpoints.
	mux.HandleFunc("GET /api/balance", handlers.Ledger.GetBalance)
	mux.HandleFunc("GET /api/ledger", handlers.Ledger.GetHistory)
	mux.Handle("POST /api/admin/grants", admin(http.HandlerFunc(handlers.Ledger.Grant)))

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, outermost last.
	var h http.Handler = mux
	h = middleware.Identity()(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
