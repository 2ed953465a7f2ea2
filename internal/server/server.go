// Package server exposes the vault over HTTP: read endpoints, entry/exit,
// the keeper-facing rebalance surface, and a WebSocket event feed.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidewater-labs/reservoir/internal/domain"
	"github.com/tidewater-labs/reservoir/internal/server/handler"
	"github.com/tidewater-labs/reservoir/internal/server/middleware"
	"github.com/tidewater-labs/reservoir/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit caps requests per client IP per RateWindow. Zero disables
	// rate limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Vault     *handler.VaultHandler
	Rebalance *handler.RebalanceHandler
	Journal   *handler.JournalHandler
}

// Server is the headless HTTP + WebSocket API for the reservoir vault.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub. limiter may be nil when rate limiting is disabled.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Vault read surface.
	mux.HandleFunc("GET /api/vault/state", handlers.Vault.GetState)
	mux.HandleFunc("GET /api/vault/value", handlers.Vault.GetValue)
	mux.HandleFunc("GET /api/vault/buckets", handlers.Vault.ListBuckets)
	mux.HandleFunc("GET /api/vault/balances/{holder}", handlers.Vault.GetBalance)

	// Entry and exit.
	mux.HandleFunc("POST /api/vault/preview/deposit", handlers.Vault.PreviewDeposit)
	mux.HandleFunc("POST /api/vault/preview/withdraw", handlers.Vault.PreviewWithdraw)
	mux.HandleFunc("POST /api/vault/deposit", handlers.Vault.Deposit)
	mux.HandleFunc("POST /api/vault/withdraw", handlers.Vault.Withdraw)

	// Keeper-facing liquidity movement.
	mux.HandleFunc("POST /api/rebalance/to-bucket", handlers.Rebalance.ToBucket)
	mux.HandleFunc("POST /api/rebalance/to-buffer", handlers.Rebalance.ToBuffer)
	mux.HandleFunc("POST /api/rebalance/between", handlers.Rebalance.Between)
	mux.HandleFunc("POST /api/rebalance/recover", handlers.Rebalance.Recover)
	mux.HandleFunc("POST /api/rebalance/return", handlers.Rebalance.Return)
	mux.HandleFunc("POST /api/rebalance/drain/{bucket}", handlers.Rebalance.Drain)

	// Operation journal.
	mux.HandleFunc("GET /api/journal", handlers.Journal.List)

	// WebSocket event feed.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
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
