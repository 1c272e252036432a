package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/custodia-labs/storesync/internal/core/ports/driving"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the administrative HTTP API
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	version    string
	logger     *slog.Logger

	shutdownTimeout time.Duration

	// Services
	authService   driving.AuthService
	tenantService driving.TenantService
	syncService   driving.SyncService

	// Infrastructure
	db             Pinger       // PostgreSQL health check
	redisClient    Pinger       // Redis health check (optional)
	metricsHandler http.Handler // Prometheus exposition (optional)
}

// Config holds server configuration
type Config struct {
	Addr            string
	Version         string
	ShutdownTimeout time.Duration
	MetricsHandler  http.Handler
	Logger          *slog.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		Version:         "dev",
		ShutdownTimeout: 30 * time.Second,
	}
}

// NewServer creates a new HTTP server
func NewServer(
	cfg Config,
	authService driving.AuthService,
	tenantService driving.TenantService,
	syncService driving.SyncService,
	db Pinger,
	redisClient Pinger, // can be nil
) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	s := &Server{
		router:         http.NewServeMux(),
		version:        cfg.Version,
		logger:         logger,
		authService:    authService,
		tenantService:  tenantService,
		syncService:    syncService,
		db:             db,
		redisClient:    redisClient,
		metricsHandler: cfg.MetricsHandler,

		shutdownTimeout: cfg.ShutdownTimeout,
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.setupRoutes()
	return s
}

// Handler returns the router wrapped in recovery and request logging
func (s *Server) Handler() http.Handler {
	return NewRecoveryMiddleware(s.logger).Handler(
		NewLoggingMiddleware(s.logger).Handler(s.router))
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	authMiddleware := NewAuthMiddleware(s.authService)
	authed := func(h http.HandlerFunc) http.Handler {
		return authMiddleware.Authenticate(h)
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return authMiddleware.Authenticate(authMiddleware.RequireAdmin(h))
	}

	// Health endpoints (no auth)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /version", s.handleVersion)
	if s.metricsHandler != nil {
		s.router.Handle("GET /metrics", s.metricsHandler)
	}
	s.router.HandleFunc("GET /api/v1/docs", s.handleDocs)

	// Auth endpoints (public)
	s.router.HandleFunc("POST /api/v1/auth/token", s.handleToken)

	// Tenant endpoints
	s.router.Handle("GET /api/v1/tenants", authed(s.handleListTenants))
	s.router.Handle("POST /api/v1/tenants", admin(s.handleCreateTenant))
	s.router.Handle("GET /api/v1/tenants/{id}", authed(s.handleGetTenant))
	s.router.Handle("POST /api/v1/tenants/{id}/enable", admin(s.handleEnableTenant))
	s.router.Handle("POST /api/v1/tenants/{id}/disable", admin(s.handleDisableTenant))

	// Sync endpoints
	s.router.Handle("GET /api/v1/tenants/{id}/sync", authed(s.handleGetSyncStatus))
	s.router.Handle("POST /api/v1/tenants/{id}/sync", admin(s.handleTriggerFullSync))
	s.router.Handle("POST /api/v1/tenants/{id}/sync/reset", admin(s.handleResetAll))
	s.router.Handle("POST /api/v1/tenants/{id}/sync/{entity}", admin(s.handleTriggerEntitySync))
	s.router.Handle("POST /api/v1/tenants/{id}/sync/{entity}/reset", admin(s.handleResetEntity))
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
