package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/starforge-io/starforge/internal/api/middleware"
	"github.com/starforge-io/starforge/internal/journal"
	"github.com/starforge-io/starforge/internal/materialize"
)

type (
	// ViewReader reads stored materialized views.
	ViewReader interface {
		LoadView(ctx context.Context, name string) (materialize.ViewResult, error)
		ListViews(ctx context.Context) ([]string, error)
	}

	// RunReader reads the pipeline execution log.
	RunReader interface {
		ListRuns(ctx context.Context, limit int) ([]journal.Entry, error)
	}

	// HealthChecker probes warehouse connectivity.
	HealthChecker interface {
		HealthCheck(ctx context.Context) error
	}

	// Server is the reporting HTTP server.
	Server struct {
		httpServer *http.Server
		logger     *slog.Logger
		config     *ServerConfig
		views      ViewReader
		runs       RunReader
		health     HealthChecker
		version    string
	}
)

// NewServer creates the reporting server with structured logging and the
// middleware stack. Dependencies are injected explicitly; configuration
// (what) stays separate from dependencies (how).
//
// Authentication is enabled when STARFORGE_API_KEY_HASH is set; without it
// the server logs a warning and serves unauthenticated.
func NewServer(cfg *ServerConfig, views ViewReader, runs RunReader, health HealthChecker, version string) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	server := &Server{
		logger:  logger,
		config:  cfg,
		views:   views,
		runs:    runs,
		health:  health,
		version: version,
	}

	mux := http.NewServeMux()
	server.setupRoutes(mux)

	var verify middleware.Verifier

	if hash, enabled := LoadAPIKeyHash(); enabled {
		verify = func(apiKey string) bool { return VerifyAPIKey(hash, apiKey) }

		logger.Info("API key authentication enabled")
	} else {
		logger.Warn("API key hash not configured - serving unauthenticated")
	}

	handler := middleware.Apply(mux,
		middleware.WithRecovery(logger),
		middleware.WithAPIKeyAuth(verify, logger),
		middleware.WithRequestLogger(logger),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Handler returns the server's full middleware-wrapped handler. Exposed for
// httptest-based tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server and blocks until shutdown.
// It handles graceful shutdown on SIGINT and SIGTERM signals.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("Starting reporting API server",
			slog.String("address", s.config.Address()),
			slog.String("version", s.version),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("Shutdown signal received",
			slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		s.logger.Info("Server stopped")
	}

	return nil
}
