// Package api exposes the HTTP surface: library management, operator
// recovery commands, status and metrics.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/fetcharr/fetcharr/internal/api/handlers"
	"github.com/fetcharr/fetcharr/internal/api/middleware"
	"github.com/fetcharr/fetcharr/internal/config"
	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/pipeline"
)

// Server represents the HTTP server
type Server struct {
	server   *http.Server
	db       *models.Database
	pipeline *pipeline.Pipeline
	kicker   handlers.Kicker
	logger   *logrus.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, db *models.Database, p *pipeline.Pipeline, kicker handlers.Kicker, logger *logrus.Logger) *Server {
	s := &Server{
		db:       db,
		pipeline: p,
		kicker:   kicker,
		logger:   logger,
	}

	mux := http.NewServeMux()
	s.setupRoutes(mux)

	s.server = &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      middleware.Logging(mux, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(mux *http.ServeMux) {
	healthHandler := handlers.NewHealthHandler(s.logger)
	mux.HandleFunc("GET /health", healthHandler.ServeHTTP)

	statusHandler := handlers.NewStatusHandler(s.db, s.logger)
	mux.HandleFunc("GET /status", statusHandler.ServeHTTP)

	itemsHandler := handlers.NewItemsHandler(s.db, s.pipeline, s.kicker, s.logger)
	mux.HandleFunc("GET /api/items", itemsHandler.List)
	mux.HandleFunc("POST /api/items", itemsHandler.Create)
	mux.HandleFunc("GET /api/items/{id}", itemsHandler.Get)
	mux.HandleFunc("DELETE /api/items/{id}", itemsHandler.Delete)

	retryHandler := handlers.NewRetryHandler(s.pipeline, s.kicker, s.logger)
	mux.HandleFunc("POST /api/items/{id}/retry", retryHandler.Retry)
	mux.HandleFunc("POST /api/items/{id}/pause", retryHandler.Pause)
	mux.HandleFunc("POST /api/items/{id}/resume", retryHandler.Resume)
	mux.HandleFunc("POST /api/reset", retryHandler.Reset)

	mux.Handle("GET /metrics", promhttp.Handler())
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("port", s.server.Addr).Info("Starting HTTP server")

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
