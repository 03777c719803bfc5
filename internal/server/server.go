// Package server implements the read-only status HTTP server.
//
// The server exposes pipeline state over HTTP for dashboards and
// shell tooling: health, version, the run ledger, and per-target
// staleness. It never mutates anything; runs still happen through the
// CLI.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bioforge/alnpipe/internal/server/handlers"
	"github.com/bioforge/alnpipe/internal/server/middleware"
)

// Config configures a status server.
type Config struct {
	Host string
	Port int

	// ManifestPath locates the pipeline manifest to report on.
	ManifestPath string

	// Version metadata served on /version.
	Version   string
	Commit    string
	BuildDate string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server is the status HTTP server.
type Server struct {
	cfg    Config
	router chi.Router
	http   *http.Server
	health *handlers.HealthManager
}

// New creates a status server with all routes registered.
func New(cfg Config) *Server {
	s := &Server{
		cfg:    cfg,
		health: handlers.NewHealthManager(cfg.Version),
	}

	state := &handlers.PipelineState{ManifestPath: cfg.ManifestPath}
	s.health.RegisterChecker("pipeline", state)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		middleware.WriteError(w, req, http.StatusNotFound, "NOT_FOUND", "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		middleware.WriteError(w, req, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})

	r.Get("/healthz", s.health.HealthHandler)
	r.Get("/version", handlers.VersionHandler(handlers.VersionResponse{
		Version:   cfg.Version,
		Commit:    cfg.Commit,
		BuildDate: cfg.BuildDate,
	}))
	r.Route("/api", func(r chi.Router) {
		r.Get("/ledger", state.LedgerHandler)
		r.Get("/targets", state.TargetsHandler)
	})

	s.router = r
	s.http = &http.Server{
		Addr:         s.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Addr returns the host:port the server binds to.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// Port returns the configured port.
func (s *Server) Port() int { return s.cfg.Port }

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until the listener fails. Blocks.
func (s *Server) Start() error {
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
