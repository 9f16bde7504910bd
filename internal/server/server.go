// Package server hosts the optional status HTTP server exposed during a
// run. It reports health, version, and live progress; it never accepts
// work over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/3leaps/gristmill/internal/config"
	apperrors "github.com/3leaps/gristmill/internal/errors"
	"github.com/3leaps/gristmill/internal/server/handlers"
	"github.com/3leaps/gristmill/internal/server/middleware"
)

// Server is the status HTTP server.
type Server struct {
	host   string
	port   int
	router chi.Router
	http   *http.Server
}

// New builds a status server listening on host:port.
func New(host string, port int) *Server {
	s := &Server{
		host: host,
		port: port,
	}
	s.router = s.buildRouter()

	readTimeout := 30 * time.Second
	writeTimeout := 30 * time.Second
	idleTimeout := 120 * time.Second
	if cfg := config.GetConfig(); cfg != nil {
		readTimeout = cfg.Server.ReadTimeout
		writeTimeout = cfg.Server.WriteTimeout
		idleTimeout = cfg.Server.IdleTimeout
	}

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteJSONError(w, http.StatusNotFound,
			apperrors.CodeNotFound, "endpoint not found",
			middleware.GetRequestID(req.Context()), nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteJSONError(w, http.StatusMethodNotAllowed,
			apperrors.CodeMethodNotAllowed, "method not allowed",
			middleware.GetRequestID(req.Context()), nil)
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler)
	r.Get("/progress", handlers.ProgressHandler)

	return r
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.http.Addr
}

// Start begins serving. It blocks until the server stops; a clean
// shutdown returns nil.
func (s *Server) Start() error {
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := 10 * time.Second
	if cfg := config.GetConfig(); cfg != nil {
		timeout = cfg.Server.ShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}
