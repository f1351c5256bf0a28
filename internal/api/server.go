// Package api hosts the operational HTTP server for the crawler. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for the aggregate crawl progress snapshot.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/lead-gen-crawler/internal/middleware"
	"github.com/JakeFAU/lead-gen-crawler/internal/store"
)

const (
	defaultAddr           = ":8080"
	defaultRequestTimeout = 60 * time.Second
)

// ProgressSource supplies the aggregate snapshot served by /v1/progress.
type ProgressSource interface {
	Snapshot() store.Snapshot
}

// Config carries the listener settings for the ops server.
type Config struct {
	Addr           string        `mapstructure:"addr" yaml:"addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// Server is the operational HTTP server. It serves probes, Prometheus
// metrics, and the progress snapshot; it never mutates crawl state.
type Server struct {
	cfg      Config
	logger   *zap.Logger
	progress ProgressSource
	router   chi.Router
	httpSrv  *http.Server
	ready    atomic.Bool
}

// NewServer builds the router and middleware stack. The progress source may
// be nil; /v1/progress then reports 503.
func NewServer(cfg Config, progress ProgressSource, logger *zap.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{cfg: cfg, logger: logger, progress: progress}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Metrics)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/v1/progress", s.getProgress)

	s.router = r
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router for use with http.Server or tests.
func (s *Server) Handler() http.Handler { return s.router }

// SetReady flips the readiness probe once dependencies are wired.
func (s *Server) SetReady(ready bool) { s.ready.Store(ready) }

// Start binds the listener and serves in the background. Bind failures are
// returned synchronously; later serve errors are logged.
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return "", fmt.Errorf("listen on %s: %w", s.httpSrv.Addr, err)
	}
	addr := ln.Addr().String()
	s.logger.Info("ops server listening", zap.String("addr", addr))
	go func() {
		if serveErr := s.httpSrv.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("ops server stopped", zap.Error(serveErr))
		}
	}()
	return addr, nil
}

// Shutdown marks the server not ready and drains in-flight requests until
// ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown ops server: %w", err)
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		s.writeError(w, http.StatusServiceUnavailable, "starting")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getProgress(w http.ResponseWriter, _ *http.Request) {
	if s.progress == nil {
		s.writeError(w, http.StatusServiceUnavailable, "progress store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, s.progress.Snapshot())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
