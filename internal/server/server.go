// Package server exposes health, statistics and Prometheus metrics over
// HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joebot/oobabot/internal/stats"
)

const shutdownTimeout = 5 * time.Second

// Config holds configuration for creating a Server.
type Config struct {
	Listen   string
	Gatherer prometheus.Gatherer
	Stats    *stats.Aggregate
	// Sessions reports conversations with queued or running work.
	Sessions func() int
}

// Server serves the monitoring endpoints.
type Server struct {
	config    Config
	startedAt time.Time
	handler   http.Handler
}

// New creates a Server.
func New(cfg Config) *Server {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{config: cfg, startedAt: time.Now()}
	s.handler = s.buildRouter()
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Handle("/metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))
	return r
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string  `json:"status"`
	Uptime   float64 `json:"uptime_seconds"`
	Sessions int     `json:"sessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startedAt).Round(time.Second).Seconds(),
	}
	if s.config.Sessions != nil {
		resp.Sessions = s.config.Sessions()
	}
	writeJSON(w, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	if s.config.Stats == nil {
		http.Error(w, "statistics are not collected", http.StatusNotFound)
		return
	}
	writeJSON(w, s.config.Stats.Snapshot())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Could not write response", "err", err)
	}
}

// Run listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("metrics server: listen on %s: %w", s.config.Listen, err)
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Metrics server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	slog.Debug("Metrics server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server: shutdown: %w", err)
	}
	<-errCh
	return nil
}
