// Package server exposes liveness, readiness and Prometheus metrics over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"bondkeeper/internal/logging"
	"bondkeeper/internal/version"
)

// ReadyCheck reports whether a dependency is usable.
type ReadyCheck func(ctx context.Context) error

// Server 提供 /healthz、/readyz 与 /metrics。
type Server struct {
	addr    string
	checks  map[string]ReadyCheck
	started time.Time
	logger  zerolog.Logger
}

// New builds a server listening on addr.
func New(addr string, checks map[string]ReadyCheck, logger zerolog.Logger) *Server {
	return &Server{
		addr:    addr,
		checks:  checks,
		started: time.Now(),
		logger:  logging.Component(logger, "http"),
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", s.health)
	r.Get("/readyz", s.ready)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	<-errCh
	s.logger.Info().Msg("http server stopped")
	return nil
}

type healthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version,omitempty"`
	UptimeSeconds int64             `json:"uptime_seconds,omitempty"`
	Checks        map[string]string `json:"checks,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		Version:       version.Version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := healthResponse{Status: "ready", Checks: make(map[string]string, len(names))}
	code := http.StatusOK
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			s.logger.Warn().Err(err).Str("check", name).Msg("readiness check failed")
			resp.Checks[name] = err.Error()
			resp.Status = "not ready"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
