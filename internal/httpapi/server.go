// Package httpapi is the HTTP surface of spec.md §6: prefix /api/v3,
// wrapping every response in dto.Envelope and mapping dispatch errors
// through classify.ToExternalStatus. It is grounded on
// yansircc-cc-relayer's internal/server/server.go: a stdlib
// http.ServeMux built with Go 1.22 method+path patterns, a slog request
// logger wrapping the whole mux, and an http.Server configured with
// explicit Read/Write timeouts, started and stopped from Run/Shutdown.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/anatolykoptev/scrapegate/internal/dispatch"
)

// Config controls the HTTP listener. Fields left zero fall back to
// cc-relayer-shaped defaults.
type Config struct {
	Addr           string
	BaseURL        string // upstream base URL, used to build request paths
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	ShutdownGrace  time.Duration
	MetricsHandler http.Handler // optional, mounted at GET /metrics
}

// DefaultConfig fills in cc-relayer-shaped defaults for any zero field.
func DefaultConfig(cfg Config) Config {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 60 * time.Second
	}
	if cfg.ShutdownGrace == 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	return cfg
}

// Server wires a Dispatcher into the /api/v3 HTTP surface.
type Server struct {
	cfg        Config
	dispatcher *dispatch.Dispatcher
	httpServer *http.Server
}

// New builds a Server. Call Run to start serving; it blocks until ctx is
// cancelled or the listener fails.
func New(cfg Config, d *dispatch.Dispatcher) *Server {
	cfg = DefaultConfig(cfg)

	s := &Server{cfg: cfg, dispatcher: d}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:           cfg.Addr,
		Handler:        requestLogger(mux),
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
	return s
}

// Run starts the listener and blocks until ctx is cancelled, then shuts
// down gracefully within cfg.ShutdownGrace.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.String("addr", s.cfg.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return <-errCh
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("elapsed", time.Since(start)))
	})
}
