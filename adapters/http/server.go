// Package http mounts the routing engine on an HTTP server. The engine
// gets a single catch-all handler for every method; operational endpoints
// (health, metrics) live on a separate listener.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/artpar/hostgate/app"
)

// Config configures the server.
type Config struct {
	Host         string
	Port         int
	MetricsPort  int // 0 disables the ops listener
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server runs the engine behind net/http.
type Server struct {
	engine *app.Engine
	cfg    Config
	logger zerolog.Logger

	srv *http.Server
	ops *http.Server
}

// New builds the server and its routers.
func New(engine *app.Engine, cfg Config, logger zerolog.Logger) *Server {
	s := &Server{
		engine: engine,
		cfg:    cfg,
		logger: logger.With().Str("component", "server").Logger(),
	}

	r := chi.NewRouter()
	// Catch-all: every method and path goes through the engine.
	r.Handle("/*", engine.Handler())

	s.srv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	if cfg.MetricsPort != 0 {
		ops := chi.NewRouter()
		ops.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		ops.Handle("/metrics", promhttp.Handler())
		s.ops = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.MetricsPort),
			Handler: ops,
		}
	}

	return s
}

// Run serves until SIGINT/SIGTERM, then shuts down gracefully.
func (s *Server) Run() error {
	errCh := make(chan error, 2)

	go func() {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if s.ops != nil {
		go func() {
			s.logger.Info().Str("addr", s.ops.Addr).Msg("ops listener up")
			if err := s.ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		s.logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if s.ops != nil {
		s.ops.Shutdown(ctx)
	}
	return s.srv.Shutdown(ctx)
}

// Shutdown stops the server programmatically.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.ops != nil {
		s.ops.Shutdown(ctx)
	}
	return s.srv.Shutdown(ctx)
}
