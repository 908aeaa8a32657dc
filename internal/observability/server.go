package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rafaeljc/beacon/internal/config"
)

// StatusFunc reports a JSON-serializable view of the engine state.
type StatusFunc func(ctx context.Context) (any, error)

// Server exposes probes, metrics and the engine status on a dedicated port.
type Server struct {
	logger   *slog.Logger
	cfg      *config.ObservabilityConfig
	router   *chi.Mux
	server   *http.Server
	status   StatusFunc
	checkers []Checker
}

// NewServer creates the observability server. status may be nil, in which
// case the status route is not registered. Every checker must pass for the
// readiness probe to succeed.
func NewServer(logger *slog.Logger, cfg *config.ObservabilityConfig, status StatusFunc, checkers ...Checker) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)

	s := &Server{
		logger:   logger,
		cfg:      cfg,
		router:   r,
		status:   status,
		checkers: checkers,
	}

	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	s.router.Get(s.cfg.LivenessPath, s.liveness)
	s.router.Get(s.cfg.ReadinessPath, s.readiness)
	s.router.Method(http.MethodGet, s.cfg.MetricsPath, promhttp.Handler())
	if s.status != nil {
		s.router.Get(s.cfg.StatusPath, s.statusHandler)
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server in a background goroutine.
// It is non-blocking.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%s", s.cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Timeout,
		WriteTimeout: s.cfg.Timeout,
		IdleTimeout:  s.cfg.Timeout * 3,
	}

	go func() {
		s.logger.Info("starting observability server",
			slog.String("addr", addr),
			slog.String("liveness_path", s.cfg.LivenessPath),
			slog.String("readiness_path", s.cfg.ReadinessPath),
			slog.String("metrics_path", s.cfg.MetricsPath),
		)

		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("observability server failed", slog.String("error", err.Error()))
		}
	}()
}

// Shutdown gracefully stops the observability server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("stopping observability server")
	return s.server.Shutdown(ctx)
}
