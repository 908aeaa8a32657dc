package controlapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rafaeljc/beacon/internal/config"
)

// Server serves an API on the address from config.APIConfig.
type Server struct {
	logger *slog.Logger
	cfg    *config.APIConfig
	api    *API
	server *http.Server
}

// NewServer wraps api in an HTTP server. It does not listen until Start.
func NewServer(logger *slog.Logger, cfg *config.APIConfig, api *API) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{logger: logger, cfg: cfg, api: api}
}

// Start runs the HTTP server in a background goroutine.
// It is non-blocking.
func (s *Server) Start() {
	s.server = &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.api.Router,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		MaxHeaderBytes:    s.cfg.MaxHeaderBytes,
	}

	go func() {
		s.logger.Info("starting host api server",
			slog.String("addr", s.server.Addr),
			slog.Bool("tls", s.cfg.TLSEnabled),
		)

		var err error
		if s.cfg.TLSEnabled {
			err = s.server.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("host api server failed", slog.String("error", err.Error()))
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	s.logger.Info("stopping host api server")
	return s.server.Shutdown(ctx)
}
