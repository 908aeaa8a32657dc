// Package controlapi exposes the trigger controller to a host process over
// HTTP: trigger values, the message set, dismissals and session resets.
package controlapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/rafaeljc/beacon/internal/validation"
)

// Controller is the subset of controller.Controller the API drives.
type Controller interface {
	AddTriggers(ctx context.Context, values map[string]any) error
	RemoveTriggers(ctx context.Context, keys ...string) error
	TriggerValue(key string) (any, bool)
	LoadMessages(ctx context.Context, raw []byte) error
	ActiveMessages(ctx context.Context) ([]string, error)
	MessageDismissed(ctx context.Context, id string) error
	ResetSession(ctx context.Context) error
}

// API holds the router and its dependencies.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	ctrl   Controller
	logger *slog.Logger

	// apiKeyHash is the hex SHA-256 of the accepted API key.
	apiKeyHash string

	// skipAuth disables authentication (tests and local development).
	skipAuth bool
}

// NewAPI creates an API with authentication enabled.
// Panics if apiKeyHash is empty.
func NewAPI(logger *slog.Logger, ctrl Controller, apiKeyHash string) *API {
	return NewAPIWithConfig(logger, ctrl, apiKeyHash, false)
}

// NewAPIWithConfig creates an API with explicit control over authentication.
//
// Panics if:
//   - ctrl is nil
//   - apiKeyHash is empty when skipAuth is false
func NewAPIWithConfig(logger *slog.Logger, ctrl Controller, apiKeyHash string, skipAuth bool) *API {
	validation.AssertPresent(ctrl, "controlapi: controller")
	if !skipAuth && apiKeyHash == "" {
		panic("controlapi: apiKeyHash cannot be empty when authentication is enabled")
	}
	if logger == nil {
		logger = slog.Default()
	}

	api := &API{
		Router:     chi.NewRouter(),
		ctrl:       ctrl,
		logger:     logger,
		apiKeyHash: apiKeyHash,
		skipAuth:   skipAuth,
	}

	api.configureRoutes()
	return api
}

// configureRoutes registers the global middleware stack and API endpoints.
func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(a.injectLogger)
	a.Router.Use(RequestLogger)
	a.Router.Use(Metrics)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Get("/health", a.handleHealthCheck)

	a.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(a.authenticateAPIKey)

		r.Route("/triggers", func(r chi.Router) {
			r.Post("/", a.handleSetTriggers)
			r.Delete("/", a.handleRemoveTriggers)

			r.Route("/{key}", func(r chi.Router) {
				r.Get("/", a.handleGetTrigger)
				r.Put("/", a.handleSetTrigger)
				r.Delete("/", a.handleRemoveTrigger)
			})
		})

		r.Route("/messages", func(r chi.Router) {
			r.Put("/", a.handleLoadMessages)
			r.Get("/active", a.handleActiveMessages)
			r.Post("/{id}/dismiss", a.handleDismissMessage)
		})

		r.Post("/session/reset", a.handleResetSession)
	})
}

// handleHealthCheck only reports that the API is serving; deep checks live
// on the observability server.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
