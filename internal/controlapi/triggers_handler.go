package controlapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/rafaeljc/beacon/internal/controller"
	"github.com/rafaeljc/beacon/internal/logger"
)

// handleSetTriggers processes POST /api/v1/triggers. The values are stored
// as one batch: either all of them are accepted or none is.
func (a *API) handleSetTriggers(w http.ResponseWriter, r *http.Request) {
	var req SetTriggersRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	if err := a.ctrl.AddTriggers(r.Context(), req.Values); err != nil {
		writeControllerError(w, r, err, "Failed to set trigger values")
		return
	}

	render.NoContent(w, r)
}

// handleSetTrigger processes PUT /api/v1/triggers/{key}.
func (a *API) handleSetTrigger(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(chi.URLParam(r, "key"))
	if errResp := validateKey(key); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	var req SetTriggerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := a.ctrl.AddTriggers(r.Context(), map[string]any{key: req.Value}); err != nil {
		writeControllerError(w, r, err, "Failed to set trigger value")
		return
	}

	render.NoContent(w, r)
}

// handleGetTrigger processes GET /api/v1/triggers/{key}.
func (a *API) handleGetTrigger(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	value, ok := a.ctrl.TriggerValue(key)
	if !ok {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_NOT_FOUND",
			Message: "Trigger value not found",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, TriggerResponse{Key: key, Value: value})
}

// handleRemoveTrigger processes DELETE /api/v1/triggers/{key}. Removing an
// absent key succeeds.
func (a *API) handleRemoveTrigger(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	if err := a.ctrl.RemoveTriggers(r.Context(), key); err != nil {
		writeControllerError(w, r, err, "Failed to remove trigger value")
		return
	}

	render.NoContent(w, r)
}

// handleRemoveTriggers processes DELETE /api/v1/triggers with a key list.
func (a *API) handleRemoveTriggers(w http.ResponseWriter, r *http.Request) {
	var req RemoveTriggersRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	if err := a.ctrl.RemoveTriggers(r.Context(), req.Keys...); err != nil {
		writeControllerError(w, r, err, "Failed to remove trigger values")
		return
	}

	render.NoContent(w, r)
}

// --- Private Helpers ---

// decodeJSON decodes the request body into dst. On failure it writes a 400
// response and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		logger.FromContext(r.Context()).Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return false
	}
	return true
}

// writeControllerError maps a controller error to a response. A stopped
// controller or an abandoned request is a 503; anything else was caused by
// the input.
func writeControllerError(w http.ResponseWriter, r *http.Request, err error, message string) {
	log := logger.FromContext(r.Context())

	switch {
	case errors.Is(err, controller.ErrStopped),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		log.Error(message, slog.String("error", err.Error()))
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_UNAVAILABLE",
			Message: message,
		})
	case errors.Is(err, controller.ErrReservedKey):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_RESERVED_KEY",
			Message: err.Error(),
		})
	default:
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: err.Error(),
		})
	}
}
