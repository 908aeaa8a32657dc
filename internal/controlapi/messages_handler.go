package controlapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/rafaeljc/beacon/internal/logger"
	"github.com/rafaeljc/beacon/internal/trigger"
)

// maxMessagesBody caps the size of a message set upload.
const maxMessagesBody = 4 << 20

// handleLoadMessages processes PUT /api/v1/messages. The body is a JSON
// array of message definitions that replaces the active set. Invalid
// definitions are reported per item while the valid ones still load.
func (a *API) handleLoadMessages(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessagesBody))
	if err != nil {
		render.Status(r, http.StatusRequestEntityTooLarge)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_PAYLOAD_TOO_LARGE",
			Message: "Message set exceeds the size limit",
		})
		return
	}

	// The whole payload must be an array; only item errors are partial.
	var defs []json.RawMessage
	if err := json.Unmarshal(raw, &defs); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Message set must be a JSON array: " + err.Error(),
		})
		return
	}

	resp := LoadMessagesResponse{Loaded: len(defs), Rejected: []string{}}

	if err := a.ctrl.LoadMessages(r.Context(), raw); err != nil {
		if !errors.Is(err, trigger.ErrInvalidDefinition) {
			writeControllerError(w, r, err, "Failed to load messages")
			return
		}
		for _, e := range unwrapJoined(err) {
			resp.Rejected = append(resp.Rejected, e.Error())
		}
		resp.Loaded -= len(resp.Rejected)
		log.Warn("message definitions rejected", slog.Int("rejected", len(resp.Rejected)))
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

// handleActiveMessages processes GET /api/v1/messages/active.
func (a *API) handleActiveMessages(w http.ResponseWriter, r *http.Request) {
	ids, err := a.ctrl.ActiveMessages(r.Context())
	if err != nil {
		writeControllerError(w, r, err, "Failed to list active messages")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, ActiveMessagesResponse{Data: ids})
}

// handleDismissMessage processes POST /api/v1/messages/{id}/dismiss.
func (a *API) handleDismissMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if errResp := validateKey(id); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	if err := a.ctrl.MessageDismissed(r.Context(), id); err != nil {
		writeControllerError(w, r, err, "Failed to dismiss message")
		return
	}

	render.NoContent(w, r)
}

// handleResetSession processes POST /api/v1/session/reset.
func (a *API) handleResetSession(w http.ResponseWriter, r *http.Request) {
	if err := a.ctrl.ResetSession(r.Context()); err != nil {
		writeControllerError(w, r, err, "Failed to reset session")
		return
	}

	render.NoContent(w, r)
}

// unwrapJoined flattens an errors.Join result into its parts.
func unwrapJoined(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}
