package controlapi

import (
	"strings"
)

// maxKeyLength bounds trigger keys and message ids accepted over HTTP.
const maxKeyLength = 255

// SetTriggersRequest is the payload of POST /triggers. Values may be null,
// booleans, numbers, strings or arrays of strings.
type SetTriggersRequest struct {
	Values map[string]any `json:"values"`
}

// SetTriggerRequest is the payload of PUT /triggers/{key}.
type SetTriggerRequest struct {
	Value any `json:"value"`
}

// RemoveTriggersRequest is the payload of DELETE /triggers.
type RemoveTriggersRequest struct {
	Keys []string `json:"keys"`
}

// Sanitize trims whitespace around every key.
func (r *RemoveTriggersRequest) Sanitize() {
	for i, k := range r.Keys {
		r.Keys[i] = strings.TrimSpace(k)
	}
}

// Validate checks the key list.
func (r *RemoveTriggersRequest) Validate() *ErrorResponse {
	if len(r.Keys) == 0 {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "At least one key is required",
		}
	}
	for _, k := range r.Keys {
		if errResp := validateKey(k); errResp != nil {
			return errResp
		}
	}
	return nil
}

// Validate checks the value map keys. Value types are checked by the
// controller.
func (r *SetTriggersRequest) Validate() *ErrorResponse {
	if len(r.Values) == 0 {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "At least one value is required",
		}
	}
	for k := range r.Values {
		if errResp := validateKey(k); errResp != nil {
			return errResp
		}
	}
	return nil
}

func validateKey(key string) *ErrorResponse {
	if key == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Key is required",
		}
	}
	if len(key) > maxKeyLength {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Key must be at most 255 characters",
		}
	}
	return nil
}

// TriggerResponse is a single stored trigger value.
type TriggerResponse struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// LoadMessagesResponse reports the outcome of PUT /messages. Rejected
// definitions do not prevent the valid ones from loading.
type LoadMessagesResponse struct {
	Loaded   int      `json:"loaded"`
	Rejected []string `json:"rejected"`
}

// ActiveMessagesResponse lists the messages still waiting for eligibility.
type ActiveMessagesResponse struct {
	Data []string `json:"data"`
}

// ErrorResponse represents a structured API error.
type ErrorResponse struct {
	// Code is a machine-readable error code (e.g., ERR_INVALID_INPUT).
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`

	// Details holds optional per-item errors.
	Details []string `json:"details,omitempty"`
}
