// Package httputil centralizes JSON response writing and domain error
// translation so every handler maps errors to the wire the same way.
package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "splitledger/pkg/domain-errors"
)

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// WriteError translates a domain error into an HTTP response. Internal and
// unknown errors deliberately omit the description: their detail belongs in
// logs, not on the wire.
func WriteError(w http.ResponseWriter, err error) {
	status, code := statusOf(err)

	body := errorBody{Error: code}
	if status != http.StatusInternalServerError {
		body.Description = dErrors.MessageOf(err)
	}
	WriteJSON(w, status, body)
}

// StatusOf reports the HTTP status WriteError would use, for callers that log
// by severity.
func StatusOf(err error) int {
	status, _ := statusOf(err)
	return status
}

func statusOf(err error) (int, string) {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInvalidInput:
		return http.StatusBadRequest, "invalid_input"
	case dErrors.CodeNotFound:
		return http.StatusNotFound, "not_found"
	case dErrors.CodeConflict:
		return http.StatusConflict, "conflict"
	case dErrors.CodeForbidden:
		return http.StatusForbidden, "forbidden"
	case dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
