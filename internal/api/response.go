package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sungwon/mail-dispatch/internal/dispatch"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error   string   `json:"error"`
	Kind    string   `json:"kind,omitempty"`
	Details []string `json:"details,omitempty"`
}

// respondJSON writes a JSON response with the given status code and data.
// If data is nil, only the status code and Content-Type header are written.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError writes a JSON error response with the given status code and message.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

// respondDispatchError maps an orchestrator error to its status code.
func respondDispatchError(w http.ResponseWriter, err error) {
	var de *dispatch.Error
	if !errors.As(err, &de) {
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	respondJSON(w, de.Kind.HTTPStatus(), errorResponse{
		Error:   de.Msg,
		Kind:    de.Kind.String(),
		Details: de.Details,
	})
}
