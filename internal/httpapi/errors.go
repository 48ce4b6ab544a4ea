package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"chatd/internal/engine"
	"chatd/internal/session"
	"chatd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusForError maps session and engine errors to HTTP status codes.
func statusForError(err error) int {
	var he HTTPError
	switch {
	case errors.As(err, &he):
		return he.StatusCode()
	case session.IsNotReady(err):
		return http.StatusConflict
	case errors.Is(err, session.ErrNoModel):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrClosed), engine.IsDependencyUnavailable(err):
		return http.StatusServiceUnavailable
	case engine.IsModelNotFound(err):
		return http.StatusNotFound
	case session.IsLoadFailure(err), session.IsGenerationFailure(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Error().Err(err).Msg("encode response")
	}
}
