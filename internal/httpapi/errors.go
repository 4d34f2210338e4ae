// Package httpapi is the HTTP surface from spec.md §6: a plain
// *http.ServeMux with one handler func per route, a bearer-token auth
// middleware, and a JSON error envelope — following the teacher's own
// internal/web-app/main.go routing style and the JSON error-envelope shape
// of Ap3pp3rs94-Chartly2.0's gateway, the corpus's one production-shaped
// HTTP error contract.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/clawderpunk/workspace-memory/internal/wsmerr"
)

type errorBody struct {
	Error struct {
		Code    string   `json:"code"`
		Message string   `json:"message"`
		Details []string `json:"details,omitempty"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string, details ...string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	body.Error.Details = details
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeStoreError maps a typed internal error to the HTTP status §7 binds
// it to: validation -> 400, auth -> 401, not found -> 404, transient -> 503,
// everything else -> 500.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case wsmerr.IsValidation(err):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case wsmerr.IsAuth(err):
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication failed")
	case wsmerr.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case wsmerr.IsTransient(err):
		writeError(w, http.StatusServiceUnavailable, "transient_error", "temporarily unavailable, retry")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
