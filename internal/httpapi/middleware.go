package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// auth is a simplified descendant of Chartly2.0's gateway JWT middleware:
// the spec calls for one shared `Authorization: Bearer <token>` against a
// configured value, not per-tenant JWT claims, so the HMAC/claims
// machinery is dropped and only the envelope/ordering/wrapper shape is
// kept.
func auth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := strings.TrimSpace(r.Header.Get("Authorization"))
			const prefix = "bearer "
			if len(authz) <= len(prefix) || !strings.EqualFold(authz[:len(prefix)], prefix) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			presented := strings.TrimSpace(authz[len(prefix):])
			if presented == "" || presented != token {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// methodOnly rejects any request whose method isn't method, matching
// Chartly2.0 gateway's per-route method guard.
func methodOnly(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		next(w, r)
	}
}

// recoverer converts a panicking handler into a 500 instead of crashing the
// process, logging the recovered value.
func recoverer(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("httpapi: recovered panic", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
