package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/studiosync/studiosync/internal/storage"
)

type contextKey int

const userIDKey contextKey = 0

// SessionResolver maps a bearer token to a user id.
type SessionResolver interface {
	ResolveSession(token string) (string, error)
}

// SessionAuth authenticates requests by resolving the Authorization bearer
// token against the session store. Missing, unknown, and expired tokens all
// produce the same 401 so the response leaks nothing about which case
// occurred; the distinction is kept for logs only. A store failure is not an
// auth decision and comes back as a retryable 500 instead.
func SessionAuth(sessions SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) {
				httpError(w, http.StatusUnauthorized, "authentication_error", "unauthorized")
				return
			}

			userID, err := sessions.ResolveSession(auth[len(prefix):])
			if err != nil {
				if !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, storage.ErrSessionExpired) {
					slog.Error("session lookup failed", "error", err)
					httpError(w, http.StatusInternalServerError, "api_error", "session lookup failed")
					return
				}
				if errors.Is(err, storage.ErrSessionExpired) {
					slog.Debug("rejected expired session token")
				}
				httpError(w, http.StatusUnauthorized, "authentication_error", "unauthorized")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// userID returns the authenticated user id placed by SessionAuth.
func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}
