// Package middleware carries the HTTP middleware shared across routes.
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	id "splitledger/pkg/domain"
	"splitledger/pkg/platform/httputil"
)

type contextKeyUserID struct{}

// ContextKeyUserID is exported for test helpers that simulate the middleware.
var ContextKeyUserID = contextKeyUserID{}

// UserIDFrom retrieves the authenticated user from the context. The zero
// value means the request did not pass through RequireIdentity.
func UserIDFrom(ctx context.Context) id.UserID {
	userID, ok := ctx.Value(ContextKeyUserID).(id.UserID)
	if !ok {
		return id.UserID{}
	}
	return userID
}

// RequireIdentity extracts the verified user identity that the fronting
// gateway passes in X-User-ID. Authentication itself is the gateway's
// concern; requests that reach this service without the header are rejected.
func RequireIdentity(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			userID, err := id.ParseUserID(r.Header.Get("X-User-ID"))
			if err != nil {
				if logger != nil {
					logger.WarnContext(ctx, "request without verified identity",
						"path", r.URL.Path,
						"request_id", chimw.GetReqID(ctx),
					)
				}
				httputil.WriteJSON(w, http.StatusUnauthorized, map[string]string{
					"error":             "unauthorized",
					"error_description": "missing or invalid X-User-ID header",
				})
				return
			}

			ctx = context.WithValue(ctx, ContextKeyUserID, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
