package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/themis-legal/themis/pkg/models"
)

type contextKey string

const identityKey contextKey = "identity"

// DefaultUserHeader carries the authenticated user id set by the upstream
// auth layer.
const DefaultUserHeader = "X-User-Id"

// SetIdentity stores the authenticated Identity in the context.
func SetIdentity(ctx context.Context, identity *models.Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, identityKey, identity)
}

// GetIdentity retrieves the authenticated Identity from the context.
// Returns nil when no identity is set.
func GetIdentity(ctx context.Context) *models.Identity {
	if v, ok := ctx.Value(identityKey).(*models.Identity); ok {
		return v
	}
	return nil
}

// Identity builds the caller identity from trusted upstream headers. Requests
// without a user id are rejected with 401; the id is never taken from the body.
func Identity(userHeader string) func(http.Handler) http.Handler {
	if userHeader == "" {
		userHeader = DefaultUserHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(userHeader))
			if userID == "" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{
					"error":   "authentication_required",
					"message": "missing " + userHeader + " header",
				})
				return
			}

			id := &models.Identity{
				UserID: userID,
				Email:  strings.TrimSpace(r.Header.Get("X-User-Email")),
				Name:   strings.TrimSpace(r.Header.Get("X-User-Name")),
			}

			// The access line written by Logger shares this logger.
			zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("user_id", userID)
			})
			trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("enduser.id", userID))

			next.ServeHTTP(w, r.WithContext(SetIdentity(r.Context(), id)))
		})
	}
}
