package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/swiparr/swiparr-server/internal/audit"
	apperrors "github.com/swiparr/swiparr-server/internal/errors"
	"github.com/swiparr/swiparr-server/internal/model"
)

type contextKey string

const IdentityContextKey contextKey = "identity"

func GetIdentity(ctx context.Context) *model.Identity {
	if identity, ok := ctx.Value(IdentityContextKey).(*model.Identity); ok {
		return identity
	}
	return nil
}

// WithIdentity returns a copy of ctx carrying identity.
func WithIdentity(ctx context.Context, identity *model.Identity) context.Context {
	return context.WithValue(ctx, IdentityContextKey, identity)
}

// IdentityResolver maps a raw token to a live identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (*model.Identity, error)
}

type AuthMiddleware struct {
	resolver IdentityResolver
}

func NewAuthMiddleware(resolver IdentityResolver) *AuthMiddleware {
	return &AuthMiddleware{resolver: resolver}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			writeError(w, apperrors.Unauthorized("Missing authentication token"))
			return
		}

		identity, err := m.resolver.Resolve(r.Context(), token)
		if err != nil {
			if apperrors.HasCode(err, apperrors.ErrCodeUnauthorized) {
				audit.LogFromRequest(r, audit.Event{Type: audit.EventAuthFailure, Details: map[string]interface{}{"path": r.URL.Path}})
			}
			writeError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// extractToken prefers the Authorization header, then the auth cookie. EventSource
// cannot set headers, so the query parameter is accepted as a last resort.
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	if cookie, err := r.Cookie(AuthCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	return r.URL.Query().Get("token")
}
