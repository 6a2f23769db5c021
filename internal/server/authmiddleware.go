package server

import (
	"context"
	"net/http"

	"github.com/tjfontaine/agent-router/internal/core/domain"
	"github.com/tjfontaine/agent-router/internal/core/ports"
	"github.com/tjfontaine/agent-router/internal/pkg/auth"
)

type authContextKey struct{}

// AuthMiddleware validates API keys and injects the caller's AuthContext.
// If the provider is nil, the middleware is a no-op.
func AuthMiddleware(provider ports.AuthProvider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if provider == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, err := auth.ExtractAPIKey(r)
			if err != nil {
				WriteError(w, r, domain.ErrAuthentication(err.Error()))
				return
			}

			ac, err := provider.Authenticate(r.Context(), apiKey)
			if err != nil {
				WriteError(w, r, err)
				return
			}

			AddLogField(r.Context(), "key_id", ac.KeyID)
			ctx := context.WithValue(r.Context(), authContextKey{}, ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAuth retrieves the caller from context.
// Returns nil if the request was not authenticated.
func GetAuth(ctx context.Context) *ports.AuthContext {
	if ac, ok := ctx.Value(authContextKey{}).(*ports.AuthContext); ok {
		return ac
	}
	return nil
}
