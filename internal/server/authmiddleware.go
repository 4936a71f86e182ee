package server

import (
	"net/http"

	"github.com/tjfontaine/pipeline-gateway/internal/core/domain"
	"github.com/tjfontaine/pipeline-gateway/internal/pkg/auth"
)

// AuthMiddleware requires a valid bearer API key. If the authenticator has
// no keys configured, the middleware is a no-op. Paths for which public
// returns true are never checked.
func AuthMiddleware(authenticator *auth.Authenticator, public func(*http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !authenticator.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if public != nil && public(r) {
				next.ServeHTTP(w, r)
				return
			}

			apiKey, err := auth.ExtractAPIKey(r)
			if err != nil {
				WriteError(w, r, domain.ErrUnauthorized(err.Error()))
				return
			}

			if err := authenticator.ValidateAPIKey(apiKey); err != nil {
				WriteError(w, r, domain.ErrUnauthorized("invalid API key"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
