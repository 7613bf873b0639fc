// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// BearerMiddleware provides Bearer token authentication for HTTP handlers
type BearerMiddleware struct {
	authenticator *TokenAuthenticator
	logger        *slog.Logger
	onFailure     func(w http.ResponseWriter, r *http.Request, err error)
}

// NewBearerMiddleware creates a new Bearer token middleware. onFailure writes
// the response for rejected requests; nil falls back to a plain 401.
func NewBearerMiddleware(authenticator *TokenAuthenticator, logger *slog.Logger, onFailure func(http.ResponseWriter, *http.Request, error)) *BearerMiddleware {
	if onFailure == nil {
		onFailure = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, "Unauthorized: "+err.Error(), http.StatusUnauthorized)
		}
	}
	return &BearerMiddleware{
		authenticator: authenticator,
		logger:        logger,
		onFailure:     onFailure,
	}
}

// Authenticate wraps an HTTP handler with Bearer token authentication
func (m *BearerMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			m.logger.Debug("Missing Authorization header", "path", r.URL.Path)
			m.onFailure(w, r, errMissingToken)
			return
		}

		principal, err := m.authenticator.AuthenticateToken(r.Context(), token)
		if err != nil {
			m.logger.Debug("Token authentication failed",
				"error", err.Error(),
				"path", r.URL.Path)
			m.onFailure(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

type principalContextKey struct{}

// WithPrincipal returns a context carrying principal
func WithPrincipal(ctx context.Context, principal *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// PrincipalFromContext extracts the principal from the context
func PrincipalFromContext(ctx context.Context) *Principal {
	principal, _ := ctx.Value(principalContextKey{}).(*Principal)
	return principal
}
