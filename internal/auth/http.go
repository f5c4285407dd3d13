// ABOUTME: HTTP middleware for JWT authentication on API endpoints
// ABOUTME: Extracts JWT from Authorization header and adds principal to context

package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/almond-gateway/internal/store"
)

// PrincipalStore is the lookup the middleware needs.
type PrincipalStore interface {
	GetPrincipal(ctx context.Context, id string) (*store.Principal, error)
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// authenticate resolves the request's bearer token to an AuthContext.
// On failure it returns the HTTP status and message to send.
func authenticate(r *http.Request, principals PrincipalStore, verifier TokenVerifier) (*AuthContext, int, string) {
	token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	if errMsg != "" {
		return nil, http.StatusUnauthorized, errMsg
	}

	principalID, err := verifier.Verify(token)
	if err != nil {
		return nil, http.StatusUnauthorized, "invalid token"
	}

	principal, err := principals.GetPrincipal(r.Context(), principalID)
	if err != nil {
		return nil, http.StatusUnauthorized, "principal not found"
	}

	switch principal.Status {
	case store.PrincipalStatusApproved:
	case store.PrincipalStatusRevoked:
		return nil, http.StatusForbidden, "principal has been revoked"
	default:
		return nil, http.StatusInternalServerError, "unknown principal status"
	}

	return &AuthContext{
		PrincipalID: principal.ID,
		DisplayName: principal.DisplayName,
	}, 0, ""
}

// HTTPAuthMiddleware rejects requests without a valid token for an approved
// principal, and adds the AuthContext to the request context otherwise.
func HTTPAuthMiddleware(principals PrincipalStore, verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, status, msg := authenticate(r, principals, verifier)
			if authCtx == nil {
				logger.Debug("request rejected",
					"path", r.URL.Path,
					"status", status,
					"reason", msg)
				writeAuthError(w, status, msg)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// OptionalAuthMiddleware attempts JWT auth but lets unauthenticated requests through.
func OptionalAuthMiddleware(principals PrincipalStore, verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, _, _ := authenticate(r, principals, verifier)
			if authCtx == nil {
				next.ServeHTTP(w, r) // Continue as anonymous
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
