package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/faucetdb/latch/internal/service"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated principal.
	AuthPrincipalKey contextKeyAuth = "auth_principal"

	adminHolderKey contextKeyAuth = "admin_holder"
)

// Principal represents the authenticated admin making the request.
type Principal struct {
	Email   string
	IsAdmin bool
}

// TokenValidator verifies admin session tokens. *service.AuthService
// implements it.
type TokenValidator interface {
	ValidateJWT(ctx context.Context, token string) (*service.JWTPrincipal, error)
}

// Authenticate returns an HTTP middleware that requires a JWT Bearer token
// in the Authorization header. On success an admin Principal is attached to
// the request context. On failure a 401 JSON error response is returned.
func Authenticate(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				writeAuthError(w, http.StatusUnauthorized, "Authentication required. Provide a Bearer token.")
				return
			}

			p, err := tokens.ValidateJWT(r.Context(), strings.TrimSpace(token))
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			principal := &Principal{Email: p.Email, IsAdmin: true}
			if holder, ok := r.Context().Value(adminHolderKey).(*string); ok {
				*holder = p.Email
			}
			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin returns an HTTP middleware that enforces admin-level access.
// It must be used after Authenticate in the middleware chain.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil || !principal.IsAdmin {
				writeAuthError(w, http.StatusForbidden, "Admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

func withAdminHolder(ctx context.Context, holder *string) context.Context {
	return context.WithValue(ctx, adminHolderKey, holder)
}

// authError mirrors the handler package's error envelope; the handler
// package imports this one, so it cannot be shared.
type authError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	var body authError
	body.Error.Code = status
	body.Error.Message = message
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
