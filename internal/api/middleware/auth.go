package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/eldtechnologies/murmur/internal/auth"
)

type contextKey string

const UserContextKey contextKey = "user_id"

// AuthMiddleware verifies bearer tokens on authenticated endpoints.
type AuthMiddleware struct {
	auth auth.Authenticator
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(a auth.Authenticator) *AuthMiddleware {
	return &AuthMiddleware{auth: a}
}

// RequireAuth rejects requests without a valid token and stores the
// authenticated user ID in the request context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := m.auth.Authenticate(r.Context(), auth.TokenFromRequest(r))
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, auth.ErrMissingToken) {
				msg = "missing bearer token"
			}
			jsonError(w, http.StatusUnauthorized, msg)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetUserIDFromContext returns the authenticated user ID, or 0 when the
// request was not authenticated.
func GetUserIDFromContext(ctx context.Context) int64 {
	id, ok := ctx.Value(UserContextKey).(int64)
	if !ok {
		return 0
	}
	return id
}
