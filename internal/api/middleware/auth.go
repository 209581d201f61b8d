package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/store"
)

type contextKey string

const (
	userContextKey  contextKey = "user_id"
	tokenContextKey contextKey = "token"
)

// AuthMiddleware verifies JWT bearer tokens on REST endpoints.
type AuthMiddleware struct {
	tokens *auth.TokenManager
	redis  *store.RedisStore
}

// NewAuthMiddleware creates a new auth middleware. redis may be nil; revoked
// token checks are then skipped.
func NewAuthMiddleware(tokens *auth.TokenManager, redis *store.RedisStore) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, redis: redis}
}

// RequireAuth rejects requests without a valid bearer token. The token is
// read from the Authorization header or the "token" cookie.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			jsonError(w, http.StatusUnauthorized, "no token provided")
			return
		}

		claims, err := m.tokens.Verify(token)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		if m.redis != nil && m.redis.IsTokenRevoked(r.Context(), token) {
			jsonError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		userID, err := uuid.Parse(claims.UserID)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid token subject")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, userID)
		ctx = context.WithValue(ctx, tokenContextKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken extracts the credential from the Authorization header or the
// token cookie.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if c, err := r.Cookie("token"); err == nil {
		return c.Value
	}
	return ""
}

// UserFromContext retrieves the authenticated user id from the request
// context. The bool is false on unauthenticated requests.
func UserFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userContextKey).(uuid.UUID)
	return id, ok
}

// TokenFromContext retrieves the verified raw token from the request context.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey).(string)
	return token
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"status": "error", "message": message})
}
