package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
)

type contextKey string

const (
	// AccountIDKey carries the authenticated caller's ledger account id.
	AccountIDKey contextKey = "accountID"
	// RoleKey carries the caller's role claim ("user" or "admin").
	RoleKey contextKey = "role"
)

var revocationStore *redis.Client

// InitAuthMiddleware wires the Redis client used for token revocation.
// When nil, logout revocation is disabled but auth still works.
func InitAuthMiddleware(redisClient *redis.Client) {
	revocationStore = redisClient
}

// AuthMiddleware authenticates the bearer token and puts the caller's
// account id and role on the request context. The engine only ever trusts
// this identity, never a caller-supplied account in the body.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}
		token := parts[1]

		if revocationStore != nil {
			if revoked, _ := revocationStore.Exists(r.Context(), "revoked:"+token).Result(); revoked > 0 {
				http.Error(w, "Token revoked", http.StatusUnauthorized)
				return
			}
		}

		accountID, role, err := validateToken(token)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), AccountIDKey, accountID)
		ctx = context.WithValue(ctx, RoleKey, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminOnly rejects callers whose token lacks the admin role. It must run
// after AuthMiddleware.
func AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if role, _ := r.Context().Value(RoleKey).(string); role != "admin" {
			http.Error(w, "Administrator role required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CallerAccount extracts the authenticated account id from the context.
func CallerAccount(ctx context.Context) string {
	id, _ := ctx.Value(AccountIDKey).(string)
	return id
}

func validateToken(tokenString string) (string, string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(viper.GetString("jwt.secret_key")), nil
	})
	if err != nil || !token.Valid {
		return "", "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", fmt.Errorf("unexpected claims type")
	}

	accountID := fmt.Sprintf("%v", claims["account_id"])
	role := fmt.Sprintf("%v", claims["role"])
	return accountID, role, nil
}

// SecurityHeaders sets the standard hardening headers on every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		next.ServeHTTP(w, r)
	})
}
