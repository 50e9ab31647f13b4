/**
 * @description
 * This package provides middleware for the HTTP server, specifically for
 * handling authentication of API callers.
 *
 * @notes
 * - Tokens are HS256 JWTs signed with JWT_SECRET. An empty secret disables the check.
 */
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// AuthContextKey is a custom type for the context key to avoid collisions.
type AuthContextKey string

const (
	// SubjectKey is the key used to store the token subject in the request context.
	SubjectKey AuthContextKey = "subject"
	// RoleKey is the key used to store the caller's role, when the token carries one.
	RoleKey AuthContextKey = "role"
)

// AuthMiddleware validates the bearer token and stores its subject in the context.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(key) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeUnauthorized(w, "Authorization header required")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				writeUnauthorized(w, "Invalid Authorization header format")
				return
			}

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(strings.TrimSpace(parts[1]), claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return key, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				writeUnauthorized(w, "Invalid token")
				return
			}

			subject, err := claims.GetSubject()
			if err != nil || subject == "" {
				writeUnauthorized(w, "Subject not found in token")
				return
			}

			ctx := context.WithValue(r.Context(), SubjectKey, subject)
			if role, ok := claims["role"].(string); ok {
				ctx = context.WithValue(ctx, RoleKey, role)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSubjectFromContext retrieves the token subject from the request context.
// It returns an empty string if none is set.
func GetSubjectFromContext(ctx context.Context) string {
	subject, ok := ctx.Value(SubjectKey).(string)
	if !ok {
		return ""
	}
	return subject
}

// GetRoleFromContext retrieves the caller's role from the request context.
func GetRoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(RoleKey).(string)
	return role
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error": map[string]any{
			"code":    "UNAUTHORIZED",
			"message": message,
		},
	})
}
