package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/nexovan/fieldsync/internal/utils"
)

type contextKey string

const (
	// DeviceIDKey is the context key for the authenticated device id
	DeviceIDKey contextKey = "device_id"
	// ActorIDKey is the context key for the authenticated actor id
	ActorIDKey contextKey = "actor_id"
)

// Auth validates the bearer token and attaches device identity to the request context
func Auth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "Invalid authorization format", http.StatusUnauthorized)
				return
			}

			claims, err := utils.ValidateToken(parts[1], jwtSecret)
			if err != nil {
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := r.Context()
			if deviceID, ok := claims["device_id"].(string); ok {
				ctx = context.WithValue(ctx, DeviceIDKey, deviceID)
			}
			if actorID, ok := claims["actor_id"].(string); ok {
				ctx = context.WithValue(ctx, ActorIDKey, actorID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
