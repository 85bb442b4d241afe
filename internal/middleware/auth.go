package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/whaleray/control-plane/internal/pkg/errors"
	"github.com/whaleray/control-plane/internal/pkg/response"
	"github.com/whaleray/control-plane/internal/secrets"
)

// tokenIssuer must match the iss claim minted at login.
const tokenIssuer = "whaleray"

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// UserIDKey is the context key for the authenticated user id.
	UserIDKey contextKey = "user_id"
	// UsernameKey is the context key for the GitHub login.
	UsernameKey contextKey = "username"
)

// GetUserID retrieves the authenticated user id from context.
func GetUserID(ctx context.Context) string {
	if v := ctx.Value(UserIDKey); v != nil {
		return v.(string)
	}
	return ""
}

// GetUsername retrieves the GitHub login from context.
func GetUsername(ctx context.Context) string {
	if v := ctx.Value(UsernameKey); v != nil {
		return v.(string)
	}
	return ""
}

// Auth returns a middleware that verifies the Bearer platform token.
// The HS256 signing secret is fetched through the process-lifetime
// secrets cache, so request handling never waits on Secrets Manager
// after the first token.
func Auth(cache *secrets.Cache, jwtSecretARN string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				response.Error(w, apierrors.ErrUnauthorized)
				return
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")

			claims := jwt.MapClaims{}
			_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				secret, err := cache.Get(r.Context(), jwtSecretARN)
				if err != nil {
					return nil, err
				}
				return []byte(secret), nil
			}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
			if err != nil {
				response.Error(w, apierrors.ErrUnauthorized)
				return
			}

			userID, _ := claims["sub"].(string)
			if userID == "" {
				response.Error(w, apierrors.ErrUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			if username, _ := claims["username"].(string); username != "" {
				ctx = context.WithValue(ctx, UsernameKey, username)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
