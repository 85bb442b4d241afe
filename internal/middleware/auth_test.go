package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/golang-jwt/jwt/v5"

	"github.com/whaleray/control-plane/internal/secrets"
)

const testJWTSecret = "test-signing-secret"

type fakeSecretsManager struct{}

func (fakeSecretsManager) GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(testJWTSecret)}, nil
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestAuth(t *testing.T) {
	authed := Auth(secrets.NewCache(fakeSecretsManager{}), "arn:secret:jwt")

	serve := func(authorization string) (*httptest.ResponseRecorder, *http.Request) {
		var captured *http.Request
		handler := authed(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			captured = r
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec, captured
	}

	t.Run("valid token passes identity into context", func(t *testing.T) {
		token := signToken(t, jwt.MapClaims{
			"sub":      "github_12345",
			"username": "octocat",
			"iss":      "whaleray",
			"exp":      time.Now().Add(time.Hour).Unix(),
		})

		rec, captured := serve("Bearer " + token)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if got := GetUserID(captured.Context()); got != "github_12345" {
			t.Errorf("GetUserID() = %q", got)
		}
		if got := GetUsername(captured.Context()); got != "octocat" {
			t.Errorf("GetUsername() = %q", got)
		}
	})

	t.Run("missing header is rejected", func(t *testing.T) {
		rec, _ := serve("")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		token := signToken(t, jwt.MapClaims{
			"sub": "github_12345",
			"iss": "whaleray",
			"exp": time.Now().Add(-time.Minute).Unix(),
		})

		rec, _ := serve("Bearer " + token)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("token without an expiry is rejected", func(t *testing.T) {
		token := signToken(t, jwt.MapClaims{
			"sub": "github_12345",
			"iss": "whaleray",
		})

		rec, _ := serve("Bearer " + token)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("foreign issuer is rejected", func(t *testing.T) {
		token := signToken(t, jwt.MapClaims{
			"sub": "github_12345",
			"iss": "someone-else",
			"exp": time.Now().Add(time.Hour).Unix(),
		})

		rec, _ := serve("Bearer " + token)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("token without a subject is rejected", func(t *testing.T) {
		token := signToken(t, jwt.MapClaims{
			"iss": "whaleray",
			"exp": time.Now().Add(time.Hour).Unix(),
		})

		rec, _ := serve("Bearer " + token)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("garbage token is rejected", func(t *testing.T) {
		rec, _ := serve("Bearer not-a-jwt")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})
}
