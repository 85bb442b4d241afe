package github

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/golang-jwt/jwt/v5"

	"github.com/whaleray/control-plane/internal/secrets"
)

// fakeSecretsManager serves the test signing key from memory.
type fakeSecretsManager struct {
	pemKey string
}

func (f *fakeSecretsManager) GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(f.pemKey)}, nil
}

func testSigningKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	return key, string(pem.EncodeToMemory(block))
}

func newTestAppClient(t *testing.T, key string, handler http.Handler) (*AppClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cache := secrets.NewCache(&fakeSecretsManager{pemKey: key})
	return NewAppClientWithHTTP("777", "arn:secret:app-key", cache, server.Client(), server.URL), server
}

func TestAppClient_MintInstallationToken(t *testing.T) {
	ctx := context.Background()
	key, pemKey := testSigningKey(t)

	t.Run("exchanges a signed app assertion for an installation token", func(t *testing.T) {
		var gotPath, gotAuth string
		client, _ := newTestAppClient(t, pemKey, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotAuth = r.Header.Get("Authorization")
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"token": "ghs_abc", "expires_at": "2026-08-25T13:00:00Z"}`)
		}))

		token, err := client.MintInstallationToken(ctx, 42)
		if err != nil {
			t.Fatalf("MintInstallationToken() error = %v", err)
		}
		if token.Token != "ghs_abc" {
			t.Errorf("Token = %q, want ghs_abc", token.Token)
		}
		if token.ExpiresAt != time.Date(2026, 8, 25, 13, 0, 0, 0, time.UTC) {
			t.Errorf("ExpiresAt = %v", token.ExpiresAt)
		}
		if gotPath != "/app/installations/42/access_tokens" {
			t.Errorf("path = %q", gotPath)
		}

		assertion := strings.TrimPrefix(gotAuth, "Bearer ")
		if assertion == gotAuth {
			t.Fatalf("Authorization = %q, want a bearer token", gotAuth)
		}
		parsed, err := jwt.Parse(assertion, func(*jwt.Token) (any, error) {
			return &key.PublicKey, nil
		}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithIssuer("777"))
		if err != nil {
			t.Fatalf("app assertion did not verify: %v", err)
		}
		claims := parsed.Claims.(jwt.MapClaims)
		iat := time.Unix(int64(claims["iat"].(float64)), 0)
		if !iat.Before(time.Now()) {
			t.Errorf("iat = %v, want backdated", iat)
		}
	})

	t.Run("revoked installation surfaces as gone", func(t *testing.T) {
		client, _ := newTestAppClient(t, pemKey, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))

		_, err := client.MintInstallationToken(ctx, 42)
		if !IsInstallationGone(err) {
			t.Fatalf("MintInstallationToken() error = %v, want installation gone", err)
		}
	})

	t.Run("bad app credentials surface as gone", func(t *testing.T) {
		client, _ := newTestAppClient(t, pemKey, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))

		_, err := client.MintInstallationToken(ctx, 42)
		if !IsInstallationGone(err) {
			t.Fatalf("MintInstallationToken() error = %v, want installation gone", err)
		}
	})

	t.Run("server errors are not treated as revocation", func(t *testing.T) {
		client, _ := newTestAppClient(t, pemKey, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))

		_, err := client.MintInstallationToken(ctx, 42)
		if err == nil {
			t.Fatal("MintInstallationToken() expected error")
		}
		if IsInstallationGone(err) {
			t.Error("a 502 must not evict the installation")
		}
	})
}

func TestAppClient_GetTree(t *testing.T) {
	ctx := context.Background()
	_, pemKey := testSigningKey(t)

	t.Run("fetches the recursive tree with the installation token", func(t *testing.T) {
		var gotPath, gotQuery, gotAuth string
		client, _ := newTestAppClient(t, pemKey, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotQuery = r.URL.RawQuery
			gotAuth = r.Header.Get("Authorization")
			fmt.Fprint(w, `{"tree": [{"path": "build.gradle", "type": "blob"}], "truncated": false}`)
		}))

		tree, err := client.GetTree(ctx, "ghs_abc", "octo/app", "main")
		if err != nil {
			t.Fatalf("GetTree() error = %v", err)
		}
		if len(tree.Entries) != 1 || tree.Entries[0].Path != "build.gradle" {
			t.Errorf("Entries = %+v", tree.Entries)
		}
		if gotPath != "/repos/octo/app/git/trees/main" {
			t.Errorf("path = %q", gotPath)
		}
		if gotQuery != "recursive=1" {
			t.Errorf("query = %q", gotQuery)
		}
		if gotAuth != "Bearer ghs_abc" {
			t.Errorf("Authorization = %q", gotAuth)
		}
	})

	t.Run("traversal sequences are stripped from the ref", func(t *testing.T) {
		var gotPath string
		client, _ := newTestAppClient(t, pemKey, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.EscapedPath()
			fmt.Fprint(w, `{"tree": []}`)
		}))

		if _, err := client.GetTree(ctx, "ghs_abc", "octo/app", "../../../etc"); err != nil {
			t.Fatalf("GetTree() error = %v", err)
		}
		if strings.Contains(gotPath, "..") {
			t.Errorf("path = %q, traversal survived sanitization", gotPath)
		}
	})
}

func TestAppClient_ListInstallationRepositories(t *testing.T) {
	ctx := context.Background()
	_, pemKey := testSigningKey(t)

	t.Run("decodes the repository page", func(t *testing.T) {
		client, _ := newTestAppClient(t, pemKey, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"repositories": [
				{"id": 1, "full_name": "octo/app", "default_branch": "main", "private": true},
				{"id": 2, "full_name": "octo/site", "default_branch": "master"}
			]}`)
		}))

		repos, err := client.ListInstallationRepositories(ctx, "ghs_abc")
		if err != nil {
			t.Fatalf("ListInstallationRepositories() error = %v", err)
		}
		if len(repos) != 2 {
			t.Fatalf("len = %d, want 2", len(repos))
		}
		if repos[0].FullName != "octo/app" || !repos[0].Private {
			t.Errorf("repos[0] = %+v", repos[0])
		}
	})

	t.Run("expired token surfaces as gone", func(t *testing.T) {
		client, _ := newTestAppClient(t, pemKey, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))

		_, err := client.ListInstallationRepositories(ctx, "ghs_expired")
		if !IsInstallationGone(err) {
			t.Fatalf("error = %v, want installation gone", err)
		}
	})
}
