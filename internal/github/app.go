// Package github implements the GitHub App and REST API client used by
// the deployment pipeline.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/whaleray/control-plane/internal/secrets"
)

const apiBaseURL = "https://api.github.com"

// tokenExchangeTimeout bounds the installation token exchange call.
const tokenExchangeTimeout = 10 * time.Second

// ErrInstallationGone marks a 401/404 from GitHub on token use: the
// installation grant no longer exists upstream and the stored row is
// eligible for eviction. Never retried.
var ErrInstallationGone = errors.New("installation no longer authorized")

// IsInstallationGone reports whether err indicates a revoked installation.
func IsInstallationGone(err error) bool {
	return errors.Is(err, ErrInstallationGone)
}

// HTTPClient interface for making HTTP requests (allows mocking in tests).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// AppClient talks to GitHub as the WhaleRay App: it mints short-lived
// installation tokens from the App's signing key and performs
// repository reads with them.
type AppClient struct {
	appID      string
	keySecret  string
	secrets    *secrets.Cache
	httpClient HTTPClient
	baseURL    string
}

// NewAppClient creates an app client. The signing key is fetched from
// Secrets Manager on first use and cached for the process lifetime.
func NewAppClient(appID, privateKeySecretARN string, cache *secrets.Cache) *AppClient {
	return &AppClient{
		appID:      appID,
		keySecret:  privateKeySecretARN,
		secrets:    cache,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    apiBaseURL,
	}
}

// NewAppClientWithHTTP creates an app client with a custom HTTP client
// and base URL. This is primarily used for testing.
func NewAppClientWithHTTP(appID, privateKeySecretARN string, cache *secrets.Cache, httpClient HTTPClient, baseURL string) *AppClient {
	c := NewAppClient(appID, privateKeySecretARN, cache)
	c.httpClient = httpClient
	if baseURL != "" {
		c.baseURL = baseURL
	}
	return c
}

// InstallationToken is a short-lived token scoped to one installation.
type InstallationToken struct {
	Token     string
	ExpiresAt time.Time
}

// appJWT assembles the self-signed App assertion. iat is backdated 60
// seconds because GitHub rejects future-dated tokens on clock skew.
func (c *AppClient) appJWT(ctx context.Context, now time.Time) (string, error) {
	pemKey, err := c.secrets.Get(ctx, c.keySecret)
	if err != nil {
		return "", fmt.Errorf("load app signing key: %w", err)
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pemKey))
	if err != nil {
		return "", fmt.Errorf("parse app signing key: %w", err)
	}

	claims := jwt.MapClaims{
		"iat": now.Add(-60 * time.Second).Unix(),
		"exp": now.Add(10 * time.Minute).Unix(),
		"iss": c.appID,
	}

	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
}

// MintInstallationToken exchanges the App assertion for an installation
// access token. A 401/404 response wraps ErrInstallationGone so the
// caller can evict the stored installation.
func (c *AppClient) MintInstallationToken(ctx context.Context, installationID int64) (*InstallationToken, error) {
	assertion, err := c.appJWT(ctx, time.Now())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, tokenExchangeTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", c.baseURL, installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+assertion)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
	case http.StatusUnauthorized, http.StatusNotFound:
		return nil, fmt.Errorf("token exchange for installation %d returned %d: %w",
			installationID, resp.StatusCode, ErrInstallationGone)
	default:
		return nil, fmt.Errorf("token exchange for installation %d returned %d", installationID, resp.StatusCode)
	}

	var body struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}

	return &InstallationToken{Token: body.Token, ExpiresAt: body.ExpiresAt}, nil
}

// get performs an authenticated GET against the GitHub API and decodes
// the JSON body into out.
func (c *AppClient) get(ctx context.Context, token, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusNotFound:
		return fmt.Errorf("GET %s returned %d: %w", path, resp.StatusCode, ErrInstallationGone)
	default:
		return fmt.Errorf("GET %s returned %d", path, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// sanitizeRef guards against path traversal in user-supplied branches.
func sanitizeRef(ref string) string {
	return strings.ReplaceAll(ref, "..", "")
}
