package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// repoReadTimeout bounds per-file and tree reads against a repository.
const repoReadTimeout = 10 * time.Second

// TreeEntry is one node of a repository git tree.
type TreeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"` // "blob" or "tree"
	SHA  string `json:"sha"`
}

// Tree is the recursive git tree of a repository ref.
type Tree struct {
	Entries   []TreeEntry `json:"tree"`
	Truncated bool        `json:"truncated"`
}

// GetTree fetches the full repository tree in a single recursive call.
// One tree call per deployment keeps the app inside GitHub's request
// budget regardless of repository size.
func (c *AppClient) GetTree(ctx context.Context, token, repoFullName, ref string) (*Tree, error) {
	ctx, cancel := context.WithTimeout(ctx, repoReadTimeout)
	defer cancel()

	var tree Tree
	path := fmt.Sprintf("/repos/%s/git/trees/%s?recursive=1", repoFullName, url.PathEscape(sanitizeRef(ref)))
	if err := c.get(ctx, token, path, &tree); err != nil {
		return nil, fmt.Errorf("fetch tree for %s@%s: %w", repoFullName, ref, err)
	}
	return &tree, nil
}

// GetRawContent fetches a single file's raw bytes at the given ref.
func (c *AppClient) GetRawContent(ctx context.Context, token, repoFullName, filePath, ref string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, repoReadTimeout)
	defer cancel()

	u := fmt.Sprintf("%s/repos/%s/contents/%s?ref=%s",
		c.baseURL, repoFullName, filePath, url.QueryEscape(sanitizeRef(ref)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github.raw+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s from %s returned %d", filePath, repoFullName, resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// Repository is a repository visible to an installation.
type Repository struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	FullName      string  `json:"full_name"`
	Private       bool    `json:"private"`
	DefaultBranch string  `json:"default_branch"`
	Language      string  `json:"language"`
	Description   string  `json:"description"`
	Owner         Account `json:"owner"`
	HTMLURL       string  `json:"html_url"`
	UpdatedAt     string  `json:"updated_at"`
}

// ListInstallationRepositories lists every repository the installation
// token grants access to.
func (c *AppClient) ListInstallationRepositories(ctx context.Context, token string) ([]Repository, error) {
	var body struct {
		Repositories []Repository `json:"repositories"`
	}
	if err := c.get(ctx, token, "/installation/repositories?per_page=100", &body); err != nil {
		return nil, err
	}
	return body.Repositories, nil
}

// Account is the owner of an installation.
type Account struct {
	Login string `json:"login"`
	Type  string `json:"type"`
}

// UserInstallation is an installation visible to an OAuth user token.
type UserInstallation struct {
	ID      int64   `json:"id"`
	AppID   int64   `json:"app_id"`
	Account Account `json:"account"`
}

// ListUserInstallations lists the App installations the authenticated
// user can access, using their OAuth token.
func (c *AppClient) ListUserInstallations(ctx context.Context, accessToken string) ([]UserInstallation, error) {
	var body struct {
		Installations []UserInstallation `json:"installations"`
	}
	if err := c.get(ctx, accessToken, "/user/installations", &body); err != nil {
		return nil, err
	}
	return body.Installations, nil
}

// User is the authenticated GitHub account.
type User struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

// GetAuthenticatedUser fetches the user behind an OAuth access token.
func (c *AppClient) GetAuthenticatedUser(ctx context.Context, accessToken string) (*User, error) {
	var user User
	if err := c.get(ctx, accessToken, "/user", &user); err != nil {
		return nil, fmt.Errorf("fetch authenticated user: %w", err)
	}
	return &user, nil
}
