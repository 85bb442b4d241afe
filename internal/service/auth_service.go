package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	oauthgithub "golang.org/x/oauth2/github"

	"github.com/whaleray/control-plane/internal/config"
	"github.com/whaleray/control-plane/internal/github"
	"github.com/whaleray/control-plane/internal/models"
	"github.com/whaleray/control-plane/internal/repository"
	"github.com/whaleray/control-plane/internal/secrets"
)

// tokenIssuer is the iss claim on platform tokens.
const tokenIssuer = "whaleray"

// githubAuthAPI is the slice of the GitHub client the auth flow needs.
type githubAuthAPI interface {
	GetAuthenticatedUser(ctx context.Context, accessToken string) (*github.User, error)
	ListUserInstallations(ctx context.Context, accessToken string) ([]github.UserInstallation, error)
	MintInstallationToken(ctx context.Context, installationID int64) (*github.InstallationToken, error)
	ListInstallationRepositories(ctx context.Context, token string) ([]github.Repository, error)
}

// codeExchanger is satisfied by *oauth2.Config; injected so callback
// tests run without GitHub.
type codeExchanger interface {
	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

// CallbackParams are the query parameters GitHub sends to the OAuth
// callback. The same endpoint receives App installation callbacks,
// distinguished by setup_action or a bare installation_id.
type CallbackParams struct {
	Code             string
	State            string
	InstallationID   string
	SetupAction      string
	Error            string
	ErrorDescription string
}

// MeInstallation is one installation in the /me response.
type MeInstallation struct {
	InstallationID int64  `json:"installationId"`
	AccountLogin   string `json:"accountLogin"`
	AccountType    string `json:"accountType"`
}

// MeResponse reports whether the user can deploy yet.
type MeResponse struct {
	NeedInstallation bool             `json:"needInstallation"`
	InstallURL       string           `json:"installUrl,omitempty"`
	Installations    []MeInstallation `json:"installations,omitempty"`
}

// RepositoryInfo is one deployable repository in the picker.
type RepositoryInfo struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	FullName       string `json:"fullName"`
	Private        bool   `json:"private"`
	DefaultBranch  string `json:"defaultBranch"`
	Language       string `json:"language,omitempty"`
	Description    string `json:"description,omitempty"`
	Owner          string `json:"owner"`
	InstallationID int64  `json:"installationId"`
	AccountLogin   string `json:"accountLogin"`
}

// AuthService implements the GitHub login and installation flows.
// Callback outcomes, including failures, are communicated by redirect
// so the browser always lands back on the frontend.
type AuthService interface {
	StartLogin(ctx context.Context, redirectURI string) (string, error)
	HandleCallback(ctx context.Context, params CallbackParams) string
	Me(ctx context.Context, userID string) (*MeResponse, error)
	Repositories(ctx context.Context, userID string) ([]RepositoryInfo, error)
}

type authService struct {
	oauth         codeExchanger
	gh            githubAuthAPI
	users         repository.UserRepository
	installations repository.InstallationRepository
	states        repository.OAuthStateRepository
	secrets       *secrets.Cache
	ghCfg         config.GitHubConfig
	authCfg       config.AuthConfig
	logger        *slog.Logger
	now           func() time.Time
}

// NewAuthService creates the auth service with the GitHub OAuth endpoint.
func NewAuthService(
	ghCfg config.GitHubConfig,
	authCfg config.AuthConfig,
	gh githubAuthAPI,
	users repository.UserRepository,
	installations repository.InstallationRepository,
	states repository.OAuthStateRepository,
	cache *secrets.Cache,
	logger *slog.Logger,
) AuthService {
	oauth := &oauth2.Config{
		ClientID:     ghCfg.ClientID,
		ClientSecret: ghCfg.ClientSecret,
		Endpoint:     oauthgithub.Endpoint,
		RedirectURL:  ghCfg.CallbackURL,
		Scopes:       []string{"repo", "read:user", "user:email"},
	}
	return &authService{
		oauth:         oauth,
		gh:            gh,
		users:         users,
		installations: installations,
		states:        states,
		secrets:       cache,
		ghCfg:         ghCfg,
		authCfg:       authCfg,
		logger:        logger,
		now:           time.Now,
	}
}

// NewAuthServiceWithExchanger creates an auth service with a custom code
// exchanger. This is primarily used for testing.
func NewAuthServiceWithExchanger(
	ghCfg config.GitHubConfig,
	authCfg config.AuthConfig,
	gh githubAuthAPI,
	users repository.UserRepository,
	installations repository.InstallationRepository,
	states repository.OAuthStateRepository,
	cache *secrets.Cache,
	logger *slog.Logger,
	oauth codeExchanger,
) AuthService {
	svc := NewAuthService(ghCfg, authCfg, gh, users, installations, states, cache, logger).(*authService)
	svc.oauth = oauth
	return svc
}

// StartLogin stores a CSRF state and returns the GitHub authorize URL.
func (s *authService) StartLogin(ctx context.Context, redirectURI string) (string, error) {
	if redirectURI == "" {
		redirectURI = s.authCfg.FrontendURL
	}

	state := uuid.NewString()
	if err := s.states.Put(ctx, state, redirectURI); err != nil {
		return "", fmt.Errorf("store oauth state: %w", err)
	}

	return s.oauth.AuthCodeURL(state), nil
}

// HandleCallback processes both callback variants and returns the
// browser redirect target.
func (s *authService) HandleCallback(ctx context.Context, p CallbackParams) string {
	// App installation callback: GitHub redirects here after the user
	// picks a target, with no OAuth state attached.
	if p.SetupAction != "" || (p.InstallationID != "" && p.State == "") {
		setupAction := p.SetupAction
		if setupAction == "" {
			setupAction = "install"
		}
		return fmt.Sprintf("%s?installation_id=%s&setup_action=%s",
			s.authCfg.FrontendURL, url.QueryEscape(p.InstallationID), url.QueryEscape(setupAction))
	}

	if p.Error != "" {
		desc := p.ErrorDescription
		if desc == "" {
			desc = p.Error
		}
		return s.errorRedirect("GitHub OAuth error: " + desc)
	}
	if p.Code == "" || p.State == "" {
		return s.errorRedirect("Missing code or state parameter")
	}

	redirectURI, ok, err := s.states.Consume(ctx, p.State)
	if err != nil {
		s.logger.Error("oauth state lookup failed", "error", err)
		return s.errorRedirect("State validation failed")
	}
	if !ok {
		return s.errorRedirect("Invalid or expired state. Please try again.")
	}

	token, err := s.oauth.Exchange(ctx, p.Code)
	if err != nil {
		s.logger.Error("oauth code exchange failed", "error", err)
		return s.errorRedirect("Token exchange failed")
	}

	ghUser, err := s.gh.GetAuthenticatedUser(ctx, token.AccessToken)
	if err != nil {
		s.logger.Error("github user fetch failed", "error", err)
		return s.errorRedirect("Failed to fetch user info from GitHub")
	}

	userID := "github_" + strconv.FormatInt(ghUser.ID, 10)
	if err := s.upsertUser(ctx, userID, ghUser); err != nil {
		s.logger.Error("user upsert failed", "userId", userID, "error", err)
		return s.errorRedirect("Failed to save user")
	}

	s.syncInstallations(ctx, userID, token.AccessToken, p.InstallationID)

	platformToken, err := s.issueToken(ctx, userID, ghUser.Login)
	if err != nil {
		s.logger.Error("token issue failed", "userId", userID, "error", err)
		return s.errorRedirect("Failed to generate token")
	}

	s.logger.Info("login completed", "userId", userID, "login", ghUser.Login)
	return fmt.Sprintf("%s?token=%s&username=%s",
		redirectURI, url.QueryEscape(platformToken), url.QueryEscape(ghUser.Login))
}

func (s *authService) errorRedirect(message string) string {
	return fmt.Sprintf("%s?error=%s", s.authCfg.FrontendURL, url.QueryEscape(message))
}

// upsertUser writes the user row, preserving the original createdAt.
func (s *authService) upsertUser(ctx context.Context, userID string, ghUser *github.User) error {
	now := s.now().UTC()

	user := &models.User{
		UserID:      userID,
		GitHubLogin: ghUser.Login,
		Name:        ghUser.Name,
		Email:       ghUser.Email,
		AvatarURL:   ghUser.AvatarURL,
		CreatedAt:   now,
		LastLoginAt: now,
	}
	if existing, err := s.users.GetByID(ctx, userID); err == nil && existing != nil {
		user.CreatedAt = existing.CreatedAt
	}
	return s.users.Put(ctx, user)
}

// syncInstallations records the user's installations of this App. When
// GitHub's list comes back empty but the callback carried an
// installation_id, a minimal row is stored so deployments can proceed.
func (s *authService) syncInstallations(ctx context.Context, userID, accessToken, installationIDParam string) {
	installations, err := s.gh.ListUserInstallations(ctx, accessToken)
	if err != nil {
		s.logger.Warn("installation list failed", "userId", userID, "error", err)
	}

	appID, _ := strconv.ParseInt(s.ghCfg.AppID, 10, 64)
	stored := 0
	for _, inst := range installations {
		if appID != 0 && inst.AppID != appID {
			continue
		}
		err := s.installations.Put(ctx, &models.Installation{
			InstallationID: inst.ID,
			UserID:         userID,
			AccountLogin:   inst.Account.Login,
			AccountType:    inst.Account.Type,
			CreatedAt:      s.now().UTC(),
		})
		if err != nil {
			s.logger.Error("installation save failed",
				"installationId", inst.ID,
				"userId", userID,
				"error", err,
			)
			continue
		}
		stored++
	}

	if stored == 0 && installationIDParam != "" {
		id, err := strconv.ParseInt(installationIDParam, 10, 64)
		if err != nil {
			return
		}
		err = s.installations.Put(ctx, &models.Installation{
			InstallationID: id,
			UserID:         userID,
			AccountType:    "User",
			CreatedAt:      s.now().UTC(),
		})
		if err != nil {
			s.logger.Error("fallback installation save failed",
				"installationId", id,
				"userId", userID,
				"error", err,
			)
		}
	}
}

// issueToken mints the HS256 platform token. The signing secret lives
// in Secrets Manager and is cached for the process lifetime.
func (s *authService) issueToken(ctx context.Context, userID, username string) (string, error) {
	secret, err := s.secrets.Get(ctx, s.authCfg.JWTSecretARN)
	if err != nil {
		return "", fmt.Errorf("load signing secret: %w", err)
	}

	now := s.now()
	claims := jwt.MapClaims{
		"sub":      userID,
		"username": username,
		"iat":      now.Unix(),
		"exp":      now.Add(s.authCfg.TokenExpiry).Unix(),
		"iss":      tokenIssuer,
		"jti":      uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Me reports installation status for the authenticated user.
func (s *authService) Me(ctx context.Context, userID string) (*MeResponse, error) {
	installations, err := s.installations.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list installations: %w", err)
	}

	if len(installations) == 0 {
		return &MeResponse{
			NeedInstallation: true,
			InstallURL:       s.ghCfg.InstallURL(),
		}, nil
	}

	resp := &MeResponse{Installations: make([]MeInstallation, 0, len(installations))}
	for _, inst := range installations {
		resp.Installations = append(resp.Installations, MeInstallation{
			InstallationID: inst.InstallationID,
			AccountLogin:   inst.AccountLogin,
			AccountType:    inst.AccountType,
		})
	}
	return resp, nil
}

// Repositories aggregates the repositories of every installation the
// user holds. Installations whose upstream grant is gone are evicted on
// the way through, so the picker self-heals after an uninstall.
func (s *authService) Repositories(ctx context.Context, userID string) ([]RepositoryInfo, error) {
	installations, err := s.installations.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list installations: %w", err)
	}
	if len(installations) == 0 {
		return nil, ErrNeedInstallation
	}

	all := make([]RepositoryInfo, 0)
	for _, inst := range installations {
		token, err := s.gh.MintInstallationToken(ctx, inst.InstallationID)
		if err != nil {
			s.evictIfGone(ctx, inst.InstallationID, err)
			continue
		}

		repos, err := s.gh.ListInstallationRepositories(ctx, token.Token)
		if err != nil {
			s.evictIfGone(ctx, inst.InstallationID, err)
			continue
		}

		for _, repo := range repos {
			all = append(all, RepositoryInfo{
				ID:             repo.ID,
				Name:           repo.Name,
				FullName:       repo.FullName,
				Private:        repo.Private,
				DefaultBranch:  repo.DefaultBranch,
				Language:       repo.Language,
				Description:    repo.Description,
				Owner:          repo.Owner.Login,
				InstallationID: inst.InstallationID,
				AccountLogin:   inst.AccountLogin,
			})
		}
	}
	return all, nil
}

// evictIfGone deletes the stored installation after GitHub reports the
// grant gone; transient failures leave the row alone.
func (s *authService) evictIfGone(ctx context.Context, installationID int64, cause error) {
	if !github.IsInstallationGone(cause) {
		s.logger.Warn("installation fetch failed",
			"installationId", installationID,
			"error", cause,
		)
		return
	}
	if err := s.installations.Delete(ctx, installationID); err != nil {
		s.logger.Error("installation eviction failed",
			"installationId", installationID,
			"error", err,
		)
		return
	}
	s.logger.Info("evicted revoked installation", "installationId", installationID)
}

// Compile-time check to ensure authService implements AuthService.
var _ AuthService = (*authService)(nil)
