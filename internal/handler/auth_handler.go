// Package handler provides HTTP handlers for the control plane API.
package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/whaleray/control-plane/internal/config"
	"github.com/whaleray/control-plane/internal/middleware"
	apierrors "github.com/whaleray/control-plane/internal/pkg/errors"
	"github.com/whaleray/control-plane/internal/pkg/response"
	"github.com/whaleray/control-plane/internal/service"
)

// AuthHandler handles the GitHub login and installation flow.
type AuthHandler struct {
	authService service.AuthService
	ghCfg       config.GitHubConfig
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(authService service.AuthService, ghCfg config.GitHubConfig) *AuthHandler {
	return &AuthHandler{authService: authService, ghCfg: ghCfg}
}

// PublicRoutes returns the unauthenticated auth routes.
func (h *AuthHandler) PublicRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/github/start", h.Start)
	r.Get("/github/callback", h.Callback)
	r.Get("/github/install", h.Install)
	return r
}

// Start handles GET /auth/github/start
func (h *AuthHandler) Start(w http.ResponseWriter, r *http.Request) {
	authURL, err := h.authService.StartLogin(r.Context(), r.URL.Query().Get("redirect_uri"))
	if err != nil {
		response.Error(w, err)
		return
	}
	redirect(w, r, authURL)
}

// Callback handles GET /auth/github/callback
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target := h.authService.HandleCallback(r.Context(), service.CallbackParams{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		InstallationID:   q.Get("installation_id"),
		SetupAction:      q.Get("setup_action"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})
	redirect(w, r, target)
}

// Install handles GET /auth/github/install
func (h *AuthHandler) Install(w http.ResponseWriter, r *http.Request) {
	redirect(w, r, h.ghCfg.InstallURL())
}

// Me handles GET /me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		response.Unauthorized(w)
		return
	}

	me, err := h.authService.Me(r.Context(), userID)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, me)
}

// Repositories handles GET /github/repositories
func (h *AuthHandler) Repositories(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		response.Unauthorized(w)
		return
	}

	repos, err := h.authService.Repositories(r.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrNeedInstallation) {
			writeNeedInstallation(w, service.ErrNeedInstallation)
			return
		}
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]any{"repositories": repos})
}

// redirect issues a 302 that must never be cached: both legs of the
// OAuth dance carry one-time parameters.
func redirect(w http.ResponseWriter, r *http.Request, target string) {
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, target, http.StatusFound)
}

// writeNeedInstallation emits the install-prompt variant of a 404 so
// the frontend can route the user to the GitHub App install page.
func writeNeedInstallation(w http.ResponseWriter, apiErr *apierrors.APIError) {
	response.JSON(w, apiErr.StatusCode, map[string]any{
		"error":            apiErr.Summary,
		"needInstallation": true,
	})
}
