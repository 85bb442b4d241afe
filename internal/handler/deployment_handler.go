package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/whaleray/control-plane/internal/middleware"
	"github.com/whaleray/control-plane/internal/models"
	apierrors "github.com/whaleray/control-plane/internal/pkg/errors"
	"github.com/whaleray/control-plane/internal/pkg/response"
	"github.com/whaleray/control-plane/internal/service"
)

// defaultListLimit caps GET /deployments when the client sends none.
const defaultListLimit = 50

// DeploymentHandler handles deployment intake and listing.
type DeploymentHandler struct {
	deployments service.DeploymentService
	validate    *validator.Validate
}

// NewDeploymentHandler creates a new deployment handler.
func NewDeploymentHandler(deployments service.DeploymentService) *DeploymentHandler {
	return &DeploymentHandler{
		deployments: deployments,
		validate:    validator.New(),
	}
}

// Routes returns a chi router with deployment routes.
func (h *DeploymentHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/", h.List)
	return r
}

// Create handles POST /deployments
func (h *DeploymentHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		response.Unauthorized(w)
		return
	}

	var req service.StartDeploymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			response.ValidationError(w, verrs[0].Field(), "failed on '"+verrs[0].Tag()+"' constraint")
			return
		}
		response.Error(w, apierrors.ErrBadRequest)
		return
	}

	d, err := h.deployments.Start(r.Context(), userID, req)
	if err != nil {
		if errors.Is(err, service.ErrNeedInstallation) {
			writeNeedInstallation(w, service.ErrNeedInstallation)
			return
		}
		response.Error(w, err)
		return
	}

	response.Created(w, deploymentAccepted{
		DeploymentID: d.DeploymentID,
		ServiceID:    d.ServiceID,
		Status:       d.Status,
	})
}

// deploymentAccepted is the intake response: enough to poll with.
type deploymentAccepted struct {
	DeploymentID string                  `json:"deploymentId"`
	ServiceID    string                  `json:"serviceId"`
	Status       models.DeploymentStatus `json:"status"`
}

// List handles GET /deployments
func (h *DeploymentHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		response.Unauthorized(w)
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			response.ValidationError(w, "limit", "must be an integer between 1 and 100")
			return
		}
		limit = parsed
	}

	deployments, err := h.deployments.List(r.Context(), userID, limit)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]any{"deployments": deployments})
}
