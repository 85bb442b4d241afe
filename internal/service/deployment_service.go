package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/whaleray/control-plane/internal/models"
	apierrors "github.com/whaleray/control-plane/internal/pkg/errors"
	"github.com/whaleray/control-plane/internal/repository"
)

// ErrNeedInstallation is surfaced as a 404 with needInstallation set so
// the frontend can route the user to the GitHub App install flow.
var ErrNeedInstallation = &apierrors.APIError{
	Summary:    "No GitHub App installation found",
	StatusCode: http.StatusNotFound,
}

// defaultBranch is deployed when the request names none.
const defaultBranch = "main"

// StartDeploymentRequest is the intake payload for a new deployment.
// Branch is optional and defaults to main.
type StartDeploymentRequest struct {
	RepositoryFullName string `json:"repositoryFullName" validate:"required,contains=/"`
	Branch             string `json:"branch" validate:"omitempty,max=255"`
	EnvFileContent     string `json:"envFileContent" validate:"omitempty,max=4096"`
	IsReset            bool   `json:"isReset"`
}

// Inspector analyzes a deployment's repository and starts its build.
// Satisfied by *PipelineInspector; an interface so intake tests can
// observe dispatch without real GitHub or CodeBuild clients.
type Inspector interface {
	Inspect(ctx context.Context, d *models.Deployment)
}

// DeploymentService handles deployment intake and read paths.
type DeploymentService interface {
	Start(ctx context.Context, userID string, req StartDeploymentRequest) (*models.Deployment, error)
	List(ctx context.Context, userID string, limit int) ([]*models.Deployment, error)
	History(ctx context.Context, serviceID string, limit int) ([]*models.Deployment, error)
}

type deploymentService struct {
	deployments   repository.DeploymentRepository
	installations repository.InstallationRepository
	inspector     Inspector
	sweeper       *Sweeper
	logger        *slog.Logger
}

// NewDeploymentService creates a deployment service.
func NewDeploymentService(
	deployments repository.DeploymentRepository,
	installations repository.InstallationRepository,
	inspector Inspector,
	sweeper *Sweeper,
	logger *slog.Logger,
) DeploymentService {
	return &deploymentService{
		deployments:   deployments,
		installations: installations,
		inspector:     inspector,
		sweeper:       sweeper,
		logger:        logger,
	}
}

// Start accepts a deployment request, persists the INSPECTING row and
// dispatches inspection in the background. The response returns as soon
// as the row exists; everything after is observable through polling.
func (s *deploymentService) Start(ctx context.Context, userID string, req StartDeploymentRequest) (*models.Deployment, error) {
	owner, name, ok := strings.Cut(req.RepositoryFullName, "/")
	if !ok || owner == "" || name == "" {
		return nil, apierrors.NewValidationError("repositoryFullName", "must be in owner/name form")
	}

	if req.Branch == "" {
		req.Branch = defaultBranch
	}

	installations, err := s.installations.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list installations: %w", err)
	}
	if len(installations) == 0 {
		return nil, ErrNeedInstallation
	}

	var installation *models.Installation
	for _, inst := range installations {
		if inst.AccountLogin == owner {
			installation = inst
			break
		}
	}
	if installation == nil {
		return nil, &apierrors.APIError{
			Summary:    fmt.Sprintf("No GitHub App installation found for account '%s'", owner),
			StatusCode: http.StatusNotFound,
		}
	}

	serviceName := owner + "-" + name
	now := time.Now().UTC()
	d := &models.Deployment{
		DeploymentID:       uuid.NewString(),
		UserID:             userID,
		ServiceID:          userID + "-" + serviceName,
		ServiceName:        serviceName,
		RepositoryFullName: req.RepositoryFullName,
		Branch:             req.Branch,
		InstallationID:     installation.InstallationID,
		Status:             models.StatusInspecting,
		EnvFileContent:     req.EnvFileContent,
		IsReset:            req.IsReset,
		Port:               models.DefaultPort,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.deployments.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("create deployment: %w", err)
	}

	s.logger.Info("deployment accepted",
		"deploymentId", d.DeploymentID,
		"serviceId", d.ServiceID,
		"repository", d.RepositoryFullName,
		"branch", d.Branch,
	)

	// Inspection runs detached from the request context so a client
	// disconnect cannot abort the pipeline.
	go s.inspector.Inspect(context.WithoutCancel(ctx), d)

	return d, nil
}

// List returns the user's deployments, most recent first, sweeping
// stale in-progress rows to their timeout state on the way out.
func (s *deploymentService) List(ctx context.Context, userID string, limit int) ([]*models.Deployment, error) {
	deployments, err := s.deployments.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	s.sweeper.Sweep(ctx, deployments)
	return deployments, nil
}

// History returns a service's recent deployments, swept the same way.
func (s *deploymentService) History(ctx context.Context, serviceID string, limit int) ([]*models.Deployment, error) {
	deployments, err := s.deployments.ListByService(ctx, serviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list service deployments: %w", err)
	}
	s.sweeper.Sweep(ctx, deployments)
	return deployments, nil
}

// Compile-time check to ensure deploymentService implements DeploymentService.
var _ DeploymentService = (*deploymentService)(nil)
