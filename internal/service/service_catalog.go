package service

import (
	"context"
	"fmt"

	"github.com/whaleray/control-plane/internal/models"
	apierrors "github.com/whaleray/control-plane/internal/pkg/errors"
	"github.com/whaleray/control-plane/internal/repository"
)

// serviceHistoryLimit caps the deployment history on the detail view.
const serviceHistoryLimit = 10

// ServiceDetail is a service joined with its recent deployments.
type ServiceDetail struct {
	*models.Service
	Deployments []*models.Deployment `json:"deployments"`
}

// ServiceCatalog exposes the per-user service views.
type ServiceCatalog interface {
	List(ctx context.Context, userID string) ([]*models.Service, error)
	Get(ctx context.Context, userID, serviceID string) (*ServiceDetail, error)
}

type serviceCatalog struct {
	services    repository.ServiceRepository
	deployments DeploymentService
}

// NewServiceCatalog creates a service catalog.
func NewServiceCatalog(services repository.ServiceRepository, deployments DeploymentService) ServiceCatalog {
	return &serviceCatalog{services: services, deployments: deployments}
}

// List returns every service owned by the user.
func (c *serviceCatalog) List(ctx context.Context, userID string) ([]*models.Service, error) {
	services, err := c.services.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	return services, nil
}

// Get returns a service with its recent deployment history. Services
// belonging to another user surface as not found.
func (c *serviceCatalog) Get(ctx context.Context, userID, serviceID string) (*ServiceDetail, error) {
	svc, err := c.services.GetByID(ctx, serviceID)
	if err != nil {
		return nil, fmt.Errorf("get service: %w", err)
	}
	if svc == nil || svc.UserID != userID {
		return nil, apierrors.NewNotFoundError("Service")
	}

	history, err := c.deployments.History(ctx, serviceID, serviceHistoryLimit)
	if err != nil {
		return nil, err
	}
	return &ServiceDetail{Service: svc, Deployments: history}, nil
}

// Compile-time check to ensure serviceCatalog implements ServiceCatalog.
var _ ServiceCatalog = (*serviceCatalog)(nil)
