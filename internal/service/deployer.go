package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/whaleray/control-plane/internal/models"
	"github.com/whaleray/control-plane/internal/repository"
)

// clusterDeployer is the slice of the ECS cluster the deployer needs.
type clusterDeployer interface {
	RegisterAppTaskDefinition(ctx context.Context, serviceName, deploymentID, image string, port int32) (string, error)
	EnsureService(ctx context.Context, serviceID, serviceName, taskDefARN string) error
	LogGroup() string
}

// Deployer runs the DEPLOYING stage once a build finishes: register the
// task definition, roll the ECS service, then promote the deployment to
// the service's active one.
type Deployer struct {
	deployments repository.DeploymentRepository
	services    repository.ServiceRepository
	cluster     clusterDeployer
	status      *StatusMutator
	ecrRepoURL  string
	apiDomain   string
	logger      *slog.Logger
}

// NewDeployer creates a deployer.
func NewDeployer(
	deployments repository.DeploymentRepository,
	services repository.ServiceRepository,
	cluster clusterDeployer,
	status *StatusMutator,
	ecrRepoURL, apiDomain string,
	logger *slog.Logger,
) *Deployer {
	return &Deployer{
		deployments: deployments,
		services:    services,
		cluster:     cluster,
		status:      status,
		ecrRepoURL:  ecrRepoURL,
		apiDomain:   apiDomain,
		logger:      logger,
	}
}

// HandleBuildResult is the build watcher's completion callback.
func (dep *Deployer) HandleBuildResult(ctx context.Context, deploymentID string, succeeded bool) {
	d, err := dep.deployments.GetByID(ctx, deploymentID)
	if err != nil || d == nil {
		dep.logger.Error("deployment lookup failed after build",
			"deploymentId", deploymentID,
			"error", err,
		)
		return
	}

	if !succeeded {
		dep.status.Fail(ctx, deploymentID, models.StatusBuildingFail, "build failed")
		return
	}

	dep.status.Set(ctx, deploymentID, models.StatusDeploying, nil)

	if err := dep.deploy(ctx, d); err != nil {
		dep.logger.Error("deploy failed",
			"deploymentId", deploymentID,
			"serviceId", d.ServiceID,
			"error", err,
		)
		dep.status.Fail(ctx, deploymentID, models.StatusDeployingFail, err.Error())
	}
}

func (dep *Deployer) deploy(ctx context.Context, d *models.Deployment) error {
	image := fmt.Sprintf("%s:%s", dep.ecrRepoURL, d.DeploymentID)
	port := int32(d.Port)
	if port == 0 {
		port = models.DefaultPort
	}

	taskDefARN, err := dep.cluster.RegisterAppTaskDefinition(ctx, d.ServiceName, d.DeploymentID, image, port)
	if err != nil {
		return err
	}

	if err := dep.cluster.EnsureService(ctx, d.ServiceID, d.ServiceName, taskDefARN); err != nil {
		return err
	}

	dep.status.Set(ctx, d.DeploymentID, models.StatusRunning, map[string]any{
		"ecsService":        d.ServiceID,
		"ecsLogGroup":       dep.cluster.LogGroup(),
		"taskDefinitionArn": taskDefARN,
	})

	dep.promote(ctx, d)
	return nil
}

// promote marks the previous active deployment SUPERSEDED and records
// this one on the service row. Promotion failures never fail the
// rollout: the new tasks are already serving, so the worst case is a
// stale pointer that the next deployment repairs.
func (dep *Deployer) promote(ctx context.Context, d *models.Deployment) {
	svc, err := dep.services.GetByID(ctx, d.ServiceID)
	if err != nil {
		dep.logger.Error("service lookup failed during promotion",
			"serviceId", d.ServiceID,
			"error", err,
		)
	}

	if svc != nil && svc.ActiveDeploymentID != "" && svc.ActiveDeploymentID != d.DeploymentID {
		dep.status.Set(ctx, svc.ActiveDeploymentID, models.StatusSuperseded, nil)
	}

	err = dep.services.Activate(ctx, &models.Service{
		ServiceID:          d.ServiceID,
		UserID:             d.UserID,
		ServiceName:        d.ServiceName,
		ActiveDeploymentID: d.DeploymentID,
		ServiceEndpoint:    fmt.Sprintf("https://%s/%s", dep.apiDomain, d.ServiceID),
	}, d.CreatedAt)
	if errors.Is(err, repository.ErrConditionFailed) {
		// A newer deployment won the race; its promotion stands.
		dep.logger.Info("promotion skipped, newer deployment active",
			"deploymentId", d.DeploymentID,
			"serviceId", d.ServiceID,
		)
		return
	}
	if err != nil {
		dep.logger.Error("service promotion failed",
			"deploymentId", d.DeploymentID,
			"serviceId", d.ServiceID,
			"error", err,
		)
	}
}
