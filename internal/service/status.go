// Package service provides business logic implementations.
package service

import (
	"context"
	"log/slog"

	"github.com/whaleray/control-plane/internal/middleware"
	"github.com/whaleray/control-plane/internal/models"
	"github.com/whaleray/control-plane/internal/repository"
)

// StatusMutator centralizes deployment status transitions. Pipeline
// workers must never die on a bookkeeping write, so failures are logged
// and swallowed; the timeout sweeper catches rows that drift.
type StatusMutator struct {
	repo   repository.DeploymentRepository
	logger *slog.Logger
}

// NewStatusMutator creates a status mutator.
func NewStatusMutator(repo repository.DeploymentRepository, logger *slog.Logger) *StatusMutator {
	return &StatusMutator{repo: repo, logger: logger}
}

// Set transitions the deployment and attaches the extra fields in the
// same write.
func (m *StatusMutator) Set(ctx context.Context, deploymentID string, status models.DeploymentStatus, extra map[string]any) {
	if err := m.repo.UpdateStatus(ctx, deploymentID, status, extra); err != nil {
		m.logger.Error("status update failed",
			"deploymentId", deploymentID,
			"status", status,
			"error", err,
		)
		return
	}
	m.logger.Info("deployment status updated",
		"deploymentId", deploymentID,
		"status", status,
	)
	if status.Terminal() {
		middleware.ObserveDeploymentFinished(string(status))
	}
}

// Fail marks the deployment failed with a human-readable reason.
func (m *StatusMutator) Fail(ctx context.Context, deploymentID string, status models.DeploymentStatus, reason string) {
	m.Set(ctx, deploymentID, status, map[string]any{"errorMessage": reason})
}
