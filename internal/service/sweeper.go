package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/whaleray/control-plane/internal/models"
	"github.com/whaleray/control-plane/internal/repository"
)

// Sweeper moves deployments that have sat in an in-progress state past
// the timeout threshold to their _TIMEOUT variant. It runs lazily on
// read paths rather than on a clock, so a deployment can only be
// observed as stale, never reported as stale while untouched.
type Sweeper struct {
	repo    repository.DeploymentRepository
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewSweeper creates a sweeper with the configured orphan threshold.
func NewSweeper(repo repository.DeploymentRepository, timeout time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{repo: repo, timeout: timeout, logger: logger, now: time.Now}
}

// Sweep inspects a freshly read page of deployments and times out the
// stale ones. The passed slice is mutated in place so the caller
// returns the post-sweep view without a second read.
func (s *Sweeper) Sweep(ctx context.Context, deployments []*models.Deployment) {
	cutoff := s.now().Add(-s.timeout)

	for _, d := range deployments {
		if !d.Status.InProgress() || !d.UpdatedAt.Before(cutoff) {
			continue
		}

		timedOut := d.Status.TimeoutStatus()
		if err := s.repo.UpdateStatus(ctx, d.DeploymentID, timedOut, nil); err != nil {
			s.logger.Error("timeout sweep failed",
				"deploymentId", d.DeploymentID,
				"error", err,
			)
			continue
		}

		s.logger.Warn("deployment timed out",
			"deploymentId", d.DeploymentID,
			"was", d.Status,
			"idleSince", d.UpdatedAt,
		)
		d.Status = timedOut
	}
}
