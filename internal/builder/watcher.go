package builder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	cbtypes "github.com/aws/aws-sdk-go-v2/service/codebuild/types"
)

// batchGetLimit is the BatchGetBuilds request ceiling.
const batchGetLimit = 100

// CompletionFunc receives the outcome of a finished build. succeeded is
// true only for SUCCEEDED; FAILED, FAULT, STOPPED and TIMED_OUT all
// count as failures.
type CompletionFunc func(ctx context.Context, deploymentID string, succeeded bool)

// Watcher polls CodeBuild for the completion of tracked builds and
// hands each terminal outcome to the completion callback exactly once.
type Watcher struct {
	cb       codebuildAPI
	interval time.Duration
	onDone   CompletionFunc
	logger   *slog.Logger

	mu      sync.Mutex
	tracked map[string]string // buildID -> deploymentID
}

// NewWatcher creates a build watcher. Run must be called to start polling.
func NewWatcher(cb codebuildAPI, interval time.Duration, onDone CompletionFunc, logger *slog.Logger) *Watcher {
	return &Watcher{
		cb:       cb,
		interval: interval,
		onDone:   onDone,
		logger:   logger,
		tracked:  make(map[string]string),
	}
}

// Track registers a started build for completion polling.
func (w *Watcher) Track(buildID, deploymentID string) {
	if buildID == "" {
		return
	}
	w.mu.Lock()
	w.tracked[buildID] = deploymentID
	w.mu.Unlock()
}

// Run polls until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll fetches the status of every tracked build and dispatches
// completions. Builds that vanished from CodeBuild are dropped as
// failures so their deployments do not hang until the timeout sweep.
func (w *Watcher) poll(ctx context.Context) {
	w.mu.Lock()
	ids := make([]string, 0, len(w.tracked))
	for id := range w.tracked {
		ids = append(ids, id)
	}
	w.mu.Unlock()

	if len(ids) == 0 {
		return
	}

	for start := 0; start < len(ids); start += batchGetLimit {
		end := start + batchGetLimit
		if end > len(ids) {
			end = len(ids)
		}

		out, err := w.cb.BatchGetBuilds(ctx, &codebuild.BatchGetBuildsInput{Ids: ids[start:end]})
		if err != nil {
			w.logger.Error("build status poll failed", "error", err, "builds", len(ids[start:end]))
			continue
		}

		for _, build := range out.Builds {
			if build.Id == nil || build.BuildStatus == cbtypes.StatusTypeInProgress {
				continue
			}
			w.complete(ctx, *build.Id, build.BuildStatus == cbtypes.StatusTypeSucceeded)
		}
		for _, missing := range out.BuildsNotFound {
			w.logger.Warn("tracked build not found", "buildId", missing)
			w.complete(ctx, missing, false)
		}
	}
}

// complete removes the build from tracking and fires the callback. The
// delete-then-check ordering makes a second completion for the same
// build a no-op.
func (w *Watcher) complete(ctx context.Context, buildID string, succeeded bool) {
	w.mu.Lock()
	deploymentID, ok := w.tracked[buildID]
	delete(w.tracked, buildID)
	w.mu.Unlock()

	if !ok {
		return
	}

	w.logger.Info("build finished",
		"buildId", buildID,
		"deploymentId", deploymentID,
		"succeeded", succeeded,
	)
	w.onDone(ctx, deploymentID, succeeded)
}
