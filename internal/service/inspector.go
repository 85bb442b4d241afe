package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/whaleray/control-plane/internal/builder"
	"github.com/whaleray/control-plane/internal/github"
	"github.com/whaleray/control-plane/internal/inspect"
	"github.com/whaleray/control-plane/internal/models"
)

// repoReader is the slice of the GitHub client the inspector needs.
type repoReader interface {
	MintInstallationToken(ctx context.Context, installationID int64) (*github.InstallationToken, error)
	GetTree(ctx context.Context, token, repoFullName, ref string) (*github.Tree, error)
	GetRawContent(ctx context.Context, token, repoFullName, filePath, ref string) ([]byte, error)
}

// envResolver applies the env decision table before a build starts.
type envResolver interface {
	Resolve(ctx context.Context, userID, serviceID, content string, isReset bool) (string, error)
}

// buildStarter launches the CodeBuild job for an inspected deployment.
type buildStarter interface {
	Start(ctx context.Context, d *models.Deployment, envBlobPath string) (*builder.StartResult, error)
}

// buildTracker registers started builds for completion polling.
type buildTracker interface {
	Track(buildID, deploymentID string)
}

// PipelineInspector runs the INSPECTING stage: resolve the env blob,
// read the repository tree, detect the framework and hand off to the
// builder. Any failure lands the deployment in INSPECTING_FAIL with a
// reason the frontend can display.
type PipelineInspector struct {
	gh      repoReader
	vault   envResolver
	builder buildStarter
	watcher buildTracker
	status  *StatusMutator
	logger  *slog.Logger
}

// NewPipelineInspector creates an inspector.
func NewPipelineInspector(
	gh repoReader,
	vault envResolver,
	b buildStarter,
	watcher buildTracker,
	status *StatusMutator,
	logger *slog.Logger,
) *PipelineInspector {
	return &PipelineInspector{
		gh:      gh,
		vault:   vault,
		builder: b,
		watcher: watcher,
		status:  status,
		logger:  logger,
	}
}

// Inspect runs the full stage. It never returns an error: every
// outcome is recorded on the deployment row.
func (i *PipelineInspector) Inspect(ctx context.Context, d *models.Deployment) {
	if err := i.inspect(ctx, d); err != nil {
		i.logger.Warn("inspection failed",
			"deploymentId", d.DeploymentID,
			"repository", d.RepositoryFullName,
			"error", err,
		)
		extra := map[string]any{"errorMessage": err.Error()}
		if d.Framework != "" {
			extra["framework"] = d.Framework
		}
		i.status.Set(ctx, d.DeploymentID, models.StatusInspectingFail, extra)
	}
}

func (i *PipelineInspector) inspect(ctx context.Context, d *models.Deployment) error {
	envPath, err := i.vault.Resolve(ctx, d.UserID, d.ServiceID, d.EnvFileContent, d.IsReset)
	if err != nil {
		return err
	}

	token, err := i.gh.MintInstallationToken(ctx, d.InstallationID)
	if err != nil {
		return fmt.Errorf("mint installation token: %w", err)
	}

	tree, err := i.gh.GetTree(ctx, token.Token, d.RepositoryFullName, d.Branch)
	if err != nil {
		return err
	}
	structure := inspect.StructureFromTree(tree)

	project, err := i.findSpringProject(ctx, token.Token, d, structure)
	if err != nil {
		return err
	}

	d.Framework = inspect.FrameworkTag(project.Dir)
	d.SourceDir = project.Dir
	d.HasGradleWrapper = project.HasWrapper

	dockerfile, found := inspect.FindDockerfile(project.Dir, structure)
	d.BuildContext = dockerfile.BuildContext
	if found {
		d.DockerfilePath = dockerfile.Path
	}

	started, err := i.builder.Start(ctx, d, envPath)
	if err != nil {
		return err
	}
	i.watcher.Track(started.BuildID, d.DeploymentID)

	i.status.Set(ctx, d.DeploymentID, models.StatusBuilding, map[string]any{
		"framework":          d.Framework,
		"sourceDir":          d.SourceDir,
		"buildContext":       d.BuildContext,
		"dockerfilePath":     d.DockerfilePath,
		"hasGradleWrapper":   d.HasGradleWrapper,
		"codebuildProject":   started.Project,
		"codebuildLogGroup":  started.LogGroup,
		"codebuildLogStream": started.LogStream,
		"buildId":            started.BuildID,
		"port":               models.SpringBootPort,
	})
	return nil
}

// findSpringProject reads each discovered build.gradle and returns the
// lexicographically first Spring Boot project. A repository with gradle
// files but no Spring indicators is rejected naming what was detected.
func (i *PipelineInspector) findSpringProject(ctx context.Context, token string, d *models.Deployment, s *inspect.Structure) (*inspect.GradleProject, error) {
	projects := inspect.FindGradleProjects(s)
	if len(projects) == 0 {
		return nil, i.unsupported(s)
	}

	for idx := range projects {
		content, err := i.gh.GetRawContent(ctx, token, d.RepositoryFullName, projects[idx].GradleFile, d.Branch)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", projects[idx].GradleFile, err)
		}
		if inspect.IsSpringBootGradle(content) {
			return &projects[idx], nil
		}
	}
	return nil, i.unsupported(s)
}

func (i *PipelineInspector) unsupported(s *inspect.Structure) error {
	detected := inspect.DetectedFrameworks(s)
	if len(detected) == 0 {
		return fmt.Errorf("no supported framework detected in repository")
	}
	return fmt.Errorf("no deployable Spring Boot project found (detected: %s)",
		strings.Join(detected, ", "))
}
