// Package builder triggers CodeBuild image builds and watches them for
// completion.
package builder

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	cbtypes "github.com/aws/aws-sdk-go-v2/service/codebuild/types"

	"github.com/whaleray/control-plane/internal/models"
)

// codebuildAPI is the subset of the CodeBuild client the builder uses.
type codebuildAPI interface {
	StartBuild(ctx context.Context, params *codebuild.StartBuildInput, optFns ...func(*codebuild.Options)) (*codebuild.StartBuildOutput, error)
	BatchGetBuilds(ctx context.Context, params *codebuild.BatchGetBuildsInput, optFns ...func(*codebuild.Options)) (*codebuild.BatchGetBuildsOutput, error)
}

// Builder starts framework-specific CodeBuild projects.
type Builder struct {
	cb          codebuildAPI
	projectName string
	ecrRepoURL  string
}

// New creates a builder.
func New(cb codebuildAPI, projectName, ecrRepoURL string) *Builder {
	return &Builder{cb: cb, projectName: projectName, ecrRepoURL: ecrRepoURL}
}

// ProjectFor maps a framework tag to its CodeBuild project. Tags carry
// an optional subdirectory suffix ("spring-boot:backend"); only the
// base framework selects the project. Spring Boot is the only framework
// with a builder today.
func (b *Builder) ProjectFor(framework string) (string, bool) {
	base, _, _ := strings.Cut(framework, ":")
	if base == "spring-boot" {
		return b.projectName + "-spring-boot", true
	}
	return "", false
}

// StartResult carries the coordinates of a started build, attached to
// the deployment row on the BUILDING transition.
type StartResult struct {
	BuildID   string
	Project   string
	LogGroup  string
	LogStream string
}

// Start launches the build for an inspected deployment. The log stream
// is named after the deployment id so build logs are retrievable later.
func (b *Builder) Start(ctx context.Context, d *models.Deployment, envBlobPath string) (*StartResult, error) {
	project, ok := b.ProjectFor(d.Framework)
	if !ok {
		return nil, fmt.Errorf("framework %q was detected, but no corresponding build project is defined", d.Framework)
	}

	envVars := []cbtypes.EnvironmentVariable{
		{Name: aws.String("DEPLOYMENT_ID"), Value: aws.String(d.DeploymentID), Type: cbtypes.EnvironmentVariableTypePlaintext},
		{Name: aws.String("ECR_IMAGE_URI"), Value: aws.String(fmt.Sprintf("%s:%s", b.ecrRepoURL, d.DeploymentID)), Type: cbtypes.EnvironmentVariableTypePlaintext},
		{Name: aws.String("DOTENV_BLOB_SSM_PATH"), Value: aws.String(envBlobPath), Type: cbtypes.EnvironmentVariableTypePlaintext},
		{Name: aws.String("SOURCE_DIR"), Value: aws.String(d.SourceDir), Type: cbtypes.EnvironmentVariableTypePlaintext},
		{Name: aws.String("BUILD_CONTEXT"), Value: aws.String(d.BuildContext), Type: cbtypes.EnvironmentVariableTypePlaintext},
		{Name: aws.String("DOCKERFILE_PATH"), Value: aws.String(d.DockerfilePath), Type: cbtypes.EnvironmentVariableTypePlaintext},
		{Name: aws.String("HAS_GRADLE_WRAPPER"), Value: aws.String(strconv.FormatBool(d.HasGradleWrapper)), Type: cbtypes.EnvironmentVariableTypePlaintext},
	}

	out, err := b.cb.StartBuild(ctx, &codebuild.StartBuildInput{
		ProjectName:            aws.String(project),
		SourceVersion:          aws.String(d.Branch),
		SourceLocationOverride: aws.String(fmt.Sprintf("https://github.com/%s.git", d.RepositoryFullName)),
		LogsConfigOverride: &cbtypes.LogsConfig{
			CloudWatchLogs: &cbtypes.CloudWatchLogsConfig{
				Status:     cbtypes.LogsConfigStatusTypeEnabled,
				StreamName: aws.String(d.DeploymentID),
			},
		},
		EnvironmentVariablesOverride: envVars,
	})
	if err != nil {
		return nil, fmt.Errorf("start build for deployment %s: %w", d.DeploymentID, err)
	}

	result := &StartResult{
		Project:   project,
		LogGroup:  "/aws/codebuild/" + project,
		LogStream: d.DeploymentID,
	}
	if out.Build != nil && out.Build.Id != nil {
		result.BuildID = *out.Build.Id
	}
	return result, nil
}
