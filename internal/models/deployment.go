// Package models defines the domain entities persisted by the control plane.
package models

import "time"

// DeploymentStatus is the lifecycle state of a deployment.
type DeploymentStatus string

// Deployment lifecycle states. The success path is
// INSPECTING -> BUILDING -> DEPLOYING -> RUNNING; each in-progress state
// may diverge to its _FAIL or _TIMEOUT variant, and a RUNNING deployment
// may later become SUPERSEDED by a newer one for the same service.
const (
	StatusInspecting DeploymentStatus = "INSPECTING"
	StatusBuilding   DeploymentStatus = "BUILDING"
	StatusDeploying  DeploymentStatus = "DEPLOYING"
	StatusRunning    DeploymentStatus = "RUNNING"

	StatusInspectingFail DeploymentStatus = "INSPECTING_FAIL"
	StatusBuildingFail   DeploymentStatus = "BUILDING_FAIL"
	StatusDeployingFail  DeploymentStatus = "DEPLOYING_FAIL"

	StatusInspectingTimeout DeploymentStatus = "INSPECTING_TIMEOUT"
	StatusBuildingTimeout   DeploymentStatus = "BUILDING_TIMEOUT"
	StatusDeployingTimeout  DeploymentStatus = "DEPLOYING_TIMEOUT"

	StatusSuperseded DeploymentStatus = "SUPERSEDED"
)

// InProgress reports whether the status is a non-terminal pipeline state.
func (s DeploymentStatus) InProgress() bool {
	switch s {
	case StatusInspecting, StatusBuilding, StatusDeploying:
		return true
	}
	return false
}

// Terminal reports whether the status can never transition again,
// except for RUNNING which may still become SUPERSEDED.
func (s DeploymentStatus) Terminal() bool {
	return !s.InProgress()
}

// TimeoutStatus returns the _TIMEOUT variant for an in-progress status.
func (s DeploymentStatus) TimeoutStatus() DeploymentStatus {
	return s + "_TIMEOUT"
}

// Deployment is a single attempt to publish a (repository, branch) pair.
type Deployment struct {
	DeploymentID       string           `json:"deploymentId" dynamodbav:"deploymentId"`
	UserID             string           `json:"userId" dynamodbav:"userId"`
	ServiceID          string           `json:"serviceId" dynamodbav:"serviceId"`
	ServiceName        string           `json:"serviceName" dynamodbav:"serviceName"`
	RepositoryFullName string           `json:"repositoryFullName" dynamodbav:"repositoryFullName"`
	Branch             string           `json:"branch" dynamodbav:"branch"`
	InstallationID     int64            `json:"installationId" dynamodbav:"installationId"`
	Status             DeploymentStatus `json:"status" dynamodbav:"status"`

	// Env material travels with the intake row so the inspector can see
	// it without a second request. Cleared from API projections.
	EnvFileContent string `json:"-" dynamodbav:"envFileContent,omitempty"`
	IsReset        bool   `json:"-" dynamodbav:"isReset,omitempty"`

	Framework          string `json:"framework,omitempty" dynamodbav:"framework,omitempty"`
	SourceDir          string `json:"sourceDir,omitempty" dynamodbav:"sourceDir,omitempty"`
	BuildContext       string `json:"buildContext,omitempty" dynamodbav:"buildContext,omitempty"`
	DockerfilePath     string `json:"dockerfilePath,omitempty" dynamodbav:"dockerfilePath,omitempty"`
	HasGradleWrapper   bool   `json:"hasGradleWrapper,omitempty" dynamodbav:"hasGradleWrapper,omitempty"`
	CodeBuildProject   string `json:"codebuildProject,omitempty" dynamodbav:"codebuildProject,omitempty"`
	CodeBuildLogGroup  string `json:"codebuildLogGroup,omitempty" dynamodbav:"codebuildLogGroup,omitempty"`
	CodeBuildLogStream string `json:"codebuildLogStream,omitempty" dynamodbav:"codebuildLogStream,omitempty"`
	BuildID            string `json:"buildId,omitempty" dynamodbav:"buildId,omitempty"`
	TaskDefinitionArn  string `json:"taskDefinitionArn,omitempty" dynamodbav:"taskDefinitionArn,omitempty"`
	ECSService         string `json:"ecsService,omitempty" dynamodbav:"ecsService,omitempty"`
	ECSLogGroup        string `json:"ecsLogGroup,omitempty" dynamodbav:"ecsLogGroup,omitempty"`
	Port               int    `json:"port" dynamodbav:"port"`
	ErrorMessage       string `json:"errorMessage,omitempty" dynamodbav:"errorMessage,omitempty"`

	CreatedAt time.Time `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" dynamodbav:"updatedAt"`
}

// DefaultPort is the container port assumed for frameworks without an
// explicit convention. The Spring family listens on 8080.
const (
	DefaultPort    = 3000
	SpringBootPort = 8080
)
