package builder

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	cbtypes "github.com/aws/aws-sdk-go-v2/service/codebuild/types"

	"github.com/whaleray/control-plane/internal/models"
)

type fakeCodeBuild struct {
	startIn  *codebuild.StartBuildInput
	startOut *codebuild.StartBuildOutput
	startErr error

	batchIn  *codebuild.BatchGetBuildsInput
	batchOut *codebuild.BatchGetBuildsOutput
	batchErr error
}

func (f *fakeCodeBuild) StartBuild(ctx context.Context, in *codebuild.StartBuildInput, _ ...func(*codebuild.Options)) (*codebuild.StartBuildOutput, error) {
	f.startIn = in
	if f.startErr != nil {
		return nil, f.startErr
	}
	if f.startOut != nil {
		return f.startOut, nil
	}
	return &codebuild.StartBuildOutput{}, nil
}

func (f *fakeCodeBuild) BatchGetBuilds(ctx context.Context, in *codebuild.BatchGetBuildsInput, _ ...func(*codebuild.Options)) (*codebuild.BatchGetBuildsOutput, error) {
	f.batchIn = in
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	if f.batchOut != nil {
		return f.batchOut, nil
	}
	return &codebuild.BatchGetBuildsOutput{}, nil
}

func TestBuilder_ProjectFor(t *testing.T) {
	b := New(&fakeCodeBuild{}, "whaleray", "123.dkr.ecr.ap-northeast-2.amazonaws.com/whaleray")

	tests := []struct {
		framework string
		want      string
		wantOK    bool
	}{
		{"spring-boot", "whaleray-spring-boot", true},
		{"spring-boot:backend", "whaleray-spring-boot", true},
		{"nextjs", "", false},
		{"nodejs", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.framework, func(t *testing.T) {
			got, ok := b.ProjectFor(tt.framework)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ProjectFor(%q) = (%q, %v), want (%q, %v)", tt.framework, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestBuilder_Start(t *testing.T) {
	ctx := context.Background()

	deployment := &models.Deployment{
		DeploymentID:       "dep-1234",
		RepositoryFullName: "octo/app",
		Branch:             "main",
		Framework:          "spring-boot:backend",
		SourceDir:          "backend",
		BuildContext:       "backend",
		DockerfilePath:     "backend/Dockerfile",
		HasGradleWrapper:   true,
	}

	t.Run("starts the spring-boot project with full overrides", func(t *testing.T) {
		cb := &fakeCodeBuild{
			startOut: &codebuild.StartBuildOutput{
				Build: &cbtypes.Build{Id: aws.String("whaleray-spring-boot:build-1")},
			},
		}
		b := New(cb, "whaleray", "ecr.example.com/whaleray")

		result, err := b.Start(ctx, deployment, "/whaleray/u1/s1/DOTENV_BLOB")
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}

		in := cb.startIn
		if *in.ProjectName != "whaleray-spring-boot" {
			t.Errorf("ProjectName = %q", *in.ProjectName)
		}
		if *in.SourceVersion != "main" {
			t.Errorf("SourceVersion = %q", *in.SourceVersion)
		}
		if *in.SourceLocationOverride != "https://github.com/octo/app.git" {
			t.Errorf("SourceLocationOverride = %q", *in.SourceLocationOverride)
		}
		if *in.LogsConfigOverride.CloudWatchLogs.StreamName != "dep-1234" {
			t.Errorf("log stream = %q, want deployment id", *in.LogsConfigOverride.CloudWatchLogs.StreamName)
		}

		env := map[string]string{}
		for _, v := range in.EnvironmentVariablesOverride {
			env[*v.Name] = *v.Value
		}
		want := map[string]string{
			"DEPLOYMENT_ID":        "dep-1234",
			"ECR_IMAGE_URI":        "ecr.example.com/whaleray:dep-1234",
			"DOTENV_BLOB_SSM_PATH": "/whaleray/u1/s1/DOTENV_BLOB",
			"SOURCE_DIR":           "backend",
			"BUILD_CONTEXT":        "backend",
			"DOCKERFILE_PATH":      "backend/Dockerfile",
			"HAS_GRADLE_WRAPPER":   "true",
		}
		for name, value := range want {
			if env[name] != value {
				t.Errorf("env %s = %q, want %q", name, env[name], value)
			}
		}

		if result.BuildID != "whaleray-spring-boot:build-1" {
			t.Errorf("BuildID = %q", result.BuildID)
		}
		if result.LogGroup != "/aws/codebuild/whaleray-spring-boot" {
			t.Errorf("LogGroup = %q", result.LogGroup)
		}
		if result.LogStream != "dep-1234" {
			t.Errorf("LogStream = %q", result.LogStream)
		}
	})

	t.Run("unknown framework fails without calling codebuild", func(t *testing.T) {
		cb := &fakeCodeBuild{}
		b := New(cb, "whaleray", "ecr.example.com/whaleray")

		_, err := b.Start(ctx, &models.Deployment{Framework: "nextjs"}, "/path")
		if err == nil {
			t.Fatal("Start() expected error for unsupported framework")
		}
		if cb.startIn != nil {
			t.Error("StartBuild was called for an unsupported framework")
		}
	})
}
