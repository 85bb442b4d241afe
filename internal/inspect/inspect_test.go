package inspect

import (
	"reflect"
	"testing"

	"github.com/whaleray/control-plane/internal/github"
)

func treeOf(entries ...github.TreeEntry) *github.Tree {
	return &github.Tree{Entries: entries}
}

func blob(path string) github.TreeEntry {
	return github.TreeEntry{Path: path, Type: "blob"}
}

func dir(path string) github.TreeEntry {
	return github.TreeEntry{Path: path, Type: "tree"}
}

func TestStructureFromTree(t *testing.T) {
	s := StructureFromTree(treeOf(
		blob("build.gradle"),
		blob("src/main/java/App.java"),
		dir("src"),
		dir("src/main"),
	))

	if !s.Files["build.gradle"] {
		t.Error("build.gradle not indexed as file")
	}
	if !s.Directories["src/main"] {
		t.Error("src/main not indexed as directory")
	}
	if s.Files["src"] {
		t.Error("directory indexed as file")
	}
}

func TestFindGradleProjects(t *testing.T) {
	t.Run("root project", func(t *testing.T) {
		s := StructureFromTree(treeOf(blob("build.gradle"), blob("gradlew")))

		projects := FindGradleProjects(s)
		if len(projects) != 1 {
			t.Fatalf("FindGradleProjects() returned %d projects, want 1", len(projects))
		}
		if projects[0].Dir != "." {
			t.Errorf("Dir = %q, want %q", projects[0].Dir, ".")
		}
		if !projects[0].HasWrapper {
			t.Error("HasWrapper = false, want true")
		}
	})

	t.Run("subdirectory project without wrapper", func(t *testing.T) {
		s := StructureFromTree(treeOf(blob("backend/build.gradle")))

		projects := FindGradleProjects(s)
		if len(projects) != 1 {
			t.Fatalf("FindGradleProjects() returned %d projects, want 1", len(projects))
		}
		if projects[0].Dir != "backend" {
			t.Errorf("Dir = %q, want %q", projects[0].Dir, "backend")
		}
		if projects[0].GradleFile != "backend/build.gradle" {
			t.Errorf("GradleFile = %q, want %q", projects[0].GradleFile, "backend/build.gradle")
		}
		if projects[0].HasWrapper {
			t.Error("HasWrapper = true, want false")
		}
	})

	t.Run("multi-project ordering is lexicographic with root first", func(t *testing.T) {
		s := StructureFromTree(treeOf(
			blob("svc-b/build.gradle"),
			blob("build.gradle"),
			blob("svc-a/build.gradle"),
		))

		projects := FindGradleProjects(s)
		got := make([]string, 0, len(projects))
		for _, p := range projects {
			got = append(got, p.Dir)
		}
		want := []string{".", "svc-a", "svc-b"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("project order = %v, want %v", got, want)
		}
	})

	t.Run("subdirectory wrapper detection", func(t *testing.T) {
		s := StructureFromTree(treeOf(
			blob("backend/build.gradle"),
			blob("backend/gradlew"),
		))

		projects := FindGradleProjects(s)
		if !projects[0].HasWrapper {
			t.Error("HasWrapper = false, want true for backend/gradlew")
		}
	})
}

func TestIsSpringBootGradle(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"boot plugin", `plugins { id 'org.springframework.boot' version '3.2.0' }`, true},
		{"starter dependency", `implementation 'org.springframework.boot:spring-boot-starter-web'`, true},
		{"plain java project", `plugins { id 'java' }`, false},
		{"empty file", ``, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSpringBootGradle([]byte(tt.content)); got != tt.want {
				t.Errorf("IsSpringBootGradle() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFrameworkTag(t *testing.T) {
	if got := FrameworkTag("."); got != "spring-boot" {
		t.Errorf("FrameworkTag(.) = %q, want %q", got, "spring-boot")
	}
	if got := FrameworkTag("backend"); got != "spring-boot:backend" {
		t.Errorf("FrameworkTag(backend) = %q, want %q", got, "spring-boot:backend")
	}
}

func TestDetectedFrameworks(t *testing.T) {
	tests := []struct {
		name    string
		entries []github.TreeEntry
		want    []string
	}{
		{
			name:    "gradle repo",
			entries: []github.TreeEntry{blob("build.gradle")},
			want:    []string{"spring-boot"},
		},
		{
			name:    "nextjs repo",
			entries: []github.TreeEntry{blob("package.json"), blob("next.config.js")},
			want:    []string{"nextjs"},
		},
		{
			name:    "plain node repo",
			entries: []github.TreeEntry{blob("package.json")},
			want:    []string{"nodejs"},
		},
		{
			name:    "dotnet repo",
			entries: []github.TreeEntry{blob("App/App.csproj")},
			want:    []string{"dotnet"},
		},
		{
			name:    "nothing recognizable",
			entries: []github.TreeEntry{blob("main.rs")},
			want:    nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectedFrameworks(StructureFromTree(treeOf(tt.entries...)))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DetectedFrameworks() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFindDockerfile(t *testing.T) {
	tests := []struct {
		name        string
		gradleDir   string
		files       []string
		wantOK      bool
		wantPath    string
		wantContext string
	}{
		{
			name:        "root dockerfile",
			gradleDir:   ".",
			files:       []string{"Dockerfile", "build.gradle"},
			wantOK:      true,
			wantPath:    "Dockerfile",
			wantContext: ".",
		},
		{
			name:        "docker subdirectory beats deploy",
			gradleDir:   ".",
			files:       []string{"deploy/Dockerfile", "docker/Dockerfile"},
			wantOK:      true,
			wantPath:    "docker/Dockerfile",
			wantContext: "docker",
		},
		{
			name:        "maven-style location",
			gradleDir:   ".",
			files:       []string{"src/main/docker/Dockerfile"},
			wantOK:      true,
			wantPath:    "src/main/docker/Dockerfile",
			wantContext: "src/main/docker",
		},
		{
			name:        "project-local dockerfile for subdirectory project",
			gradleDir:   "backend",
			files:       []string{"backend/Dockerfile", "Dockerfile"},
			wantOK:      true,
			wantPath:    "backend/Dockerfile",
			wantContext: "backend",
		},
		{
			name:        "subdirectory project falls back to repo root",
			gradleDir:   "backend",
			files:       []string{"Dockerfile"},
			wantOK:      true,
			wantPath:    "Dockerfile",
			wantContext: ".",
		},
		{
			name:        "no dockerfile keeps gradle dir as context",
			gradleDir:   "backend",
			files:       []string{"backend/build.gradle"},
			wantOK:      false,
			wantContext: "backend",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := make([]github.TreeEntry, 0, len(tt.files))
			for _, f := range tt.files {
				entries = append(entries, blob(f))
			}

			df, ok := FindDockerfile(tt.gradleDir, StructureFromTree(treeOf(entries...)))
			if ok != tt.wantOK {
				t.Fatalf("FindDockerfile() ok = %v, want %v", ok, tt.wantOK)
			}
			if df.Path != tt.wantPath {
				t.Errorf("Path = %q, want %q", df.Path, tt.wantPath)
			}
			if df.BuildContext != tt.wantContext {
				t.Errorf("BuildContext = %q, want %q", df.BuildContext, tt.wantContext)
			}
		})
	}
}
