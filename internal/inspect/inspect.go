// Package inspect contains the pure repository analysis used by the
// deployment inspector: framework detection, gradle project discovery
// and Dockerfile location. All functions operate on an in-memory
// snapshot of the repository tree; nothing here talks to the network.
package inspect

import (
	"sort"
	"strings"

	"github.com/whaleray/control-plane/internal/github"
)

// Structure is a flattened view of a repository tree.
type Structure struct {
	Files       map[string]bool
	Directories map[string]bool
}

// StructureFromTree flattens a recursive git tree into file and
// directory lookup maps.
func StructureFromTree(tree *github.Tree) *Structure {
	s := &Structure{
		Files:       make(map[string]bool),
		Directories: make(map[string]bool),
	}
	for _, entry := range tree.Entries {
		switch entry.Type {
		case "blob":
			s.Files[entry.Path] = true
		case "tree":
			s.Directories[entry.Path] = true
		}
	}
	return s
}

// GradleProject is one build.gradle location inside the repository.
type GradleProject struct {
	Dir        string // "." for the repository root
	GradleFile string
	HasWrapper bool
}

// FindGradleProjects returns every directory containing a build.gradle,
// sorted lexicographically so multi-project repositories resolve
// deterministically (root "." sorts first).
func FindGradleProjects(s *Structure) []GradleProject {
	var projects []GradleProject
	for path := range s.Files {
		if !strings.HasSuffix(path, "build.gradle") {
			continue
		}

		dir := "."
		if i := strings.LastIndex(path, "/"); i >= 0 {
			dir = path[:i]
		}

		wrapper := "gradlew"
		if dir != "." {
			wrapper = dir + "/gradlew"
		}

		projects = append(projects, GradleProject{
			Dir:        dir,
			GradleFile: path,
			HasWrapper: s.Files[wrapper],
		})
	}

	sort.Slice(projects, func(i, j int) bool {
		return projects[i].Dir < projects[j].Dir
	})
	return projects
}

// springBootIndicators mark a build.gradle as a Spring Boot project.
var springBootIndicators = []string{
	"org.springframework.boot",
	"spring-boot-starter",
	"org.springframework.boot:spring-boot-gradle-plugin",
	"@SpringBootApplication",
}

// IsSpringBootGradle reports whether build.gradle content declares a
// Spring Boot project.
func IsSpringBootGradle(content []byte) bool {
	text := string(content)
	for _, indicator := range springBootIndicators {
		if strings.Contains(text, indicator) {
			return true
		}
	}
	return false
}

// FrameworkTag encodes a detected Spring Boot project as "spring-boot"
// for the root or "spring-boot:<subdir>" for a nested project.
func FrameworkTag(dir string) string {
	if dir == "." {
		return "spring-boot"
	}
	return "spring-boot:" + dir
}

// DetectedFrameworks lists every framework recognizable in the tree.
// Only spring-boot maps to a builder; the rest exist so a rejection can
// name what was found.
func DetectedFrameworks(s *Structure) []string {
	var frameworks []string
	if len(FindGradleProjects(s)) > 0 {
		frameworks = append(frameworks, "spring-boot")
	}
	if s.Files["package.json"] {
		if s.Files["next.config.js"] || s.Files["next.config.mjs"] || s.Files["next.config.ts"] {
			frameworks = append(frameworks, "nextjs")
		} else {
			frameworks = append(frameworks, "nodejs")
		}
	}
	for path := range s.Files {
		if strings.HasSuffix(path, ".csproj") {
			frameworks = append(frameworks, "dotnet")
			break
		}
	}
	return frameworks
}

// Dockerfile is a located Dockerfile with its build context.
type Dockerfile struct {
	Path         string
	BuildContext string
}

// FindDockerfile searches the priority-ordered candidate locations for
// a gradle project's Dockerfile. Subdirectory projects fall back to the
// repository root. Returns ok=false when no Dockerfile exists, in which
// case the builder generates one and the build context is the gradle
// directory.
func FindDockerfile(gradleDir string, s *Structure) (Dockerfile, bool) {
	var searchPaths []string
	if gradleDir == "." {
		searchPaths = []string{
			"Dockerfile",
			"docker/Dockerfile",
			"src/main/docker/Dockerfile",
			".docker/Dockerfile",
			"deploy/Dockerfile",
		}
	} else {
		searchPaths = []string{
			gradleDir + "/Dockerfile",
			gradleDir + "/docker/Dockerfile",
			gradleDir + "/src/main/docker/Dockerfile",
			gradleDir + "/.docker/Dockerfile",
			"Dockerfile",
			"docker/Dockerfile",
			"deploy/Dockerfile",
			".docker/Dockerfile",
		}
	}

	for _, path := range searchPaths {
		if s.Files[path] {
			return Dockerfile{
				Path:         path,
				BuildContext: buildContext(path, gradleDir),
			}, true
		}
	}
	return Dockerfile{BuildContext: gradleDir}, false
}

// buildContext picks the Docker build context for a Dockerfile location.
func buildContext(dockerfilePath, gradleDir string) string {
	dockerfileDir := "."
	if i := strings.LastIndex(dockerfilePath, "/"); i >= 0 {
		dockerfileDir = dockerfilePath[:i]
	}

	switch {
	case gradleDir != "." && strings.HasPrefix(dockerfilePath, gradleDir+"/"):
		return dockerfileDir
	case dockerfileDir == gradleDir:
		return gradleDir
	default:
		return dockerfileDir
	}
}
