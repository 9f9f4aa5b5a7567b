package sandbox

import (
	"os"
	"path/filepath"
	"strings"
)

// Framework names the build/test/lint commands and base image for one
// language ecosystem, adapted from the teacher's TestFramework (minus the
// config-file/coverage-command fields the spec doesn't use).
type Framework struct {
	Name         string
	BaseImage    string
	BuildCommand []string
	TestCommand  []string
	LintCommand  []string
	Environment  map[string]string
}

var frameworks = map[string]*Framework{
	"golang": {
		Name:         "golang",
		BaseImage:    "golang:1.22-bookworm",
		BuildCommand: []string{"go", "build", "./..."},
		TestCommand:  []string{"go", "test", "./..."},
		LintCommand:  []string{"go", "vet", "./..."},
		Environment:  map[string]string{"GO111MODULE": "on", "CGO_ENABLED": "0"},
	},
	"nodejs": {
		Name:         "nodejs",
		BaseImage:    "node:20-bookworm",
		BuildCommand: []string{"npm", "run", "build"},
		TestCommand:  []string{"npm", "test"},
		LintCommand:  []string{"npm", "run", "lint"},
		Environment:  map[string]string{"NODE_ENV": "test"},
	},
	"python": {
		Name:         "python",
		BaseImage:    "python:3.12-bookworm",
		BuildCommand: []string{"pip", "install", "-e", "."},
		TestCommand:  []string{"pytest"},
		LintCommand:  []string{"flake8"},
		Environment:  map[string]string{"PYTHONPATH": "."},
	},
	"rust": {
		Name:         "rust",
		BaseImage:    "rust:1-bookworm",
		BuildCommand: []string{"cargo", "build"},
		TestCommand:  []string{"cargo", "test"},
		LintCommand:  []string{"cargo", "clippy"},
		Environment:  map[string]string{},
	},
	"generic": {
		Name:         "generic",
		BaseImage:    "debian:bookworm-slim",
		BuildCommand: []string{"make", "build"},
		TestCommand:  []string{"make", "test"},
		LintCommand:  []string{"make", "lint"},
		Environment:  map[string]string{},
	},
}

// fileMarkers maps a project marker file, checked in order, to the
// framework it indicates, matching the teacher's getFrameworkByFile switch.
var fileMarkers = []struct {
	file string
	name string
}{
	{"go.mod", "golang"},
	{"package.json", "nodejs"},
	{"requirements.txt", "python"},
	{"pyproject.toml", "python"},
	{"Cargo.toml", "rust"},
	{"Makefile", "generic"},
}

// Detect inspects workspaceRoot for marker files and returns the matching
// Framework, or the generic fallback if none match.
func Detect(workspaceRoot string) *Framework {
	for _, m := range fileMarkers {
		if _, err := os.Stat(filepath.Join(workspaceRoot, m.file)); err == nil {
			return frameworks[m.name]
		}
	}
	return frameworks["generic"]
}

// ByName looks up a framework by its registry key, for config-forced
// overrides of auto-detection.
func ByName(name string) (*Framework, bool) {
	f, ok := frameworks[strings.ToLower(name)]
	return f, ok
}
