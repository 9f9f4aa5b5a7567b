package verify

import (
	"os"
	"path/filepath"
)

// ignorableMarkers maps a build artifact path this repo's sandbox
// frameworks are known to produce to the .gitignore pattern it implies
// (spec.md §4.L step 7 "auto-detected ignorable patterns").
var ignorableMarkers = []struct {
	path    string
	pattern string
}{
	{"coverage.out", "coverage.out"},
	{"node_modules", "node_modules/"},
	{"dist", "dist/"},
	{"target", "target/"},
	{"__pycache__", "__pycache__/"},
	{".pytest_cache", ".pytest_cache/"},
}

// detectIgnorablePatterns reports which known build-artifact paths exist
// under workspaceRoot right now, as candidate .gitignore additions.
func detectIgnorablePatterns(workspaceRoot string) []string {
	var patterns []string
	for _, m := range ignorableMarkers {
		if _, err := os.Stat(filepath.Join(workspaceRoot, m.path)); err == nil {
			patterns = append(patterns, m.pattern)
		}
	}
	return patterns
}
