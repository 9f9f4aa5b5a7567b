package verify

import (
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
)

// detectImportCycles scans workspaceRoot's Go packages for an import cycle
// within the module itself (spec.md §4.L step 5 "post-build integrity...
// circular-dependency detection"). It returns the cycle as an ordered list
// of package import paths, or nil if none is found. Non-Go workspaces (no
// go.mod) are skipped — this check is Go-specific, unlike the rest of the
// Verifier's build/test dispatch.
func detectImportCycles(workspaceRoot string) ([]string, error) {
	modulePath, err := readModulePath(workspaceRoot)
	if err != nil || modulePath == "" {
		return nil, nil
	}

	graph, err := buildImportGraph(workspaceRoot, modulePath)
	if err != nil {
		return nil, err
	}

	visited := make(map[string]int) // 0=unvisited,1=in-stack,2=done
	var stack []string
	var cycle []string

	var visit func(pkg string) bool
	visit = func(pkg string) bool {
		visited[pkg] = 1
		stack = append(stack, pkg)
		for _, dep := range graph[pkg] {
			switch visited[dep] {
			case 1:
				cycle = append(append([]string{}, stack...), dep)
				return true
			case 0:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		visited[pkg] = 2
		return false
	}

	for pkg := range graph {
		if visited[pkg] == 0 && visit(pkg) {
			return cycle, nil
		}
	}
	return nil, nil
}

func readModulePath(workspaceRoot string) (string, error) {
	data, err := os.ReadFile(filepath.Join(workspaceRoot, "go.mod"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "module ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "module")), nil
		}
	}
	return "", fmt.Errorf("verify: go.mod has no module directive")
}

// buildImportGraph maps each local package's import path to the local
// package import paths it imports, ignoring external/stdlib imports.
func buildImportGraph(workspaceRoot, modulePath string) (map[string][]string, error) {
	graph := make(map[string][]string)
	fset := token.NewFileSet()

	err := filepath.Walk(workspaceRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if info.Name() == "_examples" || info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}

		dir := filepath.Dir(path)
		rel, relErr := filepath.Rel(workspaceRoot, dir)
		if relErr != nil {
			return nil
		}
		pkgPath := modulePath
		if rel != "." {
			pkgPath = modulePath + "/" + filepath.ToSlash(rel)
		}

		f, perr := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if perr != nil {
			return nil
		}
		for _, imp := range f.Imports {
			importPath := strings.Trim(imp.Path.Value, `"`)
			if importPath == modulePath || strings.HasPrefix(importPath, modulePath+"/") {
				graph[pkgPath] = appendUnique(graph[pkgPath], importPath)
			}
		}
		if _, ok := graph[pkgPath]; !ok {
			graph[pkgPath] = nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return graph, nil
}

func appendUnique(in []string, v string) []string {
	for _, existing := range in {
		if existing == v {
			return in
		}
	}
	return append(in, v)
}
