package search

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/cycleforge/agent/internal/cycle"
)

// maxRelatedFiles bounds how many related files' contents are pulled into
// the result, keeping Phase 4 cheap even on a large tree.
const maxRelatedFiles = 3

// NotesProvider supplies prior-cycle notes about a file, typically backed
// by internal/trouble.Repository.
type NotesProvider interface {
	NotesFor(file string) []string
}

// identifierPattern extracts top-level declaration names across the handful
// of languages the sandbox framework table supports, used to find symbols
// related to the search target elsewhere in the tree.
var identifierPattern = regexp.MustCompile(`(?m)^\s*(?:func|type|class|def|export function|export class)\s+(\w+)`)

// Retriever implements Phase 4 — Search: a local filesystem scan for
// related symbols and file contents, optionally enriched by an MCP search
// server and a NotesProvider for prior-cycle context.
type Retriever struct {
	workspaceRoot string
	client        *Client
	notes         NotesProvider
	logger        *logrus.Logger
}

// NewRetriever creates a Retriever rooted at workspaceRoot. client and
// notes may be nil to disable their respective contributions.
func NewRetriever(workspaceRoot string, client *Client, notes NotesProvider, logger *logrus.Logger) *Retriever {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Retriever{workspaceRoot: workspaceRoot, client: client, notes: notes, logger: logger}
}

// Search retrieves context for target (a workspace-relative file path),
// populating a cycle.SearchResults.
func (r *Retriever) Search(ctx context.Context, target string) (*cycle.SearchResults, error) {
	fileContents := make(map[string]string)

	targetContent, err := os.ReadFile(filepath.Join(r.workspaceRoot, target))
	if err != nil {
		return nil, err
	}
	fileContents[target] = string(targetContent)

	identifiers := extractIdentifiers(string(targetContent))
	related := r.findRelatedFiles(target, identifiers, fileContents)

	if r.client != nil {
		mcpSymbols, err := r.searchViaMCP(ctx, target, identifiers)
		if err != nil {
			r.logger.WithError(err).Warn("search: mcp lookup failed, continuing with local results only")
		} else {
			related = append(related, mcpSymbols...)
		}
	}

	var priorNotes []string
	if r.notes != nil {
		priorNotes = r.notes.NotesFor(target)
	}

	sort.Strings(related)
	return &cycle.SearchResults{
		Target:          target,
		FileContents:    fileContents,
		RelatedSymbols:  dedupStrings(related),
		PriorCycleNotes: priorNotes,
	}, nil
}

// findRelatedFiles walks the workspace for other source files referencing
// any of identifiers, returning "file:symbol" entries and, for up to
// maxRelatedFiles of them, adding their contents to fileContents.
func (r *Retriever) findRelatedFiles(target string, identifiers []string, fileContents map[string]string) []string {
	var related []string
	added := 0

	_ = filepath.Walk(r.workspaceRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(r.workspaceRoot, path)
		if relErr != nil || rel == target || !isSourceFile(rel) {
			return nil
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		content := string(data)

		for _, id := range identifiers {
			if strings.Contains(content, id) {
				related = append(related, rel+":"+id)
				if added < maxRelatedFiles {
					if _, ok := fileContents[rel]; !ok {
						fileContents[rel] = content
						added++
					}
				}
				break
			}
		}
		return nil
	})

	return related
}

// searchViaMCP asks the connected MCP server for symbols related to target,
// expecting a JSON array of strings back.
func (r *Retriever) searchViaMCP(ctx context.Context, target string, identifiers []string) ([]string, error) {
	result, err := r.client.CallTool(ctx, "search_related_symbols", map[string]any{
		"file":        target,
		"identifiers": identifiers,
	})
	if err != nil {
		return nil, err
	}
	var symbols []string
	if err := parseToolResult(result, &symbols); err != nil {
		return nil, err
	}
	return symbols, nil
}

func extractIdentifiers(content string) []string {
	matches := identifierPattern.FindAllStringSubmatch(content, -1)
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m[1])
	}
	return ids
}

var sourceExtensions = map[string]bool{
	".go": true, ".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".py": true, ".java": true, ".rs": true,
}

func isSourceFile(path string) bool {
	return sourceExtensions[filepath.Ext(path)]
}

// IsSourceFile reports whether path's extension is one this package
// recognizes as source code, exported for other phases that need the same
// classification (e.g. phases.ImproveFind's marker scan).
func IsSourceFile(path string) bool { return isSourceFile(path) }

// WalkSourceFiles reads every recognized source file under root into a
// workspace-relative-path -> content map, skipping unreadable files rather
// than failing the whole walk.
func WalkSourceFiles(root string) (map[string]string, error) {
	files := make(map[string]string)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || !isSourceFile(rel) {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		files[rel] = string(data)
		return nil
	})
	return files, err
}

func dedupStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
