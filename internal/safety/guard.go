// Package safety is the Guard (spec.md §3 component E): the last line of
// defense between a generated Change and the filesystem. It normalizes and
// validates paths, enforces the protected-file allow/deny lists, and runs
// generated code content through structural and (optionally) AI review
// before a Change is ever applied.
package safety

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/cycleforge/agent/internal/cycle"
)

// strictlyProtected can never be modified, regardless of review outcome
// (spec.md §3 "strictly protected: never modified by any phase").
var strictlyProtected = []string{
	".git/**",
	".env",
	".env.*",
	"**/*.pem",
	"**/*.key",
	"go.sum",
}

// conditionallyProtected requires an explicit AI or human review pass
// before a Change touching them is accepted (spec.md §3 "conditionally
// protected: modifiable only after review").
var conditionallyProtected = []string{
	"go.mod",
	"**/config.json",
	"**/*.github/workflows/**",
	".gitignore",
}

// Reviewer runs the dual-review decision table (spec.md §4.F) over
// dangerous generated content, plus the Claude-only review protected-file
// changes require. A nil Reviewer makes both operations fail closed,
// matching the fail-closed default (spec.md §7 "when in doubt, refuse").
// *DualReviewer is the production implementation.
type Reviewer interface {
	ReviewChange(file, content string, warnings []string) (approved bool, reason string, err error)
	ReviewProtectedFile(file, description string) (approved bool, reason string, err error)
}

// rejectionLogger is implemented by reviewers (namely *DualReviewer) that
// persist an outright policy rejection — one that never reaches a
// reviewer call — to the AI review log (spec.md §8 scenario 4).
type rejectionLogger interface {
	LogRejection(file, decisionReason string)
}

// Guard validates every Change before it reaches the filesystem.
type Guard struct {
	workspaceRoot string
	maxLines      int
	reviewer      Reviewer
}

// New creates a Guard rooted at workspaceRoot. maxLines caps how many lines
// a single file's new content may contain (spec.md §6 Limits.maxLinesPerFile).
func New(workspaceRoot string, maxLines int, reviewer Reviewer) *Guard {
	return &Guard{workspaceRoot: workspaceRoot, maxLines: maxLines, reviewer: reviewer}
}

// duplicatePrefixSegments are the path segments a build tool occasionally
// doubles when it mis-resolves a relative path against the same root twice
// (e.g. "src/src/index.ts"), per spec.md §4.F NormalizePath.
var duplicatePrefixSegments = map[string]bool{
	"src": true, "workspace": true, "dist": true, "apps": true,
}

// CollapseDuplicatePrefix collapses a doubled leading segment such as
// "src/src/index.ts" -> "src/index.ts", for the handful of segment names
// build tools are known to double. Non-matching paths are returned as-is.
func CollapseDuplicatePrefix(rel string) string {
	slashed := filepath.ToSlash(rel)
	parts := strings.Split(slashed, "/")
	if len(parts) >= 2 && parts[0] == parts[1] && duplicatePrefixSegments[parts[0]] {
		return strings.Join(parts[1:], "/")
	}
	return slashed
}

// NormalizePath resolves rel against the workspace root and cleans it,
// collapsing duplicate segment prefixes first, without touching the
// filesystem.
func (g *Guard) NormalizePath(rel string) string {
	cleaned := filepath.Clean(strings.TrimPrefix(CollapseDuplicatePrefix(rel), "/"))
	return filepath.Join(g.workspaceRoot, cleaned)
}

// ValidatePath rejects any path that would escape the workspace root via
// ".." segments or an absolute path outside of it (spec.md §7 "path
// traversal is always a Fatal classification").
func (g *Guard) ValidatePath(rel string) error {
	if filepath.IsAbs(rel) && !strings.HasPrefix(filepath.Clean(rel), filepath.Clean(g.workspaceRoot)) {
		return fmt.Errorf("safety: absolute path %q escapes workspace root", rel)
	}
	full := g.NormalizePath(rel)
	root := filepath.Clean(g.workspaceRoot)
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return fmt.Errorf("safety: path %q escapes workspace root %q", rel, g.workspaceRoot)
	}
	return nil
}

// IsStrictlyProtected reports whether rel matches any never-touch pattern.
func (g *Guard) IsStrictlyProtected(rel string) bool {
	return matchesAny(strictlyProtected, rel)
}

// IsConditionallyProtected reports whether rel requires a review pass.
func (g *Guard) IsConditionallyProtected(rel string) bool {
	return matchesAny(conditionallyProtected, rel)
}

func matchesAny(patterns []string, rel string) bool {
	cleaned := filepath.ToSlash(strings.TrimPrefix(rel, "/"))
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, cleaned); err == nil && ok {
			return true
		}
		if filepath.Base(cleaned) == p {
			return true
		}
	}
	return false
}

// ValidateChange is the single gate every Change passes through before
// being applied (spec.md §4.F "implement", §3 component E). It rejects
// path traversal and strictly protected targets outright, and routes
// conditionally protected targets through ReviewProtectedFileChange.
func (g *Guard) ValidateChange(ch cycle.Change, newContent string) error {
	if err := g.ValidatePath(ch.File); err != nil {
		return err
	}
	if g.IsStrictlyProtected(ch.File) {
		if rl, ok := g.reviewer.(rejectionLogger); ok {
			rl.LogRejection(ch.File, "Protected file")
		}
		return fmt.Errorf("safety: %q is strictly protected and cannot be modified", ch.File)
	}

	warnings, err := g.ValidateCodeContent(newContent)
	if err != nil {
		return err
	}
	if len(warnings) > 0 {
		approved, reason, err := g.ValidateCodeWithAI(ch.File, newContent, warnings)
		if err != nil {
			return fmt.Errorf("safety: security review of %q failed: %w", ch.File, err)
		}
		if !approved {
			return fmt.Errorf("safety: change to %q rejected by security review: %s", ch.File, reason)
		}
	}

	if g.IsConditionallyProtected(ch.File) {
		approved, reason, err := g.ReviewProtectedFileChange(ch, newContent)
		if err != nil {
			return fmt.Errorf("safety: review of protected file %q failed: %w", ch.File, err)
		}
		if !approved {
			return fmt.Errorf("safety: change to protected file %q rejected: %s", ch.File, reason)
		}
	}
	return nil
}

// ValidateCodeContent runs structural checks that do not require an AI
// call: a line-count budget (hard cap) and spec.md §4.F's fixed pattern
// set ({eval(, exec(, child_process, rm -rf, process.exit, dynamic
// require(...+, spawn(, execSync(, writes to /etc, file:// fetch}).
// Unsafe content is reported as warnings, not an error — ValidateChange
// routes it through ValidateCodeWithAI for a review verdict.
func (g *Guard) ValidateCodeContent(content string) ([]string, error) {
	if g.maxLines > 0 {
		if n := strings.Count(content, "\n") + 1; n > g.maxLines {
			return nil, fmt.Errorf("safety: generated content has %d lines, exceeds limit of %d", n, g.maxLines)
		}
	}
	return DetectDangerousPatterns(content), nil
}

// ValidateCodeWithAI delegates to the configured Reviewer's dual-review
// decision table (spec.md §4.F) for a second opinion on content flagged
// by ValidateCodeContent. Used by the Verifier's auto-repair loop before
// accepting an AI-proposed patch (spec.md §4.L).
func (g *Guard) ValidateCodeWithAI(file, content string, warnings []string) (bool, string, error) {
	if g.reviewer == nil {
		return false, "no reviewer configured", nil
	}
	return g.reviewer.ReviewChange(file, content, warnings)
}

// ReviewProtectedFileChange requires Claude-only reviewer approval; absent
// a configured Reviewer it fails closed (spec.md §4.F
// "ReviewProtectedFileChange: Claude-only; without Claude, returns
// rejected").
func (g *Guard) ReviewProtectedFileChange(ch cycle.Change, newContent string) (bool, string, error) {
	if g.reviewer == nil {
		return false, "no reviewer configured, protected file changes require explicit review", nil
	}
	return g.reviewer.ReviewProtectedFile(ch.File, newContent)
}

// SafeWrite is the gate Phase 6 (implement) and Phase 7 (test-gen) write
// every generated artifact through (spec.md §4.K "Writes via SafeWrite(path,
// content, {validateSyntax:true})"): it runs ch through ValidateChange, then
// performs a temp-file-then-rename write so a crash mid-write never leaves
// a half-written source file, matching internal/store's atomic write
// convention.
func (g *Guard) SafeWrite(ch cycle.Change, content string) error {
	if err := g.ValidateChange(ch, content); err != nil {
		return err
	}
	full := g.NormalizePath(ch.File)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("safety: mkdir for %q: %w", ch.File, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".tmp-*")
	if err != nil {
		return fmt.Errorf("safety: create temp for %q: %w", ch.File, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("safety: write temp for %q: %w", ch.File, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("safety: close temp for %q: %w", ch.File, err)
	}
	if err := os.Rename(tmpPath, full); err != nil {
		return fmt.Errorf("safety: rename temp over %q: %w", ch.File, err)
	}
	return nil
}
