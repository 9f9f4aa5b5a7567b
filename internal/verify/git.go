package verify

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// protectedBranches can never be pushed to directly without explicit
// operator opt-in (spec.md §4.L step 8).
var protectedBranches = map[string]bool{"main": true, "master": true}

// pushTimeout bounds how long a push may block (spec.md §4.L step 8).
const pushTimeout = 60 * time.Second

// runGit launches git as a plain argv command (spec.md §9 "argv-based
// subprocess launch" redesign note — no shell interpolation of any commit
// message or branch name).
func runGit(ctx context.Context, workspaceRoot string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = workspaceRoot
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("verify: git %s: %w: %s", strings.Join(args, " "), err, out)
	}
	return string(out), nil
}

// commit stages every pending change and commits with message, returning
// the new commit's short hash (spec.md §4.L step 7).
func commit(ctx context.Context, workspaceRoot, message string) (string, error) {
	if _, err := runGit(ctx, workspaceRoot, "add", "-A"); err != nil {
		return "", err
	}
	if _, err := runGit(ctx, workspaceRoot, "commit", "-m", message); err != nil {
		return "", err
	}
	hash, err := runGit(ctx, workspaceRoot, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(hash), nil
}

// currentBranch returns the checked-out branch name.
func currentBranch(ctx context.Context, workspaceRoot string) (string, error) {
	out, err := runGit(ctx, workspaceRoot, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// PushResult is the outcome of a successful push.
type PushResult struct {
	Remote string
	Branch string
}

// push pushes HEAD to remote, refusing protected branches unless
// allowProtected is set, and bounding the operation to pushTimeout
// (spec.md §4.L step 8).
func push(ctx context.Context, workspaceRoot, remote string, allowProtected bool) (*PushResult, error) {
	branch, err := currentBranch(ctx, workspaceRoot)
	if err != nil {
		return nil, err
	}
	if protectedBranches[branch] && !allowProtected {
		return nil, fmt.Errorf("verify: refusing to push protected branch %q (set git.allowProtectedBranchPush to override)", branch)
	}

	pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()

	if _, err := runGit(pushCtx, workspaceRoot, "push", remote, branch); err != nil {
		return nil, err
	}
	return &PushResult{Remote: remote, Branch: branch}, nil
}

// updateGitignore appends any of patterns not already present to
// .gitignore, creating it if absent, and reports whether it changed
// (spec.md §4.L step 7 "update .gitignore (auto-detected ignorable
// patterns)").
func updateGitignore(workspaceRoot string, patterns []string) (bool, error) {
	path := filepath.Join(workspaceRoot, ".gitignore")
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return false, err
	}

	lines := strings.Split(string(existing), "\n")
	present := make(map[string]bool, len(lines))
	for _, l := range lines {
		present[strings.TrimSpace(l)] = true
	}

	var toAdd []string
	for _, p := range patterns {
		if !present[p] {
			toAdd = append(toAdd, p)
		}
	}
	if len(toAdd) == 0 {
		return false, nil
	}

	content := string(existing)
	if len(content) > 0 && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += strings.Join(toAdd, "\n") + "\n"

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, err
	}
	return true, nil
}
