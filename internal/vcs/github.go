// Package vcs opens the optional pull request that follows spec.md §4.L
// step 8, through the GitHub API. The local commit and push are not done
// here: internal/verify runs git for those. GitHubIntegration is adapted
// from the teacher's types.go GitHubIntegration: same
// oauth2.StaticTokenSource-backed go-github client, generalized from a
// CI-failure-fix branch helper to a branch/file client that
// PullRequestEngine drives.
package vcs

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v45/github"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// GitHubIntegration wraps a token-authenticated go-github client scoped
// to one repository.
type GitHubIntegration struct {
	client    *github.Client
	repoOwner string
	repoName  string
	logger    *logrus.Logger
}

// NewGitHubIntegration creates a GitHubIntegration from a plaintext
// token. Callers that receive the token from a secret manager plaintext
// it before calling this constructor, keeping this package free of any
// particular secret-storage dependency.
func NewGitHubIntegration(ctx context.Context, token, owner, name string, logger *logrus.Logger) (*GitHubIntegration, error) {
	if !strings.HasPrefix(token, "ghp_") && !strings.HasPrefix(token, "gho_") && !strings.HasPrefix(token, "github_pat_") {
		return nil, fmt.Errorf("vcs: invalid github token format")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)

	return &GitHubIntegration{
		client:    github.NewClient(tc),
		repoOwner: owner,
		repoName:  name,
		logger:    logger,
	}, nil
}

// DefaultBranchRef fetches the head SHA of the named branch, used as the
// base for a new fix branch.
func (g *GitHubIntegration) DefaultBranchRef(ctx context.Context, branch string) (string, error) {
	ref, _, err := g.client.Git.GetRef(ctx, g.repoOwner, g.repoName, "heads/"+branch)
	if err != nil {
		return "", fmt.Errorf("vcs: get ref heads/%s: %w", branch, err)
	}
	return ref.GetObject().GetSHA(), nil
}

// CreateBranch creates a new branch named branch pointing at fromSHA.
func (g *GitHubIntegration) CreateBranch(ctx context.Context, branch, fromSHA string) error {
	ref := &github.Reference{
		Ref:    github.String("refs/heads/" + branch),
		Object: &github.GitObject{SHA: github.String(fromSHA)},
	}
	if _, _, err := g.client.Git.CreateRef(ctx, g.repoOwner, g.repoName, ref); err != nil {
		return fmt.Errorf("vcs: create branch %q: %w", branch, err)
	}
	return nil
}

// DeleteBranch removes a branch, used to clean up after a rolled-back
// cycle (spec.md §4.L "rollback").
func (g *GitHubIntegration) DeleteBranch(ctx context.Context, branch string) error {
	if _, err := g.client.Git.DeleteRef(ctx, g.repoOwner, g.repoName, "heads/"+branch); err != nil {
		return fmt.Errorf("vcs: delete branch %q: %w", branch, err)
	}
	return nil
}

// PutFile creates or updates a single file on branch via the contents
// API (grounded on the teacher's applyFileChange GetContents/
// CreateFile/UpdateFile dispatch).
func (g *GitHubIntegration) PutFile(ctx context.Context, branch, path, content, message string) error {
	opts := &github.RepositoryContentGetOptions{Ref: branch}
	existing, _, _, err := g.client.Repositories.GetContents(ctx, g.repoOwner, g.repoName, path, opts)

	fileOpts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: []byte(content),
		Branch:  github.String(branch),
	}
	if err == nil && existing != nil {
		fileOpts.SHA = existing.SHA
		_, _, err = g.client.Repositories.UpdateFile(ctx, g.repoOwner, g.repoName, path, fileOpts)
	} else {
		_, _, err = g.client.Repositories.CreateFile(ctx, g.repoOwner, g.repoName, path, fileOpts)
	}
	if err != nil {
		return fmt.Errorf("vcs: put file %q: %w", path, err)
	}
	return nil
}

// DeleteFile removes path from branch.
func (g *GitHubIntegration) DeleteFile(ctx context.Context, branch, path, message string) error {
	existing, _, _, err := g.client.Repositories.GetContents(ctx, g.repoOwner, g.repoName, path, &github.RepositoryContentGetOptions{Ref: branch})
	if err != nil {
		return fmt.Errorf("vcs: lookup %q before delete: %w", path, err)
	}
	_, _, err = g.client.Repositories.DeleteFile(ctx, g.repoOwner, g.repoName, path, &github.RepositoryContentFileOptions{
		Message: github.String(message),
		SHA:     existing.SHA,
		Branch:  github.String(branch),
	})
	if err != nil {
		return fmt.Errorf("vcs: delete file %q: %w", path, err)
	}
	return nil
}
