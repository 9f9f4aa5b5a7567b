package vcs

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v45/github"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/cycleforge/agent/internal/cycle"
)

// PullRequest is the minimal shape a PullRequestEngine returns, independent
// of the go-github response type.
type PullRequest struct {
	Number int
	URL    string
	Branch string
}

// PullRequestEngine opens a pull request for one cycle's Changes, gated by
// config.Git.EnablePullRequest (spec.md §4.L steps 7-8, additive-only —
// the commit+push path does not depend on this engine running).
// Grounded on the teacher's pull_request_engine.go (branch/PR content
// generation, golang.org/x/text/cases title-casing of fix/change kinds),
// generalized from CI-failure-specific fields to a CycleContext summary.
type PullRequestEngine struct {
	gh     *GitHubIntegration
	logger *logrus.Logger
}

// NewPullRequestEngine creates a PullRequestEngine over gh.
func NewPullRequestEngine(gh *GitHubIntegration, logger *logrus.Logger) *PullRequestEngine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PullRequestEngine{gh: gh, logger: logger}
}

// CreateCyclePR creates a branch containing ctx's implemented changes and
// opens a pull request summarizing the cycle.
func (p *PullRequestEngine) CreateCyclePR(ctx context.Context, cc *cycle.Context, quality cycle.Quality, baseBranch string, contents map[string]string) (*PullRequest, error) {
	branch := p.branchName(cc)

	baseSHA, err := p.gh.DefaultBranchRef(ctx, baseBranch)
	if err != nil {
		return nil, err
	}
	if err := p.gh.CreateBranch(ctx, branch, baseSHA); err != nil {
		return nil, err
	}

	for _, ch := range cc.ImplementedChanges {
		content, ok := contents[ch.File]
		if ch.ChangeType == cycle.ChangeDelete {
			if err := p.gh.DeleteFile(ctx, branch, ch.File, commitMessage(ch)); err != nil {
				return nil, err
			}
			continue
		}
		if !ok {
			return nil, fmt.Errorf("vcs: no content supplied for changed file %q", ch.File)
		}
		if err := p.gh.PutFile(ctx, branch, ch.File, content, commitMessage(ch)); err != nil {
			return nil, err
		}
	}

	title := p.title(cc, quality)
	body := p.body(cc, quality)

	newPR := &github.NewPullRequest{
		Title: github.String(title),
		Head:  github.String(branch),
		Base:  github.String(baseBranch),
		Body:  github.String(body),
	}
	pr, _, err := p.gh.client.PullRequests.Create(ctx, p.gh.repoOwner, p.gh.repoName, newPR)
	if err != nil {
		return nil, fmt.Errorf("vcs: create pull request: %w", err)
	}

	p.logger.WithFields(logrus.Fields{"pr_number": pr.GetNumber(), "branch": branch}).Info("vcs: pull request created")

	return &PullRequest{Number: pr.GetNumber(), URL: pr.GetHTMLURL(), Branch: branch}, nil
}

func (p *PullRequestEngine) branchName(cc *cycle.Context) string {
	return fmt.Sprintf("cycleforge/cycle-%s", cc.CycleID)
}

func (p *PullRequestEngine) title(cc *cycle.Context, quality cycle.Quality) string {
	caser := cases.Title(language.English)
	return fmt.Sprintf("Automated cycle: %s (%d changes)", caser.String(string(quality)), len(cc.ImplementedChanges))
}

func (p *PullRequestEngine) body(cc *cycle.Context, quality cycle.Quality) string {
	var b strings.Builder
	b.WriteString("## Automated self-improvement cycle\n\n")
	fmt.Fprintf(&b, "Cycle ID: `%s`\n\n", cc.CycleID)
	fmt.Fprintf(&b, "Quality: %s\n\n", quality)
	b.WriteString("### Changes\n\n")
	for _, ch := range cc.ImplementedChanges {
		fmt.Fprintf(&b, "- **%s** `%s`: %s\n", caseTitle(string(ch.ChangeType)), ch.File, ch.Summary)
	}
	return b.String()
}

func caseTitle(s string) string {
	return cases.Title(language.English).String(s)
}

func commitMessage(ch cycle.Change) string {
	return fmt.Sprintf("%s: %s", ch.ChangeType, ch.Summary)
}
