package vcs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cycleforge/agent/internal/cycle"
)

func TestCommitMessage(t *testing.T) {
	msg := commitMessage(cycle.Change{ChangeType: cycle.ChangeModify, Summary: "remove unused import"})
	assert.Equal(t, "modify: remove unused import", msg)
}

func TestCaseTitle(t *testing.T) {
	assert.Equal(t, "Modify", caseTitle("modify"))
}

func TestBranchName(t *testing.T) {
	p := &PullRequestEngine{}
	cc := cycle.New("cycle-123", time.Now())
	assert.Equal(t, "cycleforge/cycle-cycle-123", p.branchName(cc))
}
