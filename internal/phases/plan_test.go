package phases

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cycleforge/agent/internal/aiprovider"
	"github.com/cycleforge/agent/internal/cycle"
)

type stubChatClient struct {
	content string
	err     error
}

func (s stubChatClient) Chat(ctx context.Context, req aiprovider.Request) (*aiprovider.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &aiprovider.Response{Content: s.content}, nil
}

func TestPlan_NoTargetStops(t *testing.T) {
	p := NewPlan(nil)
	cc := cycle.New("c1", time.Now())

	result, err := p.Execute(context.Background(), cc)
	require.NoError(t, err)
	assert.True(t, result.ShouldStop)
	assert.False(t, result.Success)
}

func TestPlan_IssuePreferredOverImprovement(t *testing.T) {
	p := NewPlan(nil)
	cc := cycle.New("c1", time.Now())
	cc.Issues = []cycle.Issue{{ID: "i1", Type: cycle.IssueSecurityIssue, Message: "sql injection", File: "db.go"}}
	cc.Improvements = []cycle.Improvement{{ID: "imp1", Description: "tidy logging", Priority: cycle.PriorityHigh}}

	result, err := p.Execute(context.Background(), cc)
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.NotNil(t, cc.Plan)
	assert.Equal(t, "i1", cc.Plan.TargetIssueID)
	assert.Equal(t, cycle.RiskHigh, cc.Plan.Risk)
	assert.Equal(t, []string{"db.go"}, cc.Plan.AffectedFiles)
}

func TestPlan_AIStepsParsed(t *testing.T) {
	ai := stubChatClient{content: "1. inspect the query builder\n2. add parameter binding\n"}
	p := NewPlan(ai)
	cc := cycle.New("c1", time.Now())
	cc.Issues = []cycle.Issue{{ID: "i1", Type: cycle.IssueBuildError, Message: "boom", File: "db.go"}}

	result, err := p.Execute(context.Background(), cc)
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, cc.Plan.Steps, 2)
	assert.Equal(t, "inspect the query builder", cc.Plan.Steps[0].Description)
}
