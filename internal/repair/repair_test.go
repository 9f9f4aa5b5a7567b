package repair

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cycleforge/agent/internal/aiprovider"
	"github.com/cycleforge/agent/internal/breaker"
	"github.com/cycleforge/agent/internal/cycle"
)

func TestClassify_KnownKeywordsMapToExpectedCategory(t *testing.T) {
	cases := []struct {
		message  string
		category cycle.TroubleCategory
		severity cycle.Severity
	}{
		{"panic: runtime error: index out of range", cycle.CategoryRuntimeError, cycle.SeverityCritical},
		{"undefined: widget.Frobnicate", cycle.CategoryBuildError, cycle.SeverityHigh},
		{"cannot find package \"foo\"", cycle.CategoryDependencyError, cycle.SeverityHigh},
		{"something totally unrecognized happened", cycle.CategoryOther, cycle.SeverityMedium},
	}
	for _, tc := range cases {
		category, severity := classify(tc.message)
		assert.Equal(t, tc.category, category, tc.message)
		assert.Equal(t, tc.severity, severity, tc.message)
	}
}

func TestAggregator_ReportAutoClassifiesWhenBlank(t *testing.T) {
	dir := t.TempDir()
	agg := NewAggregator(filepath.Join(dir, "errors.json"))

	ae, err := agg.Report(ErrorReport{Message: "panic: nil pointer dereference", Source: "webhook"})
	require.NoError(t, err)
	assert.Equal(t, cycle.CategoryRuntimeError, ae.Category)
	assert.Equal(t, cycle.SeverityCritical, ae.Severity)
	assert.False(t, ae.Resolved)

	fetched, err := agg.Get(ae.ID)
	require.NoError(t, err)
	assert.Equal(t, ae.ID, fetched.ID)
}

func TestAggregator_ReportHonorsSuppliedClassification(t *testing.T) {
	dir := t.TempDir()
	agg := NewAggregator(filepath.Join(dir, "errors.json"))

	ae, err := agg.Report(ErrorReport{
		Message:  "panic: nil pointer dereference",
		Category: cycle.CategoryOther,
		Severity: cycle.SeverityLow,
	})
	require.NoError(t, err)
	assert.Equal(t, cycle.CategoryOther, ae.Category)
	assert.Equal(t, cycle.SeverityLow, ae.Severity)
}

func TestAggregator_MarkResolvedAndIncrementAttempts(t *testing.T) {
	dir := t.TempDir()
	agg := NewAggregator(filepath.Join(dir, "errors.json"))

	ae, err := agg.Report(ErrorReport{Message: "boom"})
	require.NoError(t, err)

	require.NoError(t, agg.IncrementAttempts(ae.ID))
	require.NoError(t, agg.MarkResolved(ae.ID))

	fetched, err := agg.Get(ae.ID)
	require.NoError(t, err)
	assert.True(t, fetched.Resolved)
	assert.NotNil(t, fetched.ResolvedAt)
	assert.Equal(t, 1, fetched.Attempts)
}

func TestRepairQueue_NextEnforcesAtMostOneInProgress(t *testing.T) {
	dir := t.TempDir()
	q := NewRepairQueue(filepath.Join(dir, "queue.json"))

	_, err := q.Schedule("err-1", cycle.PriorityHigh)
	require.NoError(t, err)
	_, err = q.Schedule("err-2", cycle.PriorityHigh)
	require.NoError(t, err)

	first, err := q.Next()
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "err-1", first.ErrorID)

	second, err := q.Next()
	require.NoError(t, err)
	assert.Nil(t, second, "a second in_progress task must not be picked while one is in flight")

	require.NoError(t, q.Complete(first.ID, true))

	third, err := q.Next()
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, "err-2", third.ErrorID)
}

func TestRepairQueue_ScheduleDedupsPendingTaskForSameError(t *testing.T) {
	dir := t.TempDir()
	q := NewRepairQueue(filepath.Join(dir, "queue.json"))

	first, err := q.Schedule("err-1", cycle.PriorityLow)
	require.NoError(t, err)
	second, err := q.Schedule("err-1", cycle.PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	tasks, err := q.List()
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestRepairQueue_NextPrefersHigherPriority(t *testing.T) {
	dir := t.TempDir()
	q := NewRepairQueue(filepath.Join(dir, "queue.json"))

	_, err := q.Schedule("err-low", cycle.PriorityLow)
	require.NoError(t, err)
	_, err = q.Schedule("err-high", cycle.PriorityHigh)
	require.NoError(t, err)

	next, err := q.Next()
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "err-high", next.ErrorID)
}

type stubChat struct {
	content string
	err     error
	calls   int
}

func (s *stubChat) Chat(ctx context.Context, req aiprovider.Request) (*aiprovider.Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &aiprovider.Response{Content: s.content}, nil
}

func newTestRepairer(t *testing.T, ai ChatClient) (*AutoRepairer, *Aggregator, *RepairQueue) {
	t.Helper()
	dir := t.TempDir()
	agg := NewAggregator(filepath.Join(dir, "errors.json"))
	q := NewRepairQueue(filepath.Join(dir, "queue.json"))
	br := breaker.NewRegistry(2, 50*time.Millisecond, nil, filepath.Join(dir, "breaker.json"))
	return NewAutoRepairer(q, agg, br, ai, nil), agg, q
}

func TestAutoRepairer_RunOnceResolvesOnSuccessfulRepair(t *testing.T) {
	repairer, agg, q := newTestRepairer(t, &stubChat{content: "applied a one-line fix"})

	ae, err := repairer.Schedule(ErrorReport{Message: "panic: boom", Source: "test"})
	require.NoError(t, err)

	attempted, err := repairer.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, attempted)

	fetched, err := agg.Get(ae.ID)
	require.NoError(t, err)
	assert.True(t, fetched.Resolved)

	tasks, err := q.List()
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, TaskResolved, tasks[0].Status)
}

func TestAutoRepairer_RunOnceNoTaskIsNoop(t *testing.T) {
	repairer, _, _ := newTestRepairer(t, &stubChat{content: "fix"})
	attempted, err := repairer.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, attempted)
}

func TestAutoRepairer_RunOnceDisabledIsNoop(t *testing.T) {
	repairer, _, _ := newTestRepairer(t, &stubChat{content: "fix"})
	_, err := repairer.Schedule(ErrorReport{Message: "boom"})
	require.NoError(t, err)

	repairer.SetEnabled(false)
	attempted, err := repairer.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, attempted)
}

func TestAutoRepairer_RunOnceRecordsFailureAndIncrementsAttempts(t *testing.T) {
	repairer, agg, q := newTestRepairer(t, &stubChat{err: errors.New("ai unavailable")})

	ae, err := repairer.Schedule(ErrorReport{Message: "boom"})
	require.NoError(t, err)

	attempted, err := repairer.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, attempted)

	fetched, err := agg.Get(ae.ID)
	require.NoError(t, err)
	assert.False(t, fetched.Resolved)
	assert.Equal(t, 1, fetched.Attempts)

	tasks, err := q.List()
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, TaskFailed, tasks[0].Status)
}

func TestAutoRepairer_RunOnceWithoutAIClientFails(t *testing.T) {
	repairer, _, _ := newTestRepairer(t, nil)
	_, err := repairer.Schedule(ErrorReport{Message: "boom"})
	require.NoError(t, err)

	attempted, err := repairer.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, attempted)
}

func TestAutoRepairer_IsRunningReflectsInFlightState(t *testing.T) {
	repairer, _, _ := newTestRepairer(t, &stubChat{content: "fix"})
	assert.False(t, repairer.IsRunning())
}
