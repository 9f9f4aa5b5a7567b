package queue

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cycleforge/agent/internal/cycle"
)

func newImprovement(typ, desc string, pri cycle.Priority) cycle.Improvement {
	return cycle.Improvement{Type: typ, Description: desc, Priority: pri, Source: "test"}
}

func TestEnqueue_DedupsSameTypeAndDescription(t *testing.T) {
	q := New(filepath.Join(t.TempDir(), "queue.json"))

	first, err := q.Enqueue(newImprovement("refactor", "simplify foo", cycle.PriorityMedium))
	require.NoError(t, err)

	second, err := q.Enqueue(newImprovement("refactor", "simplify foo", cycle.PriorityHigh))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	items, err := q.List()
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestDequeue_PrefersHighestPriority(t *testing.T) {
	q := New(filepath.Join(t.TempDir(), "queue.json"))
	_, err := q.Enqueue(newImprovement("a", "low one", cycle.PriorityLow))
	require.NoError(t, err)
	_, err = q.Enqueue(newImprovement("b", "high one", cycle.PriorityHigh))
	require.NoError(t, err)

	item, err := q.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "high one", item.Improvement.Description)
	assert.Equal(t, StatusScheduled, item.Status)
}

func TestDequeue_EmptyQueueReturnsNil(t *testing.T) {
	q := New(filepath.Join(t.TempDir(), "queue.json"))
	item, err := q.Dequeue()
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestTransition_ValidAndInvalid(t *testing.T) {
	q := New(filepath.Join(t.TempDir(), "queue.json"))
	item, err := q.Enqueue(newImprovement("a", "desc", cycle.PriorityMedium))
	require.NoError(t, err)

	require.NoError(t, q.Transition(item.ID, StatusScheduled))
	require.NoError(t, q.Transition(item.ID, StatusInProgress))
	require.NoError(t, q.Transition(item.ID, StatusCompleted))

	err = q.Transition(item.ID, StatusPending)
	assert.Error(t, err)
}

func TestCleanup_RemovesOldTerminalItems(t *testing.T) {
	q := New(filepath.Join(t.TempDir(), "queue.json"))
	item, err := q.Enqueue(newImprovement("a", "desc", cycle.PriorityMedium))
	require.NoError(t, err)
	require.NoError(t, q.Transition(item.ID, StatusScheduled))
	require.NoError(t, q.Transition(item.ID, StatusInProgress))
	require.NoError(t, q.Transition(item.ID, StatusCompleted))

	removed, err := q.Cleanup(0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	items, err := q.List()
	require.NoError(t, err)
	assert.Empty(t, items)
}
