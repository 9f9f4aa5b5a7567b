package phases

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cycleforge/agent/internal/cycle"
	"github.com/cycleforge/agent/internal/safety"
)

func TestTestGen_GeneratesTestNextToSource(t *testing.T) {
	dir := t.TempDir()
	guard := safety.New(dir, 0, nil)
	p := NewTestGen(guard, nil, 3)

	cc := cycle.New("c1", time.Now())
	cc.ImplementedChanges = []cycle.Change{{File: "widget.go", ChangeType: cycle.ChangeCreate}}

	result, err := p.Execute(context.Background(), cc)
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, cc.ImplementedChanges, 2)
	assert.Equal(t, "tests/widget_test.go", cc.ImplementedChanges[1].File)

	data, rerr := os.ReadFile(filepath.Join(dir, "tests/widget_test.go"))
	require.NoError(t, rerr)
	assert.NotEmpty(t, data)
}

func TestTestGen_SkipsDeletedAndTestFiles(t *testing.T) {
	dir := t.TempDir()
	guard := safety.New(dir, 0, nil)
	p := NewTestGen(guard, nil, 3)

	cc := cycle.New("c1", time.Now())
	cc.ImplementedChanges = []cycle.Change{
		{File: "old.go", ChangeType: cycle.ChangeDelete},
		{File: "tests/widget_test.go", ChangeType: cycle.ChangeCreate},
	}

	result, err := p.Execute(context.Background(), cc)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Len(t, cc.ImplementedChanges, 2)
}

func TestTestPathFor(t *testing.T) {
	assert.Equal(t, "tests/internal/foo_test.go", testPathFor("internal/foo.go"))
}
