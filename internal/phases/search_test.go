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
	"github.com/cycleforge/agent/internal/search"
)

func TestSearch_RetrievesContextForSelectedIssue(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n\nfunc helper() {}\n"), 0o644))

	retriever := search.NewRetriever(dir, nil, nil, nil)
	p := NewSearch(retriever)

	cc := cycle.New("c1", time.Now())
	cc.Issues = []cycle.Issue{{ID: "i1", Type: cycle.IssueBuildError, Message: "boom", File: "main.go"}}

	result, err := p.Execute(context.Background(), cc)
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.NotNil(t, cc.SearchResults)
	assert.Equal(t, "main.go", cc.SearchResults.Target)
}

func TestSearch_NoTargetSkipsGracefully(t *testing.T) {
	retriever := search.NewRetriever(t.TempDir(), nil, nil, nil)
	p := NewSearch(retriever)

	cc := cycle.New("c1", time.Now())
	result, err := p.Execute(context.Background(), cc)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Nil(t, cc.SearchResults)
}
