package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestAtomicStore_SaveThenLoad(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "data.json"), nil, nil)

	require.NoError(t, s.Save(sample{Name: "a", Count: 3}))

	var out sample
	require.NoError(t, s.Load(&out))
	assert.Equal(t, "a", out.Name)
	assert.Equal(t, 3, out.Count)
}

func TestAtomicStore_MissingFileLoadsEmpty(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "missing.json"), nil, nil)

	var out sample
	require.NoError(t, s.Load(&out))
	assert.Equal(t, sample{}, out)
}

func TestAtomicStore_InvalidJSONFallsBackToEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := New(path, nil, nil)
	var out sample
	require.NoError(t, s.Load(&out))
	assert.Equal(t, sample{}, out)
}

func TestAtomicStore_SchemaValidationRejection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"x","count":1}`), 0o644))

	rejectAll := func(data []byte) error {
		var probe map[string]any
		if err := json.Unmarshal(data, &probe); err != nil {
			return err
		}
		return assert.AnError
	}

	s := New(path, rejectAll, nil)
	var out sample
	require.NoError(t, s.Load(&out))
	assert.Equal(t, sample{}, out)
}

func TestAtomicStore_NoPartialWriteObservedConcurrently(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	s := New(path, nil, nil)
	require.NoError(t, s.Save(sample{Name: "seed", Count: 0}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = s.Save(sample{Name: "writer", Count: n})
		}(i)
	}
	wg.Wait()

	// A reader must always see syntactically valid JSON, never a half file.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var out sample
	assert.NoError(t, json.Unmarshal(raw, &out))
}

func TestAtomicStore_SingleFlightSharesInFlightLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	s := New(path, nil, nil)
	require.NoError(t, s.Save(sample{Name: "shared", Count: 7}))

	var wg sync.WaitGroup
	results := make([]sample, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			require.NoError(t, s.Load(&results[i]))
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "shared", r.Name)
		assert.Equal(t, 7, r.Count)
	}
}
