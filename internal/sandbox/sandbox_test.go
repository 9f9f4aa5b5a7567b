package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandbox_Run_PassesThroughExitCode(t *testing.T) {
	provider := NewMockProvider()
	provider.SetOutput([]string{"go", "test", "./..."}, MockResult{ExitCode: 0, Stdout: "ok"})

	s := New(provider, "golang:1.22-bookworm")
	result, err := s.Run(context.Background(), "/tmp/workspace", []string{"go", "test", "./..."}, nil)
	require.NoError(t, err)
	assert.True(t, result.Passed())
	assert.Equal(t, "ok", result.Stdout)
}

func TestSandbox_Run_NonZeroExit(t *testing.T) {
	provider := NewMockProvider()
	provider.SetOutput([]string{"go", "build", "./..."}, MockResult{ExitCode: 1, Stderr: "syntax error"})

	s := New(provider, "golang:1.22-bookworm")
	result, err := s.Run(context.Background(), "/tmp/workspace", []string{"go", "build", "./..."}, nil)
	require.NoError(t, err)
	assert.False(t, result.Passed())
	assert.Equal(t, "syntax error", result.Stderr)
}

func TestSandbox_Run_UnregisteredCommandReturns127(t *testing.T) {
	provider := NewMockProvider()
	s := New(provider, "golang:1.22-bookworm")
	result, err := s.Run(context.Background(), "/tmp/workspace", []string{"unknown"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 127, result.ExitCode)
}

func TestSandbox_Run_RecordsCall(t *testing.T) {
	provider := NewMockProvider()
	provider.SetOutput([]string{"make", "test"}, MockResult{ExitCode: 0})

	s := New(provider, "debian:bookworm-slim")
	_, err := s.Run(context.Background(), "/tmp/workspace", []string{"make", "test"}, map[string]string{"CI": "true"})
	require.NoError(t, err)
	require.Len(t, provider.Calls, 1)
	assert.Equal(t, []string{"make", "test"}, provider.Calls[0])
}
