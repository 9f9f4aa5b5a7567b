// Package sandbox runs the project's build/test/lint commands inside an
// isolated Dagger container, so the Verifier's auto-repair loop (spec.md
// §4.L) never runs untrusted AI-written code against the host. Grounded on
// the teacher's test_engine.go (TestEngine.createTestContainer/runBuild/
// runTestSuite) and its dagger_mocks.go ContainerProvider abstraction, which
// this package keeps so the sandbox can be exercised without a live Dagger
// engine in tests.
package sandbox

import (
	"context"
	"fmt"
	"time"

	"dagger.io/dagger"
)

// RunResult is the captured outcome of one command run in the sandbox,
// feeding the Verifier's error-line parser (spec.md §4.L step 1).
type RunResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Passed reports whether the command exited zero.
func (r RunResult) Passed() bool {
	return r.ExitCode == 0
}

// Container abstracts the handful of Dagger container operations the
// sandbox needs, matching the teacher's ContainerInterface so a fake can
// stand in for dagger.Container in tests.
type Container interface {
	From(image string) Container
	WithWorkdir(path string) Container
	WithDirectory(path, hostPath string) Container
	WithEnvVariable(key, value string) Container
	WithExec(args []string) Container
	Run(ctx context.Context) (RunResult, error)
}

// Provider creates fresh containers, matching the teacher's
// ContainerProvider — swapped for a mock in tests.
type Provider interface {
	NewContainer() Container
}

// Sandbox runs commands against a workspace directory inside containers
// produced by a Provider.
type Sandbox struct {
	provider  Provider
	baseImage string
}

// New creates a Sandbox backed by provider, using baseImage as the
// container's starting image (e.g. "golang:1.22-bookworm").
func New(provider Provider, baseImage string) *Sandbox {
	return &Sandbox{provider: provider, baseImage: baseImage}
}

// Connect opens a session against a local or remote Dagger engine and
// returns a Sandbox backed by it. Callers must call the returned Closer to
// release the engine session.
func Connect(ctx context.Context, baseImage string) (*Sandbox, func() error, error) {
	client, err := dagger.Connect(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("sandbox: connect to dagger engine: %w", err)
	}
	provider := &engineProvider{client: client}
	return New(provider, baseImage), client.Close, nil
}

// Run mounts workspaceDir at /workspace, sets env, and executes command,
// returning its captured result. Command failures (non-zero exit) are
// returned as a RunResult, not an error — only a sandbox/transport failure
// (e.g. the engine connection drops) is returned as an error.
func (s *Sandbox) Run(ctx context.Context, workspaceDir string, command []string, env map[string]string) (RunResult, error) {
	start := time.Now()

	c := s.provider.NewContainer().
		From(s.baseImage).
		WithDirectory("/workspace", workspaceDir).
		WithWorkdir("/workspace")

	for k, v := range env {
		c = c.WithEnvVariable(k, v)
	}

	result, err := c.WithExec(command).Run(ctx)
	result.Duration = time.Since(start)
	return result, err
}
