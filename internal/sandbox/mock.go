package sandbox

import "context"

// MockResult configures what a mocked command invocation returns, matching
// the teacher's MockCommandResult.
type MockResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// MockProvider is a Provider that never touches a real Dagger engine,
// grounded on the teacher's MockContainerProvider/MockDaggerContainer. Tests
// register expected command outputs by the joined argv string.
type MockProvider struct {
	Outputs map[string]MockResult
	Calls   [][]string
}

// NewMockProvider creates an empty MockProvider; populate Outputs before use.
func NewMockProvider() *MockProvider {
	return &MockProvider{Outputs: make(map[string]MockResult)}
}

func (m *MockProvider) NewContainer() Container {
	return &mockContainer{provider: m}
}

// SetOutput registers the result a given argv (joined with a single space)
// should produce when executed.
func (m *MockProvider) SetOutput(argv []string, result MockResult) {
	m.Outputs[joinArgs(argv)] = result
}

type mockContainer struct {
	provider *MockProvider
	lastArgs []string
}

func (c *mockContainer) From(image string) Container                { return c }
func (c *mockContainer) WithWorkdir(path string) Container          { return c }
func (c *mockContainer) WithDirectory(path, hostPath string) Container { return c }
func (c *mockContainer) WithEnvVariable(key, value string) Container { return c }

func (c *mockContainer) WithExec(args []string) Container {
	c.provider.Calls = append(c.provider.Calls, args)
	return &mockContainer{provider: c.provider, lastArgs: args}
}

func (c *mockContainer) Run(ctx context.Context) (RunResult, error) {
	result, ok := c.provider.Outputs[joinArgs(c.lastArgs)]
	if !ok {
		return RunResult{ExitCode: 127, Stderr: "sandbox: no mock output registered for " + joinArgs(c.lastArgs)}, nil
	}
	return RunResult{ExitCode: result.ExitCode, Stdout: result.Stdout, Stderr: result.Stderr}, nil
}

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}
