package sandbox

import (
	"context"

	"dagger.io/dagger"
)

// engineProvider creates containers against a live *dagger.Client, the
// production Provider returned by Connect.
type engineProvider struct {
	client *dagger.Client
}

func (p *engineProvider) NewContainer() Container {
	return &engineContainer{client: p.client, container: p.client.Container()}
}

// engineContainer wraps *dagger.Container to satisfy Container, mirroring
// the teacher's RealContainerWrapper.
type engineContainer struct {
	client    *dagger.Client
	container *dagger.Container
}

func (c *engineContainer) From(image string) Container {
	return &engineContainer{client: c.client, container: c.container.From(image)}
}

func (c *engineContainer) WithWorkdir(path string) Container {
	return &engineContainer{client: c.client, container: c.container.WithWorkdir(path)}
}

func (c *engineContainer) WithDirectory(path, hostPath string) Container {
	dir := c.client.Host().Directory(hostPath)
	return &engineContainer{client: c.client, container: c.container.WithDirectory(path, dir)}
}

func (c *engineContainer) WithEnvVariable(key, value string) Container {
	return &engineContainer{client: c.client, container: c.container.WithEnvVariable(key, value)}
}

func (c *engineContainer) WithExec(args []string) Container {
	exec := c.container.WithExec(args, dagger.ContainerWithExecOpts{
		Expect: dagger.ReturnTypeAny,
	})
	return &engineContainer{client: c.client, container: exec}
}

func (c *engineContainer) Run(ctx context.Context) (RunResult, error) {
	exitCode, err := c.container.ExitCode(ctx)
	if err != nil {
		return RunResult{}, err
	}
	stdout, err := c.container.Stdout(ctx)
	if err != nil {
		return RunResult{}, err
	}
	stderr, err := c.container.Stderr(ctx)
	if err != nil {
		return RunResult{}, err
	}
	return RunResult{ExitCode: exitCode, Stdout: stdout, Stderr: stderr}, nil
}
