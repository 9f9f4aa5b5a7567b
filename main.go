// Package main provides the Agent Dagger module: a self-improvement agent
// that runs health-check, error-detect, improve-find, search, plan,
// implement, test-gen, and verify phases over a source tree, learning from
// each cycle's outcome and recording troubles it could not resolve.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dagger.io/dagger"
	"github.com/sirupsen/logrus"

	"github.com/cycleforge/agent/internal/aiprovider"
	"github.com/cycleforge/agent/internal/breaker"
	"github.com/cycleforge/agent/internal/config"
	"github.com/cycleforge/agent/internal/cycle"
	"github.com/cycleforge/agent/internal/events"
	"github.com/cycleforge/agent/internal/learning"
	"github.com/cycleforge/agent/internal/metrics"
	"github.com/cycleforge/agent/internal/orchestrator"
	"github.com/cycleforge/agent/internal/phases"
	"github.com/cycleforge/agent/internal/queue"
	"github.com/cycleforge/agent/internal/repair"
	"github.com/cycleforge/agent/internal/safety"
	"github.com/cycleforge/agent/internal/sandbox"
	"github.com/cycleforge/agent/internal/search"
	"github.com/cycleforge/agent/internal/store"
	"github.com/cycleforge/agent/internal/trouble"
	"github.com/cycleforge/agent/internal/verify"
)

// Agent is the main Dagger module for running the self-improvement cycle
// against a source directory.
type Agent struct {
	// Source directory the agent improves.
	Source *dagger.Directory

	// LLMProvider selects which AI backend phases and verification use.
	LLMProvider string
	LLMAPIKey   *dagger.Secret
	LLMModel    string

	// WorkspaceRoot is where Source is exported to on the host so the
	// sandbox and guard layer can operate on ordinary files.
	WorkspaceRoot string

	// Internal state, built by Initialize.
	logger       *logrus.Logger
	orchestrator *orchestrator.Orchestrator
	repairer     *repair.AutoRepairer
	closers      []func() error
}

var newTicker = time.NewTicker

// New creates an Agent with default configuration. Optionally accepts a
// source directory; when running as a Dagger Function, dag.Host().Directory
// is the usual source.
func New(source ...*dagger.Directory) *Agent {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&logrus.JSONFormatter{})

	var sourceDir *dagger.Directory
	if len(source) > 0 && source[0] != nil {
		sourceDir = source[0]
	} else if dag != nil {
		sourceDir = dag.Host().Directory(".")
	}

	return &Agent{
		Source:        sourceDir,
		LLMProvider:   "anthropic",
		LLMModel:      "default",
		WorkspaceRoot: "/workspace",
		logger:        logger,
	}
}

// WithSource configures the source directory.
func (a *Agent) WithSource(source *dagger.Directory) *Agent {
	a.Source = source
	return a
}

// WithLLMProvider configures the LLM provider and API key.
func (a *Agent) WithLLMProvider(provider string, apiKey *dagger.Secret) *Agent {
	a.LLMProvider = provider
	a.LLMAPIKey = apiKey
	return a
}

// WithLLMModel configures the model name passed to the provider.
func (a *Agent) WithLLMModel(model string) *Agent {
	a.LLMModel = model
	return a
}

// WithWorkspaceRoot configures where Source is exported on the host before
// the cycle runs.
func (a *Agent) WithWorkspaceRoot(root string) *Agent {
	a.WorkspaceRoot = root
	return a
}

// Initialize exports Source to WorkspaceRoot and wires every collaborator
// the orchestrator, phases, and auto-repair worker need.
func (a *Agent) Initialize(ctx context.Context) (*Agent, error) {
	if err := a.validateConfiguration(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	if a.Source != nil {
		if _, err := a.Source.Export(ctx, a.WorkspaceRoot); err != nil {
			return nil, fmt.Errorf("export source to workspace: %w", err)
		}
	}

	cfg := config.Default()
	cfg.WorkspaceRoot = a.WorkspaceRoot
	cfg.AI.Provider = a.LLMProvider
	cfg.AI.Model = a.LLMModel

	stateDir := filepath.Join(a.WorkspaceRoot, ".cycleforge")
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	bus := events.NewBus()
	bus.Subscribe(func(ev events.Event) {
		a.logger.WithFields(logrus.Fields{
			"cycle_id": ev.CycleID,
			"phase":    ev.Phase,
			"type":     ev.Type,
		}).Info(ev.Message)
	})

	m := metrics.New()

	ai, err := aiprovider.NewLLMClient(ctx, aiprovider.Provider(a.LLMProvider), a.LLMAPIKey, a.logger)
	if err != nil {
		return nil, fmt.Errorf("build llm client: %w", err)
	}
	ai = ai.WithModel(a.LLMModel)

	framework := sandbox.Detect(a.WorkspaceRoot)
	sb, closeSandbox, err := sandbox.Connect(ctx, framework.BaseImage)
	if err != nil {
		return nil, fmt.Errorf("connect sandbox: %w", err)
	}
	a.closers = append(a.closers, closeSandbox)

	troubles := trouble.NewRepository(filepath.Join(stateDir, "troubles.json"), cfg.Limits.MaxActiveTroubles)
	collector := trouble.NewCollector(troubles)
	q := queue.New(filepath.Join(stateDir, "queue.json"))
	patterns := learning.NewRepository(filepath.Join(stateDir, "patterns.json"), m)
	extractor := learning.NewExtractor(patterns)
	abstraction := learning.NewEngine(ai)
	patternDB := store.New(filepath.Join(stateDir, "trouble_patterns.json"), nil, a.logger)
	snapshots := safety.NewSnapshotManager(filepath.Join(stateDir, "snapshots"), a.WorkspaceRoot, cfg.Limits.MaxSnapshots)

	primaryReviewer := safety.NewChatReviewer(ai, a.LLMModel)
	var secondaryReviewer safety.AIReviewer
	if cfg.RateLimitFallback.Enabled && cfg.RateLimitFallback.FallbackProvider != "" {
		secondaryAI, err := aiprovider.NewLLMClient(ctx, aiprovider.Provider(cfg.RateLimitFallback.FallbackProvider), a.LLMAPIKey, a.logger)
		if err != nil {
			a.logger.WithError(err).Warn("agent: secondary review provider unavailable, dual review degrades to trust-score-only")
		} else {
			secondaryReviewer = safety.NewChatReviewer(secondaryAI, "")
		}
	}
	reviewer := safety.NewDualReviewer(primaryReviewer, secondaryReviewer, filepath.Join(stateDir, "ai-review-log.json"), a.logger)
	guard := safety.New(a.WorkspaceRoot, cfg.Limits.MaxLinesPerFile, reviewer)

	retriever := search.NewRetriever(a.WorkspaceRoot, nil, troubleNotes{troubles}, a.logger)
	verifier := verify.New(a.WorkspaceRoot, sb, framework, guard, snapshots, ai, cfg.Git.PushRemote, cfg.Git.AllowProtectedBranchPush, cfg.Git.AutoUpdateGitignore, a.logger)

	healthCheck := phases.NewHealthCheck(troubles, 0, 0, "idle")
	errorDetect := phases.NewErrorDetect(a.WorkspaceRoot, sb, framework, troubles, q)
	improveFind := phases.NewImproveFind(a.WorkspaceRoot, patterns, q, ai)
	searchPhase := phases.NewSearch(retriever)
	plan := phases.NewPlan(ai)
	implement := phases.NewImplement(a.WorkspaceRoot, guard, ai, 3)
	testGen := phases.NewTestGen(guard, ai, 3)
	verifyPhase := phases.NewVerify(verifier, 2)

	a.orchestrator = orchestrator.New(
		a.WorkspaceRoot, cfg,
		healthCheck, errorDetect, improveFind, searchPhase, plan, implement, testGen,
		verifyPhase,
		troubles, collector, q, patterns, extractor, abstraction, patternDB, snapshots,
		bus, m, a.logger,
	)

	errAgg := repair.NewAggregator(filepath.Join(stateDir, "errors.json"))
	repairQueue := repair.NewRepairQueue(filepath.Join(stateDir, "repair_tasks.json"))
	br := breaker.NewRegistry(cfg.Limits.MaxConsecutiveFailures, time.Minute, m, filepath.Join(stateDir, "breaker.json"))
	a.repairer = repair.NewAutoRepairer(repairQueue, errAgg, br, ai, a.logger)

	a.logger.Info("agent initialized successfully")
	return a, nil
}

// troubleNotes adapts trouble.Repository onto search.NotesProvider.
type troubleNotes struct {
	repo *trouble.Repository
}

func (n troubleNotes) NotesFor(file string) []string {
	active, err := n.repo.Active()
	if err != nil {
		return nil
	}
	var notes []string
	for _, t := range active {
		if t.File == file {
			notes = append(notes, t.Message)
		}
	}
	return notes
}

// RunCycle runs a single improvement cycle and returns its result.
func (a *Agent) RunCycle(ctx context.Context) (*cycle.Result, error) {
	if err := a.ensureInitialized(); err != nil {
		return nil, err
	}
	result, err := a.orchestrator.RunCycle(ctx)
	if err != nil {
		return nil, fmt.Errorf("run cycle: %w", err)
	}
	return &result, nil
}

// RunContinuously runs cycles on a fixed interval until ctx is cancelled,
// replacing the teacher's workflow-poll loop with the agent's own
// improvement loop.
func (a *Agent) RunContinuously(ctx context.Context, intervalSeconds int) error {
	if err := a.ensureInitialized(); err != nil {
		return err
	}
	if intervalSeconds <= 0 {
		intervalSeconds = 300
	}

	a.logger.Info("starting continuous improvement loop")

	ticker := newTicker(time.Duration(intervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("improvement loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.orchestrator.RunCycle(ctx); err != nil {
				a.logger.WithError(err).Error("cycle failed")
			}
			if a.repairer != nil {
				if _, err := a.repairer.RunOnce(ctx); err != nil {
					a.logger.WithError(err).Error("repair worker failed")
				}
			}
		}
	}
}

// RunResearchCycle runs the periodic research trigger, if one has been
// wired in; the research subsystem itself is an external collaborator, so
// without a hook this reports zero topics queued.
func (a *Agent) RunResearchCycle(ctx context.Context) (int, error) {
	if err := a.ensureInitialized(); err != nil {
		return 0, err
	}
	return a.orchestrator.RunResearchCycle(ctx)
}

// Status reports the orchestrator's current operational status.
func (a *Agent) Status(ctx context.Context) (*orchestrator.Status, error) {
	if err := a.ensureInitialized(); err != nil {
		return nil, err
	}
	status := a.orchestrator.Status()
	return &status, nil
}

// ResumeSystem clears a pause triggered by too many consecutive failures.
func (a *Agent) ResumeSystem(ctx context.Context) error {
	if err := a.ensureInitialized(); err != nil {
		return err
	}
	a.orchestrator.ResumeSystem()
	return nil
}

// ResetFailureCounter zeroes the consecutive-failure counter without
// resuming a paused system.
func (a *Agent) ResetFailureCounter(ctx context.Context) error {
	if err := a.ensureInitialized(); err != nil {
		return err
	}
	a.orchestrator.ResetFailureCounter()
	return nil
}

// CLI returns a container that builds and runs the standalone autofixctl
// binary, for operators who want to run the agent outside Dagger Function
// invocation.
func (a *Agent) CLI() (container *dagger.Container) {
	defer func() {
		if r := recover(); r != nil {
			container = nil
		}
	}()

	container = dag.Container().
		From("golang:1.23-alpine").
		WithExec([]string{"apk", "add", "git", "curl"}).
		WithWorkdir("/app").
		WithDirectory("/app", a.Source).
		WithExec([]string{"go", "mod", "download"}).
		WithExec([]string{"go", "build", "-o", "autofixctl", "./cmd/autofixctl"})

	return container
}

func (a *Agent) validateConfiguration() error {
	if a.LLMAPIKey == nil {
		return fmt.Errorf("LLM API key is required")
	}
	if a.WorkspaceRoot == "" {
		return fmt.Errorf("workspace root is required")
	}
	return nil
}

func (a *Agent) ensureInitialized() error {
	if a.orchestrator == nil {
		return fmt.Errorf("agent not initialized, call Initialize first")
	}
	return nil
}

// Close releases every resource Initialize opened (sandbox session, etc).
func (a *Agent) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.WithError(err).Warn("agent: cleanup error")
		}
	}
}
