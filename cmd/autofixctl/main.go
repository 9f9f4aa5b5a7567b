// Command autofixctl is the deliberately thin entrypoint for running the
// self-improvement agent outside the Dagger Function runtime (SPEC_FULL.md
// §2 "a default long-running mode that wires the scheduler, and a --once
// flag that runs a single cycle, prints the textual report, and exits
// 0/1"). It does not reimplement the teacher's richer monitor/analyze/fix/
// validate subcommand surface, and it does not serve an HTTP/WebSocket
// dashboard — metrics are only registered for an embedder to scrape.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"dagger.io/dagger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

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
	"github.com/cycleforge/agent/internal/scheduler"
	"github.com/cycleforge/agent/internal/search"
	"github.com/cycleforge/agent/internal/store"
	"github.com/cycleforge/agent/internal/trouble"
	"github.com/cycleforge/agent/internal/vcs"
	"github.com/cycleforge/agent/internal/verify"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath, envFile string
	var once, verbose bool

	cmd := &cobra.Command{
		Use:     "autofixctl",
		Short:   "Run the self-improvement agent",
		Version: "1.0.0",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(verbose)
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg, err := config.Load(configPath, envFile)
			if err != nil {
				return fmt.Errorf("autofixctl: load config: %w", err)
			}

			app, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("autofixctl: build agent: %w", err)
			}
			defer app.Close()

			if once {
				return runOnce(ctx, app)
			}
			return runLong(ctx, app)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "config.json", "path to config.json")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "path to a .env file with secrets")
	cmd.Flags().BoolVar(&once, "once", false, "run a single cycle, print its report, and exit")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	return cmd
}

func newLogger(verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

// app holds every wired collaborator plus the closers its construction
// opened, so main can defer one Close regardless of how far setup got.
type app struct {
	orchestrator *orchestrator.Orchestrator
	scheduler    *scheduler.Scheduler
	repairer     *repair.AutoRepairer
	cfg          config.Config
	logger       *logrus.Logger
	closers      []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.WithError(err).Warn("autofixctl: cleanup error")
		}
	}
}

// buildApp wires every collaborator the Orchestrator, scheduler, and
// auto-repair worker need, following the teacher's initializeAgent: read
// config and secrets, build the AI client and sandbox through Dagger, then
// compose every internal/* repository and phase around them.
func buildApp(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*app, error) {
	workspaceRoot := cfg.WorkspaceRoot
	stateDir := filepath.Join(workspaceRoot, ".cycleforge")
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}

	bus := events.NewBus()
	bus.Subscribe(func(ev events.Event) {
		logger.WithFields(logrus.Fields{
			"cycle_id": ev.CycleID,
			"phase":    ev.Phase,
			"type":     ev.Type,
		}).Info(ev.Message)
	})

	m := metrics.New()

	// A dedicated Dagger engine session just for minting the LLM provider's
	// API-key secret (the package-level dag var is only populated when
	// running as a Dagger Function, which this standalone binary is not),
	// mirroring the same dagger.Connect(ctx) pattern sandbox.Connect uses
	// for its own session.
	daggerClient, err := dagger.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to dagger engine: %w", err)
	}
	a.closers = append(a.closers, daggerClient.Close)

	apiKey := daggerClient.SetSecret("llm-api-key", os.Getenv("LLM_API_KEY"))
	ai, err := aiprovider.NewLLMClient(ctx, aiprovider.Provider(cfg.AI.Provider), apiKey, logger)
	if err != nil {
		return nil, fmt.Errorf("build llm client: %w", err)
	}
	ai = ai.WithModel(cfg.AI.Model)

	framework := sandbox.Detect(workspaceRoot)
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
	patternDB := store.New(filepath.Join(stateDir, "trouble_patterns.json"), nil, logger)
	snapshots := safety.NewSnapshotManager(filepath.Join(stateDir, "snapshots"), workspaceRoot, cfg.Limits.MaxSnapshots)

	primaryReviewer := safety.NewChatReviewer(ai, cfg.AI.Model)
	var secondaryReviewer safety.AIReviewer
	if cfg.RateLimitFallback.Enabled && cfg.RateLimitFallback.FallbackProvider != "" {
		secondaryAI, err := aiprovider.NewLLMClient(ctx, aiprovider.Provider(cfg.RateLimitFallback.FallbackProvider), apiKey, logger)
		if err != nil {
			logger.WithError(err).Warn("autofixctl: secondary review provider unavailable, dual review degrades to trust-score-only")
		} else {
			secondaryReviewer = safety.NewChatReviewer(secondaryAI, "")
		}
	}
	reviewer := safety.NewDualReviewer(primaryReviewer, secondaryReviewer, filepath.Join(stateDir, "ai-review-log.json"), logger)
	guard := safety.New(workspaceRoot, cfg.Limits.MaxLinesPerFile, reviewer)

	var searchClient *search.Client
	if serverCmd := os.Getenv("MCP_SEARCH_COMMAND"); serverCmd != "" {
		searchClient = search.NewClient(&search.Config{ServerCommand: []string{serverCmd}}, logger)
	}
	retriever := search.NewRetriever(workspaceRoot, searchClient, troubleNotes{troubles}, logger)

	verifier := verify.New(workspaceRoot, sb, framework, guard, snapshots, ai, cfg.Git.PushRemote, cfg.Git.AllowProtectedBranchPush, cfg.Git.AutoUpdateGitignore, logger)

	healthCheck := phases.NewHealthCheck(troubles, 0, 0, "idle")
	errorDetect := phases.NewErrorDetect(workspaceRoot, sb, framework, troubles, q)
	improveFind := phases.NewImproveFind(workspaceRoot, patterns, q, ai)
	searchPhase := phases.NewSearch(retriever)
	plan := phases.NewPlan(ai)
	implement := phases.NewImplement(workspaceRoot, guard, ai, 3)
	testGen := phases.NewTestGen(guard, ai, 3)
	verifyPhase := phases.NewVerify(verifier, 2)

	orch := orchestrator.New(
		workspaceRoot, cfg,
		healthCheck, errorDetect, improveFind, searchPhase, plan, implement, testGen,
		verifyPhase,
		troubles, collector, q, patterns, extractor, abstraction, patternDB, snapshots,
		bus, m, logger,
	)

	// The research subsystem is an external collaborator (spec.md's
	// Deliberately out of scope list); no SetResearchHook is installed
	// here, so a scheduled research job runs RunResearchCycle as a
	// harmless no-op until an embedder wires one in.

	if cfg.Git.EnablePullRequest {
		token := os.Getenv("GITHUB_TOKEN")
		owner := os.Getenv("GITHUB_REPO_OWNER")
		name := os.Getenv("GITHUB_REPO_NAME")
		if token != "" && owner != "" && name != "" {
			gh, err := vcs.NewGitHubIntegration(ctx, token, owner, name, logger)
			if err != nil {
				return nil, fmt.Errorf("build github integration: %w", err)
			}
			prEngine := vcs.NewPullRequestEngine(gh, logger)
			orch.SetPRHook(func(ctx context.Context, cc *cycle.Context, quality cycle.Quality) error {
				contents := make(map[string]string, len(cc.ImplementedChanges))
				for _, ch := range cc.ImplementedChanges {
					if ch.ChangeType == cycle.ChangeDelete {
						continue
					}
					data, err := os.ReadFile(filepath.Join(workspaceRoot, ch.File))
					if err != nil {
						return fmt.Errorf("read changed file %q for pull request: %w", ch.File, err)
					}
					contents[ch.File] = string(data)
				}
				_, err := prEngine.CreateCyclePR(ctx, cc, quality, cfg.Git.PushRemote, contents)
				return err
			})
		} else {
			logger.Warn("autofixctl: git.enablePullRequest set but GITHUB_TOKEN/GITHUB_REPO_OWNER/GITHUB_REPO_NAME missing; PR hook disabled")
		}
	}

	errAgg := repair.NewAggregator(filepath.Join(stateDir, "errors.json"))
	repairQueue := repair.NewRepairQueue(filepath.Join(stateDir, "repair_tasks.json"))
	br := breaker.NewRegistry(cfg.Limits.MaxConsecutiveFailures, time.Minute, m, filepath.Join(stateDir, "breaker.json"))
	repairer := repair.NewAutoRepairer(repairQueue, errAgg, br, ai, logger)

	sched := scheduler.New(logger)
	if err := sched.RegisterCycle(cfg, orch); err != nil {
		return nil, fmt.Errorf("register cycle job: %w", err)
	}
	if err := sched.RegisterResearch(cfg, orch); err != nil {
		return nil, fmt.Errorf("register research job: %w", err)
	}
	if err := sched.RegisterRepairWorker(repairer, 0); err != nil {
		return nil, fmt.Errorf("register repair worker: %w", err)
	}

	a.orchestrator = orch
	a.scheduler = sched
	a.repairer = repairer
	return a, nil
}

// troubleNotes adapts trouble.Repository onto search.NotesProvider: prior
// cycles' troubles recorded against a file are the "prior cycle logs"
// spec.md §4.K names as part of Phase 4's context.
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

func runLong(ctx context.Context, a *app) error {
	a.logger.Info("autofixctl: starting scheduler")
	a.scheduler.Run(ctx)
	a.scheduler.Stop()
	return nil
}

func runOnce(ctx context.Context, a *app) error {
	result, err := a.orchestrator.RunCycle(ctx)
	if err != nil {
		return fmt.Errorf("run cycle: %w", err)
	}
	printReport(result)
	if !result.Success {
		os.Exit(1)
	}
	return nil
}

func printReport(r cycle.Result) {
	fmt.Printf("\n=== Cycle Report ===\n")
	fmt.Printf("Cycle ID: %s\n", r.CycleID)
	fmt.Printf("Success: %t\n", r.Success)
	fmt.Printf("Quality: %s\n", r.Quality)
	fmt.Printf("Duration: %s\n", r.Duration)
	fmt.Printf("Troubles: %d\n", r.TroubleCount)
	fmt.Printf("Skipped Early: %t\n", r.SkippedEarly)
	fmt.Printf("Rolled Back: %t\n", r.RolledBack)
	if r.FailedPhase != "" {
		fmt.Printf("Failed Phase: %s\n", r.FailedPhase)
	}
	if r.ShouldRetry {
		fmt.Printf("Should Retry: %t (%s)\n", r.ShouldRetry, r.RetryReason)
	}
	fmt.Println()
}
