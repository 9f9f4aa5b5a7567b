// Package orchestrator implements the Orchestrator (spec.md §3 component
// G, §4.M): the single coordinator that owns CycleContext creation, runs
// the fixed eight-phase pipeline in order, and drives every other
// subsystem's per-cycle lifecycle (trouble capture/flush, queue
// maintenance, pattern learning, snapshotting, event emission). Grounded
// on the teacher's DaggerAutofix struct in main.go: exported config,
// unexported injected collaborators, and a RunCycle entrypoint that plays
// the part of the teacher's ticker-driven AnalyzeAndFix loop.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cycleforge/agent/internal/config"
	"github.com/cycleforge/agent/internal/cycle"
	"github.com/cycleforge/agent/internal/events"
	"github.com/cycleforge/agent/internal/learning"
	"github.com/cycleforge/agent/internal/metrics"
	"github.com/cycleforge/agent/internal/phases"
	"github.com/cycleforge/agent/internal/queue"
	"github.com/cycleforge/agent/internal/safety"
	"github.com/cycleforge/agent/internal/store"
	"github.com/cycleforge/agent/internal/trouble"
)

// WorkDetector decides, cheaply and before any phase runs, whether a cycle
// is worth starting (spec.md §4.M step 2 "work check"). Whether real work
// exists can only be confirmed by Phase 2's build scan, so the default
// detector (a nil func) always reports work available; a caller that knows
// a cheaper signal (e.g. a filesystem watch) can inject one that returns
// false to skip a cycle outright.
type WorkDetector func() (bool, error)

// patternsDocument is the on-disk shape of the orchestrator-owned
// TroublePattern store. AbstractionEngine.Analyze is a pure function
// (spec.md §4.J); nothing in internal/learning persists its output, so the
// Orchestrator owns that persistence directly through an AtomicStore, the
// same primitive every other repository in this codebase is built on.
type patternsDocument struct {
	Patterns []learning.TroublePattern `json:"patterns"`
}

// ErrCycleInProgress is returned by RunCycle when a prior cycle is still
// running (spec.md §4.M step 1, §5 "at most one cycle runs at a time").
var ErrCycleInProgress = fmt.Errorf("orchestrator: a cycle is already in progress")

// Orchestrator coordinates one cycle at a time across every subsystem.
type Orchestrator struct {
	workspaceRoot string
	cfg           config.Config
	logger        *logrus.Logger
	bus           *events.Bus
	metrics       *metrics.Metrics

	healthCheck phases.Phase
	errorDetect phases.Phase
	improveFind phases.Phase
	search      phases.Phase
	plan        phases.Phase
	implement   phases.Phase
	testGen     phases.Phase
	verify      *phases.Verify

	troubles    *trouble.Repository
	collector   *trouble.Collector
	queue       *queue.Queue
	patterns    *learning.Repository
	extractor   *learning.Extractor
	abstraction *learning.Engine
	patternDB   *store.AtomicStore
	snapshots   *safety.SnapshotManager

	workDetector WorkDetector
	docsFn       func(ctx context.Context) error
	researchFn   func(ctx context.Context) (int, error)
	prFn         func(ctx context.Context, cc *cycle.Context, quality cycle.Quality) error

	mu                  sync.Mutex
	running             bool
	systemPaused        bool
	consecutiveFailures int
	cycleCount          int
	activeGoals         []string
	goalProgress        map[string]float64
}

// New creates an Orchestrator. A nil phase argument is skipped by the
// pipeline; troubles/collector/queue/patterns/snapshots drive cross-phase and
// cross-cycle state and must also be non-nil for a production
// orchestrator, though tests may pass a reduced set when exercising a
// single step of the lifecycle in isolation.
func New(
	workspaceRoot string,
	cfg config.Config,
	healthCheck, errorDetect, improveFind, search, plan, implement, testGen phases.Phase,
	verify *phases.Verify,
	troubles *trouble.Repository,
	collector *trouble.Collector,
	q *queue.Queue,
	patterns *learning.Repository,
	extractor *learning.Extractor,
	abstraction *learning.Engine,
	patternDB *store.AtomicStore,
	snapshots *safety.SnapshotManager,
	bus *events.Bus,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *Orchestrator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &Orchestrator{
		workspaceRoot: workspaceRoot,
		cfg:           cfg,
		logger:        logger,
		bus:           bus,
		metrics:       m,
		healthCheck:   healthCheck,
		errorDetect:   errorDetect,
		improveFind:   improveFind,
		search:        search,
		plan:          plan,
		implement:     implement,
		testGen:       testGen,
		verify:        verify,
		troubles:      troubles,
		collector:     collector,
		queue:         q,
		patterns:      patterns,
		extractor:     extractor,
		abstraction:   abstraction,
		patternDB:     patternDB,
		snapshots:     snapshots,
		goalProgress:  make(map[string]float64),
	}
}

// SetWorkDetector installs a custom work-check used in place of the
// always-true default.
func (o *Orchestrator) SetWorkDetector(d WorkDetector) { o.workDetector = d }

// SetDocsHook installs a best-effort documentation-update callback run
// during post-processing when cfg.Docs.Enabled (spec.md §4.M step 6).
func (o *Orchestrator) SetDocsHook(fn func(ctx context.Context) error) { o.docsFn = fn }

// SetResearchHook installs the external research-subsystem trigger run
// every cfg.Research.Frequency cycles (spec.md §4.M step 6, §6 "Research").
func (o *Orchestrator) SetResearchHook(fn func(ctx context.Context) (int, error)) {
	o.researchFn = fn
}

// SetPRHook installs the optional pull-request follow-up run after a
// successful, non-rolled-back cycle when cfg.Git.EnablePullRequest is set
// (spec.md §4.L step 8 follow-up, SPEC_FULL.md's internal/vcs.PullRequestEngine
// wiring). cc is still fully populated at this point in postProcess, before
// finalize releases its large fields.
func (o *Orchestrator) SetPRHook(fn func(ctx context.Context, cc *cycle.Context, quality cycle.Quality) error) {
	o.prFn = fn
}

// SetActiveGoals replaces the goal set a cycle tracks progress against.
func (o *Orchestrator) SetActiveGoals(goals []string) { o.activeGoals = goals }

// Status is the orchestrator's externally observable state (spec.md §6
// "Status").
type Status struct {
	Running             bool
	SystemPaused        bool
	ConsecutiveFailures int
	CycleCount          int
	GoalProgress        map[string]float64
}

// Status reports the orchestrator's current state without mutating it.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	progress := make(map[string]float64, len(o.goalProgress))
	for k, v := range o.goalProgress {
		progress[k] = v
	}
	return Status{
		Running:             o.running,
		SystemPaused:        o.systemPaused,
		ConsecutiveFailures: o.consecutiveFailures,
		CycleCount:          o.cycleCount,
		GoalProgress:        progress,
	}
}

// ResumeSystem clears the paused flag and the consecutive-failure counter,
// letting RunCycle proceed again after an operator has investigated
// (spec.md §4.M step 8 "paused until an operator resumes it").
func (o *Orchestrator) ResumeSystem() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.systemPaused = false
	o.consecutiveFailures = 0
	if o.metrics != nil {
		o.metrics.SetSystemPaused(false)
		o.metrics.SetConsecutiveFailures(0)
	}
}

// ResetFailureCounter clears only the consecutive-failure counter, leaving
// any pause in effect — used after a manual fix restores confidence
// without yet wanting to resume automated cycles.
func (o *Orchestrator) ResetFailureCounter() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.consecutiveFailures = 0
	if o.metrics != nil {
		o.metrics.SetConsecutiveFailures(0)
	}
}

// RunResearchCycle runs the configured research hook outright, ignoring
// the usual modulo-frequency gate — used by a scheduler's dedicated
// research job (spec.md §6 "Research", SPEC_FULL.md scheduler expansion).
func (o *Orchestrator) RunResearchCycle(ctx context.Context) (int, error) {
	if o.researchFn == nil {
		return 0, nil
	}
	return o.researchFn(ctx)
}

// RunCycle runs one full cycle through the fixed eight-phase pipeline,
// implementing spec.md §4.M's algorithm: admission gate, work check,
// initialization, a pending-review pre-pass, the pipeline itself,
// post-processing, finalization, and failure accounting.
func (o *Orchestrator) RunCycle(ctx context.Context) (cycle.Result, error) {
	if !o.acquire() {
		if o.isPaused() {
			return cycle.Result{Success: false, SkippedEarly: true, RetryReason: "system_paused", Quality: cycle.QualityNoOp}, nil
		}
		return cycle.Result{}, ErrCycleInProgress
	}
	defer o.release()

	hasWork, err := o.checkWork()
	if err != nil {
		return cycle.Result{}, fmt.Errorf("orchestrator: work check: %w", err)
	}
	if !hasWork {
		return cycle.Result{SkippedEarly: true, Success: true, Quality: cycle.QualityNoOp, RetryReason: "no_work"}, nil
	}

	start := time.Now()
	cycleID := uuid.NewString()
	cc := cycle.New(cycleID, start)
	cc.ActiveGoals = o.activeGoals

	o.mu.Lock()
	o.cycleCount++
	o.mu.Unlock()

	o.emit(events.Event{Type: events.CycleStarted, CycleID: cycleID, Message: "cycle started", Timestamp: start})

	o.recoverStuckQueueItems()

	rolledBack := o.runPipeline(ctx, cc)

	o.postProcess(ctx, cc, rolledBack)

	result := o.finalize(cc, start, rolledBack)

	o.emit(events.Event{
		Type:    events.CycleCompleted,
		CycleID: cycleID,
		Message: fmt.Sprintf("cycle completed: %s", result.Quality),
		Timestamp: time.Now(),
		Data: map[string]any{"quality": string(result.Quality), "trouble_count": result.TroubleCount},
	})

	return result, nil
}

func (o *Orchestrator) acquire() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running || o.systemPaused {
		return false
	}
	o.running = true
	return true
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
}

func (o *Orchestrator) isPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.systemPaused
}

func (o *Orchestrator) checkWork() (bool, error) {
	if o.workDetector == nil {
		return true, nil
	}
	return o.workDetector()
}

// recoverStuckQueueItems reverts items left in StatusScheduled by an
// interrupted prior cycle back to StatusPending, bounded by
// MaxConfirmationsPerCycle, so a crash mid-cycle never strands an
// improvement in limbo (spec.md §4.M step 4's pending-item pre-pass,
// reusing the queue's own status machine rather than a separate
// confirmation-queue component).
func (o *Orchestrator) recoverStuckQueueItems() {
	if o.queue == nil {
		return
	}
	items, err := o.queue.List()
	if err != nil {
		o.logger.WithError(err).Warn("orchestrator: list queue for recovery")
		return
	}
	limit := o.cfg.Limits.MaxConfirmationsPerCycle
	recovered := 0
	for _, item := range items {
		if item.Status != queue.StatusScheduled {
			continue
		}
		if limit > 0 && recovered >= limit {
			break
		}
		if err := o.queue.Transition(item.ID, queue.StatusPending); err != nil {
			o.logger.WithError(err).WithField("item_id", item.ID).Warn("orchestrator: recover stuck queue item")
			continue
		}
		recovered++
	}
}

// runPipeline executes the eight phases in cycle.OrderedPhases order,
// emitting phase_started/phase_completed around each and recording the
// first failure (spec.md §4.M step 5, §3 "first phase to fail wins").
// The pre-Implement snapshot is taken here, right before Phase 6 runs, and
// installed on the Verify phase before Phase 8 is invoked, since Phase 8
// itself runs too late to capture a meaningful "before" state.
func (o *Orchestrator) runPipeline(ctx context.Context, cc *cycle.Context) bool {
	rolledBack := false
	ordered := []struct {
		name  cycle.FailedPhaseName
		phase phases.Phase
	}{
		{cycle.PhaseHealthCheck, o.healthCheck},
		{cycle.PhaseErrorDetect, o.errorDetect},
		{cycle.PhaseImproveFind, o.improveFind},
		{cycle.PhaseSearch, o.search},
		{cycle.PhasePlan, o.plan},
		{cycle.PhaseImplement, o.implement},
		{cycle.PhaseTestGen, o.testGen},
	}
	if o.verify != nil {
		ordered = append(ordered, struct {
			name  cycle.FailedPhaseName
			phase phases.Phase
		}{cycle.PhaseVerify, o.verify})
	}

	for _, step := range ordered {
		if step.phase == nil {
			continue
		}
		if step.name == cycle.PhaseImplement {
			o.takeSnapshot(cc)
		}

		o.emit(events.Event{Type: events.PhaseStarted, CycleID: cc.CycleID, Phase: string(step.name), Timestamp: time.Now()})
		phaseStart := time.Now()

		result, err := step.phase.Execute(ctx, cc)

		if o.metrics != nil {
			o.metrics.ObservePhaseDuration(string(step.name), time.Since(phaseStart).Seconds())
		}

		if err != nil {
			cc.RecordFailure(step.name, err.Error())
			o.emit(events.Event{Type: events.ErrorEvent, CycleID: cc.CycleID, Phase: string(step.name), Message: err.Error(), Timestamp: time.Now()})
			o.emit(events.Event{Type: events.PhaseCompleted, CycleID: cc.CycleID, Phase: string(step.name), Message: "errored", Timestamp: time.Now()})
			if step.name.IsCritical() {
				return rolledBack
			}
			continue
		}

		o.emit(events.Event{Type: events.PhaseCompleted, CycleID: cc.CycleID, Phase: string(step.name), Message: result.Message, Timestamp: time.Now(), Data: result.Data})

		if !result.Success {
			cc.RecordFailure(step.name, result.Message)
			if step.name == cycle.PhaseVerify && result.Data["rolled_back"] == true {
				rolledBack = true
				o.emit(events.Event{Type: events.Rollback, CycleID: cc.CycleID, Phase: string(step.name), Message: result.Message, Timestamp: time.Now()})
			}
		}

		if result.ShouldStop {
			return rolledBack
		}
	}
	return rolledBack
}

func (o *Orchestrator) takeSnapshot(cc *cycle.Context) {
	if o.snapshots == nil || o.verify == nil || cc.Plan == nil {
		return
	}
	snap, err := o.snapshots.Create(cc.CycleID, cc.Plan.AffectedFiles)
	if err != nil {
		o.logger.WithError(err).Warn("orchestrator: snapshot creation failed, verify phase will run without rollback capability")
		return
	}
	o.verify.SetSnapshot(snap)
}

// postProcess runs the feedback loop, the abstraction pass, a best-effort
// docs update, the modulo-gated research trigger, and the optional
// pull-request follow-up (spec.md §4.M step 6, §4.L step 8 follow-up).
func (o *Orchestrator) postProcess(ctx context.Context, cc *cycle.Context, rolledBack bool) {
	o.runFeedbackLoop(cc)
	o.runAbstractionPass(cc)

	if o.cfg.Docs.Enabled && o.docsFn != nil {
		if err := o.docsFn(ctx); err != nil {
			o.logger.WithError(err).Warn("orchestrator: docs update failed")
		}
	}

	if o.cfg.Research.Enabled && o.researchFn != nil && o.cfg.Research.Frequency > 0 && o.cycleCount%o.cfg.Research.Frequency == 0 {
		if n, err := o.researchFn(ctx); err != nil {
			o.logger.WithError(err).Warn("orchestrator: research cycle failed")
		} else {
			o.logger.WithField("topics", n).Info("orchestrator: research cycle completed")
		}
	}

	if o.cfg.Git.EnablePullRequest && o.prFn != nil && !rolledBack {
		quality := cc.Classify()
		if quality == cycle.QualityEffective || quality == cycle.QualityPartial {
			if err := o.prFn(ctx, cc, quality); err != nil {
				o.logger.WithError(err).Warn("orchestrator: pull request follow-up failed")
			}
		}
	}
}

// runFeedbackLoop extracts a new or merged LearnedPattern from every
// change made during a passing cycle, records a failure bucket when the
// cycle failed instead, and updates confidence for every pattern this
// cycle actually used (spec.md §4.I, §4.M step 6 "feedback loop").
func (o *Orchestrator) runFeedbackLoop(cc *cycle.Context) {
	passed := cc.TestResults != nil && cc.TestResults.Passed && !cc.HasCriticalFailure()
	category, message := targetCategoryAndMessage(cc)

	if passed && o.extractor != nil {
		for _, ch := range cc.ImplementedChanges {
			before := ""
			if cc.SearchResults != nil {
				before = cc.SearchResults.FileContents[ch.File]
			}
			ec := learning.ExtractionContext{
				File:     ch.File,
				Before:   before,
				After:    ch.Summary,
				Category: category,
				Success:  true,
			}
			if _, err := o.extractor.Extract(ec); err != nil {
				o.logger.WithError(err).WithField("file", ch.File).Warn("orchestrator: pattern extraction failed")
			}
		}
	} else if o.extractor != nil && cc.Plan != nil && message != "" {
		attempted := cc.Plan.Description
		for _, ch := range cc.ImplementedChanges {
			if err := o.extractor.RecordFailure(category, message, ch.File, attempted, cc.FailureReason); err != nil {
				o.logger.WithError(err).Warn("orchestrator: recording failure pattern")
			}
		}
	}

	if o.patterns != nil {
		for _, id := range cc.UsedPatterns {
			if err := o.patterns.UpdateConfidence(id, passed); err != nil {
				o.logger.WithError(err).WithField("pattern_id", id).Warn("orchestrator: updating pattern confidence")
			}
		}
		if err := o.patterns.RecordCycleCompletion(cc.PatternMatches, cc.AICalls); err != nil {
			o.logger.WithError(err).Warn("orchestrator: recording cycle completion stats")
		}
	}
}

// targetCategoryAndMessage recovers the (category, message) pair for
// whichever Issue the cycle's Plan targeted, since Plan only stores the
// target's ID.
func targetCategoryAndMessage(cc *cycle.Context) (category, message string) {
	if cc.Plan == nil || cc.Plan.TargetIssueID == "" {
		return "other", ""
	}
	for _, issue := range cc.Issues {
		if issue.ID == cc.Plan.TargetIssueID {
			return string(issue.Type), issue.Message
		}
	}
	return "other", ""
}

// runAbstractionPass loads the persisted TroublePattern set, re-analyzes
// it against this cycle's troubles (both flushed and still-pending), and
// persists the result (spec.md §4.J, §4.M step 6).
func (o *Orchestrator) runAbstractionPass(cc *cycle.Context) {
	if o.abstraction == nil || o.patternDB == nil {
		return
	}
	var doc patternsDocument
	if err := o.patternDB.Load(&doc); err != nil {
		o.logger.WithError(err).Warn("orchestrator: load trouble patterns")
		return
	}

	troubles := append([]cycle.Trouble(nil), cc.Troubles...)
	if o.collector != nil {
		troubles = append(troubles, o.collector.Pending()...)
	}
	if len(troubles) == 0 {
		return
	}

	var suggestions []learning.Suggestion
	doc.Patterns, suggestions = o.abstraction.Analyze(troubles, doc.Patterns)
	if err := o.patternDB.Save(&doc); err != nil {
		o.logger.WithError(err).Warn("orchestrator: save trouble patterns")
	}

	if o.queue == nil {
		return
	}
	for _, s := range suggestions {
		imp := cycle.Improvement{
			Type:        "prevention",
			Description: s.Text,
			Priority:    cycle.PriorityMedium,
			Source:      fmt.Sprintf("abstraction-%s", s.PatternName),
		}
		if _, err := o.queue.EnqueueWithPriority(imp, s.BoostedPriority()); err != nil {
			o.logger.WithError(err).Warn("orchestrator: enqueue prevention suggestion")
		}
	}
}

// finalize updates the in-memory goal progress, flushes troubles and
// cleans up the queue, releases
// the CycleContext's large fields, and runs failure accounting (spec.md
// §4.M steps 7-8).
func (o *Orchestrator) finalize(cc *cycle.Context, start time.Time, rolledBack bool) cycle.Result {
	quality := cc.Classify()

	o.mu.Lock()
	for _, g := range cc.ActiveGoals {
		if quality == cycle.QualityEffective {
			o.goalProgress[g] += 1
		}
	}
	o.mu.Unlock()

	if o.collector != nil {
		if err := o.collector.Flush(); err != nil {
			o.logger.WithError(err).Warn("orchestrator: flush troubles")
		}
	}
	if o.queue != nil {
		if _, err := o.queue.Cleanup(o.cfg.Limits.CleanupDays); err != nil {
			o.logger.WithError(err).Warn("orchestrator: queue cleanup")
		}
	}

	o.recordMetrics(quality)

	critical := cc.HasCriticalFailure()
	o.mu.Lock()
	if critical {
		o.consecutiveFailures++
		if o.cfg.Limits.MaxConsecutiveFailures > 0 && o.consecutiveFailures >= o.cfg.Limits.MaxConsecutiveFailures {
			o.systemPaused = true
		}
	} else {
		o.consecutiveFailures = 0
	}
	consecutive := o.consecutiveFailures
	paused := o.systemPaused
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.SetConsecutiveFailures(consecutive)
		o.metrics.SetSystemPaused(paused)
	}

	testsFailed := cc.TestResults != nil && !cc.TestResults.Passed
	hasTroubles := len(cc.Troubles) > 0
	shouldRetry := (testsFailed || hasTroubles || critical) && !paused

	result := cycle.Result{
		CycleID:      cc.CycleID,
		Success:      quality != cycle.QualityFailed,
		Duration:     time.Since(start),
		TroubleCount: len(cc.Troubles),
		FailedPhase:  cc.FailedPhase,
		Quality:      quality,
		ShouldRetry:  shouldRetry,
		RolledBack:   rolledBack,
	}
	if shouldRetry {
		switch {
		case critical:
			result.RetryReason = "critical_failure"
		case testsFailed:
			result.RetryReason = "test_failure"
		case hasTroubles:
			result.RetryReason = "troubles_detected"
		}
	}

	cc.Release()
	return result
}

func (o *Orchestrator) recordMetrics(quality cycle.Quality) {
	if o.metrics == nil {
		return
	}
	o.metrics.RecordCycle(string(quality))
	if o.troubles != nil {
		if active, err := o.troubles.Active(); err == nil {
			o.metrics.SetTroublesActive(len(active))
		}
	}
	if o.queue != nil {
		if items, err := o.queue.List(); err == nil {
			counts := map[queue.Status]int{}
			for _, item := range items {
				counts[item.Status]++
			}
			for _, s := range []queue.Status{
				queue.StatusPending, queue.StatusScheduled, queue.StatusInProgress,
				queue.StatusCompleted, queue.StatusFailed, queue.StatusSkipped,
			} {
				o.metrics.SetQueueDepth(string(s), counts[s])
			}
		}
	}
}

func (o *Orchestrator) emit(ev events.Event) {
	if o.bus == nil {
		return
	}
	o.bus.Emit(ev)
}
