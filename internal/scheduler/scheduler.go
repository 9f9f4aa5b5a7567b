// Package scheduler wraps github.com/robfig/cron/v3 into the task
// registry spec.md §3 component O names, translating the configured
// checkInterval into an "@every <duration>" cron spec for the main cycle
// job and registering independent jobs for the research trigger and the
// auto-repair worker on the same registry (SPEC_FULL.md §4.O). Grounded
// on two idioms from the corpus: the teacher's MonitorWorkflows
// ticker/select/ctx.Done() loop in main.go, and the cron-driven engine
// loop in the kernel-engine example (cron.Schedule.Next() plus a
// time.Timer, rather than cron.Cron's own background goroutine runner,
// since each job here needs its own independent schedule and graceful
// shutdown signal).
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/cycleforge/agent/internal/config"
	"github.com/cycleforge/agent/internal/cycle"
)

// defaultRepairPollInterval is how often the auto-repair worker checks
// the repair queue, matching the teacher's own 30-second poll literal
// (main.go's newTicker(30 * time.Second)).
const defaultRepairPollInterval = 30 * time.Second

// CycleRunner is the narrow Orchestrator surface the cycle job needs.
type CycleRunner interface {
	RunCycle(ctx context.Context) (cycle.Result, error)
}

// ResearchRunner is the narrow Orchestrator surface the research job needs.
type ResearchRunner interface {
	RunResearchCycle(ctx context.Context) (int, error)
}

// RepairRunner is the narrow AutoRepairer surface the repair worker job
// needs.
type RepairRunner interface {
	RunOnce(ctx context.Context) (bool, error)
}

type job struct {
	name     string
	schedule cron.Schedule
	run      func(ctx context.Context)
}

// Scheduler runs zero or more cron-scheduled jobs, each on its own
// goroutine and its own independent schedule, until Stop is called or
// its context is cancelled.
type Scheduler struct {
	logger *logrus.Logger

	mu      sync.Mutex
	jobs    []job
	wg      sync.WaitGroup
	stopped chan struct{}
	once    sync.Once
}

// New creates an empty Scheduler.
func New(logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scheduler{logger: logger, stopped: make(chan struct{})}
}

// AddJob registers run under name on the schedule described by spec — a
// standard 5-field cron expression or a descriptor like "@every 5m" or
// "@daily" (cron.ParseStandard handles both).
func (s *Scheduler) AddJob(name, spec string, run func(ctx context.Context)) error {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("scheduler: parse schedule %q for job %q: %w", spec, name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job{name: name, schedule: schedule, run: run})
	return nil
}

// RegisterCycle adds the main cycle job, translating cfg.CheckInterval
// into an "@every <duration>" spec (spec.md §5 "periodic tick, default 5
// min, triggers Orchestrator.RunCycle").
func (s *Scheduler) RegisterCycle(cfg config.Config, runner CycleRunner) error {
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return s.AddJob("cycle", everySpec(interval), func(ctx context.Context) {
		result, err := runner.RunCycle(ctx)
		if err != nil {
			s.logger.WithError(err).Warn("scheduler: cycle run failed")
			return
		}
		s.logger.WithFields(logrus.Fields{
			"quality":       result.Quality,
			"skipped_early": result.SkippedEarly,
		}).Info("scheduler: cycle completed")
	})
}

// RegisterResearch adds the research job on its own interval, derived
// from cfg.Research.Frequency cycle-equivalents of cfg.CheckInterval —
// independent of the orchestrator's own per-cycle modulo gate, per
// SPEC_FULL.md §4.O ("keeps RunResearchCycle's independent frequency as
// a second registered job sharing the same registry"). A non-positive
// Frequency or disabled Research leaves the job unregistered.
func (s *Scheduler) RegisterResearch(cfg config.Config, runner ResearchRunner) error {
	if !cfg.Research.Enabled || cfg.Research.Frequency <= 0 {
		return nil
	}
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	interval *= time.Duration(cfg.Research.Frequency)
	return s.AddJob("research", everySpec(interval), func(ctx context.Context) {
		n, err := runner.RunResearchCycle(ctx)
		if err != nil {
			s.logger.WithError(err).Warn("scheduler: research cycle failed")
			return
		}
		s.logger.WithField("topics", n).Info("scheduler: research cycle completed")
	})
}

// RegisterRepairWorker adds the auto-repair worker job, polling
// RunOnce every interval (defaultRepairPollInterval when interval <= 0),
// async to the cycle job (spec.md §5 "one auto-repair worker... draining
// the repair queue").
func (s *Scheduler) RegisterRepairWorker(runner RepairRunner, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultRepairPollInterval
	}
	return s.AddJob("repair", everySpec(interval), func(ctx context.Context) {
		attempted, err := runner.RunOnce(ctx)
		if err != nil {
			s.logger.WithError(err).Warn("scheduler: repair attempt failed")
			return
		}
		if attempted {
			s.logger.Debug("scheduler: repair attempt completed")
		}
	})
}

// Run blocks, running every registered job on its own schedule, until
// ctx is cancelled or Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	jobs := append([]job(nil), s.jobs...)
	s.mu.Unlock()

	for _, j := range jobs {
		s.wg.Add(1)
		go s.runJob(ctx, j)
	}
	s.wg.Wait()
}

func (s *Scheduler) runJob(ctx context.Context, j job) {
	defer s.wg.Done()
	for {
		next := j.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.stopped:
			timer.Stop()
			return
		case <-timer.C:
			s.logger.WithField("job", j.name).Debug("scheduler: job firing")
			j.run(ctx)
		}
	}
}

// Stop signals every running job loop to exit. Safe to call more than
// once and safe to call even if Run was never started.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stopped) })
}

func everySpec(d time.Duration) string {
	return fmt.Sprintf("@every %s", d.String())
}
