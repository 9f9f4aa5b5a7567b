// Package queue implements the Improvement Queue (spec.md §3 component C):
// a persisted, priority-ordered backlog of Improvements with a status
// machine and dedup on insert.
package queue

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cycleforge/agent/internal/cycle"
	"github.com/cycleforge/agent/internal/store"
)

// Status is the lifecycle state of a queued item (spec.md §3 "status
// machine: pending -> scheduled -> in_progress -> (completed|failed);
// pending -> skipped").
type Status string

const (
	StatusPending    Status = "pending"
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// Item wraps an Improvement with queue bookkeeping. Priority is numeric,
// 0-100, and drives Dequeue/List ordering directly (spec.md §3
// "QueuedImprovement: priority ∈ [0,100]"); higher values dequeue first.
type Item struct {
	ID          string            `json:"id"`
	Improvement cycle.Improvement `json:"improvement"`
	Priority    int               `json:"priority"`
	Status      Status            `json:"status"`
	EnqueuedAt  time.Time         `json:"enqueued_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

type document struct {
	Items []Item `json:"items"`
}

// basePriority maps an Improvement's coarse 3-tier Priority to a numeric
// baseline for items enqueued without an explicit score (spec.md §3's
// numeric scale collapses the 3-tier phase-reported Priority this way).
var basePriority = map[cycle.Priority]int{
	cycle.PriorityHigh:   80,
	cycle.PriorityMedium: 50,
	cycle.PriorityLow:    20,
}

// clampPriority keeps a numeric priority within spec.md §3's [0,100] range.
func clampPriority(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Queue is the persisted Improvement backlog.
type Queue struct {
	store *store.AtomicStore
}

// New creates a Queue backed by the JSON file at path.
func New(path string) *Queue {
	return &Queue{store: store.New(path, nil, nil)}
}

// Enqueue adds imp, scored by its 3-tier Priority, unless an item with the
// same (type, description) is already pending or scheduled (spec.md §3
// "dedup on insert").
func (q *Queue) Enqueue(imp cycle.Improvement) (*Item, error) {
	return q.EnqueueWithPriority(imp, basePriority[imp.Priority])
}

// EnqueueWithPriority adds imp with an explicit numeric priority (clamped to
// [0,100]), as used by the abstraction pass's prevention-suggestion boost
// formula (spec.md §4.D, §4.M step 6). Dedup rules match Enqueue; an
// existing pending/scheduled item's priority is raised to max(existing,
// priority) rather than duplicated.
func (q *Queue) EnqueueWithPriority(imp cycle.Improvement, priority int) (*Item, error) {
	priority = clampPriority(priority)

	var doc document
	if err := q.store.Load(&doc); err != nil {
		return nil, fmt.Errorf("queue: load: %w", err)
	}

	for i := range doc.Items {
		existing := &doc.Items[i]
		if (existing.Status == StatusPending || existing.Status == StatusScheduled) &&
			existing.Improvement.Type == imp.Type &&
			existing.Improvement.Description == imp.Description {
			if priority > existing.Priority {
				existing.Priority = priority
				existing.UpdatedAt = time.Now()
				if err := q.store.Save(&doc); err != nil {
					return nil, fmt.Errorf("queue: save: %w", err)
				}
			}
			return existing, nil
		}
	}

	now := time.Now()
	item := Item{
		ID:          uuid.NewString(),
		Improvement: imp,
		Priority:    priority,
		Status:      StatusPending,
		EnqueuedAt:  now,
		UpdatedAt:   now,
	}
	doc.Items = append(doc.Items, item)
	if err := q.store.Save(&doc); err != nil {
		return nil, fmt.Errorf("queue: save: %w", err)
	}
	return &item, nil
}

// Dequeue returns the highest-priority pending item, transitioning it to
// scheduled, or nil if the queue has no pending work.
func (q *Queue) Dequeue() (*Item, error) {
	var doc document
	if err := q.store.Load(&doc); err != nil {
		return nil, fmt.Errorf("queue: load: %w", err)
	}

	var pendingIdx = -1
	best := -1
	for i := range doc.Items {
		if doc.Items[i].Status != StatusPending {
			continue
		}
		if pendingIdx == -1 || doc.Items[i].Priority > best {
			pendingIdx, best = i, doc.Items[i].Priority
		}
	}
	if pendingIdx == -1 {
		return nil, nil
	}

	doc.Items[pendingIdx].Status = StatusScheduled
	doc.Items[pendingIdx].UpdatedAt = time.Now()
	item := doc.Items[pendingIdx]
	if err := q.store.Save(&doc); err != nil {
		return nil, fmt.Errorf("queue: save: %w", err)
	}
	return &item, nil
}

// Transition moves the item with id to a new status, validating it
// against the allowed status machine edges.
func (q *Queue) Transition(id string, to Status) error {
	var doc document
	if err := q.store.Load(&doc); err != nil {
		return fmt.Errorf("queue: load: %w", err)
	}

	for i := range doc.Items {
		if doc.Items[i].ID != id {
			continue
		}
		if err := validateTransition(doc.Items[i].Status, to); err != nil {
			return err
		}
		doc.Items[i].Status = to
		doc.Items[i].UpdatedAt = time.Now()
		return q.store.Save(&doc)
	}
	return fmt.Errorf("queue: no item with id %q", id)
}

func validateTransition(from, to Status) error {
	allowed := map[Status][]Status{
		StatusPending:    {StatusScheduled, StatusSkipped},
		StatusScheduled:  {StatusInProgress, StatusPending},
		StatusInProgress: {StatusCompleted, StatusFailed},
	}
	for _, ok := range allowed[from] {
		if ok == to {
			return nil
		}
	}
	return fmt.Errorf("queue: invalid transition %s -> %s", from, to)
}

// List returns every item, sorted by priority (non-increasing) then enqueue
// time, mainly for status reporting (spec.md §6 "Status").
func (q *Queue) List() ([]Item, error) {
	var doc document
	if err := q.store.Load(&doc); err != nil {
		return nil, fmt.Errorf("queue: load: %w", err)
	}
	items := doc.Items
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		return items[i].EnqueuedAt.Before(items[j].EnqueuedAt)
	})
	return items, nil
}

// Cleanup removes completed, failed, and skipped items older than
// daysOld (spec.md §6 Limits.cleanupDays).
func (q *Queue) Cleanup(daysOld int) (int, error) {
	var doc document
	if err := q.store.Load(&doc); err != nil {
		return 0, fmt.Errorf("queue: load: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -daysOld)
	kept := doc.Items[:0]
	removed := 0
	for _, item := range doc.Items {
		terminal := item.Status == StatusCompleted || item.Status == StatusFailed || item.Status == StatusSkipped
		if terminal && item.UpdatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	doc.Items = kept

	if removed == 0 {
		return 0, nil
	}
	if err := q.store.Save(&doc); err != nil {
		return 0, fmt.Errorf("queue: save: %w", err)
	}
	return removed, nil
}
