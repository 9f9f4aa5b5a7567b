package repair

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cycleforge/agent/internal/cycle"
	"github.com/cycleforge/agent/internal/store"
)

// TaskStatus is the lifecycle state of a RepairTask.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskResolved   TaskStatus = "resolved"
	TaskFailed     TaskStatus = "failed"
)

// RepairTask schedules a repair attempt against one AggregatedError
// (spec.md §4.P "RepairQueue schedules RepairTask by priority").
type RepairTask struct {
	ID        string        `json:"id"`
	ErrorID   string        `json:"error_id"`
	Priority  cycle.Priority `json:"priority"`
	Status    TaskStatus    `json:"status"`
	Attempts  int           `json:"attempts"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type repairDocument struct {
	Tasks []RepairTask `json:"tasks"`
}

var priorityRank = map[cycle.Priority]int{
	cycle.PriorityHigh:   0,
	cycle.PriorityMedium: 1,
	cycle.PriorityLow:    2,
}

func rank(p cycle.Priority) int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return len(priorityRank)
}

// RepairQueue is the persisted RepairTask scheduler.
type RepairQueue struct {
	store *store.AtomicStore
}

// NewRepairQueue creates a RepairQueue backed by the JSON file at path.
func NewRepairQueue(path string) *RepairQueue {
	return &RepairQueue{store: store.New(path, nil, nil)}
}

// Schedule enqueues a repair task for errorID, or returns the existing
// pending/in-progress task for that error if one is already scheduled
// (repeated reports of the same error shouldn't pile up duplicate tasks).
func (q *RepairQueue) Schedule(errorID string, priority cycle.Priority) (*RepairTask, error) {
	var doc repairDocument
	if err := q.store.Load(&doc); err != nil {
		return nil, fmt.Errorf("repair: load queue: %w", err)
	}

	for i := range doc.Tasks {
		if doc.Tasks[i].ErrorID == errorID &&
			(doc.Tasks[i].Status == TaskPending || doc.Tasks[i].Status == TaskInProgress) {
			existing := doc.Tasks[i]
			return &existing, nil
		}
	}

	now := time.Now()
	task := RepairTask{
		ID:        uuid.NewString(),
		ErrorID:   errorID,
		Priority:  priority,
		Status:    TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	doc.Tasks = append(doc.Tasks, task)
	if err := q.store.Save(&doc); err != nil {
		return nil, fmt.Errorf("repair: save queue: %w", err)
	}
	return &task, nil
}

// Next pops the highest-priority pending task and marks it in_progress,
// or returns (nil, nil) when a task is already in_progress or nothing is
// pending (spec.md §4.P "at most one in_progress task at a time").
func (q *RepairQueue) Next() (*RepairTask, error) {
	var doc repairDocument
	if err := q.store.Load(&doc); err != nil {
		return nil, fmt.Errorf("repair: load queue: %w", err)
	}

	for _, t := range doc.Tasks {
		if t.Status == TaskInProgress {
			return nil, nil
		}
	}

	best := -1
	for i := range doc.Tasks {
		if doc.Tasks[i].Status != TaskPending {
			continue
		}
		if best == -1 || rank(doc.Tasks[i].Priority) < rank(doc.Tasks[best].Priority) {
			best = i
		}
	}
	if best == -1 {
		return nil, nil
	}

	doc.Tasks[best].Status = TaskInProgress
	doc.Tasks[best].UpdatedAt = time.Now()
	task := doc.Tasks[best]
	if err := q.store.Save(&doc); err != nil {
		return nil, fmt.Errorf("repair: save queue: %w", err)
	}
	return &task, nil
}

// Complete marks the task resolved or failed and records the attempt.
func (q *RepairQueue) Complete(id string, success bool) error {
	var doc repairDocument
	if err := q.store.Load(&doc); err != nil {
		return fmt.Errorf("repair: load queue: %w", err)
	}
	for i := range doc.Tasks {
		if doc.Tasks[i].ID != id {
			continue
		}
		doc.Tasks[i].Attempts++
		doc.Tasks[i].UpdatedAt = time.Now()
		if success {
			doc.Tasks[i].Status = TaskResolved
		} else {
			doc.Tasks[i].Status = TaskFailed
		}
		return q.store.Save(&doc)
	}
	return fmt.Errorf("repair: no task with id %q", id)
}

// List returns every scheduled task, for the HTTP status surface.
func (q *RepairQueue) List() ([]RepairTask, error) {
	var doc repairDocument
	if err := q.store.Load(&doc); err != nil {
		return nil, fmt.Errorf("repair: load queue: %w", err)
	}
	return doc.Tasks, nil
}

// Reschedule reverts a failed task back to pending, for a manual retry
// requested through the HTTP surface (spec.md §4.P "manual repair").
func (q *RepairQueue) Reschedule(id string) error {
	var doc repairDocument
	if err := q.store.Load(&doc); err != nil {
		return fmt.Errorf("repair: load queue: %w", err)
	}
	for i := range doc.Tasks {
		if doc.Tasks[i].ID != id {
			continue
		}
		if doc.Tasks[i].Status == TaskInProgress {
			return fmt.Errorf("repair: task %q is already in progress", id)
		}
		doc.Tasks[i].Status = TaskPending
		doc.Tasks[i].UpdatedAt = time.Now()
		return q.store.Save(&doc)
	}
	return fmt.Errorf("repair: no task with id %q", id)
}
