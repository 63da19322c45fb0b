package queue

import (
	"context"
	"encoding/json"
	"time"
)

// TaskDraft describes a task to be created together with its items.
// Payloads become items in slice order; TotalItems is derived from them.
type TaskDraft struct {
	Type      string
	CreatedBy string
	Meta      map[string]any
	Payloads  []json.RawMessage
}

// ItemUpdate is a partial item update. Nil fields are left untouched.
type ItemUpdate struct {
	Status     *ItemStatus
	Result     json.RawMessage
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// PurgeScope selects which tasks an administrative purge affects.
type PurgeScope string

const (
	// PurgeCurrent soft-deletes queued and running tasks and cancels their
	// pending items.
	PurgeCurrent PurgeScope = "current"
	// PurgeHistory hard-deletes tasks in terminal states, cascading to items.
	PurgeHistory PurgeScope = "history"
	// PurgeAll combines both: everything is hard-deleted.
	PurgeAll PurgeScope = "all"
)

// ParsePurgeScope validates a scope string.
func ParsePurgeScope(s string) (PurgeScope, error) {
	switch PurgeScope(s) {
	case PurgeCurrent, PurgeHistory, PurgeAll:
		return PurgeScope(s), nil
	}
	return "", ErrInvalidScope
}

// PurgeResult reports how many rows a purge touched.
type PurgeResult struct {
	TasksAffected int `json:"tasks_affected"`
	ItemsAffected int `json:"items_affected"`
}

// Store is the durable persistence boundary for tasks and items. All
// mutations are transactional: on error no state change is visible.
type Store interface {
	// CreateTask inserts a task with status queued together with its items
	// in one transaction and returns the stored task, items preloaded.
	CreateTask(ctx context.Context, draft TaskDraft) (*Task, error)

	// InsertItem appends one queued item to an existing task.
	InsertItem(ctx context.Context, taskID int64, index int, payload json.RawMessage) (*Item, error)

	// ClaimNextQueuedTask atomically selects the oldest queued task, marks
	// it running with started_at set, and returns it with items preloaded.
	// Returns ErrNoTaskToClaim when the queue is empty. Concurrent calls
	// must return disjoint tasks.
	ClaimNextQueuedTask(ctx context.Context) (*Task, error)

	// GetTask returns the task with items sorted by index ascending.
	// Returns ErrTaskNotFound when absent.
	GetTask(ctx context.Context, id int64) (*Task, error)

	// TaskStatus returns only the current status of a task. The worker
	// calls this between items to observe cancellation cheaply.
	TaskStatus(ctx context.Context, id int64) (Status, error)

	// ListTasks returns up to limit tasks ordered by created_at descending.
	// Items are preloaded only when withItems is true.
	ListTasks(ctx context.Context, limit int, withItems bool) ([]*Task, error)

	// UpdateItem applies a partial update and reports whether it took
	// effect. A terminal status of canceled is sticky: attempts to move a
	// canceled item to completed or failed are ignored and return
	// applied=false, so a late handler outcome cannot overwrite
	// cancellation and callers can tell the no-op apart from a real write.
	UpdateItem(ctx context.Context, itemID int64, upd ItemUpdate) (applied bool, err error)

	// UpdateTaskStatus sets the task status and, when non-nil, finished_at.
	UpdateTaskStatus(ctx context.Context, taskID int64, status Status, finishedAt *time.Time) error

	// IncrementCompletedItems bumps the completed counter by one.
	IncrementCompletedItems(ctx context.Context, taskID int64) error

	// CancelTask sets the task status to deleted with canceled_at=now and
	// marks all queued or running items canceled. Returns ErrTaskNotFound
	// when absent; canceling a task already in a terminal state is a no-op.
	CancelTask(ctx context.Context, taskID int64) (*Task, error)

	// PurgeTasks removes tasks per scope. olderThan limits the current
	// scope to tasks started (or created, when never started) before the
	// cutoff; zero means no cutoff.
	PurgeTasks(ctx context.Context, scope PurgeScope, olderThan time.Duration) (PurgeResult, error)
}
