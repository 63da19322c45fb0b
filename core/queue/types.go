package queue

import (
	"encoding/json"
	"time"
)

// Built-in task types. The set is open: any string with a registered handler
// is a valid task type, and unknown types are accepted at creation time so
// they fail per-item at execution instead.
const (
	TypeScan             = "scan"
	TypeAnalyze          = "analyze"
	TypeRefreshMetadata  = "refresh_metadata"
	TypeSyncWatchHistory = "sync_watch_history"
)

// Status tracks the lifecycle state of a task. Values persist in lowercase.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
	StatusDeleted   Status = "deleted"
)

// Terminal reports whether no further task transitions are allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled, StatusDeleted:
		return true
	}
	return false
}

// ItemStatus tracks the lifecycle state of a single item.
type ItemStatus string

const (
	ItemQueued    ItemStatus = "queued"
	ItemRunning   ItemStatus = "running"
	ItemCompleted ItemStatus = "completed"
	ItemFailed    ItemStatus = "failed"
	ItemCanceled  ItemStatus = "canceled"
)

// Terminal reports whether no further item transitions are allowed.
func (s ItemStatus) Terminal() bool {
	switch s {
	case ItemCompleted, ItemFailed, ItemCanceled:
		return true
	}
	return false
}

// Task is a durable unit of work owning an ordered list of items.
type Task struct {
	ID             int64          `json:"id"`
	Type           string         `json:"type"`
	Status         Status         `json:"status"`
	CreatedBy      string         `json:"created_by,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
	CanceledAt     *time.Time     `json:"canceled_at,omitempty"`
	TotalItems     int            `json:"total_items"`
	CompletedItems int            `json:"completed_items"`
	Meta           map[string]any `json:"meta,omitempty"`
	Items          []Item         `json:"items,omitempty"`
}

// MetaString returns the string value of a meta key, or "" when absent.
func (t *Task) MetaString(key string) string {
	if t.Meta == nil {
		return ""
	}
	s, _ := t.Meta[key].(string)
	return s
}

// MetaBool returns the boolean value of a meta key, or false when absent.
func (t *Task) MetaBool(key string) bool {
	if t.Meta == nil {
		return false
	}
	b, _ := t.Meta[key].(bool)
	return b
}

// Item is a single executable work unit belonging to a task.
type Item struct {
	ID         int64           `json:"id"`
	TaskID     int64           `json:"task_id"`
	Index      int             `json:"index"`
	Status     ItemStatus      `json:"status"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}
