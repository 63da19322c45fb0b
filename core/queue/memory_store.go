package queue

import (
	"context"
	"encoding/json"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store in memory for tests and local development.
// Mutations are serialized by a single mutex, mirroring the single-writer
// semantics of the durable store.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	tasks  map[int64]*Task
	items  map[int64]*Item // keyed by item id
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[int64]*Task),
		items: make(map[int64]*Item),
	}
}

func (ms *MemoryStore) nextIdent() int64 {
	ms.nextID++
	return ms.nextID
}

func (ms *MemoryStore) CreateTask(_ context.Context, draft TaskDraft) (*Task, error) {
	if draft.Type == "" {
		return nil, ErrTypeRequired
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	task := &Task{
		ID:         ms.nextIdent(),
		Type:       draft.Type,
		Status:     StatusQueued,
		CreatedBy:  draft.CreatedBy,
		CreatedAt:  time.Now().UTC(),
		TotalItems: len(draft.Payloads),
		Meta:       draft.Meta,
	}
	for i, payload := range draft.Payloads {
		item := &Item{
			ID:      ms.nextIdent(),
			TaskID:  task.ID,
			Index:   i,
			Status:  ItemQueued,
			Payload: slices.Clone(payload),
		}
		ms.items[item.ID] = item
	}
	ms.tasks[task.ID] = task

	return ms.snapshotTask(task.ID, true), nil
}

func (ms *MemoryStore) InsertItem(_ context.Context, taskID int64, index int, payload json.RawMessage) (*Item, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, ok := ms.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	item := &Item{
		ID:      ms.nextIdent(),
		TaskID:  taskID,
		Index:   index,
		Status:  ItemQueued,
		Payload: slices.Clone(payload),
	}
	ms.items[item.ID] = item
	task.TotalItems++

	cp := *item
	return &cp, nil
}

func (ms *MemoryStore) ClaimNextQueuedTask(_ context.Context) (*Task, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var oldest *Task
	for _, task := range ms.tasks {
		if task.Status != StatusQueued {
			continue
		}
		if oldest == nil || task.CreatedAt.Before(oldest.CreatedAt) ||
			(task.CreatedAt.Equal(oldest.CreatedAt) && task.ID < oldest.ID) {
			oldest = task
		}
	}
	if oldest == nil {
		return nil, ErrNoTaskToClaim
	}

	now := time.Now().UTC()
	oldest.Status = StatusRunning
	oldest.StartedAt = &now

	return ms.snapshotTask(oldest.ID, true), nil
}

func (ms *MemoryStore) GetTask(_ context.Context, id int64) (*Task, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if _, ok := ms.tasks[id]; !ok {
		return nil, ErrTaskNotFound
	}
	return ms.snapshotTask(id, true), nil
}

func (ms *MemoryStore) TaskStatus(_ context.Context, id int64) (Status, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	task, ok := ms.tasks[id]
	if !ok {
		return "", ErrTaskNotFound
	}
	return task.Status, nil
}

func (ms *MemoryStore) ListTasks(_ context.Context, limit int, withItems bool) ([]*Task, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	ids := make([]int64, 0, len(ms.tasks))
	for id := range ms.tasks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := ms.tasks[ids[i]], ms.tasks[ids[j]]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})

	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]*Task, 0, len(ids))
	for _, id := range ids {
		out = append(out, ms.snapshotTask(id, withItems))
	}
	return out, nil
}

func (ms *MemoryStore) UpdateItem(_ context.Context, itemID int64, upd ItemUpdate) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	item, ok := ms.items[itemID]
	if !ok {
		return false, ErrItemNotFound
	}

	// Canceled is sticky: a late handler outcome must not overwrite it.
	if upd.Status != nil {
		if item.Status == ItemCanceled && *upd.Status != ItemCanceled {
			return false, nil
		}
		item.Status = *upd.Status
	}
	if upd.Result != nil {
		item.Result = slices.Clone(upd.Result)
	}
	if upd.StartedAt != nil {
		t := *upd.StartedAt
		item.StartedAt = &t
	}
	if upd.FinishedAt != nil {
		t := *upd.FinishedAt
		item.FinishedAt = &t
	}
	return true, nil
}

func (ms *MemoryStore) UpdateTaskStatus(_ context.Context, taskID int64, status Status, finishedAt *time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, ok := ms.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	task.Status = status
	if finishedAt != nil {
		t := *finishedAt
		task.FinishedAt = &t
	}
	return nil
}

func (ms *MemoryStore) IncrementCompletedItems(_ context.Context, taskID int64) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, ok := ms.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	task.CompletedItems++
	return nil
}

func (ms *MemoryStore) CancelTask(_ context.Context, taskID int64) (*Task, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, ok := ms.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}

	if !task.Status.Terminal() {
		now := time.Now().UTC()
		task.Status = StatusDeleted
		task.CanceledAt = &now
		for _, item := range ms.items {
			if item.TaskID != taskID {
				continue
			}
			if item.Status == ItemQueued || item.Status == ItemRunning {
				item.Status = ItemCanceled
				t := now
				item.FinishedAt = &t
			}
		}
	}

	return ms.snapshotTask(taskID, true), nil
}

func (ms *MemoryStore) PurgeTasks(_ context.Context, scope PurgeScope, olderThan time.Duration) (PurgeResult, error) {
	if _, err := ParsePurgeScope(string(scope)); err != nil {
		return PurgeResult{}, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	var res PurgeResult
	now := time.Now().UTC()

	if scope == PurgeCurrent {
		for _, task := range ms.tasks {
			if task.Status != StatusQueued && task.Status != StatusRunning {
				continue
			}
			if olderThan > 0 {
				ref := task.CreatedAt
				if task.StartedAt != nil {
					ref = *task.StartedAt
				}
				if now.Sub(ref) < olderThan {
					continue
				}
			}
			task.Status = StatusDeleted
			t := now
			task.CanceledAt = &t
			res.TasksAffected++
			for _, item := range ms.items {
				if item.TaskID == task.ID && (item.Status == ItemQueued || item.Status == ItemRunning) {
					item.Status = ItemCanceled
					res.ItemsAffected++
				}
			}
		}
	}

	if scope == PurgeHistory || scope == PurgeAll {
		for id, task := range ms.tasks {
			if scope == PurgeHistory && !task.Status.Terminal() {
				continue
			}
			delete(ms.tasks, id)
			res.TasksAffected++
			for itemID, item := range ms.items {
				if item.TaskID == id {
					delete(ms.items, itemID)
					res.ItemsAffected++
				}
			}
		}
	}

	return res, nil
}

// snapshotTask returns a deep copy. Callers must hold at least a read lock.
func (ms *MemoryStore) snapshotTask(id int64, withItems bool) *Task {
	task := ms.tasks[id]
	cp := *task
	cp.Items = nil
	if withItems {
		for _, item := range ms.items {
			if item.TaskID == id {
				cp.Items = append(cp.Items, *item)
			}
		}
		sort.Slice(cp.Items, func(i, j int) bool { return cp.Items[i].Index < cp.Items[j].Index })
	}
	if task.Meta != nil {
		cp.Meta = make(map[string]any, len(task.Meta))
		for k, v := range task.Meta {
			cp.Meta[k] = v
		}
	}
	return &cp
}
