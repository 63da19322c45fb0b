package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/medialib/core/logger"
)

// DefaultListLimit caps ListTasks when the caller passes no limit.
const DefaultListLimit = 50

// Service exposes task operations to the HTTP surface. It composes the
// Store with the EventBus so every visible state change is broadcast.
type Service struct {
	store Store
	bus   *EventBus
	reg   *Registry
	log   *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the slog logger.
func WithServiceLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService creates a Service. The registry is consulted only for
// diagnostics: unknown task types are accepted at creation time and fail
// per-item at execution.
func NewService(store Store, bus *EventBus, reg *Registry, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if bus == nil {
		bus = NewEventBus(nil)
	}
	if reg == nil {
		reg = NewRegistry()
	}
	s := &Service{store: store, bus: bus, reg: reg, log: logger.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Bus returns the event bus for the streaming endpoint.
func (s *Service) Bus() *EventBus { return s.bus }

// CreateTask validates and persists a new task with its items, then
// broadcasts the snapshot.
func (s *Service) CreateTask(ctx context.Context, draft TaskDraft) (*Task, error) {
	if draft.Type == "" {
		return nil, ErrTypeRequired
	}

	task, err := s.store.CreateTask(ctx, draft)
	if err != nil {
		return nil, fmt.Errorf("failed to create %q task: %w", draft.Type, err)
	}

	if _, known := s.reg.Lookup(task.Type); !known {
		s.log.Warn("task created with no registered handler", logger.TaskType(task.Type), logger.TaskID(task.ID))
	}

	s.log.Info("task created",
		logger.TaskID(task.ID), logger.TaskType(task.Type), logger.Count("items", task.TotalItems))
	s.bus.PublishTaskUpdate(task)
	return task, nil
}

// ListTasks returns up to limit tasks, newest first. limit <= 0 uses the
// default of 50.
func (s *Service) ListTasks(ctx context.Context, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.store.ListTasks(ctx, limit, false)
}

// GetTask returns one task with items.
func (s *Service) GetTask(ctx context.Context, id int64) (*Task, error) {
	return s.store.GetTask(ctx, id)
}

// CancelTask cancels a task and broadcasts the updated snapshot. Canceling
// a task already in a terminal state is a silent no-op.
func (s *Service) CancelTask(ctx context.Context, id int64) (*Task, error) {
	task, err := s.store.CancelTask(ctx, id)
	if err != nil {
		return nil, err
	}

	s.log.Info("task canceled", logger.TaskID(id), logger.TaskType(task.Type))
	s.bus.PublishTaskUpdate(task)
	return task, nil
}

// PurgeTasks removes tasks per scope and broadcasts the new list snapshot.
// olderThan limits the current scope; zero means no cutoff.
func (s *Service) PurgeTasks(ctx context.Context, scope PurgeScope, olderThan time.Duration) (PurgeResult, error) {
	res, err := s.store.PurgeTasks(ctx, scope, olderThan)
	if err != nil {
		return PurgeResult{}, err
	}

	s.log.Info("tasks purged",
		logger.ID("scope", string(scope)),
		logger.Count("tasks", res.TasksAffected),
		logger.Count("items", res.ItemsAffected))

	if tasks, listErr := s.store.ListTasks(ctx, DefaultListLimit, false); listErr == nil {
		s.bus.PublishTaskList(tasks)
	}
	return res, nil
}

// Subscribe attaches a streaming subscriber to the bus.
func (s *Service) Subscribe() *Subscription { return s.bus.Subscribe() }

// Unsubscribe detaches a streaming subscriber.
func (s *Service) Unsubscribe(sub *Subscription) { s.bus.Unsubscribe(sub) }

// InitSnapshot renders the init frame sent to a new stream subscriber.
func (s *Service) InitSnapshot(ctx context.Context) ([]byte, error) {
	tasks, err := s.store.ListTasks(ctx, DefaultListLimit, false)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []*Task{}
	}
	payload, err := json.Marshal(tasks)
	if err != nil {
		return nil, err
	}
	return Frame(EventInit, payload), nil
}
