package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// OutcomeKind classifies how an item terminated.
type OutcomeKind int

const (
	// OutcomeCompleted means the item succeeded and applied its changes.
	OutcomeCompleted OutcomeKind = iota
	// OutcomeNoOp means the item terminated successfully without applying
	// changes (e.g. no provider returned metadata). Counted as completed.
	OutcomeNoOp
	// OutcomeFailed means the item failed; the task finalizes as failed.
	OutcomeFailed
)

// Outcome is the result of handling one item.
type Outcome struct {
	Kind   OutcomeKind
	Result json.RawMessage
	Err    string
}

// Completed builds a success outcome. result may be nil.
func Completed(result any) Outcome {
	return Outcome{Kind: OutcomeCompleted, Result: marshalResult(result)}
}

// NoOp builds a successful no-change outcome. result may be nil.
func NoOp(result any) Outcome {
	return Outcome{Kind: OutcomeNoOp, Result: marshalResult(result)}
}

// Failed builds a failure outcome. result may be nil, in which case the
// error message is recorded as {"error": msg}.
func Failed(msg string, result any) Outcome {
	o := Outcome{Kind: OutcomeFailed, Err: msg, Result: marshalResult(result)}
	if o.Result == nil {
		o.Result = marshalResult(map[string]string{"error": msg})
	}
	return o
}

func marshalResult(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(fmt.Sprintf(`{"error":"unserializable result: %T"}`, v))
	}
	return b
}

type (
	// Handler processes items of one task type. The context is canceled
	// when the task is canceled or deleted mid-run; handlers should abort
	// at their next suspension point. Handlers must be idempotent with
	// respect to their external effects.
	Handler interface {
		// Type returns the task type this handler serves.
		Type() string
		// Handle processes one item and classifies its outcome. task is a
		// snapshot of the owning task, giving access to meta.
		Handle(ctx context.Context, task *Task, item Item) Outcome
	}

	// HandlerFunc is a type-safe handler function. T is the item payload
	// shape for the task type.
	HandlerFunc[T any] func(ctx context.Context, task *Task, payload T) Outcome
)

// NewHandler adapts a typed payload function into a Handler. The payload is
// decoded at the boundary; malformed payloads fail the item without invoking
// the function.
func NewHandler[T any](taskType string, fn HandlerFunc[T]) Handler {
	return &typedHandler[T]{taskType: taskType, fn: fn}
}

type typedHandler[T any] struct {
	taskType string
	fn       HandlerFunc[T]
}

func (h *typedHandler[T]) Type() string { return h.taskType }

func (h *typedHandler[T]) Handle(ctx context.Context, task *Task, item Item) Outcome {
	var payload T
	if len(item.Payload) > 0 {
		if err := json.Unmarshal(item.Payload, &payload); err != nil {
			return Failed(fmt.Sprintf("invalid payload: %v", err), nil)
		}
	}
	return h.fn(ctx, task, payload)
}

// Registry maps task types to handlers. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler, replacing any previous one for the same type.
// Nil handlers are ignored.
func (r *Registry) Register(handlers ...Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range handlers {
		if h != nil {
			r.handlers[h.Type()] = h
		}
	}
}

// Lookup returns the handler for a task type.
func (r *Registry) Lookup(taskType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskType]
	return h, ok
}

// Types returns the registered task types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
