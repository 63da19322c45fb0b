package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/dmitrymomot/medialib/core/logger"
)

// Event names carried on the stream.
const (
	EventInit       = "init"
	EventTasks      = "tasks"
	EventTaskUpdate = "task_update"
	EventPing       = "ping"
)

// subscriberBuffer is the fixed per-subscriber message capacity.
const subscriberBuffer = 10

// Frame renders an SSE block for an event with a JSON payload. The HTTP
// layer passes frames through to clients verbatim.
func Frame(event string, data []byte) []byte {
	if len(data) == 0 {
		data = []byte("{}")
	}
	return fmt.Appendf(nil, "event: %s\ndata: %s\n\n", event, data)
}

// Subscription is one reader's view of the bus. Only its owner reads from
// the channel; Unsubscribe releases it.
type Subscription struct {
	id uuid.UUID
	ch chan []byte
}

// Messages returns the subscriber's buffered message channel.
func (s *Subscription) Messages() <-chan []byte { return s.ch }

// EventBus fans task-change notifications out to streaming subscribers.
// Delivery is best-effort: each subscriber owns a bounded buffer and the
// oldest message is dropped when it is full. Producers never block.
type EventBus struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]chan []byte
	log  *slog.Logger
}

// NewEventBus creates an empty bus. log may be nil.
func NewEventBus(log *slog.Logger) *EventBus {
	if log == nil {
		log = logger.Discard()
	}
	return &EventBus{subs: make(map[uuid.UUID]chan []byte), log: log}
}

// Subscribe allocates a subscriber with a buffer of 10 messages.
func (b *EventBus) Subscribe() *Subscription {
	sub := &Subscription{id: uuid.New(), ch: make(chan []byte, subscriberBuffer)}
	b.mu.Lock()
	b.subs[sub.id] = sub.ch
	b.mu.Unlock()
	return sub
}

// Unsubscribe releases a subscription. Idempotent; nil-safe.
func (b *EventBus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	delete(b.subs, sub.id)
	b.mu.Unlock()
}

// SubscriberCount returns the number of live subscribers.
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish marshals data and enqueues one framed message per subscriber.
// Marshal failures drop the event; fan-out failures drop the subscriber.
func (b *EventBus) Publish(event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		b.log.Error("failed to serialize event payload",
			logger.Event(event), logger.Error(err))
		return
	}
	b.publish(Frame(event, payload))
}

// PublishTaskUpdate broadcasts a single task snapshot.
func (b *EventBus) PublishTaskUpdate(task *Task) {
	if task == nil {
		return
	}
	b.Publish(EventTaskUpdate, task)
}

// PublishTaskList broadcasts a task list snapshot.
func (b *EventBus) PublishTaskList(tasks []*Task) {
	if tasks == nil {
		tasks = []*Task{}
	}
	b.Publish(EventTasks, tasks)
}

func (b *EventBus) publish(frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- frame:
			continue
		default:
		}

		// Buffer full: drop the oldest message, then retry once. If the
		// retry still fails the reader is gone; remove the subscriber.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- frame:
		default:
			delete(b.subs, id)
			b.log.Debug("removed unresponsive event subscriber", logger.ID("subscriber", id.String()))
		}
	}
}
