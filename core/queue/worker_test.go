package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/medialib/core/logs"
	"github.com/dmitrymomot/medialib/core/queue"
)

type memOpLog struct {
	mu      sync.Mutex
	entries []logs.Entry
}

func (l *memOpLog) Record(e logs.Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

func (l *memOpLog) all() []logs.Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]logs.Entry(nil), l.entries...)
}

func newWorker(t *testing.T, store queue.Store, reg *queue.Registry, opts ...queue.WorkerOption) *queue.Worker {
	t.Helper()
	w, err := queue.NewWorker(store, queue.NewEventBus(nil), reg, opts...)
	require.NoError(t, err)
	return w
}

// ============================================================================
// ProcessOne
// ============================================================================

func TestWorkerProcessOneEmptyQueue(t *testing.T) {
	t.Parallel()

	w := newWorker(t, queue.NewMemoryStore(), queue.NewRegistry())
	processed, err := w.ProcessOne(t.Context())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestWorkerProcessesScanTask(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	store := queue.NewMemoryStore()

	reg := queue.NewRegistry()
	reg.Register(queue.NewHandler(queue.TypeScan, func(_ context.Context, _ *queue.Task, p scanPayload) queue.Outcome {
		return queue.Completed(map[string]int{"found": 3})
	}))

	task, err := store.CreateTask(ctx, draft(queue.TypeScan, `{"path":"/tmp/a","media_type":"movie"}`))
	require.NoError(t, err)

	w := newWorker(t, store, reg)
	processed, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCompleted, got.Status)
	assert.Equal(t, 1, got.CompletedItems)
	require.NotNil(t, got.FinishedAt)
	assert.JSONEq(t, `{"found":3}`, string(got.Items[0].Result))
	require.NotNil(t, got.Items[0].StartedAt)
	require.NotNil(t, got.Items[0].FinishedAt)

	status := w.Status()
	require.NotNil(t, status.LastProcessedAt)
	assert.Empty(t, status.LastError)
}

func TestWorkerItemsRunInIndexOrder(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	store := queue.NewMemoryStore()

	var order []string
	reg := queue.NewRegistry()
	reg.Register(queue.NewHandler(queue.TypeScan, func(_ context.Context, _ *queue.Task, p scanPayload) queue.Outcome {
		order = append(order, p.Path)
		return queue.Completed(nil)
	}))

	task, err := store.CreateTask(ctx, draft(queue.TypeScan, `{"path":"/a"}`, `{"path":"/b"}`, `{"path":"/c"}`))
	require.NoError(t, err)

	w := newWorker(t, store, reg)
	_, err = w.ProcessOne(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"/a", "/b", "/c"}, order)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	for i := 0; i < len(got.Items)-1; i++ {
		require.NotNil(t, got.Items[i].StartedAt)
		require.NotNil(t, got.Items[i+1].StartedAt)
		assert.LessOrEqual(t, got.Items[i].StartedAt.UnixNano(), got.Items[i+1].StartedAt.UnixNano())
	}
}

func TestWorkerUnknownTaskType(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	store := queue.NewMemoryStore()

	task, err := store.CreateTask(ctx, draft("bogus_type", `{}`))
	require.NoError(t, err)

	oplog := &memOpLog{}
	w := newWorker(t, store, queue.NewRegistry(), queue.WithOpLog(oplog))
	_, err = w.ProcessOne(ctx)
	require.NoError(t, err)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, got.Status)
	assert.Equal(t, queue.ItemFailed, got.Items[0].Status)
	assert.JSONEq(t, `{"error":"unknown task type"}`, string(got.Items[0].Result))
	assert.Zero(t, got.CompletedItems)

	entries := oplog.all()
	require.NotEmpty(t, entries)
	assert.Equal(t, logs.LevelError, entries[0].Level)
	assert.Equal(t, "QueueWorker", entries[0].Logger)

	assert.Contains(t, w.Status().LastError, "unknown task type")
}

func TestWorkerNoOpCountsAsCompleted(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	store := queue.NewMemoryStore()

	reg := queue.NewRegistry()
	reg.Register(queue.NewHandler(queue.TypeRefreshMetadata, func(_ context.Context, _ *queue.Task, _ map[string]any) queue.Outcome {
		return queue.NoOp(map[string]any{"updated_from": nil, "note": "no metadata found"})
	}))

	task, err := store.CreateTask(ctx, draft(queue.TypeRefreshMetadata, `{"movie_id":7}`))
	require.NoError(t, err)

	w := newWorker(t, store, reg)
	_, err = w.ProcessOne(ctx)
	require.NoError(t, err)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCompleted, got.Status)
	assert.Equal(t, 1, got.CompletedItems)
	assert.Equal(t, queue.ItemCompleted, got.Items[0].Status)
	assert.Contains(t, string(got.Items[0].Result), "no metadata found")
}

func TestWorkerMixedOutcomesFinalizeFailed(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	store := queue.NewMemoryStore()

	reg := queue.NewRegistry()
	reg.Register(queue.NewHandler(queue.TypeScan, func(_ context.Context, _ *queue.Task, p scanPayload) queue.Outcome {
		if p.Path == "/bad" {
			return queue.Failed("scanner exploded", nil)
		}
		return queue.Completed(nil)
	}))

	task, err := store.CreateTask(ctx, draft(queue.TypeScan, `{"path":"/good"}`, `{"path":"/bad"}`, `{"path":"/good2"}`))
	require.NoError(t, err)

	oplog := &memOpLog{}
	w := newWorker(t, store, reg, queue.WithOpLog(oplog))
	_, err = w.ProcessOne(ctx)
	require.NoError(t, err)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, got.Status)
	assert.Equal(t, 2, got.CompletedItems)
	assert.Equal(t, queue.ItemCompleted, got.Items[0].Status)
	assert.Equal(t, queue.ItemFailed, got.Items[1].Status)
	assert.Equal(t, queue.ItemCompleted, got.Items[2].Status)

	// One entry for the failed item, one summarizing the failed task.
	entries := oplog.all()
	require.Len(t, entries, 2)
	assert.Contains(t, entries[0].Message, "item 1 failed")
	assert.Contains(t, entries[1].Message, "failed item")
}

func TestWorkerHandlerPanicBecomesFailure(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	store := queue.NewMemoryStore()

	reg := queue.NewRegistry()
	reg.Register(queue.NewHandler(queue.TypeScan, func(_ context.Context, _ *queue.Task, _ scanPayload) queue.Outcome {
		panic("kaboom")
	}))

	task, err := store.CreateTask(ctx, draft(queue.TypeScan, `{}`))
	require.NoError(t, err)

	w := newWorker(t, store, reg)
	_, err = w.ProcessOne(ctx)
	require.NoError(t, err)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, got.Status)
	assert.Contains(t, string(got.Items[0].Result), "kaboom")
}

// ============================================================================
// Cancellation
// ============================================================================

func TestWorkerCancelMidRun(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	store := queue.NewMemoryStore()

	reg := queue.NewRegistry()
	reg.Register(queue.NewHandler(queue.TypeScan, func(hctx context.Context, _ *queue.Task, _ scanPayload) queue.Outcome {
		select {
		case <-hctx.Done():
			return queue.Failed("aborted", nil)
		case <-time.After(500 * time.Millisecond):
			return queue.Completed(nil)
		}
	}))

	task, err := store.CreateTask(ctx, draft(queue.TypeScan, `{"path":"/one"}`, `{"path":"/two"}`))
	require.NoError(t, err)

	w := newWorker(t, store, reg, queue.WithPollInterval(10*time.Millisecond))
	go w.Start(ctx) //nolint:errcheck
	defer w.Stop()  //nolint:errcheck

	time.Sleep(100 * time.Millisecond)
	_, err = store.CancelTask(ctx, task.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := store.GetTask(ctx, task.ID)
		if err != nil {
			return false
		}
		for _, item := range got.Items {
			if !item.Status.Terminal() {
				return false
			}
		}
		return true
	}, 3*time.Second, 20*time.Millisecond)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusDeleted, got.Status)
	require.NotNil(t, got.CanceledAt)

	// The first item may have finished or been canceled depending on
	// timing; the second must never have run.
	assert.Contains(t, []queue.ItemStatus{queue.ItemCompleted, queue.ItemCanceled, queue.ItemFailed}, got.Items[0].Status)
	assert.Equal(t, queue.ItemCanceled, got.Items[1].Status)
	assert.Nil(t, got.Items[1].StartedAt)
}

func TestWorkerCancelDuringHandlerDiscardsOutcome(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	store := queue.NewMemoryStore()

	reg := queue.NewRegistry()
	reg.Register(queue.NewHandler(queue.TypeScan, func(_ context.Context, task *queue.Task, _ scanPayload) queue.Outcome {
		// Cancellation lands while the item is running; the outcome
		// reported afterwards must not count.
		_, err := store.CancelTask(ctx, task.ID)
		require.NoError(t, err)
		return queue.Completed(map[string]int{"found": 3})
	}))

	task, err := store.CreateTask(ctx, draft(queue.TypeScan, `{"path":"/a"}`))
	require.NoError(t, err)

	w := newWorker(t, store, reg)
	_, err = w.ProcessOne(ctx)
	require.NoError(t, err)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusDeleted, got.Status)
	assert.Equal(t, queue.ItemCanceled, got.Items[0].Status)

	completed := 0
	for _, item := range got.Items {
		if item.Status == queue.ItemCompleted {
			completed++
		}
	}
	assert.Equal(t, completed, got.CompletedItems, "counter must match completed items")
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestWorkerRunOnceAfterStopFinalizes(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	store := queue.NewMemoryStore()

	w := newWorker(t, store, registryWithNoop(), queue.WithPollInterval(10*time.Millisecond))
	go w.Start(ctx) //nolint:errcheck
	require.Eventually(t, w.IsRunning, time.Second, 5*time.Millisecond)
	require.NoError(t, w.Stop())

	task, err := store.CreateTask(ctx, draft(queue.TypeScan, `{"path":"/a"}`))
	require.NoError(t, err)

	// A stop must not bleed into later one-shot runs: the task has to
	// reach a terminal state, not be abandoned mid-claim.
	processed, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCompleted, got.Status)
	assert.Equal(t, queue.ItemCompleted, got.Items[0].Status)
	require.NotNil(t, got.FinishedAt)
}

func TestWorkerStartStopIdempotent(t *testing.T) {
	t.Parallel()

	w := newWorker(t, queue.NewMemoryStore(), registryWithNoop(),
		queue.WithPollInterval(10*time.Millisecond))

	assert.NoError(t, w.Stop()) // not started yet

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx) //nolint:errcheck

	require.Eventually(t, w.IsRunning, time.Second, 5*time.Millisecond)
	assert.NoError(t, w.Start(ctx)) // second start is a no-op

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
	assert.NoError(t, w.Stop())
}

func TestWorkerRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	w := newWorker(t, queue.NewMemoryStore(), registryWithNoop(),
		queue.WithPollInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx)() }()

	require.Eventually(t, w.IsRunning, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func registryWithNoop() *queue.Registry {
	reg := queue.NewRegistry()
	reg.Register(queue.NewHandler(queue.TypeScan, func(_ context.Context, _ *queue.Task, _ scanPayload) queue.Outcome {
		return queue.Completed(nil)
	}))
	return reg
}
