package queue_test

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/medialib/core/queue"
)

func newService(t *testing.T) (*queue.Service, *queue.MemoryStore) {
	t.Helper()
	store := queue.NewMemoryStore()
	svc, err := queue.NewService(store, queue.NewEventBus(nil), queue.NewRegistry())
	require.NoError(t, err)
	return svc, store
}

func TestNewServiceRequiresStore(t *testing.T) {
	t.Parallel()
	_, err := queue.NewService(nil, nil, nil)
	assert.ErrorIs(t, err, queue.ErrStoreNil)
}

func TestServiceCreateTaskPublishes(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	svc, _ := newService(t)

	sub := svc.Subscribe()
	defer svc.Unsubscribe(sub)

	task, err := svc.CreateTask(ctx, draft(queue.TypeScan, `{"path":"/tmp/a","media_type":"movie"}`))
	require.NoError(t, err)
	assert.Equal(t, queue.StatusQueued, task.Status)

	msg := <-sub.Messages()
	assert.Contains(t, string(msg), "event: task_update")
	assert.Contains(t, string(msg), `"type":"scan"`)

	_, err = svc.CreateTask(ctx, queue.TaskDraft{})
	assert.ErrorIs(t, err, queue.ErrTypeRequired)
}

func TestServiceCancelTask(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	svc, _ := newService(t)

	task, err := svc.CreateTask(ctx, draft(queue.TypeScan, `{}`))
	require.NoError(t, err)

	sub := svc.Subscribe()
	defer svc.Unsubscribe(sub)

	canceled, err := svc.CancelTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusDeleted, canceled.Status)

	msg := <-sub.Messages()
	assert.Contains(t, string(msg), `"status":"deleted"`)

	_, err = svc.CancelTask(ctx, 404)
	assert.ErrorIs(t, err, queue.ErrTaskNotFound)
}

func TestServicePurgePublishesList(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	svc, _ := newService(t)

	_, err := svc.CreateTask(ctx, draft(queue.TypeScan, `{}`))
	require.NoError(t, err)

	sub := svc.Subscribe()
	defer svc.Unsubscribe(sub)

	res, err := svc.PurgeTasks(ctx, queue.PurgeAll, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TasksAffected)

	msg := <-sub.Messages()
	assert.Contains(t, string(msg), "event: tasks")
	assert.Contains(t, string(msg), "data: []")
}

func TestServiceListDefaultLimit(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	svc, _ := newService(t)

	for range queue.DefaultListLimit + 5 {
		_, err := svc.CreateTask(ctx, draft(queue.TypeScan, `{}`))
		require.NoError(t, err)
	}

	tasks, err := svc.ListTasks(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, tasks, queue.DefaultListLimit)
}

func TestServiceInitSnapshot(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	svc, _ := newService(t)

	frame, err := svc.InitSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "event: init\ndata: []\n\n", string(frame))

	task, err := svc.CreateTask(ctx, draft(queue.TypeScan, `{}`))
	require.NoError(t, err)

	frame, err = svc.InitSnapshot(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(frame), "event: init")
	assert.Contains(t, string(frame), `"id":`+strconv.FormatInt(task.ID, 10))
}

func TestServiceSubscriberSeesUpdatesAroundSnapshot(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	svc, _ := newService(t)

	// A stream handler subscribes first and renders the snapshot second.
	// An update landing in between must show up in the snapshot and stay
	// buffered on the subscription, so it can be duplicated but not lost.
	sub := svc.Subscribe()
	defer svc.Unsubscribe(sub)

	task, err := svc.CreateTask(ctx, draft(queue.TypeScan, `{}`))
	require.NoError(t, err)

	frame, err := svc.InitSnapshot(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(frame), `"id":`+strconv.FormatInt(task.ID, 10))

	msg := <-sub.Messages()
	assert.Contains(t, string(msg), "event: task_update")
	assert.Contains(t, string(msg), `"id":`+strconv.FormatInt(task.ID, 10))
}
