package queue_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/medialib/core/queue"
)

type scanPayload struct {
	Path      string `json:"path"`
	MediaType string `json:"media_type"`
}

func TestNewHandlerDecodesPayload(t *testing.T) {
	t.Parallel()

	var got scanPayload
	h := queue.NewHandler(queue.TypeScan, func(_ context.Context, _ *queue.Task, p scanPayload) queue.Outcome {
		got = p
		return queue.Completed(map[string]int{"found": 3})
	})
	require.Equal(t, queue.TypeScan, h.Type())

	outcome := h.Handle(t.Context(), &queue.Task{Type: queue.TypeScan}, queue.Item{
		Payload: json.RawMessage(`{"path":"/tmp/a","media_type":"movie"}`),
	})
	assert.Equal(t, queue.OutcomeCompleted, outcome.Kind)
	assert.JSONEq(t, `{"found":3}`, string(outcome.Result))
	assert.Equal(t, scanPayload{Path: "/tmp/a", MediaType: "movie"}, got)
}

func TestNewHandlerMalformedPayloadFails(t *testing.T) {
	t.Parallel()

	h := queue.NewHandler(queue.TypeScan, func(_ context.Context, _ *queue.Task, _ scanPayload) queue.Outcome {
		t.Fatal("handler must not be invoked for malformed payload")
		return queue.Completed(nil)
	})

	outcome := h.Handle(t.Context(), &queue.Task{}, queue.Item{Payload: json.RawMessage(`not json`)})
	assert.Equal(t, queue.OutcomeFailed, outcome.Kind)
	assert.Contains(t, outcome.Err, "invalid payload")
}

func TestOutcomeConstructors(t *testing.T) {
	t.Parallel()

	noop := queue.NoOp(map[string]any{"updated_from": nil, "note": "no metadata found"})
	assert.Equal(t, queue.OutcomeNoOp, noop.Kind)
	assert.Contains(t, string(noop.Result), "no metadata found")

	failed := queue.Failed("boom", nil)
	assert.Equal(t, queue.OutcomeFailed, failed.Kind)
	assert.JSONEq(t, `{"error":"boom"}`, string(failed.Result))

	// An explicit result is preserved alongside the message.
	failed = queue.Failed("missing file_path", map[string]string{"error": "missing file_path", "movie_id": "7"})
	assert.Contains(t, string(failed.Result), "movie_id")
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg := queue.NewRegistry()
	_, ok := reg.Lookup(queue.TypeScan)
	require.False(t, ok)

	reg.Register(queue.NewHandler(queue.TypeScan, func(_ context.Context, _ *queue.Task, _ scanPayload) queue.Outcome {
		return queue.Completed(nil)
	}), nil)

	h, ok := reg.Lookup(queue.TypeScan)
	require.True(t, ok)
	assert.Equal(t, queue.TypeScan, h.Type())
	assert.ElementsMatch(t, []string{queue.TypeScan}, reg.Types())
}
