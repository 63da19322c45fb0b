package tautulli_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/medialib/integration/tautulli"
)

func newClient(t *testing.T, handler http.HandlerFunc) *tautulli.Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := tautulli.New(tautulli.Config{
		URL:     srv.URL,
		APIKey:  "secret",
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return client
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := tautulli.New(tautulli.Config{URL: "http://tautulli:8181"})
	assert.ErrorIs(t, err, tautulli.ErrNotConfigured)
}

func TestClient_History(t *testing.T) {
	t.Parallel()

	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("apikey"))
		assert.Equal(t, "get_history", r.URL.Query().Get("cmd"))
		assert.Equal(t, "42", r.URL.Query().Get("rating_key"))
		w.Write([]byte(`{"response":{"result":"success","data":{"data":[
			{"rating_key":42,"full_title":"Test Movie","date":1704484800,"user":"alice","watched_status":1},
			{"rating_key":42,"full_title":"Test Movie","date":1704571200,"user":"bob","watched_status":0}
		]}}}`))
	})

	events, err := client.History(t.Context(), 42)
	require.NoError(t, err)
	require.Len(t, events, 1, "partial plays skipped")
	assert.Equal(t, int64(42), events[0].RatingKey)
	assert.Equal(t, "alice", events[0].User)
	assert.Equal(t, time.Unix(1704484800, 0).UTC(), events[0].WatchedAt)
}

func TestClient_RecentHistory(t *testing.T) {
	t.Parallel()

	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "25", r.URL.Query().Get("length"))
		w.Write([]byte(`{"response":{"result":"success","data":{"data":[
			{"rating_key":"7","title":"Another Movie","date":1704484800,"user":"carol","watched_status":0}
		]}}}`))
	})

	events, err := client.RecentHistory(t.Context(), 25)
	require.NoError(t, err)
	require.Len(t, events, 1, "recent scan keeps partial plays")
	assert.Equal(t, int64(7), events[0].RatingKey, "string rating keys parsed")
	assert.Equal(t, "Another Movie", events[0].Title)
}

func TestClient_Search(t *testing.T) {
	t.Parallel()

	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "search", r.URL.Query().Get("cmd"))
		assert.Equal(t, "Test Movie", r.URL.Query().Get("query"))
		w.Write([]byte(`{"response":{"result":"success","data":{"results_list":{"movie":[
			{"rating_key":"42","title":"Test Movie","year":"2023"}
		]}}}}`))
	})

	matches, err := client.Search(t.Context(), "Test Movie")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, int64(42), matches[0].RatingKey)
	assert.Equal(t, 2023, matches[0].Year)
}

func TestClient_Error(t *testing.T) {
	t.Parallel()

	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":{"result":"error","message":"Invalid apikey"}}`))
	})

	_, err := client.History(t.Context(), 42)
	assert.ErrorIs(t, err, tautulli.ErrRequestFailed)
	assert.Contains(t, err.Error(), "Invalid apikey")
}
