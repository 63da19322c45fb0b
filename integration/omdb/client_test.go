package omdb_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/medialib/integration/omdb"
	"github.com/dmitrymomot/medialib/media"
)

func newClient(t *testing.T, handler http.HandlerFunc) *omdb.Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return omdb.New(omdb.Config{
		APIKey:  "secret",
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
	})
}

func TestConfigured(t *testing.T) {
	t.Parallel()

	assert.False(t, omdb.New(omdb.Config{}).Configured())
	assert.True(t, omdb.New(omdb.Config{APIKey: "k"}).Configured())

	var nilClient *omdb.Client
	assert.False(t, nilClient.Configured())
}

func TestClient_ByTitle(t *testing.T) {
	t.Parallel()

	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("apikey"))
		assert.Equal(t, "Test Movie", r.URL.Query().Get("t"))
		assert.Equal(t, "2023", r.URL.Query().Get("y"))
		w.Write([]byte(`{
			"Response":"True","Title":"Test Movie","Year":"2023",
			"Runtime":"121 min","Genre":"Drama, Thriller","Plot":"An overview.",
			"Poster":"https://example.com/p.jpg","imdbID":"tt7654321",
			"imdbRating":"7.8","imdbVotes":"123,456","Metascore":"74",
			"Ratings":[
				{"Source":"Internet Movie Database","Value":"7.8/10"},
				{"Source":"Rotten Tomatoes","Value":"91%"},
				{"Source":"Metacritic","Value":"74/100"}
			]
		}`))
	})

	ratings, err := client.ByTitle(t.Context(), "Test Movie", 2023)
	require.NoError(t, err)
	assert.Equal(t, "tt7654321", ratings.IMDBID)
	assert.Equal(t, 2023, ratings.Year)
	require.NotNil(t, ratings.IMDBRating)
	assert.InDelta(t, 7.8, *ratings.IMDBRating, 0.001)
	require.NotNil(t, ratings.IMDBVotes)
	assert.Equal(t, 123456, *ratings.IMDBVotes, "comma-grouped votes parsed")
	require.NotNil(t, ratings.RottenTomatoesScore)
	assert.Equal(t, 91, *ratings.RottenTomatoesScore)
	require.NotNil(t, ratings.MetacriticScore)
	assert.Equal(t, 74, *ratings.MetacriticScore)
	require.NotNil(t, ratings.Runtime)
	assert.Equal(t, 121, *ratings.Runtime)
	require.NotNil(t, ratings.Genres)
	assert.Equal(t, "Drama, Thriller", *ratings.Genres)
}

func TestClient_ScrubsNA(t *testing.T) {
	t.Parallel()

	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"Response":"True","Title":"Obscure Film","Year":"N/A",
			"Runtime":"N/A","Genre":"N/A","Plot":"N/A","Poster":"N/A",
			"imdbID":"tt0000001","imdbRating":"N/A","imdbVotes":"N/A","Metascore":"N/A"
		}`))
	})

	ratings, err := client.ByIMDB(t.Context(), "tt0000001")
	require.NoError(t, err)
	assert.Nil(t, ratings.IMDBRating)
	assert.Nil(t, ratings.IMDBVotes)
	assert.Nil(t, ratings.Overview)
	assert.Nil(t, ratings.Genres)
	assert.Nil(t, ratings.Runtime)
	assert.Nil(t, ratings.PosterURL)
	assert.Nil(t, ratings.MetacriticScore)
	assert.Zero(t, ratings.Year)
}

func TestClient_Miss(t *testing.T) {
	t.Parallel()

	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Response":"False","Error":"Movie not found!"}`))
	})

	_, err := client.ByTitle(t.Context(), "No Such Film", 0)
	assert.ErrorIs(t, err, media.ErrNotFound)
}

func TestClient_Unconfigured(t *testing.T) {
	t.Parallel()

	_, err := omdb.New(omdb.Config{}).ByTitle(t.Context(), "Anything", 0)
	assert.ErrorIs(t, err, media.ErrNotFound)
}
