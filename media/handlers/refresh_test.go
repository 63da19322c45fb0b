package handlers_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/medialib/core/logs"
	"github.com/dmitrymomot/medialib/core/queue"
	"github.com/dmitrymomot/medialib/media"
	"github.com/dmitrymomot/medialib/media/handlers"
)

func TestRefreshHandler_Movie(t *testing.T) {
	t.Parallel()

	t.Run("updates from tmdb search", func(t *testing.T) {
		t.Parallel()

		lib := newFakeLibrary()
		lib.movies[7] = &media.Movie{ID: 7, Title: "Test Movie", Year: 2023}
		meta := newFakeMetadata()
		meta.searchMovies["Test Movie"] = []media.Candidate{{ID: 12345, Title: "Test Movie", Year: 2023}}
		meta.movieDetails[12345] = &media.MovieMetadata{
			TMDBID:   12345,
			Title:    "Updated Title",
			Overview: "An updated overview.",
			IMDBID:   "tt7654321",
		}
		h := handlers.NewRefreshHandler(handlers.Deps{Library: lib, Metadata: meta})

		out := handle(t, h, nil, `{"movie_id":7}`)

		require.Equal(t, queue.OutcomeCompleted, out.Kind)
		assert.Contains(t, string(out.Result), "tmdb")

		m := lib.movies[7]
		require.NotNil(t, m.TMDBID)
		assert.Equal(t, int64(12345), *m.TMDBID)
		assert.Equal(t, "Updated Title", m.Title)
		assert.True(t, m.Scraped)
		require.NotNil(t, m.IMDBID)
		assert.Equal(t, "tt7654321", *m.IMDBID)
	})

	t.Run("payload tmdb_id short-circuits search", func(t *testing.T) {
		t.Parallel()

		lib := newFakeLibrary()
		lib.movies[7] = &media.Movie{ID: 7, Title: "Whatever"}
		meta := newFakeMetadata()
		meta.movieDetails[99] = &media.MovieMetadata{TMDBID: 99, Title: "Pinned"}
		h := handlers.NewRefreshHandler(handlers.Deps{Library: lib, Metadata: meta})

		out := handle(t, h, nil, `{"movie_id":7,"tmdb_id":99}`)

		require.Equal(t, queue.OutcomeCompleted, out.Kind)
		assert.Empty(t, meta.movieSearches)
		assert.Equal(t, "Pinned", lib.movies[7].Title)
	})

	t.Run("forced omdb provider never consults tmdb", func(t *testing.T) {
		t.Parallel()

		lib := newFakeLibrary()
		lib.movies[7] = &media.Movie{ID: 7, Title: "Test Movie", Year: 2023}
		meta := newFakeMetadata()
		meta.searchMovies["Test Movie"] = []media.Candidate{{ID: 12345, Title: "Test Movie", Year: 2023}}
		ratings := &fakeRatings{
			configured: true,
			byTitle: map[string]*media.Ratings{
				"Test Movie": {Title: "Test Movie", IMDBID: "tt0000123", IMDBRating: media.Ptr(7.2)},
			},
		}
		h := handlers.NewRefreshHandler(handlers.Deps{Library: lib, Metadata: meta, Ratings: ratings})
		task := &queue.Task{ID: 1, Type: queue.TypeRefreshMetadata, Meta: map[string]any{"provider": "omdb"}}

		out := handle(t, h, task, `{"movie_id":7}`)

		require.Equal(t, queue.OutcomeCompleted, out.Kind)
		assert.Contains(t, string(out.Result), "omdb")
		assert.Empty(t, meta.movieSearches, "tmdb must not be consulted when omdb is forced")

		m := lib.movies[7]
		assert.True(t, m.Scraped)
		require.NotNil(t, m.IMDBRating)
		assert.InDelta(t, 7.2, *m.IMDBRating, 0.001)
	})

	t.Run("ratings merge keeps stored values over nulls", func(t *testing.T) {
		t.Parallel()

		lib := newFakeLibrary()
		lib.movies[7] = &media.Movie{
			ID:    7,
			Title: "Test Movie",
			// already rated; the merge must not null this out
			RottenTomatoesScore: media.Ptr(91),
		}
		meta := newFakeMetadata()
		meta.searchMovies["Test Movie"] = []media.Candidate{{ID: 12345, Title: "Test Movie"}}
		meta.movieDetails[12345] = &media.MovieMetadata{TMDBID: 12345, Title: "Test Movie", IMDBID: "tt0000123"}
		ratings := &fakeRatings{
			configured: true,
			byIMDB: map[string]*media.Ratings{
				"tt0000123": {IMDBRating: media.Ptr(8.1)}, // no RT score reported
			},
		}
		h := handlers.NewRefreshHandler(handlers.Deps{Library: lib, Metadata: meta, Ratings: ratings})
		task := &queue.Task{ID: 1, Type: queue.TypeRefreshMetadata, Meta: map[string]any{"include_ratings": true}}

		out := handle(t, h, task, `{"movie_id":7}`)

		require.Equal(t, queue.OutcomeCompleted, out.Kind)
		assert.Equal(t, []string{"tt0000123"}, ratings.imdbCalls)

		m := lib.movies[7]
		require.NotNil(t, m.IMDBRating)
		assert.InDelta(t, 8.1, *m.IMDBRating, 0.001)
		require.NotNil(t, m.RottenTomatoesScore)
		assert.Equal(t, 91, *m.RottenTomatoesScore)
	})

	t.Run("no provider result is a logged no-op", func(t *testing.T) {
		t.Parallel()

		lib := newFakeLibrary()
		lib.movies[7] = &media.Movie{ID: 7, Title: "Obscure Film", Year: 1971}
		oplog := &memOpLog{}
		h := handlers.NewRefreshHandler(handlers.Deps{
			Library:  lib,
			Metadata: newFakeMetadata(),
			Ratings:  &fakeRatings{configured: false},
			OpLog:    oplog,
		})

		out := handle(t, h, nil, `{"movie_id":7}`)

		require.Equal(t, queue.OutcomeNoOp, out.Kind)
		assert.Contains(t, string(out.Result), "no metadata found")

		entries := oplog.all()
		require.Len(t, entries, 1)
		assert.Equal(t, logs.LevelInfo, entries[0].Level)
		assert.Equal(t, "QueueWorker", entries[0].Logger)
		assert.Contains(t, entries[0].Message, "Obscure Film")
		assert.Contains(t, entries[0].Message, "tried:")
		assert.Contains(t, entries[0].Message, "tmdb:Obscure Film (1971)")
	})

	t.Run("fails on unknown movie", func(t *testing.T) {
		t.Parallel()

		h := handlers.NewRefreshHandler(handlers.Deps{Library: newFakeLibrary(), Metadata: newFakeMetadata()})

		out := handle(t, h, nil, `{"movie_id":404}`)

		require.Equal(t, queue.OutcomeFailed, out.Kind)
		assert.Contains(t, out.Err, "movie 404 not found")
	})
}

func TestRefreshHandler_Show(t *testing.T) {
	t.Parallel()

	t.Run("updates from tmdb search", func(t *testing.T) {
		t.Parallel()

		lib := newFakeLibrary()
		lib.shows[2] = &media.Show{ID: 2, Title: "Good Show", Year: 2020}
		meta := newFakeMetadata()
		meta.searchShows["Good Show"] = []media.Candidate{{ID: 555, Title: "Good Show", Year: 2020}}
		meta.showDetails[555] = &media.ShowMetadata{TMDBID: 555, Title: "Good Show", SeasonCount: 3}
		h := handlers.NewRefreshHandler(handlers.Deps{Library: lib, Metadata: meta})

		out := handle(t, h, nil, `{"show_id":2}`)

		require.Equal(t, queue.OutcomeCompleted, out.Kind)
		require.NotNil(t, lib.shows[2].TMDBID)
		assert.Equal(t, int64(555), *lib.shows[2].TMDBID)
		assert.True(t, lib.shows[2].Scraped)
	})

	t.Run("no result is a logged no-op naming the show", func(t *testing.T) {
		t.Parallel()

		lib := newFakeLibrary()
		lib.shows[2] = &media.Show{ID: 2, Title: "Dummy Show"}
		oplog := &memOpLog{}
		h := handlers.NewRefreshHandler(handlers.Deps{Library: lib, Metadata: newFakeMetadata(), OpLog: oplog})

		out := handle(t, h, nil, `{"show_id":2}`)

		require.Equal(t, queue.OutcomeNoOp, out.Kind)
		assert.Contains(t, string(out.Result), "no metadata found")

		entries := oplog.all()
		require.Len(t, entries, 1)
		assert.Equal(t, logs.LevelInfo, entries[0].Level)
		assert.Contains(t, entries[0].Message, "Dummy Show")
	})
}

func TestRefreshHandler_Episode(t *testing.T) {
	t.Parallel()

	t.Run("updates from season listing", func(t *testing.T) {
		t.Parallel()

		lib := newFakeLibrary()
		lib.shows[2] = &media.Show{ID: 2, Title: "Good Show", TMDBID: media.Ptr(int64(555))}
		lib.episodes[9] = &media.Episode{ID: 9, ShowID: 2, SeasonNumber: 1, EpisodeNumber: 2}
		meta := newFakeMetadata()
		meta.seasons[555] = []media.EpisodeMetadata{
			{SeasonNumber: 1, EpisodeNumber: 1, Title: "Pilot"},
			{SeasonNumber: 1, EpisodeNumber: 2, Title: "The Second One", Overview: "Things escalate."},
		}
		h := handlers.NewRefreshHandler(handlers.Deps{Library: lib, Metadata: meta})

		out := handle(t, h, nil, `{"episode_id":9}`)

		require.Equal(t, queue.OutcomeCompleted, out.Kind)
		assert.Equal(t, "The Second One", lib.episodes[9].Title)
	})

	t.Run("requires the show to be refreshed first", func(t *testing.T) {
		t.Parallel()

		lib := newFakeLibrary()
		lib.shows[2] = &media.Show{ID: 2, Title: "Unlinked Show"}
		lib.episodes[9] = &media.Episode{ID: 9, ShowID: 2, SeasonNumber: 1, EpisodeNumber: 1}
		h := handlers.NewRefreshHandler(handlers.Deps{Library: lib, Metadata: newFakeMetadata()})

		out := handle(t, h, nil, `{"episode_id":9}`)

		require.Equal(t, queue.OutcomeFailed, out.Kind)
		assert.Contains(t, out.Err, "refresh the show first")
	})

	t.Run("episode absent from season is a no-op", func(t *testing.T) {
		t.Parallel()

		lib := newFakeLibrary()
		lib.shows[2] = &media.Show{ID: 2, TMDBID: media.Ptr(int64(555))}
		lib.episodes[9] = &media.Episode{ID: 9, ShowID: 2, SeasonNumber: 4, EpisodeNumber: 99}
		h := handlers.NewRefreshHandler(handlers.Deps{Library: lib, Metadata: newFakeMetadata(), OpLog: &memOpLog{}})

		out := handle(t, h, nil, `{"episode_id":9}`)

		require.Equal(t, queue.OutcomeNoOp, out.Kind)
	})
}
