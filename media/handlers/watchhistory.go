package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrymomot/medialib/core/logger"
	"github.com/dmitrymomot/medialib/core/queue"
	"github.com/dmitrymomot/medialib/media"
)

// WatchHistoryPayload is the item payload for sync_watch_history tasks.
type WatchHistoryPayload struct {
	MovieID int64 `json:"movie_id"`
}

// recentHistoryWindow bounds the last-resort scan of recent history.
const recentHistoryWindow = 200

// NewWatchHistoryHandler resolves a movie's media-server rating key and
// syncs its watch state from the history provider.
func NewWatchHistoryHandler(deps Deps) queue.Handler {
	return queue.NewHandler(queue.TypeSyncWatchHistory, func(ctx context.Context, _ *queue.Task, p WatchHistoryPayload) queue.Outcome {
		if deps.Library == nil || deps.History == nil {
			return queue.Failed("watch history provider unavailable", nil)
		}

		movie, err := deps.Library.GetMovie(ctx, p.MovieID)
		if err != nil {
			if errors.Is(err, media.ErrNotFound) {
				return queue.Failed(fmt.Sprintf("movie %d not found", p.MovieID), nil)
			}
			return queue.Failed(fmt.Sprintf("load movie %d: %v", p.MovieID, err), nil)
		}

		ratingKey, resolvedNow, err := resolveRatingKey(ctx, deps, movie)
		if err != nil {
			return queue.Failed(fmt.Sprintf("resolve rating key: %v", err), nil)
		}
		if ratingKey == 0 {
			return queue.NoOp(map[string]any{"note": "no rating key resolved", "watched": false})
		}

		// Persist the key on first resolution so the next run skips the
		// lookup chain entirely.
		if resolvedNow {
			if err := deps.Library.UpdateMovie(ctx, movie.ID, media.MovieUpdate{RatingKey: media.Ptr(ratingKey)}); err != nil {
				return queue.Failed(fmt.Sprintf("persist rating key: %v", err), nil)
			}
		}

		history, err := deps.History.History(ctx, ratingKey)
		if err != nil {
			return queue.Failed(fmt.Sprintf("fetch watch history: %v", err), nil)
		}

		upd := media.MovieUpdate{}
		if len(history) == 0 {
			upd.ClearWatchState = true
		} else {
			latest := history[0]
			for _, ev := range history[1:] {
				if ev.WatchedAt.After(latest.WatchedAt) {
					latest = ev
				}
			}
			upd.Watched = media.Ptr(true)
			upd.WatchCount = media.Ptr(len(history))
			upd.LastWatchedDate = media.Ptr(latest.WatchedAt)
			if latest.User != "" {
				upd.LastWatchedUser = media.Ptr(latest.User)
			}
		}
		if err := deps.Library.UpdateMovie(ctx, movie.ID, upd); err != nil {
			return queue.Failed(fmt.Sprintf("persist watch state: %v", err), nil)
		}

		deps.log().InfoContext(ctx, "watch history synced",
			logger.ID("movie_id", movie.ID), logger.ID("rating_key", ratingKey),
			logger.Count("events", len(history)))
		return queue.Completed(map[string]any{
			"rating_key":  ratingKey,
			"watched":     len(history) > 0,
			"watch_count": len(history),
		})
	})
}

// resolveRatingKey walks the resolution chain: stored key, Plex by imdb,
// Plex title search, history-provider search, recent-history scan. The
// second return reports whether the key was resolved by lookup rather than
// read from the entity.
func resolveRatingKey(ctx context.Context, deps Deps, movie *media.Movie) (int64, bool, error) {
	if movie.RatingKey != nil && *movie.RatingKey != 0 {
		return *movie.RatingKey, false, nil
	}

	if deps.Resolver != nil {
		if movie.IMDBID != nil && *movie.IMDBID != "" {
			key, err := deps.Resolver.RatingKeyByIMDB(ctx, *movie.IMDBID)
			if err != nil && !errors.Is(err, media.ErrNotFound) {
				return 0, false, err
			}
			if key != 0 {
				return key, true, nil
			}
		}

		matches, err := deps.Resolver.SearchByTitle(ctx, movie.Title)
		if err != nil && !errors.Is(err, media.ErrNotFound) {
			return 0, false, err
		}
		if key := pickMatch(matches, movie); key != 0 {
			return key, true, nil
		}
	}

	queries := []string{movie.Title}
	if movie.IMDBID != nil && *movie.IMDBID != "" {
		queries = append(queries, *movie.IMDBID)
	}
	if movie.Year > 0 {
		queries = append(queries, fmt.Sprintf("%s %d", movie.Title, movie.Year))
	}
	for _, q := range queries {
		matches, err := deps.History.Search(ctx, q)
		if err != nil && !errors.Is(err, media.ErrNotFound) {
			return 0, false, err
		}
		if key := pickMatch(matches, movie); key != 0 {
			return key, true, nil
		}
	}

	// Last resort: substring scan over recent history.
	recent, err := deps.History.RecentHistory(ctx, recentHistoryWindow)
	if err != nil && !errors.Is(err, media.ErrNotFound) {
		return 0, false, err
	}
	want := strings.ToLower(movie.Title)
	for _, ev := range recent {
		if ev.RatingKey != 0 && strings.Contains(strings.ToLower(ev.Title), want) {
			return ev.RatingKey, true, nil
		}
	}

	return 0, false, nil
}

// pickMatch prefers an exact year match, then the closest title.
func pickMatch(matches []media.LibraryMatch, movie *media.Movie) int64 {
	var fallback int64
	for _, m := range matches {
		if m.RatingKey == 0 {
			continue
		}
		if media.Similarity(movie.Title, m.Title) < 0.8 {
			continue
		}
		if movie.Year > 0 && m.Year == movie.Year {
			return m.RatingKey
		}
		if fallback == 0 {
			fallback = m.RatingKey
		}
	}
	return fallback
}
