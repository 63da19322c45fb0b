package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrymomot/medialib/core/logs"
	"github.com/dmitrymomot/medialib/core/queue"
	"github.com/dmitrymomot/medialib/media"
)

// RefreshPayload is the item payload for refresh_metadata tasks. Exactly
// one of the entity ids is expected; the optional fields override the
// stored identifiers for provider resolution.
type RefreshPayload struct {
	MovieID   *int64 `json:"movie_id,omitempty"`
	ShowID    *int64 `json:"show_id,omitempty"`
	EpisodeID *int64 `json:"episode_id,omitempty"`

	TMDBID *int64  `json:"tmdb_id,omitempty"`
	IMDBID *string `json:"imdb_id,omitempty"`
	Title  *string `json:"title,omitempty"`
	Year   *int    `json:"year,omitempty"`
}

// Task meta keys the refresh handler recognizes.
const (
	metaProvider       = "provider"
	metaIncludeRatings = "include_ratings"
)

// NewRefreshHandler refreshes entity metadata from TMDB with an OMDb
// fallback. The task meta may force a provider and request an extra OMDb
// ratings merge.
func NewRefreshHandler(deps Deps) queue.Handler {
	return queue.NewHandler(queue.TypeRefreshMetadata, func(ctx context.Context, task *queue.Task, p RefreshPayload) queue.Outcome {
		if deps.Library == nil {
			return queue.Failed("library unavailable", nil)
		}

		switch {
		case p.MovieID != nil:
			return refreshMovie(ctx, deps, task, *p.MovieID, p)
		case p.ShowID != nil:
			return refreshShow(ctx, deps, task, *p.ShowID, p)
		case p.EpisodeID != nil:
			return refreshEpisode(ctx, deps, *p.EpisodeID)
		default:
			return queue.Failed("payload must reference movie_id, show_id, or episode_id", nil)
		}
	})
}

func refreshMovie(ctx context.Context, deps Deps, task *queue.Task, movieID int64, p RefreshPayload) queue.Outcome {
	movie, err := deps.Library.GetMovie(ctx, movieID)
	if err != nil {
		if errors.Is(err, media.ErrNotFound) {
			return queue.Failed(fmt.Sprintf("movie %d not found", movieID), nil)
		}
		return queue.Failed(fmt.Sprintf("load movie %d: %v", movieID, err), nil)
	}

	title := movie.Title
	if p.Title != nil {
		title = *p.Title
	}
	year := movie.Year
	if p.Year != nil {
		year = *p.Year
	}
	imdbID := ""
	if movie.IMDBID != nil {
		imdbID = *movie.IMDBID
	}
	if p.IMDBID != nil {
		imdbID = *p.IMDBID
	}

	provider := task.MetaString(metaProvider)
	var tried []string

	var meta *media.MovieMetadata
	if provider != "omdb" && deps.Metadata != nil {
		meta, tried, err = resolveMovieTMDB(ctx, deps.Metadata, p, title, year, imdbID)
		if err != nil {
			return queue.Failed(fmt.Sprintf("tmdb lookup: %v", err), nil)
		}
	}

	if meta != nil {
		upd := movieMetaUpdate(meta)
		if imdbID == "" && meta.IMDBID != "" {
			imdbID = meta.IMDBID
		}
		if task.MetaBool(metaIncludeRatings) && imdbID != "" {
			mergeRatingsByIMDB(ctx, deps, imdbID, &upd)
		}
		if err := deps.Library.UpdateMovie(ctx, movieID, upd); err != nil {
			return queue.Failed(fmt.Sprintf("persist metadata: %v", err), nil)
		}
		return queue.Completed(map[string]any{"updated_from": "tmdb"})
	}

	// OMDb fallback, also the only path when the provider is forced.
	if provider != "tmdb" && deps.Ratings != nil && deps.Ratings.Configured() {
		tried = append(tried, fmt.Sprintf("omdb:%s", title))
		ratings, err := deps.Ratings.ByTitle(ctx, title, year)
		if err != nil && !errors.Is(err, media.ErrNotFound) {
			return queue.Failed(fmt.Sprintf("omdb lookup: %v", err), nil)
		}
		if ratings != nil {
			upd := media.MovieUpdate{Scraped: media.Ptr(true)}
			mergeRatings(ratings, &upd)
			if ratings.IMDBID != "" && movie.IMDBID == nil {
				upd.IMDBID = media.Ptr(ratings.IMDBID)
			}
			if err := deps.Library.UpdateMovie(ctx, movieID, upd); err != nil {
				return queue.Failed(fmt.Sprintf("persist metadata: %v", err), nil)
			}
			return queue.Completed(map[string]any{"updated_from": "omdb"})
		}
	}

	deps.record(logs.Info(opLogName,
		fmt.Sprintf("no metadata found for movie %d %q (tried: %s)", movieID, title, strings.Join(tried, ", "))))
	return queue.NoOp(map[string]any{"updated_from": nil, "note": "no metadata found"})
}

// resolveMovieTMDB runs the TMDB resolution chain: payload overrides first,
// then title-variant search with fuzzy best-match, then a second search
// pass without the year.
func resolveMovieTMDB(ctx context.Context, provider media.MetadataProvider, p RefreshPayload, title string, year int, imdbID string) (*media.MovieMetadata, []string, error) {
	var tried []string

	if p.TMDBID != nil {
		tried = append(tried, fmt.Sprintf("tmdb_id:%d", *p.TMDBID))
		meta, err := provider.MovieDetails(ctx, *p.TMDBID)
		if err != nil && !errors.Is(err, media.ErrNotFound) {
			return nil, tried, err
		}
		if meta != nil {
			return meta, tried, nil
		}
	}

	if imdbID != "" {
		tried = append(tried, fmt.Sprintf("imdb_id:%s", imdbID))
		meta, err := provider.FindMovieByIMDB(ctx, imdbID)
		if err != nil && !errors.Is(err, media.ErrNotFound) {
			return nil, tried, err
		}
		if meta != nil {
			return meta, tried, nil
		}
	}

	if title == "" {
		return nil, tried, nil
	}

	years := []int{year}
	if year > 0 {
		years = append(years, 0)
	}
	for _, y := range years {
		for _, variant := range media.TitleVariants(title) {
			if y > 0 {
				tried = append(tried, fmt.Sprintf("tmdb:%s (%d)", variant, y))
			} else {
				tried = append(tried, fmt.Sprintf("tmdb:%s", variant))
			}
			candidates, err := provider.SearchMovies(ctx, variant, y)
			if err != nil {
				return nil, tried, err
			}
			if len(candidates) == 0 {
				continue
			}
			chosen := media.BestMatch(candidates, title, year)
			if chosen == nil {
				chosen = &candidates[0]
			}
			meta, err := provider.MovieDetails(ctx, chosen.ID)
			if err != nil && !errors.Is(err, media.ErrNotFound) {
				return nil, tried, err
			}
			if meta != nil {
				return meta, tried, nil
			}
		}
	}
	return nil, tried, nil
}

func refreshShow(ctx context.Context, deps Deps, task *queue.Task, showID int64, p RefreshPayload) queue.Outcome {
	show, err := deps.Library.GetShow(ctx, showID)
	if err != nil {
		if errors.Is(err, media.ErrNotFound) {
			return queue.Failed(fmt.Sprintf("show %d not found", showID), nil)
		}
		return queue.Failed(fmt.Sprintf("load show %d: %v", showID, err), nil)
	}

	title := show.Title
	if p.Title != nil {
		title = *p.Title
	}
	year := show.Year
	if p.Year != nil {
		year = *p.Year
	}

	provider := task.MetaString(metaProvider)
	var tried []string

	if provider != "omdb" && deps.Metadata != nil {
		if p.TMDBID != nil {
			tried = append(tried, fmt.Sprintf("tmdb_id:%d", *p.TMDBID))
			meta, err := deps.Metadata.ShowDetails(ctx, *p.TMDBID)
			if err != nil && !errors.Is(err, media.ErrNotFound) {
				return queue.Failed(fmt.Sprintf("tmdb lookup: %v", err), nil)
			}
			if meta != nil {
				return persistShow(ctx, deps, showID, meta)
			}
		}

		for _, variant := range media.TitleVariants(title) {
			tried = append(tried, "tmdb:"+variant)
			candidates, err := deps.Metadata.SearchShows(ctx, variant, year)
			if err != nil {
				return queue.Failed(fmt.Sprintf("tmdb lookup: %v", err), nil)
			}
			if len(candidates) == 0 {
				continue
			}
			chosen := media.BestMatch(candidates, title, year)
			if chosen == nil {
				chosen = &candidates[0]
			}
			meta, err := deps.Metadata.ShowDetails(ctx, chosen.ID)
			if err != nil && !errors.Is(err, media.ErrNotFound) {
				return queue.Failed(fmt.Sprintf("tmdb lookup: %v", err), nil)
			}
			if meta != nil {
				return persistShow(ctx, deps, showID, meta)
			}
		}
	}

	if provider != "tmdb" && deps.Ratings != nil && deps.Ratings.Configured() {
		tried = append(tried, "omdb:"+title)
		ratings, err := deps.Ratings.ByTitle(ctx, title, year)
		if err != nil && !errors.Is(err, media.ErrNotFound) {
			return queue.Failed(fmt.Sprintf("omdb lookup: %v", err), nil)
		}
		if ratings != nil {
			upd := media.ShowUpdate{Scraped: media.Ptr(true)}
			if ratings.Overview != nil {
				upd.Overview = ratings.Overview
			}
			if ratings.Genres != nil {
				upd.Genres = ratings.Genres
			}
			if ratings.IMDBRating != nil {
				upd.Rating = ratings.IMDBRating
			}
			if ratings.IMDBVotes != nil {
				upd.Votes = ratings.IMDBVotes
			}
			if ratings.IMDBID != "" && show.IMDBID == nil {
				upd.IMDBID = media.Ptr(ratings.IMDBID)
			}
			if err := deps.Library.UpdateShow(ctx, showID, upd); err != nil {
				return queue.Failed(fmt.Sprintf("persist metadata: %v", err), nil)
			}
			return queue.Completed(map[string]any{"updated_from": "omdb"})
		}
	}

	deps.record(logs.Info(opLogName,
		fmt.Sprintf("no metadata found for show %d %q (tried: %s)", showID, title, strings.Join(tried, ", "))))
	return queue.NoOp(map[string]any{"updated_from": nil, "note": "no metadata found"})
}

func persistShow(ctx context.Context, deps Deps, showID int64, meta *media.ShowMetadata) queue.Outcome {
	if err := deps.Library.UpdateShow(ctx, showID, showMetaUpdate(meta)); err != nil {
		return queue.Failed(fmt.Sprintf("persist metadata: %v", err), nil)
	}
	return queue.Completed(map[string]any{"updated_from": "tmdb"})
}

func refreshEpisode(ctx context.Context, deps Deps, episodeID int64) queue.Outcome {
	if deps.Metadata == nil {
		return queue.Failed("metadata provider unavailable", nil)
	}

	episode, err := deps.Library.GetEpisode(ctx, episodeID)
	if err != nil {
		if errors.Is(err, media.ErrNotFound) {
			return queue.Failed(fmt.Sprintf("episode %d not found", episodeID), nil)
		}
		return queue.Failed(fmt.Sprintf("load episode %d: %v", episodeID, err), nil)
	}

	show, err := deps.Library.GetShow(ctx, episode.ShowID)
	if err != nil {
		return queue.Failed(fmt.Sprintf("load show %d: %v", episode.ShowID, err), nil)
	}
	if show.TMDBID == nil {
		return queue.Failed(fmt.Sprintf("show %d has no tmdb_id; refresh the show first", show.ID), nil)
	}

	episodes, err := deps.Metadata.Season(ctx, *show.TMDBID, episode.SeasonNumber)
	if err != nil {
		return queue.Failed(fmt.Sprintf("tmdb season lookup: %v", err), nil)
	}

	for _, ep := range episodes {
		if ep.EpisodeNumber != episode.EpisodeNumber {
			continue
		}
		upd := media.EpisodeUpdate{}
		if ep.Title != "" {
			upd.Title = media.Ptr(ep.Title)
		}
		if ep.Overview != "" {
			upd.Overview = media.Ptr(ep.Overview)
		}
		if ep.AirDate != nil {
			upd.AirDate = ep.AirDate
		}
		if ep.Runtime > 0 {
			upd.Runtime = media.Ptr(ep.Runtime)
		}
		if ep.StillURL != "" {
			upd.StillPath = media.Ptr(ep.StillURL)
		}
		if err := deps.Library.UpdateEpisode(ctx, episodeID, upd); err != nil {
			return queue.Failed(fmt.Sprintf("persist metadata: %v", err), nil)
		}
		return queue.Completed(map[string]any{"updated_from": "tmdb"})
	}

	deps.record(logs.Info(opLogName,
		fmt.Sprintf("no metadata found for episode %d (S%dE%d of show %d)",
			episodeID, episode.SeasonNumber, episode.EpisodeNumber, show.ID)))
	return queue.NoOp(map[string]any{"updated_from": nil, "note": "no metadata found"})
}

// mergeRatingsByIMDB fetches OMDb ratings and folds the non-null fields
// into the update. Failures are logged and swallowed; the metadata refresh
// itself already succeeded.
func mergeRatingsByIMDB(ctx context.Context, deps Deps, imdbID string, upd *media.MovieUpdate) {
	if deps.Ratings == nil || !deps.Ratings.Configured() {
		return
	}
	ratings, err := deps.Ratings.ByIMDB(ctx, imdbID)
	if err != nil || ratings == nil {
		if err != nil && !errors.Is(err, media.ErrNotFound) {
			deps.record(logs.Warning(opLogName, fmt.Sprintf("omdb ratings fetch failed for %s", imdbID), err))
		}
		return
	}
	mergeRatings(ratings, upd)
}

// mergeRatings applies the provider's non-null rating fields only, so a
// stored value is never overwritten with a null.
func mergeRatings(ratings *media.Ratings, upd *media.MovieUpdate) {
	if ratings.IMDBRating != nil {
		upd.IMDBRating = ratings.IMDBRating
	}
	if ratings.IMDBVotes != nil {
		upd.IMDBVotes = ratings.IMDBVotes
	}
	if ratings.RottenTomatoesScore != nil {
		upd.RottenTomatoesScore = ratings.RottenTomatoesScore
	}
	if ratings.RottenTomatoesAudience != nil {
		upd.RottenTomatoesAudience = ratings.RottenTomatoesAudience
	}
	if ratings.MetacriticScore != nil {
		upd.MetacriticScore = ratings.MetacriticScore
	}
	if upd.Overview == nil && ratings.Overview != nil {
		upd.Overview = ratings.Overview
	}
	if upd.Genres == nil && ratings.Genres != nil {
		upd.Genres = ratings.Genres
	}
	if upd.Runtime == nil && ratings.Runtime != nil {
		upd.Runtime = ratings.Runtime
	}
	if upd.PosterPath == nil && ratings.PosterURL != nil {
		upd.PosterPath = ratings.PosterURL
	}
}

func movieMetaUpdate(meta *media.MovieMetadata) media.MovieUpdate {
	upd := media.MovieUpdate{
		TMDBID:  media.Ptr(meta.TMDBID),
		Scraped: media.Ptr(true),
	}
	if meta.Title != "" {
		upd.Title = media.Ptr(meta.Title)
	}
	if meta.OriginalTitle != "" {
		upd.OriginalTitle = media.Ptr(meta.OriginalTitle)
	}
	if meta.Overview != "" {
		upd.Overview = media.Ptr(meta.Overview)
	}
	if meta.Tagline != "" {
		upd.Tagline = media.Ptr(meta.Tagline)
	}
	if meta.ReleaseDate != nil {
		upd.ReleaseDate = meta.ReleaseDate
	}
	if meta.Runtime > 0 {
		upd.Runtime = media.Ptr(meta.Runtime)
	}
	if len(meta.Genres) > 0 {
		upd.Genres = media.Ptr(strings.Join(meta.Genres, ","))
	}
	if meta.PosterURL != "" {
		upd.PosterPath = media.Ptr(meta.PosterURL)
	}
	if meta.BackdropURL != "" {
		upd.BackdropPath = media.Ptr(meta.BackdropURL)
	}
	if meta.IMDBID != "" {
		upd.IMDBID = media.Ptr(meta.IMDBID)
	}
	if meta.Rating > 0 {
		upd.Rating = media.Ptr(meta.Rating)
	}
	if meta.Votes > 0 {
		upd.Votes = media.Ptr(meta.Votes)
	}
	return upd
}

func showMetaUpdate(meta *media.ShowMetadata) media.ShowUpdate {
	upd := media.ShowUpdate{
		TMDBID:  media.Ptr(meta.TMDBID),
		Scraped: media.Ptr(true),
	}
	if meta.Title != "" {
		upd.Title = media.Ptr(meta.Title)
	}
	if meta.OriginalTitle != "" {
		upd.OriginalTitle = media.Ptr(meta.OriginalTitle)
	}
	if meta.Overview != "" {
		upd.Overview = media.Ptr(meta.Overview)
	}
	if meta.FirstAirDate != nil {
		upd.FirstAirDate = meta.FirstAirDate
	}
	if meta.LastAirDate != nil {
		upd.LastAirDate = meta.LastAirDate
	}
	if meta.AirStatus != "" {
		upd.AirStatus = media.Ptr(meta.AirStatus)
	}
	if len(meta.Genres) > 0 {
		upd.Genres = media.Ptr(strings.Join(meta.Genres, ","))
	}
	if meta.PosterURL != "" {
		upd.PosterPath = media.Ptr(meta.PosterURL)
	}
	if meta.BackdropURL != "" {
		upd.BackdropPath = media.Ptr(meta.BackdropURL)
	}
	if meta.IMDBID != "" {
		upd.IMDBID = media.Ptr(meta.IMDBID)
	}
	if meta.Rating > 0 {
		upd.Rating = media.Ptr(meta.Rating)
	}
	if meta.Votes > 0 {
		upd.Votes = media.Ptr(meta.Votes)
	}
	if meta.SeasonCount > 0 {
		upd.SeasonCount = media.Ptr(meta.SeasonCount)
	}
	if meta.EpisodeCount > 0 {
		upd.EpisodeCount = media.Ptr(meta.EpisodeCount)
	}
	return upd
}
