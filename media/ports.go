package media

import (
	"context"
	"time"
)

// DirectoryScanner walks a library path and imports discovered media files.
// Returns the list of imported file paths.
type DirectoryScanner interface {
	Scan(ctx context.Context, path string, mediaType MediaType) ([]string, error)
}

// MediaProbe extracts technical metadata from a media file.
type MediaProbe interface {
	Probe(ctx context.Context, filePath string) (*MediaInfo, error)
}

// MetadataProvider is the TMDB-shaped metadata port.
type MetadataProvider interface {
	SearchMovies(ctx context.Context, query string, year int) ([]Candidate, error)
	MovieDetails(ctx context.Context, tmdbID int64) (*MovieMetadata, error)
	FindMovieByIMDB(ctx context.Context, imdbID string) (*MovieMetadata, error)

	SearchShows(ctx context.Context, query string, year int) ([]Candidate, error)
	ShowDetails(ctx context.Context, tmdbID int64) (*ShowMetadata, error)
	Season(ctx context.Context, tmdbID int64, seasonNumber int) ([]EpisodeMetadata, error)
}

// RatingsProvider is the OMDb-shaped ratings port. Configured reports
// whether an API key is present; unconfigured providers are skipped.
type RatingsProvider interface {
	Configured() bool
	ByTitle(ctx context.Context, title string, year int) (*Ratings, error)
	ByIMDB(ctx context.Context, imdbID string) (*Ratings, error)
}

// RatingKeyResolver is the Plex-shaped port used to map a library movie to
// the media server's rating key.
type RatingKeyResolver interface {
	RatingKeyByIMDB(ctx context.Context, imdbID string) (int64, error)
	SearchByTitle(ctx context.Context, title string) ([]LibraryMatch, error)
}

// WatchHistoryProvider is the Tautulli-shaped port.
type WatchHistoryProvider interface {
	History(ctx context.Context, ratingKey int64) ([]WatchEvent, error)
	Search(ctx context.Context, query string) ([]LibraryMatch, error)
	RecentHistory(ctx context.Context, limit int) ([]WatchEvent, error)
}

// MovieUpdate is a partial movie update; nil fields are left untouched.
// ClearWatchState nulls the watch columns regardless of the other fields.
type MovieUpdate struct {
	TMDBID        *int64
	IMDBID        *string
	Title         *string
	OriginalTitle *string
	Overview      *string
	Tagline       *string
	ReleaseDate   *time.Time
	Runtime       *int
	Genres        *string
	PosterPath    *string
	BackdropPath  *string

	Rating                 *float64
	Votes                  *int
	IMDBRating             *float64
	IMDBVotes              *int
	RottenTomatoesScore    *int
	RottenTomatoesAudience *int
	MetacriticScore        *int

	RatingKey       *int64
	Watched         *bool
	WatchCount      *int
	LastWatchedDate *time.Time
	LastWatchedUser *string
	ClearWatchState bool

	Scraped          *bool
	MediaInfoScanned *bool
	MediaInfoFailed  *bool

	VideoCodec        *string
	Resolution        *string
	Width             *int
	Height            *int
	AudioCodec        *string
	AudioChannels     *int
	AudioLanguages    *string
	SubtitleLanguages *string
	Container         *string
}

// ShowUpdate is a partial show update; nil fields are left untouched.
type ShowUpdate struct {
	TMDBID        *int64
	IMDBID        *string
	Title         *string
	OriginalTitle *string
	Overview      *string
	FirstAirDate  *time.Time
	LastAirDate   *time.Time
	AirStatus     *string
	Genres        *string
	PosterPath    *string
	BackdropPath  *string
	Rating        *float64
	Votes         *int
	SeasonCount   *int
	EpisodeCount  *int
	Scraped       *bool
}

// EpisodeUpdate is a partial episode update; nil fields are left untouched.
type EpisodeUpdate struct {
	Title     *string
	Overview  *string
	AirDate   *time.Time
	Runtime   *int
	StillPath *string

	MediaInfoScanned *bool
	MediaInfoFailed  *bool

	VideoCodec        *string
	Resolution        *string
	Width             *int
	Height            *int
	AudioCodec        *string
	AudioChannels     *int
	AudioLanguages    *string
	SubtitleLanguages *string
	Container         *string
}

// Library is the entity lookup and partial-update port the handlers and
// the HTTP surface consume.
type Library interface {
	GetMovie(ctx context.Context, id int64) (*Movie, error)
	UpdateMovie(ctx context.Context, id int64, upd MovieUpdate) error

	GetShow(ctx context.Context, id int64) (*Show, error)
	UpdateShow(ctx context.Context, id int64, upd ShowUpdate) error

	GetEpisode(ctx context.Context, id int64) (*Episode, error)
	UpdateEpisode(ctx context.Context, id int64, upd EpisodeUpdate) error
}

// Ptr returns a pointer to v. Convenience for building partial updates.
func Ptr[T any](v T) *T { return &v }
