// Package media holds the library domain model and the narrow capability
// ports the task handlers consume: metadata and ratings providers, the
// media probe, the directory scanner, and watch-history resolution.
package media

import (
	"errors"
	"time"
)

// ErrNotFound is returned by Library lookups and provider resolutions when
// the requested entity or external record does not exist.
var ErrNotFound = errors.New("not found")

// MediaType distinguishes movie and TV library entries.
type MediaType string

const (
	MediaTypeMovie MediaType = "movie"
	MediaTypeTV    MediaType = "tv"
)

// Movie is a library movie row. Only the columns the handlers read and
// write are modeled here.
type Movie struct {
	ID       int64
	Title    string
	Year     int
	FilePath string

	TMDBID *int64
	IMDBID *string

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
	Watched         bool
	WatchCount      int
	LastWatchedDate *time.Time
	LastWatchedUser *string

	Scraped          bool
	MediaInfoScanned bool
	MediaInfoFailed  bool

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

// Show is a library TV show row.
type Show struct {
	ID    int64
	Title string
	Year  int

	TMDBID *int64
	IMDBID *string

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
	SeasonCount   int
	EpisodeCount  int

	Scraped bool
}

// Episode is a library episode row.
type Episode struct {
	ID            int64
	ShowID        int64
	SeasonNumber  int
	EpisodeNumber int
	Title         string
	FilePath      string

	Overview  *string
	AirDate   *time.Time
	Runtime   *int
	StillPath *string

	MediaInfoScanned bool
	MediaInfoFailed  bool

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

// MediaInfo is the technical metadata the probe extracts from a file.
type MediaInfo struct {
	VideoCodec        string
	Resolution        string
	Width             int
	Height            int
	AudioCodec        string
	AudioChannels     int
	AudioLanguages    []string
	SubtitleLanguages []string
	Container         string
	DurationSeconds   int
	FileSizeBytes     int64
}

// MovieMetadata is a provider's view of a movie.
type MovieMetadata struct {
	TMDBID        int64
	Title         string
	OriginalTitle string
	Overview      string
	Tagline       string
	ReleaseDate   *time.Time
	Runtime       int
	Genres        []string
	PosterURL     string
	BackdropURL   string
	IMDBID        string
	Rating        float64
	Votes         int
}

// ShowMetadata is a provider's view of a TV show.
type ShowMetadata struct {
	TMDBID        int64
	Title         string
	OriginalTitle string
	Overview      string
	FirstAirDate  *time.Time
	LastAirDate   *time.Time
	AirStatus     string
	Genres        []string
	PosterURL     string
	BackdropURL   string
	IMDBID        string
	Rating        float64
	Votes         int
	SeasonCount   int
	EpisodeCount  int
}

// EpisodeMetadata is a provider's view of one episode within a season.
type EpisodeMetadata struct {
	SeasonNumber  int
	EpisodeNumber int
	Title         string
	Overview      string
	AirDate       *time.Time
	Runtime       int
	StillURL      string
}

// Candidate is one provider search result, enough for fuzzy best-match
// selection before fetching full details.
type Candidate struct {
	ID    int64
	Title string
	Year  int
}

// Ratings is the OMDb-shaped rating bundle. Pointer fields are nil when
// the provider reported no value, so merges never overwrite stored data
// with nulls.
type Ratings struct {
	Title                  string
	Year                   int
	IMDBID                 string
	IMDBRating             *float64
	IMDBVotes              *int
	RottenTomatoesScore    *int
	RottenTomatoesAudience *int
	MetacriticScore        *int
	Overview               *string
	Genres                 *string
	Runtime                *int
	PosterURL              *string
}

// LibraryMatch is a Plex or Tautulli search hit.
type LibraryMatch struct {
	RatingKey int64
	Title     string
	Year      int
}

// WatchEvent is one watch-history entry, most recent first in provider
// responses.
type WatchEvent struct {
	RatingKey int64
	Title     string
	WatchedAt time.Time
	User      string
}
