package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/dmitrymomot/medialib/media"
)

// Library implements media.Library over the movies, tvshows, and episodes
// tables.
type Library struct {
	db *sql.DB
}

// NewLibrary wraps an open database handle. Migrate must have run.
func NewLibrary(db *sql.DB) *Library {
	return &Library{db: db}
}

const movieCols = `id, title, year, file_path, tmdb_id, imdb_id, original_title, overview, tagline,
	release_date, runtime, genres, poster_path, backdrop_path,
	rating, votes, imdb_rating, imdb_votes, rotten_tomatoes_score, rotten_tomatoes_audience, metacritic_score,
	rating_key, watched, watch_count, last_watched_date, last_watched_user,
	scraped, media_info_scanned, media_info_failed,
	video_codec, resolution, width, height, audio_codec, audio_channels,
	audio_languages, subtitle_languages, container`

func (l *Library) GetMovie(ctx context.Context, id int64) (*media.Movie, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+movieCols+` FROM movies WHERE id = ?`, id)
	return scanMovie(row)
}

// MovieByFilePath looks a movie up by its library path; the scanner uses it
// to dedupe imports.
func (l *Library) MovieByFilePath(ctx context.Context, filePath string) (*media.Movie, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+movieCols+` FROM movies WHERE file_path = ?`, filePath)
	return scanMovie(row)
}

// InsertMovie creates a bare movie row and returns its id.
func (l *Library) InsertMovie(ctx context.Context, title string, year int, filePath string) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO movies (title, year, file_path) VALUES (?, ?, ?)`, title, year, filePath)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (l *Library) UpdateMovie(ctx context.Context, id int64, upd media.MovieUpdate) error {
	var b setBuilder
	setIf(&b, "tmdb_id", upd.TMDBID)
	setIf(&b, "imdb_id", upd.IMDBID)
	setIf(&b, "title", upd.Title)
	setIf(&b, "original_title", upd.OriginalTitle)
	setIf(&b, "overview", upd.Overview)
	setIf(&b, "tagline", upd.Tagline)
	b.setTime("release_date", upd.ReleaseDate)
	setIf(&b, "runtime", upd.Runtime)
	setIf(&b, "genres", upd.Genres)
	setIf(&b, "poster_path", upd.PosterPath)
	setIf(&b, "backdrop_path", upd.BackdropPath)
	setIf(&b, "rating", upd.Rating)
	setIf(&b, "votes", upd.Votes)
	setIf(&b, "imdb_rating", upd.IMDBRating)
	setIf(&b, "imdb_votes", upd.IMDBVotes)
	setIf(&b, "rotten_tomatoes_score", upd.RottenTomatoesScore)
	setIf(&b, "rotten_tomatoes_audience", upd.RottenTomatoesAudience)
	setIf(&b, "metacritic_score", upd.MetacriticScore)
	setIf(&b, "rating_key", upd.RatingKey)
	setIf(&b, "watched", upd.Watched)
	setIf(&b, "watch_count", upd.WatchCount)
	b.setTime("last_watched_date", upd.LastWatchedDate)
	setIf(&b, "last_watched_user", upd.LastWatchedUser)
	setIf(&b, "scraped", upd.Scraped)
	setIf(&b, "media_info_scanned", upd.MediaInfoScanned)
	setIf(&b, "media_info_failed", upd.MediaInfoFailed)
	applyTechnicalSets(&b, upd.VideoCodec, upd.Resolution, upd.Width, upd.Height,
		upd.AudioCodec, upd.AudioChannels, upd.AudioLanguages, upd.SubtitleLanguages, upd.Container)
	if upd.ClearWatchState {
		b.set("watched", 0)
		b.set("watch_count", 0)
		b.set("last_watched_date", nil)
		b.set("last_watched_user", nil)
	}
	return l.exec(ctx, "movies", id, &b)
}

const showCols = `id, title, year, tmdb_id, imdb_id, original_title, overview,
	first_air_date, last_air_date, air_status, genres, poster_path, backdrop_path,
	rating, votes, season_count, episode_count, scraped`

func (l *Library) GetShow(ctx context.Context, id int64) (*media.Show, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+showCols+` FROM tvshows WHERE id = ?`, id)
	return scanShow(row)
}

// InsertShow creates a bare show row and returns its id.
func (l *Library) InsertShow(ctx context.Context, title string, year int) (int64, error) {
	res, err := l.db.ExecContext(ctx, `INSERT INTO tvshows (title, year) VALUES (?, ?)`, title, year)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (l *Library) UpdateShow(ctx context.Context, id int64, upd media.ShowUpdate) error {
	var b setBuilder
	setIf(&b, "tmdb_id", upd.TMDBID)
	setIf(&b, "imdb_id", upd.IMDBID)
	setIf(&b, "title", upd.Title)
	setIf(&b, "original_title", upd.OriginalTitle)
	setIf(&b, "overview", upd.Overview)
	b.setTime("first_air_date", upd.FirstAirDate)
	b.setTime("last_air_date", upd.LastAirDate)
	setIf(&b, "air_status", upd.AirStatus)
	setIf(&b, "genres", upd.Genres)
	setIf(&b, "poster_path", upd.PosterPath)
	setIf(&b, "backdrop_path", upd.BackdropPath)
	setIf(&b, "rating", upd.Rating)
	setIf(&b, "votes", upd.Votes)
	setIf(&b, "season_count", upd.SeasonCount)
	setIf(&b, "episode_count", upd.EpisodeCount)
	setIf(&b, "scraped", upd.Scraped)
	return l.exec(ctx, "tvshows", id, &b)
}

const episodeCols = `id, show_id, season_number, episode_number, title, file_path,
	overview, air_date, runtime, still_path, media_info_scanned, media_info_failed,
	video_codec, resolution, width, height, audio_codec, audio_channels,
	audio_languages, subtitle_languages, container`

func (l *Library) GetEpisode(ctx context.Context, id int64) (*media.Episode, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+episodeCols+` FROM episodes WHERE id = ?`, id)
	return scanEpisode(row)
}

// InsertEpisode creates a bare episode row and returns its id.
func (l *Library) InsertEpisode(ctx context.Context, showID int64, season, episode int, title, filePath string) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO episodes (show_id, season_number, episode_number, title, file_path) VALUES (?, ?, ?, ?, ?)`,
		showID, season, episode, title, filePath)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (l *Library) UpdateEpisode(ctx context.Context, id int64, upd media.EpisodeUpdate) error {
	var b setBuilder
	setIf(&b, "title", upd.Title)
	setIf(&b, "overview", upd.Overview)
	b.setTime("air_date", upd.AirDate)
	setIf(&b, "runtime", upd.Runtime)
	setIf(&b, "still_path", upd.StillPath)
	setIf(&b, "media_info_scanned", upd.MediaInfoScanned)
	setIf(&b, "media_info_failed", upd.MediaInfoFailed)
	applyTechnicalSets(&b, upd.VideoCodec, upd.Resolution, upd.Width, upd.Height,
		upd.AudioCodec, upd.AudioChannels, upd.AudioLanguages, upd.SubtitleLanguages, upd.Container)
	return l.exec(ctx, "episodes", id, &b)
}

// LibraryPath is a configured scan root.
type LibraryPath struct {
	ID        int64
	Path      string
	MediaType media.MediaType
}

// AddLibraryPath registers a scan root; re-adding an existing path is a
// no-op.
func (l *Library) AddLibraryPath(ctx context.Context, path string, mediaType media.MediaType) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO library_paths (path, media_type) VALUES (?, ?) ON CONFLICT (path) DO NOTHING`,
		path, string(mediaType))
	return err
}

// LibraryPaths returns the configured scan roots.
func (l *Library) LibraryPaths(ctx context.Context) ([]LibraryPath, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT id, path, media_type FROM library_paths ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []LibraryPath
	for rows.Next() {
		var p LibraryPath
		var mediaType string
		if err := rows.Scan(&p.ID, &p.Path, &mediaType); err != nil {
			return nil, err
		}
		p.MediaType = media.MediaType(mediaType)
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func (l *Library) exec(ctx context.Context, table string, id int64, b *setBuilder) error {
	if len(b.sets) == 0 {
		return l.rowExists(ctx, table, id)
	}
	q := `UPDATE ` + table + ` SET ` + strings.Join(b.sets, ", ") + ` WHERE id = ?`
	res, err := l.db.ExecContext(ctx, q, append(b.args, id)...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return media.ErrNotFound
	}
	return nil
}

func (l *Library) rowExists(ctx context.Context, table string, id int64) error {
	var one int
	err := l.db.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return media.ErrNotFound
	}
	return err
}

// setBuilder accumulates SET clauses for a partial update.
type setBuilder struct {
	sets []string
	args []any
}

func (b *setBuilder) set(col string, v any) {
	b.sets = append(b.sets, col+" = ?")
	b.args = append(b.args, v)
}

func (b *setBuilder) setTime(col string, t *time.Time) {
	if t != nil {
		b.set(col, fmtTime(*t))
	}
}

func setIf[T any](b *setBuilder, col string, v *T) {
	if v != nil {
		b.set(col, *v)
	}
}

func applyTechnicalSets(b *setBuilder,
	videoCodec, resolution *string, width, height *int,
	audioCodec *string, audioChannels *int,
	audioLangs, subLangs, container *string,
) {
	setIf(b, "video_codec", videoCodec)
	setIf(b, "resolution", resolution)
	setIf(b, "width", width)
	setIf(b, "height", height)
	setIf(b, "audio_codec", audioCodec)
	setIf(b, "audio_channels", audioChannels)
	setIf(b, "audio_languages", audioLangs)
	setIf(b, "subtitle_languages", subLangs)
	setIf(b, "container", container)
}

func scanMovie(row rowScanner) (*media.Movie, error) {
	var m media.Movie
	var tmdbID, ratingKey sql.NullInt64
	var imdbID, originalTitle, overview, tagline, genres, posterPath, backdropPath sql.NullString
	var releaseDate, lastWatchedDate, lastWatchedUser sql.NullString
	var runtime, votes, imdbVotes, rtScore, rtAudience, metacritic sql.NullInt64
	var rating, imdbRating sql.NullFloat64
	var videoCodec, resolution, audioCodec, audioLangs, subLangs, container sql.NullString
	var width, height, audioChannels sql.NullInt64

	err := row.Scan(&m.ID, &m.Title, &m.Year, &m.FilePath, &tmdbID, &imdbID, &originalTitle, &overview, &tagline,
		&releaseDate, &runtime, &genres, &posterPath, &backdropPath,
		&rating, &votes, &imdbRating, &imdbVotes, &rtScore, &rtAudience, &metacritic,
		&ratingKey, &m.Watched, &m.WatchCount, &lastWatchedDate, &lastWatchedUser,
		&m.Scraped, &m.MediaInfoScanned, &m.MediaInfoFailed,
		&videoCodec, &resolution, &width, &height, &audioCodec, &audioChannels,
		&audioLangs, &subLangs, &container)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, media.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	m.TMDBID = nullInt64(tmdbID)
	m.IMDBID = nullString(imdbID)
	m.OriginalTitle = nullString(originalTitle)
	m.Overview = nullString(overview)
	m.Tagline = nullString(tagline)
	m.Runtime = nullInt(runtime)
	m.Genres = nullString(genres)
	m.PosterPath = nullString(posterPath)
	m.BackdropPath = nullString(backdropPath)
	m.Rating = nullFloat(rating)
	m.Votes = nullInt(votes)
	m.IMDBRating = nullFloat(imdbRating)
	m.IMDBVotes = nullInt(imdbVotes)
	m.RottenTomatoesScore = nullInt(rtScore)
	m.RottenTomatoesAudience = nullInt(rtAudience)
	m.MetacriticScore = nullInt(metacritic)
	m.RatingKey = nullInt64(ratingKey)
	m.LastWatchedUser = nullString(lastWatchedUser)
	m.VideoCodec = nullString(videoCodec)
	m.Resolution = nullString(resolution)
	m.Width = nullInt(width)
	m.Height = nullInt(height)
	m.AudioCodec = nullString(audioCodec)
	m.AudioChannels = nullInt(audioChannels)
	m.AudioLanguages = nullString(audioLangs)
	m.SubtitleLanguages = nullString(subLangs)
	m.Container = nullString(container)

	if m.ReleaseDate, err = parseTimePtr(releaseDate); err != nil {
		return nil, err
	}
	if m.LastWatchedDate, err = parseTimePtr(lastWatchedDate); err != nil {
		return nil, err
	}
	return &m, nil
}

func scanShow(row rowScanner) (*media.Show, error) {
	var s media.Show
	var tmdbID sql.NullInt64
	var imdbID, originalTitle, overview, airStatus, genres, posterPath, backdropPath sql.NullString
	var firstAirDate, lastAirDate sql.NullString
	var rating sql.NullFloat64
	var votes sql.NullInt64

	err := row.Scan(&s.ID, &s.Title, &s.Year, &tmdbID, &imdbID, &originalTitle, &overview,
		&firstAirDate, &lastAirDate, &airStatus, &genres, &posterPath, &backdropPath,
		&rating, &votes, &s.SeasonCount, &s.EpisodeCount, &s.Scraped)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, media.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	s.TMDBID = nullInt64(tmdbID)
	s.IMDBID = nullString(imdbID)
	s.OriginalTitle = nullString(originalTitle)
	s.Overview = nullString(overview)
	s.AirStatus = nullString(airStatus)
	s.Genres = nullString(genres)
	s.PosterPath = nullString(posterPath)
	s.BackdropPath = nullString(backdropPath)
	s.Rating = nullFloat(rating)
	s.Votes = nullInt(votes)

	if s.FirstAirDate, err = parseTimePtr(firstAirDate); err != nil {
		return nil, err
	}
	if s.LastAirDate, err = parseTimePtr(lastAirDate); err != nil {
		return nil, err
	}
	return &s, nil
}

func scanEpisode(row rowScanner) (*media.Episode, error) {
	var e media.Episode
	var overview, stillPath, airDate sql.NullString
	var runtime sql.NullInt64
	var videoCodec, resolution, audioCodec, audioLangs, subLangs, container sql.NullString
	var width, height, audioChannels sql.NullInt64

	err := row.Scan(&e.ID, &e.ShowID, &e.SeasonNumber, &e.EpisodeNumber, &e.Title, &e.FilePath,
		&overview, &airDate, &runtime, &stillPath, &e.MediaInfoScanned, &e.MediaInfoFailed,
		&videoCodec, &resolution, &width, &height, &audioCodec, &audioChannels,
		&audioLangs, &subLangs, &container)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, media.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	e.Overview = nullString(overview)
	e.Runtime = nullInt(runtime)
	e.StillPath = nullString(stillPath)
	e.VideoCodec = nullString(videoCodec)
	e.Resolution = nullString(resolution)
	e.Width = nullInt(width)
	e.Height = nullInt(height)
	e.AudioCodec = nullString(audioCodec)
	e.AudioChannels = nullInt(audioChannels)
	e.AudioLanguages = nullString(audioLangs)
	e.SubtitleLanguages = nullString(subLangs)
	e.Container = nullString(container)

	if e.AirDate, err = parseTimePtr(airDate); err != nil {
		return nil, err
	}
	return &e, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func nullInt64(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	return &ni.Int64
}

func nullInt(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

func nullFloat(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	return &nf.Float64
}
