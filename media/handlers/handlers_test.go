package handlers_test

import (
	"context"
	"sync"

	"github.com/dmitrymomot/medialib/core/logs"
	"github.com/dmitrymomot/medialib/media"
)

// ============================================================================
// Port fakes
// ============================================================================

type fakeLibrary struct {
	mu       sync.Mutex
	movies   map[int64]*media.Movie
	shows    map[int64]*media.Show
	episodes map[int64]*media.Episode

	movieUpdates   []media.MovieUpdate
	showUpdates    []media.ShowUpdate
	episodeUpdates []media.EpisodeUpdate
}

func newFakeLibrary() *fakeLibrary {
	return &fakeLibrary{
		movies:   make(map[int64]*media.Movie),
		shows:    make(map[int64]*media.Show),
		episodes: make(map[int64]*media.Episode),
	}
}

func (l *fakeLibrary) GetMovie(_ context.Context, id int64) (*media.Movie, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.movies[id]
	if !ok {
		return nil, media.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (l *fakeLibrary) UpdateMovie(_ context.Context, id int64, upd media.MovieUpdate) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.movies[id]
	if !ok {
		return media.ErrNotFound
	}
	l.movieUpdates = append(l.movieUpdates, upd)
	if upd.TMDBID != nil {
		m.TMDBID = upd.TMDBID
	}
	if upd.IMDBID != nil {
		m.IMDBID = upd.IMDBID
	}
	if upd.Title != nil {
		m.Title = *upd.Title
	}
	if upd.Overview != nil {
		m.Overview = upd.Overview
	}
	if upd.Scraped != nil {
		m.Scraped = *upd.Scraped
	}
	if upd.MediaInfoScanned != nil {
		m.MediaInfoScanned = *upd.MediaInfoScanned
	}
	if upd.MediaInfoFailed != nil {
		m.MediaInfoFailed = *upd.MediaInfoFailed
	}
	if upd.VideoCodec != nil {
		m.VideoCodec = upd.VideoCodec
	}
	if upd.RatingKey != nil {
		m.RatingKey = upd.RatingKey
	}
	if upd.IMDBRating != nil {
		m.IMDBRating = upd.IMDBRating
	}
	if upd.RottenTomatoesScore != nil {
		m.RottenTomatoesScore = upd.RottenTomatoesScore
	}
	if upd.Watched != nil {
		m.Watched = *upd.Watched
	}
	if upd.WatchCount != nil {
		m.WatchCount = *upd.WatchCount
	}
	if upd.LastWatchedDate != nil {
		m.LastWatchedDate = upd.LastWatchedDate
	}
	if upd.LastWatchedUser != nil {
		m.LastWatchedUser = upd.LastWatchedUser
	}
	if upd.ClearWatchState {
		m.Watched = false
		m.WatchCount = 0
		m.LastWatchedDate = nil
		m.LastWatchedUser = nil
	}
	return nil
}

func (l *fakeLibrary) GetShow(_ context.Context, id int64) (*media.Show, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.shows[id]
	if !ok {
		return nil, media.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (l *fakeLibrary) UpdateShow(_ context.Context, id int64, upd media.ShowUpdate) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.shows[id]
	if !ok {
		return media.ErrNotFound
	}
	l.showUpdates = append(l.showUpdates, upd)
	if upd.TMDBID != nil {
		s.TMDBID = upd.TMDBID
	}
	if upd.Title != nil {
		s.Title = *upd.Title
	}
	if upd.Scraped != nil {
		s.Scraped = *upd.Scraped
	}
	return nil
}

func (l *fakeLibrary) GetEpisode(_ context.Context, id int64) (*media.Episode, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.episodes[id]
	if !ok {
		return nil, media.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (l *fakeLibrary) UpdateEpisode(_ context.Context, id int64, upd media.EpisodeUpdate) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.episodes[id]
	if !ok {
		return media.ErrNotFound
	}
	l.episodeUpdates = append(l.episodeUpdates, upd)
	if upd.Title != nil {
		e.Title = *upd.Title
	}
	if upd.MediaInfoScanned != nil {
		e.MediaInfoScanned = *upd.MediaInfoScanned
	}
	if upd.MediaInfoFailed != nil {
		e.MediaInfoFailed = *upd.MediaInfoFailed
	}
	return nil
}

type fakeScanner struct {
	found []string
	err   error
	calls []string
}

func (s *fakeScanner) Scan(_ context.Context, path string, _ media.MediaType) ([]string, error) {
	s.calls = append(s.calls, path)
	return s.found, s.err
}

type fakeProbe struct {
	info *media.MediaInfo
	err  error
}

func (p *fakeProbe) Probe(_ context.Context, _ string) (*media.MediaInfo, error) {
	return p.info, p.err
}

type fakeMetadata struct {
	searchMovies  map[string][]media.Candidate
	movieDetails  map[int64]*media.MovieMetadata
	movieByIMDB   map[string]*media.MovieMetadata
	searchShows   map[string][]media.Candidate
	showDetails   map[int64]*media.ShowMetadata
	seasons       map[int64][]media.EpisodeMetadata
	movieSearches []string
	showSearches  []string
}

func newFakeMetadata() *fakeMetadata {
	return &fakeMetadata{
		searchMovies: make(map[string][]media.Candidate),
		movieDetails: make(map[int64]*media.MovieMetadata),
		movieByIMDB:  make(map[string]*media.MovieMetadata),
		searchShows:  make(map[string][]media.Candidate),
		showDetails:  make(map[int64]*media.ShowMetadata),
		seasons:      make(map[int64][]media.EpisodeMetadata),
	}
}

func (m *fakeMetadata) SearchMovies(_ context.Context, query string, _ int) ([]media.Candidate, error) {
	m.movieSearches = append(m.movieSearches, query)
	return m.searchMovies[query], nil
}

func (m *fakeMetadata) MovieDetails(_ context.Context, tmdbID int64) (*media.MovieMetadata, error) {
	meta, ok := m.movieDetails[tmdbID]
	if !ok {
		return nil, media.ErrNotFound
	}
	return meta, nil
}

func (m *fakeMetadata) FindMovieByIMDB(_ context.Context, imdbID string) (*media.MovieMetadata, error) {
	meta, ok := m.movieByIMDB[imdbID]
	if !ok {
		return nil, media.ErrNotFound
	}
	return meta, nil
}

func (m *fakeMetadata) SearchShows(_ context.Context, query string, _ int) ([]media.Candidate, error) {
	m.showSearches = append(m.showSearches, query)
	return m.searchShows[query], nil
}

func (m *fakeMetadata) ShowDetails(_ context.Context, tmdbID int64) (*media.ShowMetadata, error) {
	meta, ok := m.showDetails[tmdbID]
	if !ok {
		return nil, media.ErrNotFound
	}
	return meta, nil
}

func (m *fakeMetadata) Season(_ context.Context, tmdbID int64, _ int) ([]media.EpisodeMetadata, error) {
	return m.seasons[tmdbID], nil
}

type fakeRatings struct {
	configured bool
	byTitle    map[string]*media.Ratings
	byIMDB     map[string]*media.Ratings
	titleCalls []string
	imdbCalls  []string
}

func (r *fakeRatings) Configured() bool { return r.configured }

func (r *fakeRatings) ByTitle(_ context.Context, title string, _ int) (*media.Ratings, error) {
	r.titleCalls = append(r.titleCalls, title)
	ratings, ok := r.byTitle[title]
	if !ok {
		return nil, media.ErrNotFound
	}
	return ratings, nil
}

func (r *fakeRatings) ByIMDB(_ context.Context, imdbID string) (*media.Ratings, error) {
	r.imdbCalls = append(r.imdbCalls, imdbID)
	ratings, ok := r.byIMDB[imdbID]
	if !ok {
		return nil, media.ErrNotFound
	}
	return ratings, nil
}

type fakeResolver struct {
	byIMDB      map[string]int64
	byTitle     map[string][]media.LibraryMatch
	imdbCalls   []string
	searchCalls []string
}

func (r *fakeResolver) RatingKeyByIMDB(_ context.Context, imdbID string) (int64, error) {
	r.imdbCalls = append(r.imdbCalls, imdbID)
	return r.byIMDB[imdbID], nil
}

func (r *fakeResolver) SearchByTitle(_ context.Context, title string) ([]media.LibraryMatch, error) {
	r.searchCalls = append(r.searchCalls, title)
	return r.byTitle[title], nil
}

type fakeHistory struct {
	history     map[int64][]media.WatchEvent
	search      map[string][]media.LibraryMatch
	recent      []media.WatchEvent
	searchCalls []string
}

func (h *fakeHistory) History(_ context.Context, ratingKey int64) ([]media.WatchEvent, error) {
	return h.history[ratingKey], nil
}

func (h *fakeHistory) Search(_ context.Context, query string) ([]media.LibraryMatch, error) {
	h.searchCalls = append(h.searchCalls, query)
	return h.search[query], nil
}

func (h *fakeHistory) RecentHistory(_ context.Context, _ int) ([]media.WatchEvent, error) {
	return h.recent, nil
}

type memOpLog struct {
	mu      sync.Mutex
	entries []logs.Entry
}

func (l *memOpLog) Record(e logs.Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

func (l *memOpLog) all() []logs.Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]logs.Entry(nil), l.entries...)
}
