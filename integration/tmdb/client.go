// Package tmdb implements the metadata provider port against The Movie
// Database API v3.
package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrymomot/medialib/media"
)

var (
	ErrMissingAPIKey = errors.New("tmdb api key is required")
	ErrRequestFailed = errors.New("tmdb request failed")
)

// Client talks to the TMDB API. It implements media.MetadataProvider.
type Client struct {
	httpClient *http.Client
	baseURL    string
	imageBase  string
	apiKey     string
	bearer     bool
}

// New creates a TMDB client. v4 read access tokens (JWTs) are sent as a
// bearer header; v3 keys go in the api_key query parameter.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		imageBase:  strings.TrimRight(cfg.ImageBaseURL, "/"),
		apiKey:     cfg.APIKey,
		bearer:     strings.HasPrefix(cfg.APIKey, "eyJ"),
	}, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	if !c.bearer {
		params.Set("api_key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return errors.Join(ErrRequestFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.bearer {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Join(ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return media.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Join(ErrRequestFailed, fmt.Errorf("GET %s: status %d", path, resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Join(ErrRequestFailed, err)
	}
	return nil
}

type searchResult struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	Name         string `json:"name"`
	ReleaseDate  string `json:"release_date"`
	FirstAirDate string `json:"first_air_date"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

func (c *Client) SearchMovies(ctx context.Context, query string, year int) ([]media.Candidate, error) {
	params := url.Values{"query": {query}}
	if year > 0 {
		params.Set("primary_release_year", strconv.Itoa(year))
	}
	var resp searchResponse
	if err := c.get(ctx, "/search/movie", params, &resp); err != nil {
		return nil, err
	}
	return candidates(resp.Results, false), nil
}

func (c *Client) SearchShows(ctx context.Context, query string, year int) ([]media.Candidate, error) {
	params := url.Values{"query": {query}}
	if year > 0 {
		params.Set("first_air_date_year", strconv.Itoa(year))
	}
	var resp searchResponse
	if err := c.get(ctx, "/search/tv", params, &resp); err != nil {
		return nil, err
	}
	return candidates(resp.Results, true), nil
}

func candidates(results []searchResult, tv bool) []media.Candidate {
	out := make([]media.Candidate, 0, len(results))
	for _, r := range results {
		title, date := r.Title, r.ReleaseDate
		if tv {
			title, date = r.Name, r.FirstAirDate
		}
		out = append(out, media.Candidate{ID: r.ID, Title: title, Year: yearOf(date)})
	}
	return out
}

type movieDetails struct {
	ID            int64  `json:"id"`
	Title         string `json:"title"`
	OriginalTitle string `json:"original_title"`
	Overview      string `json:"overview"`
	Tagline       string `json:"tagline"`
	ReleaseDate   string `json:"release_date"`
	Runtime       int    `json:"runtime"`
	Genres        []struct {
		Name string `json:"name"`
	} `json:"genres"`
	PosterPath   string  `json:"poster_path"`
	BackdropPath string  `json:"backdrop_path"`
	IMDBID       string  `json:"imdb_id"`
	VoteAverage  float64 `json:"vote_average"`
	VoteCount    int     `json:"vote_count"`
}

func (c *Client) MovieDetails(ctx context.Context, tmdbID int64) (*media.MovieMetadata, error) {
	var d movieDetails
	if err := c.get(ctx, fmt.Sprintf("/movie/%d", tmdbID), nil, &d); err != nil {
		return nil, err
	}

	meta := &media.MovieMetadata{
		TMDBID:        d.ID,
		Title:         d.Title,
		OriginalTitle: d.OriginalTitle,
		Overview:      d.Overview,
		Tagline:       d.Tagline,
		ReleaseDate:   parseDate(d.ReleaseDate),
		Runtime:       d.Runtime,
		PosterURL:     c.imageURL(d.PosterPath),
		BackdropURL:   c.imageURL(d.BackdropPath),
		IMDBID:        d.IMDBID,
		Rating:        d.VoteAverage,
		Votes:         d.VoteCount,
	}
	for _, g := range d.Genres {
		meta.Genres = append(meta.Genres, g.Name)
	}
	return meta, nil
}

type findResponse struct {
	MovieResults []searchResult `json:"movie_results"`
}

func (c *Client) FindMovieByIMDB(ctx context.Context, imdbID string) (*media.MovieMetadata, error) {
	params := url.Values{"external_source": {"imdb_id"}}
	var resp findResponse
	if err := c.get(ctx, "/find/"+url.PathEscape(imdbID), params, &resp); err != nil {
		return nil, err
	}
	if len(resp.MovieResults) == 0 {
		return nil, media.ErrNotFound
	}
	return c.MovieDetails(ctx, resp.MovieResults[0].ID)
}

type showDetails struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	OriginalName string `json:"original_name"`
	Overview     string `json:"overview"`
	FirstAirDate string `json:"first_air_date"`
	LastAirDate  string `json:"last_air_date"`
	Status       string `json:"status"`
	Genres       []struct {
		Name string `json:"name"`
	} `json:"genres"`
	PosterPath   string  `json:"poster_path"`
	BackdropPath string  `json:"backdrop_path"`
	VoteAverage  float64 `json:"vote_average"`
	VoteCount    int     `json:"vote_count"`
	SeasonCount  int     `json:"number_of_seasons"`
	EpisodeCount int     `json:"number_of_episodes"`
	ExternalIDs  struct {
		IMDBID string `json:"imdb_id"`
	} `json:"external_ids"`
}

func (c *Client) ShowDetails(ctx context.Context, tmdbID int64) (*media.ShowMetadata, error) {
	params := url.Values{"append_to_response": {"external_ids"}}
	var d showDetails
	if err := c.get(ctx, fmt.Sprintf("/tv/%d", tmdbID), params, &d); err != nil {
		return nil, err
	}

	meta := &media.ShowMetadata{
		TMDBID:        d.ID,
		Title:         d.Name,
		OriginalTitle: d.OriginalName,
		Overview:      d.Overview,
		FirstAirDate:  parseDate(d.FirstAirDate),
		LastAirDate:   parseDate(d.LastAirDate),
		AirStatus:     d.Status,
		PosterURL:     c.imageURL(d.PosterPath),
		BackdropURL:   c.imageURL(d.BackdropPath),
		IMDBID:        d.ExternalIDs.IMDBID,
		Rating:        d.VoteAverage,
		Votes:         d.VoteCount,
		SeasonCount:   d.SeasonCount,
		EpisodeCount:  d.EpisodeCount,
	}
	for _, g := range d.Genres {
		meta.Genres = append(meta.Genres, g.Name)
	}
	return meta, nil
}

type seasonResponse struct {
	Episodes []struct {
		SeasonNumber  int    `json:"season_number"`
		EpisodeNumber int    `json:"episode_number"`
		Name          string `json:"name"`
		Overview      string `json:"overview"`
		AirDate       string `json:"air_date"`
		Runtime       int    `json:"runtime"`
		StillPath     string `json:"still_path"`
	} `json:"episodes"`
}

func (c *Client) Season(ctx context.Context, tmdbID int64, seasonNumber int) ([]media.EpisodeMetadata, error) {
	var resp seasonResponse
	if err := c.get(ctx, fmt.Sprintf("/tv/%d/season/%d", tmdbID, seasonNumber), nil, &resp); err != nil {
		return nil, err
	}

	episodes := make([]media.EpisodeMetadata, 0, len(resp.Episodes))
	for _, ep := range resp.Episodes {
		episodes = append(episodes, media.EpisodeMetadata{
			SeasonNumber:  ep.SeasonNumber,
			EpisodeNumber: ep.EpisodeNumber,
			Title:         ep.Name,
			Overview:      ep.Overview,
			AirDate:       parseDate(ep.AirDate),
			Runtime:       ep.Runtime,
			StillURL:      c.imageURL(ep.StillPath),
		})
	}
	return episodes, nil
}

func (c *Client) imageURL(path string) string {
	if path == "" {
		return ""
	}
	return c.imageBase + path
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}

func yearOf(date string) int {
	if len(date) < 4 {
		return 0
	}
	y, _ := strconv.Atoi(date[:4])
	return y
}
