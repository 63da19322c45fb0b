// Package omdb implements the ratings provider port against the OMDb API.
// OMDb aggregates IMDb, Rotten Tomatoes, and Metacritic scores; fields the
// API reports as "N/A" are returned as nil so merges never overwrite stored
// values.
package omdb

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

var ErrRequestFailed = errors.New("omdb request failed")

// Config contains OMDb API settings with environment variable mapping. The
// API key is optional; an unconfigured client reports Configured() == false
// and is skipped by the refresh handler.
type Config struct {
	APIKey  string        `env:"OMDB_API_KEY"`
	BaseURL string        `env:"OMDB_BASE_URL" envDefault:"https://www.omdbapi.com/"`
	Timeout time.Duration `env:"OMDB_TIMEOUT" envDefault:"30s"`
}

// Client talks to the OMDb API. It implements media.RatingsProvider.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// New creates an OMDb client. A missing API key is not an error.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
	}
}

func (c *Client) Configured() bool {
	return c != nil && c.apiKey != ""
}

func (c *Client) ByTitle(ctx context.Context, title string, year int) (*media.Ratings, error) {
	params := url.Values{"t": {title}}
	if year > 0 {
		params.Set("y", strconv.Itoa(year))
	}
	return c.fetch(ctx, params)
}

func (c *Client) ByIMDB(ctx context.Context, imdbID string) (*media.Ratings, error) {
	return c.fetch(ctx, url.Values{"i": {imdbID}})
}

type omdbResponse struct {
	Response string `json:"Response"`
	Error    string `json:"Error"`

	Title      string `json:"Title"`
	Year       string `json:"Year"`
	Runtime    string `json:"Runtime"`
	Genre      string `json:"Genre"`
	Plot       string `json:"Plot"`
	Poster     string `json:"Poster"`
	IMDBID     string `json:"imdbID"`
	IMDBRating string `json:"imdbRating"`
	IMDBVotes  string `json:"imdbVotes"`
	Metascore  string `json:"Metascore"`
	Ratings    []struct {
		Source string `json:"Source"`
		Value  string `json:"Value"`
	} `json:"Ratings"`
}

func (c *Client) fetch(ctx context.Context, params url.Values) (*media.Ratings, error) {
	if !c.Configured() {
		return nil, media.ErrNotFound
	}
	params.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/?"+params.Encode(), nil)
	if err != nil {
		return nil, errors.Join(ErrRequestFailed, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Join(ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Join(ErrRequestFailed, fmt.Errorf("status %d", resp.StatusCode))
	}

	var body omdbResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Join(ErrRequestFailed, err)
	}
	// OMDb reports misses with HTTP 200 and Response=False.
	if !strings.EqualFold(body.Response, "True") {
		return nil, media.ErrNotFound
	}
	return body.toRatings(), nil
}

func (r omdbResponse) toRatings() *media.Ratings {
	out := &media.Ratings{
		Title:      scrub(r.Title),
		IMDBID:     scrub(r.IMDBID),
		IMDBRating: parseFloat(r.IMDBRating),
		IMDBVotes:  parseVotes(r.IMDBVotes),
	}
	if y := scrub(r.Year); len(y) >= 4 {
		out.Year, _ = strconv.Atoi(y[:4])
	}
	if plot := scrub(r.Plot); plot != "" {
		out.Overview = &plot
	}
	if genre := scrub(r.Genre); genre != "" {
		out.Genres = &genre
	}
	if runtime := parseRuntime(r.Runtime); runtime != nil {
		out.Runtime = runtime
	}
	if poster := scrub(r.Poster); poster != "" {
		out.PosterURL = &poster
	}
	if score := parsePercent(r.Metascore); score != nil {
		out.MetacriticScore = score
	}
	for _, rating := range r.Ratings {
		switch rating.Source {
		case "Rotten Tomatoes":
			out.RottenTomatoesScore = parsePercent(strings.TrimSuffix(rating.Value, "%"))
		case "Metacritic":
			if out.MetacriticScore == nil {
				// "74/100"
				if idx := strings.IndexByte(rating.Value, '/'); idx > 0 {
					out.MetacriticScore = parsePercent(rating.Value[:idx])
				}
			}
		}
	}
	return out
}

// scrub maps OMDb's "N/A" placeholder to the empty string.
func scrub(s string) string {
	if s == "N/A" {
		return ""
	}
	return s
}

func parseFloat(s string) *float64 {
	s = scrub(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

func parseVotes(s string) *int {
	s = strings.ReplaceAll(scrub(s), ",", "")
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

func parsePercent(s string) *int {
	s = scrub(strings.TrimSpace(s))
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

// parseRuntime parses OMDb's "142 min" format.
func parseRuntime(s string) *int {
	s = scrub(s)
	s = strings.TrimSuffix(s, " min")
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}
