// Package tautulli implements the watch-history provider port against a
// Tautulli instance, which records playback activity for a Plex server.
package tautulli

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
	ErrNotConfigured = errors.New("tautulli url and api key are required")
	ErrRequestFailed = errors.New("tautulli request failed")
)

// Config contains Tautulli settings with environment variable mapping.
type Config struct {
	URL     string        `env:"TAUTULLI_URL"`
	APIKey  string        `env:"TAUTULLI_API_KEY"`
	Timeout time.Duration `env:"TAUTULLI_TIMEOUT" envDefault:"10s"`
}

// Client talks to the Tautulli v2 API. It implements
// media.WatchHistoryProvider.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// New creates a Tautulli client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" || cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
	}, nil
}

func (c *Client) call(ctx context.Context, cmd string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("apikey", c.apiKey)
	params.Set("cmd", cmd)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v2?"+params.Encode(), nil)
	if err != nil {
		return errors.Join(ErrRequestFailed, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Join(ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Join(ErrRequestFailed, fmt.Errorf("%s: status %d", cmd, resp.StatusCode))
	}

	var envelope struct {
		Response struct {
			Result  string          `json:"result"`
			Message string          `json:"message"`
			Data    json.RawMessage `json:"data"`
		} `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return errors.Join(ErrRequestFailed, err)
	}
	if envelope.Response.Result != "success" {
		return errors.Join(ErrRequestFailed, fmt.Errorf("%s: %s", cmd, envelope.Response.Message))
	}
	return json.Unmarshal(envelope.Response.Data, out)
}

type historyData struct {
	Data []historyRow `json:"data"`
}

type historyRow struct {
	RatingKey json.Number `json:"rating_key"`
	FullTitle string      `json:"full_title"`
	Title     string      `json:"title"`
	Date      int64       `json:"date"`
	User      string      `json:"user"`
	Watched   int         `json:"watched_status"`
}

func (c *Client) History(ctx context.Context, ratingKey int64) ([]media.WatchEvent, error) {
	params := url.Values{"rating_key": {strconv.FormatInt(ratingKey, 10)}}
	var data historyData
	if err := c.call(ctx, "get_history", params, &data); err != nil {
		return nil, err
	}
	return events(data.Data, true), nil
}

func (c *Client) RecentHistory(ctx context.Context, limit int) ([]media.WatchEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	params := url.Values{"length": {strconv.Itoa(limit)}}
	var data historyData
	if err := c.call(ctx, "get_history", params, &data); err != nil {
		return nil, err
	}
	return events(data.Data, false), nil
}

// events converts history rows. With watchedOnly, rows Tautulli does not
// count as fully watched are skipped so partial plays don't inflate the
// watch count.
func events(rows []historyRow, watchedOnly bool) []media.WatchEvent {
	out := make([]media.WatchEvent, 0, len(rows))
	for _, row := range rows {
		if watchedOnly && row.Watched == 0 {
			continue
		}
		key, _ := row.RatingKey.Int64()
		title := row.FullTitle
		if title == "" {
			title = row.Title
		}
		out = append(out, media.WatchEvent{
			RatingKey: key,
			Title:     title,
			WatchedAt: time.Unix(row.Date, 0).UTC(),
			User:      row.User,
		})
	}
	return out
}

type searchData struct {
	ResultsList struct {
		Movie []searchRow `json:"movie"`
	} `json:"results_list"`
}

type searchRow struct {
	RatingKey json.Number `json:"rating_key"`
	Title     string      `json:"title"`
	Year      json.Number `json:"year"`
}

func (c *Client) Search(ctx context.Context, query string) ([]media.LibraryMatch, error) {
	params := url.Values{"query": {query}}
	var data searchData
	if err := c.call(ctx, "search", params, &data); err != nil {
		return nil, err
	}

	matches := make([]media.LibraryMatch, 0, len(data.ResultsList.Movie))
	for _, row := range data.ResultsList.Movie {
		key, _ := row.RatingKey.Int64()
		if key == 0 {
			continue
		}
		year, _ := row.Year.Int64()
		matches = append(matches, media.LibraryMatch{RatingKey: key, Title: row.Title, Year: int(year)})
	}
	return matches, nil
}
