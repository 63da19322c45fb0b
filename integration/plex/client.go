// Package plex implements the rating-key resolver port against a Plex
// Media Server. Plex responses are XML; the rating key is Plex's stable
// identifier for a library item and the join key for watch history.
package plex

import (
	"context"
	"encoding/xml"
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
	ErrNotConfigured = errors.New("plex url and token are required")
	ErrRequestFailed = errors.New("plex request failed")
)

// Config contains Plex server settings with environment variable mapping.
type Config struct {
	URL     string        `env:"PLEX_URL"`
	Token   string        `env:"PLEX_TOKEN"`
	Timeout time.Duration `env:"PLEX_TIMEOUT" envDefault:"10s"`
}

// Client talks to a Plex server. It implements media.RatingKeyResolver.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// New creates a Plex client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" || cfg.Token == "" {
		return nil, ErrNotConfigured
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		token:      cfg.Token,
	}, nil
}

type mediaContainer struct {
	Videos []video `xml:"Video"`
}

type video struct {
	RatingKey string `xml:"ratingKey,attr"`
	Title     string `xml:"title,attr"`
	Year      int    `xml:"year,attr"`
	GUID      string `xml:"guid,attr"`
	Guids     []struct {
		ID string `xml:"id,attr"`
	} `xml:"Guid"`
}

func (c *Client) search(ctx context.Context, query string) ([]video, error) {
	params := url.Values{"query": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, errors.Join(ErrRequestFailed, err)
	}
	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("Accept", "application/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Join(ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Join(ErrRequestFailed, fmt.Errorf("status %d", resp.StatusCode))
	}

	var container mediaContainer
	if err := xml.NewDecoder(resp.Body).Decode(&container); err != nil {
		return nil, errors.Join(ErrRequestFailed, err)
	}
	return container.Videos, nil
}

// RatingKeyByIMDB searches for the imdb id and matches it against each
// result's guids. Plex search also understands the bare numeric id, so the
// tt-stripped form is tried as a fallback.
func (c *Client) RatingKeyByIMDB(ctx context.Context, imdbID string) (int64, error) {
	queries := []string{imdbID}
	if stripped := strings.TrimPrefix(imdbID, "tt"); stripped != imdbID {
		queries = append(queries, stripped)
	}

	for _, q := range queries {
		videos, err := c.search(ctx, q)
		if err != nil {
			return 0, err
		}
		for _, v := range videos {
			if v.hasIMDB(imdbID) {
				if key := v.ratingKey(); key != 0 {
					return key, nil
				}
			}
		}
	}
	return 0, media.ErrNotFound
}

func (c *Client) SearchByTitle(ctx context.Context, title string) ([]media.LibraryMatch, error) {
	videos, err := c.search(ctx, title)
	if err != nil {
		return nil, err
	}

	matches := make([]media.LibraryMatch, 0, len(videos))
	for _, v := range videos {
		key := v.ratingKey()
		if key == 0 {
			continue
		}
		matches = append(matches, media.LibraryMatch{RatingKey: key, Title: v.Title, Year: v.Year})
	}
	return matches, nil
}

func (v video) ratingKey() int64 {
	key, err := strconv.ParseInt(v.RatingKey, 10, 64)
	if err != nil {
		return 0
	}
	return key
}

func (v video) hasIMDB(imdbID string) bool {
	want := "imdb://" + imdbID
	if strings.Contains(v.GUID, imdbID) {
		return true
	}
	for _, g := range v.Guids {
		if g.ID == want {
			return true
		}
	}
	return false
}
