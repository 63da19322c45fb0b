package tmdb

import "time"

// Config contains TMDB API settings with environment variable mapping.
type Config struct {
	APIKey       string        `env:"TMDB_API_KEY"`
	BaseURL      string        `env:"TMDB_BASE_URL" envDefault:"https://api.themoviedb.org/3"`
	ImageBaseURL string        `env:"TMDB_IMAGE_BASE_URL" envDefault:"https://image.tmdb.org/t/p/original"`
	Timeout      time.Duration `env:"TMDB_TIMEOUT" envDefault:"30s"`
}
