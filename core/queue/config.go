package queue

import "time"

// Config holds worker configuration for environment-based loading.
type Config struct {
	PollInterval    time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"2s"`
	ShutdownTimeout time.Duration `env:"QUEUE_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:    2 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}
