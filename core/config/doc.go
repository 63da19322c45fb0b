// Package config provides type-safe environment variable loading with
// per-type caching using Go generics.
//
// A .env file is loaded automatically on first use; parsing is done by the
// caarlos0/env library from struct tags.
//
//	type QueueConfig struct {
//		PollInterval time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"2s"`
//	}
//
//	var cfg QueueConfig
//	config.MustLoad(&cfg)
//
// Each configuration type is loaded once per process; later calls for the
// same type return the cached value.
package config
