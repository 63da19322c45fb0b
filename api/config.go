package api

import "time"

// Config is the HTTP surface configuration. The listener itself is
// configured on the server package; this covers route behavior only.
type Config struct {
	Debug        bool          `env:"DEBUG" envDefault:"false"`
	PingInterval time.Duration `env:"SSE_PING_INTERVAL" envDefault:"15s"`
}
