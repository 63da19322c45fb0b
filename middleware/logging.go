package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/medialib/core/logger"
)

// LoggingConfig controls request logging.
type LoggingConfig struct {
	// Skip bypasses logging for specific requests, such as health probes
	// or the event stream.
	Skip func(r *http.Request) bool

	// SlowRequestThreshold promotes requests slower than this to warning
	// level. Zero disables the check.
	SlowRequestThreshold time.Duration
}

// Logging logs one line per request with method, path, status, and
// duration using default configuration.
func Logging(log *slog.Logger) Middleware {
	return LoggingWithConfig(log, LoggingConfig{})
}

// LoggingWithConfig logs requests with custom configuration.
func LoggingWithConfig(log *slog.Logger, cfg LoggingConfig) Middleware {
	if log == nil {
		log = logger.Discard()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Skip != nil && cfg.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)

			attrs := []slog.Attr{
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.StatusCode(sw.Status()),
				logger.Elapsed(start),
			}
			if id := RequestIDFromContext(r.Context()); id != "" {
				attrs = append(attrs, logger.ID("request_id", id))
			}

			level := slog.LevelInfo
			switch {
			case sw.Status() >= http.StatusInternalServerError:
				level = slog.LevelError
			case cfg.SlowRequestThreshold > 0 && time.Since(start) > cfg.SlowRequestThreshold:
				level = slog.LevelWarn
			}
			log.LogAttrs(r.Context(), level, "request", attrs...)
		})
	}
}

// statusWriter records the response status. Unwrap keeps
// http.ResponseController working for streaming handlers.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}
