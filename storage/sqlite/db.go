// Package sqlite provides the embedded persistence layer: the queue store,
// the media library tables, persisted operator logs, and application
// settings, all in a single SQLite database file.
//
// The driver is modernc.org/sqlite (pure Go, no CGO). The connection pool
// is capped at a single connection since SQLite serializes writers anyway;
// this avoids SQLITE_BUSY churn under concurrent handler and API access.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Config contains SQLite connection settings with environment variable mapping.
type Config struct {
	Path        string        `env:"SQLITE_PATH" envDefault:"data/medialib.db"`
	BusyTimeout time.Duration `env:"SQLITE_BUSY_TIMEOUT" envDefault:"5s"`
}

var (
	ErrEmptyPath            = errors.New("empty sqlite database path, use SQLITE_PATH env var")
	ErrFailedToOpenDatabase = errors.New("failed to open sqlite database")
	ErrHealthcheckFailed    = errors.New("sqlite healthcheck failed")
)

// Connect opens (or creates) the database file and verifies connectivity.
// Parent directories are created as needed.
func Connect(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.Path == "" {
		return nil, ErrEmptyPath
	}
	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Join(ErrFailedToOpenDatabase, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Join(ErrFailedToOpenDatabase, err)
	}

	// Single writer; see package comment.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Join(ErrFailedToOpenDatabase, err)
	}
	return db, nil
}

// Healthcheck returns a health check function suitable for readiness probes.
func Healthcheck(db *sql.DB) func(context.Context) error {
	return func(ctx context.Context) error {
		if db == nil {
			return ErrHealthcheckFailed
		}
		if err := db.PingContext(ctx); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		return nil
	}
}

// timeLayout is fixed-width so stored timestamps sort lexicographically in
// ORDER BY clauses. All times are stored in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
