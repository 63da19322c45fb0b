package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
)

// ErrSettingNotFound is returned when a settings key has no stored value.
var ErrSettingNotFound = errors.New("setting not found")

// Settings is a persisted key/value store for runtime configuration such as
// provider API keys, editable from the UI without a restart.
type Settings struct {
	db *sql.DB
}

// NewSettings wraps an open database handle. Migrate must have run.
func NewSettings(db *sql.DB) *Settings {
	return &Settings{db: db}
}

func (s *Settings) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM app_settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrSettingNotFound
	}
	return value, err
}

func (s *Settings) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO app_settings (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *Settings) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM app_settings WHERE key = ?`, key)
	return err
}

// Resolve returns the stored value for key, falling back to the named
// environment variable. Stored settings win so UI edits take effect without
// redeploying.
func (s *Settings) Resolve(ctx context.Context, key, envVar string) string {
	if value, err := s.Get(ctx, key); err == nil && value != "" {
		return value
	}
	return os.Getenv(envVar)
}
