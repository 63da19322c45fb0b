package sqlite

import (
	"context"
	"database/sql"

	"github.com/dmitrymomot/medialib/core/logs"
)

// LogStore implements logs.Sink, persisting operator-facing entries so the
// UI can show recent worker activity.
type LogStore struct {
	db *sql.DB
}

// NewLogStore wraps an open database handle. Migrate must have run.
func NewLogStore(db *sql.DB) *LogStore {
	return &LogStore{db: db}
}

func (s *LogStore) WriteEntries(ctx context.Context, entries []logs.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // safe after commit

	for _, e := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO log_entries (time, level, logger, message, module, function, exception)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			fmtTime(e.Time), e.Level, e.Logger, e.Message, e.Module, e.Function, e.Exception); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Recent returns the newest entries, most recent first.
func (s *LogStore) Recent(ctx context.Context, limit int) ([]logs.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT time, level, logger, message, module, function, exception
		 FROM log_entries ORDER BY time DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []logs.Entry
	for rows.Next() {
		var e logs.Entry
		var ts string
		var exception sql.NullString
		if err := rows.Scan(&ts, &e.Level, &e.Logger, &e.Message, &e.Module, &e.Function, &exception); err != nil {
			return nil, err
		}
		if e.Time, err = parseTime(ts); err != nil {
			return nil, err
		}
		e.Exception = exception.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes all but the newest keep entries.
func (s *LogStore) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM log_entries WHERE id NOT IN (SELECT id FROM log_entries ORDER BY id DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
