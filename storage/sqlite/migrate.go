package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/dmitrymomot/medialib/core/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var ErrFailedToApplyMigrations = errors.New("failed to apply migrations")

// additiveColumns lists columns added after the initial schema shipped.
// Each is applied with ALTER TABLE ADD COLUMN and duplicate-column errors
// are ignored, so older databases pick them up without a ledger entry.
var additiveColumns = map[string][]string{
	"movies": {
		"rating_key INTEGER",
		"last_watched_user TEXT",
	},
	"queue_tasks": {
		"canceled_at TEXT",
		"meta TEXT",
	},
	"log_entries": {
		"module TEXT NOT NULL DEFAULT ''",
		"function TEXT NOT NULL DEFAULT ''",
	},
}

// Migrator brings the schema up to date: embedded migrations are applied
// in lexicographic order, each in its own transaction together with its
// ledger row; then additive columns are ensured and legacy uppercase
// statuses are normalized. Safe to run on every startup.
type Migrator struct {
	db  *sql.DB
	log *slog.Logger
}

// NewMigrator creates a migration runner. The logger may be nil.
func NewMigrator(db *sql.DB, log *slog.Logger) *Migrator {
	if log == nil {
		log = logger.Discard()
	}
	return &Migrator{db: db, log: log}
}

// Migrate is shorthand for NewMigrator(db, log).Run(ctx).
func Migrate(ctx context.Context, db *sql.DB, log *slog.Logger) error {
	return NewMigrator(db, log).Run(ctx)
}

func (m *Migrator) Run(ctx context.Context) error {
	db, log := m.db, m.log

	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS migrations (name TEXT PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		applied, err := migrationApplied(ctx, db, name)
		if err != nil {
			return errors.Join(ErrFailedToApplyMigrations, err)
		}
		if applied {
			continue
		}
		if err := applyMigration(ctx, db, name); err != nil {
			return errors.Join(ErrFailedToApplyMigrations, fmt.Errorf("migration %s: %w", name, err))
		}
		log.InfoContext(ctx, "migration applied", slog.String("migration", name))
	}

	if err := ensureColumns(ctx, db); err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}
	if err := normalizeStatuses(ctx, db); err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}
	return nil
}

func migrationApplied(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM migrations WHERE name = ?`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func applyMigration(ctx context.Context, db *sql.DB, name string) error {
	ddl, err := migrationsFS.ReadFile("migrations/" + name)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // safe after commit

	if _, err := tx.ExecContext(ctx, string(ddl)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO migrations (name, applied_at) VALUES (?, datetime('now'))`, name); err != nil {
		return err
	}
	return tx.Commit()
}

// ensureColumns applies additive column adds, ignoring duplicates. SQLite
// has no ADD COLUMN IF NOT EXISTS.
func ensureColumns(ctx context.Context, db *sql.DB) error {
	for table, cols := range additiveColumns {
		for _, col := range cols {
			_, err := db.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s`, table, col))
			if err != nil && !strings.Contains(err.Error(), "duplicate column name") {
				return fmt.Errorf("add column %s.%s: %w", table, col, err)
			}
		}
	}
	return nil
}

// normalizeStatuses lowercases enum columns written by older builds that
// stored enum names verbatim.
func normalizeStatuses(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`UPDATE queue_tasks SET status = lower(status) WHERE status <> lower(status)`,
		`UPDATE queue_items SET status = lower(status) WHERE status <> lower(status)`,
		`UPDATE library_paths SET media_type = lower(media_type) WHERE media_type <> lower(media_type)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
