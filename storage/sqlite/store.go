package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrymomot/medialib/core/queue"
)

// Store implements queue.Store on SQLite.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database handle. Migrate must have run.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const (
	taskCols = `id, type, status, created_by, created_at, started_at, finished_at, canceled_at, total_items, completed_items, meta`
	itemCols = `id, task_id, "index", status, payload, result, started_at, finished_at`
)

func (s *Store) CreateTask(ctx context.Context, draft queue.TaskDraft) (*queue.Task, error) {
	if draft.Type == "" {
		return nil, queue.ErrTypeRequired
	}

	var meta any
	if draft.Meta != nil {
		b, err := json.Marshal(draft.Meta)
		if err != nil {
			return nil, fmt.Errorf("marshal meta: %w", err)
		}
		meta = string(b)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck // safe after commit

	res, err := tx.ExecContext(ctx,
		`INSERT INTO queue_tasks (type, status, created_by, created_at, total_items, meta)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		draft.Type, string(queue.StatusQueued), draft.CreatedBy, fmtTime(time.Now()), len(draft.Payloads), meta)
	if err != nil {
		return nil, err
	}
	taskID, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	for i, payload := range draft.Payloads {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO queue_items (task_id, "index", status, payload) VALUES (?, ?, ?, ?)`,
			taskID, i, string(queue.ItemQueued), nullableJSON(payload)); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetTask(ctx, taskID)
}

func (s *Store) InsertItem(ctx context.Context, taskID int64, index int, payload json.RawMessage) (*queue.Item, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck // safe after commit

	var one int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM queue_tasks WHERE id = ?`, taskID).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, queue.ErrTaskNotFound
		}
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO queue_items (task_id, "index", status, payload) VALUES (?, ?, ?, ?)`,
		taskID, index, string(queue.ItemQueued), nullableJSON(payload))
	if err != nil {
		return nil, err
	}
	itemID, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE queue_tasks SET total_items = total_items + 1 WHERE id = ?`, taskID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+itemCols+` FROM queue_items WHERE id = ?`, itemID)
	return scanItem(row)
}

func (s *Store) ClaimNextQueuedTask(ctx context.Context) (*queue.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck // safe after commit

	var taskID int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM queue_tasks WHERE status = ? ORDER BY created_at, id LIMIT 1`,
		string(queue.StatusQueued)).Scan(&taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queue.ErrNoTaskToClaim
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE queue_tasks SET status = ?, started_at = ? WHERE id = ?`,
		string(queue.StatusRunning), fmtTime(time.Now()), taskID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetTask(ctx, taskID)
}

func (s *Store) GetTask(ctx context.Context, id int64) (*queue.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskCols+` FROM queue_tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, queue.ErrTaskNotFound
		}
		return nil, err
	}

	items, err := s.taskItems(ctx, id)
	if err != nil {
		return nil, err
	}
	task.Items = items
	return task, nil
}

func (s *Store) TaskStatus(ctx context.Context, id int64) (queue.Status, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM queue_tasks WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", queue.ErrTaskNotFound
	}
	if err != nil {
		return "", err
	}
	return queue.Status(status), nil
}

func (s *Store) ListTasks(ctx context.Context, limit int, withItems bool) ([]*queue.Task, error) {
	q := `SELECT ` + taskCols + ` FROM queue_tasks ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make([]*queue.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if withItems {
		for _, task := range tasks {
			items, err := s.taskItems(ctx, task.ID)
			if err != nil {
				return nil, err
			}
			task.Items = items
		}
	}
	return tasks, nil
}

func (s *Store) UpdateItem(ctx context.Context, itemID int64, upd queue.ItemUpdate) (bool, error) {
	sets := make([]string, 0, 4)
	args := make([]any, 0, 5)
	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.Result != nil {
		sets = append(sets, "result = ?")
		args = append(args, string(upd.Result))
	}
	if upd.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, fmtTime(*upd.StartedAt))
	}
	if upd.FinishedAt != nil {
		sets = append(sets, "finished_at = ?")
		args = append(args, fmtTime(*upd.FinishedAt))
	}
	if len(sets) == 0 {
		return false, s.itemExists(ctx, itemID)
	}

	q := `UPDATE queue_items SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	args = append(args, itemID)
	// Canceled is sticky: a late handler outcome must not overwrite it.
	if upd.Status != nil && *upd.Status != queue.ItemCanceled {
		q += ` AND status <> ?`
		args = append(args, string(queue.ItemCanceled))
	}

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, s.itemExists(ctx, itemID)
	}
	return true, nil
}

func (s *Store) itemExists(ctx context.Context, itemID int64) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM queue_items WHERE id = ?`, itemID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return queue.ErrItemNotFound
	}
	return err
}

func (s *Store) UpdateTaskStatus(ctx context.Context, taskID int64, status queue.Status, finishedAt *time.Time) error {
	var res sql.Result
	var err error
	if finishedAt != nil {
		res, err = s.db.ExecContext(ctx,
			`UPDATE queue_tasks SET status = ?, finished_at = ? WHERE id = ?`,
			string(status), fmtTime(*finishedAt), taskID)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE queue_tasks SET status = ? WHERE id = ?`, string(status), taskID)
	}
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return queue.ErrTaskNotFound
	}
	return nil
}

func (s *Store) IncrementCompletedItems(ctx context.Context, taskID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_tasks SET completed_items = completed_items + 1 WHERE id = ?`, taskID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return queue.ErrTaskNotFound
	}
	return nil
}

func (s *Store) CancelTask(ctx context.Context, taskID int64) (*queue.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck // safe after commit

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM queue_tasks WHERE id = ?`, taskID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queue.ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}

	// Canceling a finished task is a no-op; the caller still gets the task.
	if !queue.Status(status).Terminal() {
		now := fmtTime(time.Now())
		if _, err := tx.ExecContext(ctx,
			`UPDATE queue_tasks SET status = ?, canceled_at = ? WHERE id = ?`,
			string(queue.StatusDeleted), now, taskID); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE queue_items SET status = ?, finished_at = ? WHERE task_id = ? AND status IN (?, ?)`,
			string(queue.ItemCanceled), now, taskID,
			string(queue.ItemQueued), string(queue.ItemRunning)); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetTask(ctx, taskID)
}

func (s *Store) PurgeTasks(ctx context.Context, scope queue.PurgeScope, olderThan time.Duration) (queue.PurgeResult, error) {
	if _, err := queue.ParsePurgeScope(string(scope)); err != nil {
		return queue.PurgeResult{}, err
	}

	switch scope {
	case queue.PurgeCurrent:
		return s.purgeCurrent(ctx, olderThan)
	case queue.PurgeHistory:
		return s.purgeDelete(ctx, true)
	default: // queue.PurgeAll
		return s.purgeDelete(ctx, false)
	}
}

// purgeCurrent soft-deletes queued and running tasks started (or created,
// when never started) before the cutoff, canceling their pending items.
func (s *Store) purgeCurrent(ctx context.Context, olderThan time.Duration) (queue.PurgeResult, error) {
	var res queue.PurgeResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback() //nolint:errcheck // safe after commit

	rows, err := tx.QueryContext(ctx,
		`SELECT id, created_at, started_at FROM queue_tasks WHERE status IN (?, ?)`,
		string(queue.StatusQueued), string(queue.StatusRunning))
	if err != nil {
		return res, err
	}

	now := time.Now().UTC()
	var ids []int64
	for rows.Next() {
		var id int64
		var createdAt string
		var startedAt sql.NullString
		if err := rows.Scan(&id, &createdAt, &startedAt); err != nil {
			rows.Close()
			return res, err
		}
		if olderThan > 0 {
			ref, err := parseTime(createdAt)
			if err != nil {
				rows.Close()
				return res, err
			}
			if started, err := parseTimePtr(startedAt); err != nil {
				rows.Close()
				return res, err
			} else if started != nil {
				ref = *started
			}
			if now.Sub(ref) < olderThan {
				continue
			}
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return res, err
	}

	stamp := fmtTime(now)
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE queue_tasks SET status = ?, canceled_at = ? WHERE id = ?`,
			string(queue.StatusDeleted), stamp, id); err != nil {
			return res, err
		}
		res.TasksAffected++

		ir, err := tx.ExecContext(ctx,
			`UPDATE queue_items SET status = ? WHERE task_id = ? AND status IN (?, ?)`,
			string(queue.ItemCanceled), id,
			string(queue.ItemQueued), string(queue.ItemRunning))
		if err != nil {
			return res, err
		}
		n, err := ir.RowsAffected()
		if err != nil {
			return res, err
		}
		res.ItemsAffected += int(n)
	}

	return res, tx.Commit()
}

// purgeDelete hard-deletes tasks and their items. With terminalOnly the
// history scope is applied; otherwise everything goes.
func (s *Store) purgeDelete(ctx context.Context, terminalOnly bool) (queue.PurgeResult, error) {
	var res queue.PurgeResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback() //nolint:errcheck // safe after commit

	itemsQ := `DELETE FROM queue_items`
	tasksQ := `DELETE FROM queue_tasks`
	var args []any
	if terminalOnly {
		cond := ` WHERE status IN (?, ?, ?, ?)`
		itemsQ += ` WHERE task_id IN (SELECT id FROM queue_tasks` + cond + `)`
		tasksQ += cond
		args = []any{
			string(queue.StatusCompleted), string(queue.StatusFailed),
			string(queue.StatusCanceled), string(queue.StatusDeleted),
		}
	}

	ir, err := tx.ExecContext(ctx, itemsQ, args...)
	if err != nil {
		return res, err
	}
	items, err := ir.RowsAffected()
	if err != nil {
		return res, err
	}
	tr, err := tx.ExecContext(ctx, tasksQ, args...)
	if err != nil {
		return res, err
	}
	tasks, err := tr.RowsAffected()
	if err != nil {
		return res, err
	}

	res.ItemsAffected = int(items)
	res.TasksAffected = int(tasks)
	return res, tx.Commit()
}

func (s *Store) taskItems(ctx context.Context, taskID int64) ([]queue.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemCols+` FROM queue_items WHERE task_id = ? ORDER BY "index"`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []queue.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*queue.Task, error) {
	var t queue.Task
	var createdAt string
	var startedAt, finishedAt, canceledAt, meta sql.NullString
	var status string

	if err := row.Scan(&t.ID, &t.Type, &status, &t.CreatedBy, &createdAt,
		&startedAt, &finishedAt, &canceledAt, &t.TotalItems, &t.CompletedItems, &meta); err != nil {
		return nil, err
	}
	t.Status = queue.Status(status)

	var err error
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, err
	}
	if t.FinishedAt, err = parseTimePtr(finishedAt); err != nil {
		return nil, err
	}
	if t.CanceledAt, err = parseTimePtr(canceledAt); err != nil {
		return nil, err
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &t.Meta); err != nil {
			return nil, fmt.Errorf("unmarshal task %d meta: %w", t.ID, err)
		}
	}
	return &t, nil
}

func scanItem(row rowScanner) (*queue.Item, error) {
	var it queue.Item
	var status string
	var payload, result, startedAt, finishedAt sql.NullString

	if err := row.Scan(&it.ID, &it.TaskID, &it.Index, &status,
		&payload, &result, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	it.Status = queue.ItemStatus(status)
	if payload.Valid {
		it.Payload = json.RawMessage(payload.String)
	}
	if result.Valid {
		it.Result = json.RawMessage(result.String)
	}

	var err error
	if it.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, err
	}
	if it.FinishedAt, err = parseTimePtr(finishedAt); err != nil {
		return nil, err
	}
	return &it, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
