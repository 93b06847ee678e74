package task

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a single-file task store for local use. It keeps one
// connection open, so transactions are fully serialized by the driver
// and ErrConflict cannot arise.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) a SQLite-backed store at dbPath.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite db: %v", ErrStorageUnavailable, err)
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// EnsureTable creates the tasks table and indexes if absent.
func (s *SQLiteStore) EnsureTable(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id                      TEXT PRIMARY KEY,
			parent_id               TEXT NOT NULL DEFAULT '',
			title                   TEXT NOT NULL,
			description             TEXT NOT NULL DEFAULT '',
			status                  TEXT NOT NULL DEFAULT 'pending',
			priority                INTEGER NOT NULL DEFAULT 0,
			progress                INTEGER NOT NULL DEFAULT 0,
			progress_weight         INTEGER NOT NULL DEFAULT 1,
			completion_behavior     TEXT NOT NULL DEFAULT 'manual',
			progress_calculation    TEXT NOT NULL DEFAULT 'manual',
			hierarchy_level         INTEGER NOT NULL DEFAULT 0,
			hierarchy_path          TEXT NOT NULL,
			sibling_order           INTEGER NOT NULL DEFAULT 0,
			subtask_count           INTEGER NOT NULL DEFAULT 0,
			completed_subtask_count INTEGER NOT NULL DEFAULT 0,
			created_at              TEXT NOT NULL,
			updated_at              TEXT NOT NULL,
			completed_at            TEXT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_parent_order ON tasks(parent_id, sibling_order);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_path ON tasks(hierarchy_path);`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate tasks table: %w", err)
		}
	}
	return nil
}

// RunInTx runs fn in one transaction.
func (s *SQLiteStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Get(ctx context.Context, id string) (*Task, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanSQLiteTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return task, nil
}

func (t *sqliteTx) Children(ctx context.Context, parentID string) ([]Task, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE parent_id = ? ORDER BY sibling_order ASC, created_at ASC`, parentID)
	if err != nil {
		return nil, fmt.Errorf("children of %q: %w", parentID, err)
	}
	defer rows.Close()
	return scanSQLiteTaskRows(rows)
}

func (t *sqliteTx) Descendants(ctx context.Context, path string) ([]Task, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE hierarchy_path LIKE ? || '/%'
		ORDER BY hierarchy_level ASC, sibling_order ASC`, path)
	if err != nil {
		return nil, fmt.Errorf("descendants of %q: %w", path, err)
	}
	defer rows.Close()
	return scanSQLiteTaskRows(rows)
}

func (t *sqliteTx) List(ctx context.Context, f ListFilter) ([]Task, error) {
	where := "1=1"
	args := []any{}

	if f.ParentID != nil {
		where += " AND parent_id = ?"
		args = append(args, *f.ParentID)
	} else if f.RootsOnly || !f.IncludeSubtasks {
		where += " AND parent_id = ''"
	}
	if f.Level != nil {
		where += " AND hierarchy_level = ?"
		args = append(args, *f.Level)
	}
	if f.Status != "" {
		where += " AND status = ?"
		args = append(args, string(f.Status))
	}

	order := "hierarchy_level ASC, sibling_order ASC"
	if f.SortBy == "sibling_order" {
		order = "sibling_order ASC, hierarchy_level ASC"
	}
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE %s ORDER BY %s, created_at ASC`, taskColumns, where, order)
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return scanSQLiteTaskRows(rows)
}

func (t *sqliteTx) Insert(ctx context.Context, task *Task) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.ParentID, task.Title, task.Description, string(task.Status), task.Priority,
		task.Progress, task.ProgressWeight, string(task.CompletionBehavior), string(task.ProgressCalculation),
		task.HierarchyLevel, task.HierarchyPath, task.SiblingOrder, task.SubtaskCount,
		task.CompletedSubtaskCount, formatTime(task.CreatedAt), formatTime(task.UpdatedAt), formatTimePtr(task.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (t *sqliteTx) Update(ctx context.Context, task *Task) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE tasks SET
			parent_id = ?, title = ?, description = ?, status = ?, priority = ?,
			progress = ?, progress_weight = ?, completion_behavior = ?,
			progress_calculation = ?, hierarchy_level = ?, hierarchy_path = ?,
			sibling_order = ?, subtask_count = ?, completed_subtask_count = ?,
			updated_at = ?, completed_at = ?
		WHERE id = ?`,
		task.ParentID, task.Title, task.Description, string(task.Status), task.Priority,
		task.Progress, task.ProgressWeight, string(task.CompletionBehavior), string(task.ProgressCalculation),
		task.HierarchyLevel, task.HierarchyPath, task.SiblingOrder, task.SubtaskCount,
		task.CompletedSubtaskCount, formatTime(task.UpdatedAt), formatTimePtr(task.CompletedAt), task.ID)
	if err != nil {
		return fmt.Errorf("update task %s: %w", task.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, task.ID)
	}
	return nil
}

func (t *sqliteTx) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := t.tx.ExecContext(ctx, `DELETE FROM tasks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("delete tasks: %w", err)
	}
	return nil
}

func scanSQLiteTask(row pgRow) (*Task, error) {
	var t Task
	var createdAt, updatedAt string
	var completedAt sql.NullString
	err := row.Scan(&t.ID, &t.ParentID, &t.Title, &t.Description, &t.Status, &t.Priority,
		&t.Progress, &t.ProgressWeight, &t.CompletionBehavior, &t.ProgressCalculation,
		&t.HierarchyLevel, &t.HierarchyPath, &t.SiblingOrder, &t.SubtaskCount,
		&t.CompletedSubtaskCount, &createdAt, &updatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		at, err := parseTime(completedAt.String)
		if err != nil {
			return nil, err
		}
		t.CompletedAt = &at
	}
	return &t, nil
}

func scanSQLiteTaskRows(rows *sql.Rows) ([]Task, error) {
	var tasks []Task
	for rows.Next() {
		t, err := scanSQLiteTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return tasks, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return ts, nil
}
