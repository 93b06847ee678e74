package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is a PostgreSQL-backed task store.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PgStore.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const taskColumns = `id, parent_id, title, description, status, priority,
	progress, progress_weight, completion_behavior, progress_calculation,
	hierarchy_level, hierarchy_path, sibling_order, subtask_count,
	completed_subtask_count, created_at, updated_at, completed_at`

// EnsureTable creates the tasks table and its indexes if they don't exist.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tasks (
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
			created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at            TIMESTAMPTZ
		)`)
	if err != nil {
		return err
	}
	// Not unique: sibling-order uniqueness is enforced by the engine, and a
	// plain index keeps legal in-transaction swaps from tripping a
	// per-statement constraint check.
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_tasks_parent_order ON tasks(parent_id, sibling_order)`)
	if err != nil {
		return err
	}
	// text_pattern_ops makes the LIKE 'path/%' descendant lookup an index scan.
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_tasks_path ON tasks(hierarchy_path text_pattern_ops)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_tasks_level ON tasks(hierarchy_level)`)
	return err
}

// Close releases the connection pool.
func (s *PgStore) Close() error {
	s.pool.Close()
	return nil
}

// RunInTx runs fn in one serializable transaction. Serialization
// failures and unique-order races surface as ErrConflict so callers can
// retry the whole operation.
func (s *PgStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ErrStorageUnavailable, err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return mapPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgError(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// mapPgError translates database races into the engine's Conflict error.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
	}
	return err
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Get(ctx context.Context, id string) (*Task, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return task, nil
}

func (t *pgTx) Children(ctx context.Context, parentID string) ([]Task, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE parent_id = $1 ORDER BY sibling_order ASC, created_at ASC`, parentID)
	if err != nil {
		return nil, fmt.Errorf("children of %q: %w", parentID, err)
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

func (t *pgTx) Descendants(ctx context.Context, path string) ([]Task, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE hierarchy_path LIKE $1 || '/%'
		ORDER BY hierarchy_level ASC, sibling_order ASC`, path)
	if err != nil {
		return nil, fmt.Errorf("descendants of %q: %w", path, err)
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

func (t *pgTx) List(ctx context.Context, f ListFilter) ([]Task, error) {
	where := "TRUE"
	args := []any{}
	argIdx := 1

	if f.ParentID != nil {
		where += fmt.Sprintf(" AND parent_id = $%d", argIdx)
		args = append(args, *f.ParentID)
		argIdx++
	} else if f.RootsOnly || !f.IncludeSubtasks {
		where += " AND parent_id = ''"
	}
	if f.Level != nil {
		where += fmt.Sprintf(" AND hierarchy_level = $%d", argIdx)
		args = append(args, *f.Level)
		argIdx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, f.Status)
		argIdx++
	}

	order := "hierarchy_level ASC, sibling_order ASC"
	if f.SortBy == "sibling_order" {
		order = "sibling_order ASC, hierarchy_level ASC"
	}
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE %s ORDER BY %s, created_at ASC`, taskColumns, where, order)
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
	}

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

func (t *pgTx) Insert(ctx context.Context, task *Task) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		task.ID, task.ParentID, task.Title, task.Description, task.Status, task.Priority,
		task.Progress, task.ProgressWeight, task.CompletionBehavior, task.ProgressCalculation,
		task.HierarchyLevel, task.HierarchyPath, task.SiblingOrder, task.SubtaskCount,
		task.CompletedSubtaskCount, task.CreatedAt, task.UpdatedAt, task.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (t *pgTx) Update(ctx context.Context, task *Task) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE tasks SET
			parent_id = $2, title = $3, description = $4, status = $5, priority = $6,
			progress = $7, progress_weight = $8, completion_behavior = $9,
			progress_calculation = $10, hierarchy_level = $11, hierarchy_path = $12,
			sibling_order = $13, subtask_count = $14, completed_subtask_count = $15,
			updated_at = $16, completed_at = $17
		WHERE id = $1`,
		task.ID, task.ParentID, task.Title, task.Description, task.Status, task.Priority,
		task.Progress, task.ProgressWeight, task.CompletionBehavior, task.ProgressCalculation,
		task.HierarchyLevel, task.HierarchyPath, task.SiblingOrder, task.SubtaskCount,
		task.CompletedSubtaskCount, task.UpdatedAt, task.CompletedAt)
	if err != nil {
		return fmt.Errorf("update task %s: %w", task.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, task.ID)
	}
	return nil
}

func (t *pgTx) Delete(ctx context.Context, ids ...string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM tasks WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("delete tasks: %w", err)
	}
	return nil
}

type pgRow interface {
	Scan(dest ...any) error
}

func scanTask(row pgRow) (*Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.ParentID, &t.Title, &t.Description, &t.Status, &t.Priority,
		&t.Progress, &t.ProgressWeight, &t.CompletionBehavior, &t.ProgressCalculation,
		&t.HierarchyLevel, &t.HierarchyPath, &t.SiblingOrder, &t.SubtaskCount,
		&t.CompletedSubtaskCount, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanTaskRows(rows pgx.Rows) ([]Task, error) {
	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
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
