package task

import (
	"context"
	"time"
)

// MaxDepth is the maximum number of levels in a task tree. Roots sit at
// hierarchy level 0, so legal levels are 0..MaxDepth-1.
const MaxDepth = 10

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusOnHold     Status = "on_hold"
)

// CompletionBehavior governs whether a task's status may be driven by its
// direct children.
type CompletionBehavior string

const (
	// CompletionManual leaves status entirely to the caller.
	CompletionManual CompletionBehavior = "manual"
	// CompletionAuto completes the task when every direct child is
	// completed, and reopens it when a child is reopened.
	CompletionAuto CompletionBehavior = "auto_when_subtasks_complete"
)

// ProgressCalculation governs whether a task's progress is set directly or
// derived from its direct children.
type ProgressCalculation string

const (
	ProgressManual   ProgressCalculation = "manual"
	ProgressAverage  ProgressCalculation = "average_subtasks"
	ProgressWeighted ProgressCalculation = "weighted_subtasks"
)

// DescendantPolicy decides the fate of a deleted task's subtree.
type DescendantPolicy string

const (
	// ReparentToGrandparent moves direct children up to the deleted
	// task's former parent.
	ReparentToGrandparent DescendantPolicy = "reparent"
	// CascadeDelete removes the entire subtree.
	CascadeDelete DescendantPolicy = "cascade"
)

// Task is a unit of work in a rooted forest. Hierarchy metadata
// (ParentID, HierarchyLevel, HierarchyPath, SiblingOrder, and the two
// subtask counters) is owned by the engine and never set by callers
// directly.
type Task struct {
	ID          string `json:"id"`
	ParentID    string `json:"parent_id"` // "" = root
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      Status `json:"status"`
	Priority    int    `json:"priority"` // 0 = normal, higher = more urgent

	Progress            int                 `json:"progress"`        // 0..100
	ProgressWeight      int                 `json:"progress_weight"` // weight under weighted_subtasks, default 1
	CompletionBehavior  CompletionBehavior  `json:"completion_behavior"`
	ProgressCalculation ProgressCalculation `json:"progress_calculation"`

	HierarchyLevel        int    `json:"hierarchy_level"` // root = 0
	HierarchyPath         string `json:"hierarchy_path"`  // "/"-joined ids, root to self
	SiblingOrder          int    `json:"sibling_order"`   // unique among tasks sharing ParentID
	SubtaskCount          int    `json:"subtask_count"`
	CompletedSubtaskCount int    `json:"completed_subtask_count"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsRoot reports whether the task has no parent.
func (t *Task) IsRoot() bool { return t.ParentID == "" }

// ListFilter selects and orders tasks for flat list queries. Nil pointer
// fields mean "no filter".
type ListFilter struct {
	ParentID        *string // direct children of this parent ("" = roots)
	RootsOnly       bool
	Level           *int
	Status          Status // "" = all
	IncludeSubtasks bool   // false restricts the result to root tasks
	SortBy          string // "hierarchy_level" (default) or "sibling_order"
	Limit           int    // <= 0 = no limit
}

// Tx is a transactional view of the task table. All reads observe writes
// made earlier in the same transaction.
type Tx interface {
	// Get returns a task by id, or an error wrapping ErrNotFound.
	Get(ctx context.Context, id string) (*Task, error)

	// Children returns the direct children of parentID ordered by
	// sibling_order ascending. parentID "" returns the roots.
	Children(ctx context.Context, parentID string) ([]Task, error)

	// Descendants returns every task strictly below the given
	// materialized path, ordered by hierarchy_level then sibling_order.
	Descendants(ctx context.Context, path string) ([]Task, error)

	// List returns tasks matching the filter.
	List(ctx context.Context, f ListFilter) ([]Task, error)

	Insert(ctx context.Context, t *Task) error
	Update(ctx context.Context, t *Task) error
	Delete(ctx context.Context, ids ...string) error
}

// Store is the contract for task persistence. Every mutating entry point
// of the engine runs inside a single RunInTx call; the implementation must
// guarantee that a returned error commits nothing.
type Store interface {
	// EnsureTable creates the tasks table and indexes if absent.
	EnsureTable(ctx context.Context) error

	// RunInTx runs fn inside one transaction. Implementations backing a
	// concurrent store must detect read-modify-write races and surface
	// them as ErrConflict.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}
