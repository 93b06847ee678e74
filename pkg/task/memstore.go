package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemStore is an in-memory Store. It serializes transactions with a
// single mutex and rolls back by restoring a pre-transaction snapshot,
// so a failed RunInTx commits nothing. Used by tests and as the
// "memory" server backend.
type MemStore struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{tasks: make(map[string]*Task)}
}

// EnsureTable is a no-op for the in-memory store.
func (s *MemStore) EnsureTable(ctx context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemStore) Close() error { return nil }

// RunInTx runs fn under the store mutex. Transactions are fully
// serialized, so ErrConflict can never arise here.
func (s *MemStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[string]*Task, len(s.tasks))
	for id, t := range s.tasks {
		snapshot[id] = cloneTask(t)
	}
	if err := fn(&memTx{store: s}); err != nil {
		s.tasks = snapshot
		return err
	}
	return nil
}

type memTx struct {
	store *MemStore
}

func (tx *memTx) Get(ctx context.Context, id string) (*Task, error) {
	t, ok := tx.store.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneTask(t), nil
}

func (tx *memTx) Children(ctx context.Context, parentID string) ([]Task, error) {
	var out []Task
	for _, t := range tx.store.tasks {
		if t.ParentID == parentID {
			out = append(out, *cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SiblingOrder < out[j].SiblingOrder })
	return out, nil
}

func (tx *memTx) Descendants(ctx context.Context, path string) ([]Task, error) {
	var out []Task
	for _, t := range tx.store.tasks {
		if t.HierarchyPath != path && pathWithin(path, t.HierarchyPath) {
			out = append(out, *cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].HierarchyLevel != out[j].HierarchyLevel {
			return out[i].HierarchyLevel < out[j].HierarchyLevel
		}
		return out[i].SiblingOrder < out[j].SiblingOrder
	})
	return out, nil
}

func (tx *memTx) List(ctx context.Context, f ListFilter) ([]Task, error) {
	var out []Task
	for _, t := range tx.store.tasks {
		if f.ParentID != nil && t.ParentID != *f.ParentID {
			continue
		}
		if (f.RootsOnly || (!f.IncludeSubtasks && f.ParentID == nil)) && !t.IsRoot() {
			continue
		}
		if f.Level != nil && t.HierarchyLevel != *f.Level {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		out = append(out, *cloneTask(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if f.SortBy == "sibling_order" {
			if out[i].SiblingOrder != out[j].SiblingOrder {
				return out[i].SiblingOrder < out[j].SiblingOrder
			}
			return out[i].HierarchyLevel < out[j].HierarchyLevel
		}
		if out[i].HierarchyLevel != out[j].HierarchyLevel {
			return out[i].HierarchyLevel < out[j].HierarchyLevel
		}
		return out[i].SiblingOrder < out[j].SiblingOrder
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (tx *memTx) Insert(ctx context.Context, t *Task) error {
	if _, ok := tx.store.tasks[t.ID]; ok {
		return fmt.Errorf("%w: duplicate id %s", ErrConflict, t.ID)
	}
	tx.store.tasks[t.ID] = cloneTask(t)
	return nil
}

func (tx *memTx) Update(ctx context.Context, t *Task) error {
	if _, ok := tx.store.tasks[t.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, t.ID)
	}
	tx.store.tasks[t.ID] = cloneTask(t)
	return nil
}

func (tx *memTx) Delete(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		delete(tx.store.tasks, id)
	}
	return nil
}

func cloneTask(t *Task) *Task {
	c := *t
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}
