package task

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service is the transactional entry point to the task hierarchy. Every
// mutation validates first, then runs inside one Store transaction, and
// ancestor aggregates are settled before the transaction commits.
type Service struct {
	store Store
	bus   *Bus // optional change feed, may be nil
}

// NewService creates a Service over the given store. bus may be nil.
func NewService(store Store, bus *Bus) *Service {
	return &Service{store: store, bus: bus}
}

// CreateRequest carries caller-settable fields for a new task.
type CreateRequest struct {
	Title               string
	Description         string
	Priority            int
	Status              Status              // default pending
	Progress            int                 // 0..100
	ProgressWeight      int                 // default 1
	CompletionBehavior  CompletionBehavior  // default manual
	ProgressCalculation ProgressCalculation // default manual
	SiblingOrder        *int                // nil = append after current siblings
}

// UpdateRequest is a partial update. Nil fields are left untouched.
// SetParent distinguishes "reparent to NewParentID" (empty = make root)
// from "don't touch the parent".
type UpdateRequest struct {
	Title               *string
	Description         *string
	Priority            *int
	Status              *Status
	Progress            *int
	ProgressWeight      *int
	CompletionBehavior  *CompletionBehavior
	ProgressCalculation *ProgressCalculation
	SiblingOrder        *int
	SetParent           bool
	NewParentID         string
}

// OrderAssignment is one entry of a sibling reorder batch.
type OrderAssignment struct {
	TaskID   string `json:"task_id"`
	NewOrder int    `json:"new_order"`
}

func (r *CreateRequest) validate() error {
	if r.Title == "" {
		return invalidf("title", "is required")
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	if err := validateStatus(r.Status); err != nil {
		return err
	}
	if err := validateProgress(r.Progress); err != nil {
		return err
	}
	if r.ProgressWeight == 0 {
		r.ProgressWeight = 1
	}
	if r.ProgressWeight < 0 {
		return invalidf("progress_weight", "must be positive, got %d", r.ProgressWeight)
	}
	if r.CompletionBehavior == "" {
		r.CompletionBehavior = CompletionManual
	}
	if err := validateCompletionBehavior(r.CompletionBehavior); err != nil {
		return err
	}
	if r.ProgressCalculation == "" {
		r.ProgressCalculation = ProgressManual
	}
	if err := validateProgressCalculation(r.ProgressCalculation); err != nil {
		return err
	}
	if r.SiblingOrder != nil {
		return validateSiblingOrder(*r.SiblingOrder)
	}
	return nil
}

// CreateRoot creates a task with no parent at hierarchy level 0.
func (s *Service) CreateRoot(ctx context.Context, req CreateRequest) (*Task, error) {
	return s.create(ctx, "", req)
}

// CreateSubtask creates a task under parentID, assigning the next free
// sibling order when the request leaves it unset.
func (s *Service) CreateSubtask(ctx context.Context, parentID string, req CreateRequest) (*Task, error) {
	if parentID == "" {
		return nil, invalidf("parent_task_id", "is required")
	}
	return s.create(ctx, parentID, req)
}

func (s *Service) create(ctx context.Context, parentID string, req CreateRequest) (*Task, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var created *Task
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		var parent *Task
		if parentID != "" {
			var err error
			parent, err = tx.Get(ctx, parentID)
			if err != nil {
				return fmt.Errorf("parent: %w", err)
			}
			if err := validateParent(nil, parent); err != nil {
				return err
			}
		}

		siblings, err := tx.Children(ctx, parentID)
		if err != nil {
			return err
		}
		order := nextSiblingOrder(siblings)
		if req.SiblingOrder != nil {
			order = *req.SiblingOrder
			if orderInUse(siblings, order, "") {
				return invalidf("sibling_order", "%d is already used by a sibling", order)
			}
		}

		now := time.Now().Truncate(time.Microsecond)
		t := &Task{
			ID:                  uuid.Must(uuid.NewV7()).String(),
			ParentID:            parentID,
			Title:               req.Title,
			Description:         req.Description,
			Status:              req.Status,
			Priority:            req.Priority,
			Progress:            req.Progress,
			ProgressWeight:      req.ProgressWeight,
			CompletionBehavior:  req.CompletionBehavior,
			ProgressCalculation: req.ProgressCalculation,
			SiblingOrder:        order,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if parent != nil {
			t.HierarchyLevel = parent.HierarchyLevel + 1
			t.HierarchyPath = childPath(parent.HierarchyPath, t.ID)
		} else {
			t.HierarchyPath = t.ID
		}
		if t.Status == StatusCompleted {
			t.CompletedAt = &now
		}

		if err := tx.Insert(ctx, t); err != nil {
			return err
		}
		if err := propagate(ctx, tx, parentID); err != nil {
			return err
		}
		created = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ChangeCreated, created.ID, created.ParentID)
	return created, nil
}

// Get returns a single task by id.
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	var t *Task
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		var err error
		t, err = tx.Get(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// List returns a flat filtered list of tasks.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Task, error) {
	switch f.SortBy {
	case "", "hierarchy_level", "sibling_order":
	default:
		return nil, invalidf("sort_by", "unknown value %q", f.SortBy)
	}
	if f.Level != nil && *f.Level < 0 {
		return nil, invalidf("hierarchy_level", "must be non-negative, got %d", *f.Level)
	}
	if f.Status != "" {
		if err := validateStatus(f.Status); err != nil {
			return nil, err
		}
	}
	var tasks []Task
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		var err error
		tasks, err = tx.List(ctx, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// Subtasks returns the subtree below parentID (the parent excluded),
// ordered by hierarchy level then sibling order. maxDepth <= 0 means
// unlimited; maxDepth counts levels relative to the parent. Completed
// tasks are dropped when includeCompleted is false.
func (s *Service) Subtasks(ctx context.Context, parentID string, maxDepth int, includeCompleted bool) ([]Task, error) {
	var out []Task
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		parent, err := tx.Get(ctx, parentID)
		if err != nil {
			return err
		}
		desc, err := tx.Descendants(ctx, parent.HierarchyPath)
		if err != nil {
			return err
		}
		out = make([]Task, 0, len(desc))
		for _, d := range desc {
			if maxDepth > 0 && d.HierarchyLevel-parent.HierarchyLevel > maxDepth {
				continue
			}
			if !includeCompleted && d.Status == StatusCompleted {
				continue
			}
			out = append(out, d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update applies a partial update to one task. Setting the parent
// triggers a reparent of the task's whole subtree; setting status or
// progress settles ancestor aggregates before returning.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*Task, error) {
	if err := validateUpdate(&req); err != nil {
		return nil, err
	}

	var updated *Task
	reparented := false
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		t, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		oldParent := t.ParentID

		if req.SetParent && req.NewParentID != t.ParentID {
			if err := reparent(ctx, tx, t, req.NewParentID); err != nil {
				return err
			}
			reparented = true
		}

		if req.SiblingOrder != nil && *req.SiblingOrder != t.SiblingOrder {
			siblings, err := tx.Children(ctx, t.ParentID)
			if err != nil {
				return err
			}
			if orderInUse(siblings, *req.SiblingOrder, t.ID) {
				return invalidf("sibling_order", "%d is already used by a sibling", *req.SiblingOrder)
			}
			t.SiblingOrder = *req.SiblingOrder
		}

		applyFields(t, &req)
		t.UpdatedAt = time.Now().Truncate(time.Microsecond)
		if err := tx.Update(ctx, t); err != nil {
			return err
		}

		if reparented {
			if err := propagate(ctx, tx, oldParent); err != nil {
				return err
			}
		}
		if err := propagate(ctx, tx, t.ParentID); err != nil {
			return err
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	if reparented {
		s.publish(ChangeReparented, updated.ID, updated.ParentID)
	}
	s.publish(ChangeUpdated, updated.ID, updated.ParentID)
	return updated, nil
}

func validateUpdate(req *UpdateRequest) error {
	if req.Title != nil && *req.Title == "" {
		return invalidf("title", "must not be empty")
	}
	if req.Status != nil {
		if err := validateStatus(*req.Status); err != nil {
			return err
		}
	}
	if req.Progress != nil {
		if err := validateProgress(*req.Progress); err != nil {
			return err
		}
	}
	if req.ProgressWeight != nil && *req.ProgressWeight <= 0 {
		return invalidf("progress_weight", "must be positive, got %d", *req.ProgressWeight)
	}
	if req.CompletionBehavior != nil {
		if err := validateCompletionBehavior(*req.CompletionBehavior); err != nil {
			return err
		}
	}
	if req.ProgressCalculation != nil {
		if err := validateProgressCalculation(*req.ProgressCalculation); err != nil {
			return err
		}
	}
	if req.SiblingOrder != nil {
		return validateSiblingOrder(*req.SiblingOrder)
	}
	return nil
}

// applyFields copies the plain (non-structural) updates onto the task.
func applyFields(t *Task, req *UpdateRequest) {
	if req.Title != nil {
		t.Title = *req.Title
	}
	if req.Description != nil {
		t.Description = *req.Description
	}
	if req.Priority != nil {
		t.Priority = *req.Priority
	}
	if req.ProgressWeight != nil {
		t.ProgressWeight = *req.ProgressWeight
	}
	if req.CompletionBehavior != nil {
		t.CompletionBehavior = *req.CompletionBehavior
	}
	if req.ProgressCalculation != nil {
		t.ProgressCalculation = *req.ProgressCalculation
	}
	if req.Progress != nil {
		t.Progress = *req.Progress
	}
	if req.Status != nil && *req.Status != t.Status {
		t.Status = *req.Status
		if t.Status == StatusCompleted {
			now := time.Now().Truncate(time.Microsecond)
			t.CompletedAt = &now
		} else {
			t.CompletedAt = nil
		}
	}
}

// reparent moves t (and its whole subtree) under newParentID, "" meaning
// the forest root. It rewrites hierarchy level and materialized path for
// t and every descendant, and assigns t the next sibling order under the
// new parent. Descendants are persisted here; t itself and the ancestor
// aggregates are the caller's responsibility.
func reparent(ctx context.Context, tx Tx, t *Task, newParentID string) error {
	newLevel := 0
	parentPath := ""
	if newParentID != "" {
		parent, err := tx.Get(ctx, newParentID)
		if err != nil {
			return fmt.Errorf("new parent: %w", err)
		}
		if err := validateParent(t, parent); err != nil {
			return err
		}
		newLevel = parent.HierarchyLevel + 1
		parentPath = parent.HierarchyPath
	}

	desc, err := tx.Descendants(ctx, t.HierarchyPath)
	if err != nil {
		return err
	}

	// The depth ceiling must hold for the deepest task being moved,
	// not just for t itself.
	deepest := t.HierarchyLevel
	for i := range desc {
		if desc[i].HierarchyLevel > deepest {
			deepest = desc[i].HierarchyLevel
		}
	}
	delta := newLevel - t.HierarchyLevel
	if deepest+delta > MaxDepth-1 {
		return fmt.Errorf("%w: subtree of %s would reach level %d", ErrDepthExceeded, t.ID, deepest+delta)
	}

	newSiblings, err := tx.Children(ctx, newParentID)
	if err != nil {
		return err
	}

	oldPath := t.HierarchyPath
	t.ParentID = newParentID
	t.HierarchyLevel = newLevel
	t.HierarchyPath = childPath(parentPath, t.ID)
	t.SiblingOrder = nextSiblingOrder(newSiblings)

	now := time.Now().Truncate(time.Microsecond)
	for i := range desc {
		d := desc[i]
		d.HierarchyLevel += delta
		d.HierarchyPath = relocatePath(oldPath, t.HierarchyPath, d.HierarchyPath)
		d.UpdatedAt = now
		if err := tx.Update(ctx, &d); err != nil {
			return err
		}
	}
	return nil
}

// Reorder atomically reassigns sibling orders among the direct children
// of parentID. Assignments must target distinct children with distinct
// non-negative orders, and the final order set over the whole sibling
// group must stay collision-free. It returns the number of tasks whose
// order actually changed.
func (s *Service) Reorder(ctx context.Context, parentID string, assignments []OrderAssignment) (int, error) {
	if parentID == "" {
		return 0, invalidf("parent_task_id", "is required")
	}
	if len(assignments) == 0 {
		return 0, invalidf("assignments", "must not be empty")
	}
	seenTask := make(map[string]bool, len(assignments))
	seenOrder := make(map[int]bool, len(assignments))
	for _, a := range assignments {
		if err := validateSiblingOrder(a.NewOrder); err != nil {
			return 0, err
		}
		if seenTask[a.TaskID] {
			return 0, invalidf("assignments", "task %s appears twice", a.TaskID)
		}
		if seenOrder[a.NewOrder] {
			return 0, invalidf("assignments", "order %d is targeted twice", a.NewOrder)
		}
		seenTask[a.TaskID] = true
		seenOrder[a.NewOrder] = true
	}

	updated := 0
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		updated = 0
		if _, err := tx.Get(ctx, parentID); err != nil {
			return fmt.Errorf("parent: %w", err)
		}
		children, err := tx.Children(ctx, parentID)
		if err != nil {
			return err
		}
		byID := make(map[string]*Task, len(children))
		for i := range children {
			byID[children[i].ID] = &children[i]
		}

		for _, a := range assignments {
			if _, ok := byID[a.TaskID]; !ok {
				if _, err := tx.Get(ctx, a.TaskID); err != nil {
					return err
				}
				return invalidf("assignments", "task %s is not a child of %s", a.TaskID, parentID)
			}
		}

		// Final orders over the whole sibling set must stay unique:
		// untouched siblings keep their slots.
		final := make(map[int]string, len(children))
		for i := range children {
			if !seenTask[children[i].ID] {
				final[children[i].SiblingOrder] = children[i].ID
			}
		}
		for _, a := range assignments {
			if other, taken := final[a.NewOrder]; taken {
				return invalidf("assignments", "order %d collides with sibling %s", a.NewOrder, other)
			}
			final[a.NewOrder] = a.TaskID
		}

		now := time.Now().Truncate(time.Microsecond)
		for _, a := range assignments {
			c := byID[a.TaskID]
			if c.SiblingOrder == a.NewOrder {
				continue
			}
			c.SiblingOrder = a.NewOrder
			c.UpdatedAt = now
			if err := tx.Update(ctx, c); err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.publish(ChangeReordered, parentID, parentID)
	return updated, nil
}

// Delete removes a task. The policy decides the subtree's fate: children
// are either reparented to the deleted task's former parent or removed
// with it. The policy is always explicit; there is no default.
func (s *Service) Delete(ctx context.Context, id string, policy DescendantPolicy) error {
	if err := validateDescendantPolicy(policy); err != nil {
		return err
	}
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		t, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		switch policy {
		case ReparentToGrandparent:
			children, err := tx.Children(ctx, t.ID)
			if err != nil {
				return err
			}
			now := time.Now().Truncate(time.Microsecond)
			for i := range children {
				c := children[i]
				if err := reparent(ctx, tx, &c, t.ParentID); err != nil {
					return err
				}
				c.UpdatedAt = now
				if err := tx.Update(ctx, &c); err != nil {
					return err
				}
			}
			if err := tx.Delete(ctx, t.ID); err != nil {
				return err
			}
		case CascadeDelete:
			desc, err := tx.Descendants(ctx, t.HierarchyPath)
			if err != nil {
				return err
			}
			ids := make([]string, 0, len(desc)+1)
			ids = append(ids, t.ID)
			for i := range desc {
				ids = append(ids, desc[i].ID)
			}
			if err := tx.Delete(ctx, ids...); err != nil {
				return err
			}
		}
		return propagate(ctx, tx, t.ParentID)
	})
	if err != nil {
		return err
	}
	s.publish(ChangeDeleted, id, "")
	return nil
}

func (s *Service) publish(typ ChangeType, taskID, parentID string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(Change{
		Type:      typ,
		TaskID:    taskID,
		ParentID:  parentID,
		Timestamp: time.Now().Truncate(time.Microsecond),
	})
}

// nextSiblingOrder returns max(sibling orders)+1, or 0 with no siblings.
func nextSiblingOrder(siblings []Task) int {
	next := 0
	for i := range siblings {
		if siblings[i].SiblingOrder >= next {
			next = siblings[i].SiblingOrder + 1
		}
	}
	return next
}

// orderInUse reports whether order is taken by a sibling other than
// excludeID.
func orderInUse(siblings []Task, order int, excludeID string) bool {
	for i := range siblings {
		if siblings[i].ID != excludeID && siblings[i].SiblingOrder == order {
			return true
		}
	}
	return false
}
