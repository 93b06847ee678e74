package task

import (
	"context"
	"errors"
	"testing"
)

// reorderFixture creates a parent with three children at orders 0, 1, 2.
func reorderFixture(t *testing.T) (*Service, *Task, []*Task) {
	t.Helper()
	s := newTestService()
	p := mustCreateRoot(t, s, "P")
	children := []*Task{
		mustCreateSubtask(t, s, p.ID, "a"),
		mustCreateSubtask(t, s, p.ID, "b"),
		mustCreateSubtask(t, s, p.ID, "c"),
	}
	return s, p, children
}

func subtaskIDs(t *testing.T, s *Service, parentID string) []string {
	t.Helper()
	tasks, err := s.Subtasks(context.Background(), parentID, 1, true)
	if err != nil {
		t.Fatalf("Subtasks(%s): %v", parentID, err)
	}
	ids := make([]string, len(tasks))
	for i := range tasks {
		ids[i] = tasks[i].ID
	}
	return ids
}

// TestReorderRoundTrip verifies that reordering to [2,0,1] and back to
// [0,1,2] restores the original enumeration order.
func TestReorderRoundTrip(t *testing.T) {
	s, p, c := reorderFixture(t)
	ctx := context.Background()

	updated, err := s.Reorder(ctx, p.ID, []OrderAssignment{
		{TaskID: c[0].ID, NewOrder: 2},
		{TaskID: c[1].ID, NewOrder: 0},
		{TaskID: c[2].ID, NewOrder: 1},
	})
	if err != nil {
		t.Fatalf("Reorder: %v", err)
	}
	if updated != 3 {
		t.Errorf("updated = %d, want 3", updated)
	}
	got := subtaskIDs(t, s, p.ID)
	want := []string{c[1].ID, c[2].ID, c[0].ID}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("after [2,0,1]: enumeration = %v, want %v", got, want)
		}
	}

	if _, err := s.Reorder(ctx, p.ID, []OrderAssignment{
		{TaskID: c[0].ID, NewOrder: 0},
		{TaskID: c[1].ID, NewOrder: 1},
		{TaskID: c[2].ID, NewOrder: 2},
	}); err != nil {
		t.Fatalf("Reorder back: %v", err)
	}
	got = subtaskIDs(t, s, p.ID)
	want = []string{c[0].ID, c[1].ID, c[2].ID}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("after round trip: enumeration = %v, want %v", got, want)
		}
	}
}

// TestReorderSwapLeavesOthersAlone verifies a partial batch: unassigned
// siblings keep their order.
func TestReorderSwapLeavesOthersAlone(t *testing.T) {
	s, p, c := reorderFixture(t)

	updated, err := s.Reorder(context.Background(), p.ID, []OrderAssignment{
		{TaskID: c[1].ID, NewOrder: 2},
		{TaskID: c[2].ID, NewOrder: 1},
	})
	if err != nil {
		t.Fatalf("Reorder swap: %v", err)
	}
	if updated != 2 {
		t.Errorf("updated = %d, want 2", updated)
	}
	got := subtaskIDs(t, s, p.ID)
	want := []string{c[0].ID, c[2].ID, c[1].ID}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("enumeration = %v, want %v", got, want)
		}
	}
}

// TestReorderValidation verifies the rejection cases: empty batches,
// negative orders, duplicate targets, collisions with kept orders, and
// tasks that are not children of the parent.
func TestReorderValidation(t *testing.T) {
	s, p, c := reorderFixture(t)
	ctx := context.Background()
	other := mustCreateRoot(t, s, "other")
	foreign := mustCreateSubtask(t, s, other.ID, "foreign")

	cases := []struct {
		name        string
		assignments []OrderAssignment
	}{
		{"empty batch", nil},
		{"negative order", []OrderAssignment{{TaskID: c[0].ID, NewOrder: -1}}},
		{"task twice", []OrderAssignment{{TaskID: c[0].ID, NewOrder: 3}, {TaskID: c[0].ID, NewOrder: 4}}},
		{"duplicate target order", []OrderAssignment{{TaskID: c[0].ID, NewOrder: 5}, {TaskID: c[1].ID, NewOrder: 5}}},
		{"collision with kept order", []OrderAssignment{{TaskID: c[0].ID, NewOrder: 1}}},
		{"not a child of parent", []OrderAssignment{{TaskID: foreign.ID, NewOrder: 0}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.Reorder(ctx, p.ID, tc.assignments); !IsValidation(err) {
				t.Errorf("Reorder = %v, want ValidationError", err)
			}
		})
	}

	// Rejected batches must leave the sibling set untouched.
	got := subtaskIDs(t, s, p.ID)
	want := []string{c[0].ID, c[1].ID, c[2].ID}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("after rejected batches: enumeration = %v, want %v", got, want)
		}
	}
}

// TestReorderNotFound verifies NotFound for a missing parent and for a
// missing task id in the batch.
func TestReorderNotFound(t *testing.T) {
	s, p, c := reorderFixture(t)
	ctx := context.Background()

	if _, err := s.Reorder(ctx, "missing", []OrderAssignment{{TaskID: c[0].ID, NewOrder: 0}}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Reorder(missing parent) = %v, want ErrNotFound", err)
	}
	if _, err := s.Reorder(ctx, p.ID, []OrderAssignment{{TaskID: "missing", NewOrder: 7}}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Reorder(missing task) = %v, want ErrNotFound", err)
	}
}

// TestSiblingOrderUniqueAfterMixedOperations verifies invariant 5 across
// interleaved auto-order creates and reorders.
func TestSiblingOrderUniqueAfterMixedOperations(t *testing.T) {
	s, p, c := reorderFixture(t)
	ctx := context.Background()

	if _, err := s.Reorder(ctx, p.ID, []OrderAssignment{{TaskID: c[0].ID, NewOrder: 7}}); err != nil {
		t.Fatalf("Reorder: %v", err)
	}
	mustCreateSubtask(t, s, p.ID, "d") // auto order must skip 7
	mustCreateSubtask(t, s, p.ID, "e")

	tasks, err := s.Subtasks(ctx, p.ID, 1, true)
	if err != nil {
		t.Fatalf("Subtasks: %v", err)
	}
	seen := make(map[int]string)
	for _, got := range tasks {
		if prev, dup := seen[got.SiblingOrder]; dup {
			t.Errorf("sibling order %d shared by %s and %s", got.SiblingOrder, prev, got.ID)
		}
		seen[got.SiblingOrder] = got.ID
	}
	if len(tasks) != 5 {
		t.Errorf("len(children) = %d, want 5", len(tasks))
	}
}
