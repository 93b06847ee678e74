package task

import (
	"fmt"
	"strings"
)

// pathSep separates ids inside a materialized hierarchy path. Ids are
// UUIDs and can never contain it.
const pathSep = "/"

// childPath appends id to a parent's materialized path. An empty parent
// path yields a root path of just the id.
func childPath(parentPath, id string) string {
	if parentPath == "" {
		return id
	}
	return parentPath + pathSep + id
}

// pathWithin reports whether path lies inside the subtree whose root has
// the materialized path ancestor, the root itself included. This is the
// O(1) cycle check: no link walking.
func pathWithin(ancestor, path string) bool {
	return path == ancestor || strings.HasPrefix(path, ancestor+pathSep)
}

// relocatePath rewrites a descendant path after its subtree root moved
// from oldRoot to newRoot.
func relocatePath(oldRoot, newRoot, path string) string {
	return newRoot + strings.TrimPrefix(path, oldRoot)
}

// validateParent checks a proposed parent for a create or reparent.
// child is nil when creating a fresh task. It enforces the depth ceiling
// and rejects edges that would make a task its own ancestor.
func validateParent(child, parent *Task) error {
	if parent.HierarchyLevel+1 > MaxDepth-1 {
		return fmt.Errorf("%w: parent %s is at level %d", ErrDepthExceeded, parent.ID, parent.HierarchyLevel)
	}
	if child != nil && pathWithin(child.HierarchyPath, parent.HierarchyPath) {
		return fmt.Errorf("%w: %s is within the subtree of %s", ErrCycleDetected, parent.ID, child.ID)
	}
	return nil
}

// validateSiblingOrder rejects negative sibling orders.
func validateSiblingOrder(order int) error {
	if order < 0 {
		return invalidf("sibling_order", "must be non-negative, got %d", order)
	}
	return nil
}

func validateStatus(s Status) error {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled, StatusOnHold:
		return nil
	}
	return invalidf("status", "unknown value %q", s)
}

func validateCompletionBehavior(b CompletionBehavior) error {
	switch b {
	case CompletionManual, CompletionAuto:
		return nil
	}
	return invalidf("completion_behavior", "unknown value %q", b)
}

func validateProgressCalculation(c ProgressCalculation) error {
	switch c {
	case ProgressManual, ProgressAverage, ProgressWeighted:
		return nil
	}
	return invalidf("progress_calculation", "unknown value %q", c)
}

func validateProgress(p int) error {
	if p < 0 || p > 100 {
		return invalidf("progress", "must be within 0..100, got %d", p)
	}
	return nil
}

func validateDescendantPolicy(p DescendantPolicy) error {
	switch p {
	case ReparentToGrandparent, CascadeDelete:
		return nil
	}
	return invalidf("policy", "must be %q or %q", ReparentToGrandparent, CascadeDelete)
}
