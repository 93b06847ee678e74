package task

import (
	"context"
	"math"
	"time"
)

// propagate recomputes aggregate state bottom-up starting at parentID.
// At each level it fixes the exact direct-child counters, then applies
// the ancestor's completion_behavior and progress_calculation policies.
// The climb continues only while the current ancestor's own status or
// progress changed — the only facts its parent can observe — so a manual
// ancestor stops the propagation after its counters are corrected.
//
// The task whose fields the caller just set explicitly is never on this
// walk (it starts at the parent), so an explicit set always wins over a
// derived recomputation within the same call.
func propagate(ctx context.Context, tx Tx, parentID string) error {
	for parentID != "" {
		p, err := tx.Get(ctx, parentID)
		if err != nil {
			return err
		}
		children, err := tx.Children(ctx, parentID)
		if err != nil {
			return err
		}

		subtasks := len(children)
		completed := 0
		for i := range children {
			if children[i].Status == StatusCompleted {
				completed++
			}
		}
		countsChanged := p.SubtaskCount != subtasks || p.CompletedSubtaskCount != completed
		p.SubtaskCount = subtasks
		p.CompletedSubtaskCount = completed

		statusChanged := applyCompletionBehavior(p)
		progressChanged := applyProgressCalculation(p, children)

		if countsChanged || statusChanged || progressChanged {
			p.UpdatedAt = time.Now().Truncate(time.Microsecond)
			if err := tx.Update(ctx, p); err != nil {
				return err
			}
		}
		if !statusChanged && !progressChanged {
			return nil
		}
		parentID = p.ParentID
	}
	return nil
}

// applyCompletionBehavior derives the task's status from its counters
// under CompletionAuto. It reports whether the status changed. Tasks
// without children are left alone so a manually completed leaf is not
// reopened by a passing recomputation.
func applyCompletionBehavior(p *Task) bool {
	if p.CompletionBehavior != CompletionAuto || p.SubtaskCount == 0 {
		return false
	}
	switch {
	case p.CompletedSubtaskCount == p.SubtaskCount && p.Status != StatusCompleted:
		now := time.Now().Truncate(time.Microsecond)
		p.Status = StatusCompleted
		p.CompletedAt = &now
		return true
	case p.CompletedSubtaskCount < p.SubtaskCount && p.Status == StatusCompleted:
		p.Status = StatusInProgress
		p.CompletedAt = nil
		return true
	}
	return false
}

// applyProgressCalculation derives the task's progress from its children
// under average_subtasks or weighted_subtasks. It reports whether the
// progress changed.
func applyProgressCalculation(p *Task, children []Task) bool {
	derived, ok := deriveProgress(p.ProgressCalculation, children)
	if !ok || derived == p.Progress {
		return false
	}
	p.Progress = derived
	return true
}

// deriveProgress computes a derived progress value over direct children.
// The bool result is false when the policy is manual or there are no
// children to derive from.
func deriveProgress(calc ProgressCalculation, children []Task) (int, bool) {
	if len(children) == 0 {
		return 0, false
	}
	switch calc {
	case ProgressAverage:
		sum := 0
		for i := range children {
			sum += children[i].Progress
		}
		return roundDiv(sum, len(children)), true
	case ProgressWeighted:
		sum, weights := 0, 0
		for i := range children {
			w := children[i].ProgressWeight
			if w <= 0 {
				w = 1
			}
			sum += children[i].Progress * w
			weights += w
		}
		return roundDiv(sum, weights), true
	}
	return 0, false
}

// roundDiv divides and rounds to the nearest integer.
func roundDiv(sum, n int) int {
	return int(math.Round(float64(sum) / float64(n)))
}
