package task

import (
	"errors"
	"fmt"
)

// Sentinel errors for the hierarchy engine. Callers test them with
// errors.Is; the engine wraps them with the offending id for context.
var (
	// ErrNotFound means a referenced task or parent does not exist.
	ErrNotFound = errors.New("task not found")

	// ErrDepthExceeded means the operation would create a task below
	// level MaxDepth-1.
	ErrDepthExceeded = errors.New("hierarchy depth exceeded")

	// ErrCycleDetected means the proposed parent lies within the
	// candidate's own subtree.
	ErrCycleDetected = errors.New("hierarchy cycle detected")

	// ErrConflict means a concurrent mutation invalidated this
	// transaction. Nothing was committed; the caller may retry.
	ErrConflict = errors.New("concurrent modification conflict")

	// ErrStorageUnavailable means the underlying store is unreachable.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ValidationError reports malformed input on a specific field. Always a
// caller bug, never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func invalidf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
