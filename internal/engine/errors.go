package engine

import (
	"errors"
	"fmt"

	"chantier/internal/domain"
	"chantier/internal/repo"
)

// ValidationError reports malformed input: missing required field,
// out-of-range percentage, non-positive duration, start after end.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) ValidationError {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// InvalidStateError reports a transition attempted from a status that does
// not permit it. The task is left unchanged.
type InvalidStateError struct {
	TaskID  string
	Status  domain.Status
	Command string
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s task %s from status %s", e.Command, e.TaskID, e.Status)
}

// NotFoundError reports a missing task, edge or scope.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// ConcurrentModificationError reports an optimistic-lock mismatch; the
// caller may retry against the fresh version.
type ConcurrentModificationError struct {
	TaskID string
}

func (e ConcurrentModificationError) Error() string {
	return fmt.Sprintf("task %s modified concurrently", e.TaskID)
}

// CycleError reports a dependency edge whose insertion would close a cycle.
type CycleError struct {
	PredecessorID string
	SuccessorID   string
}

func (e CycleError) Error() string {
	return fmt.Sprintf("dependency %s -> %s would create a cycle", e.PredecessorID, e.SuccessorID)
}

// ScheduleConflictError blocks a schedule commit and carries the structured
// conflict list for the caller to surface.
type ScheduleConflictError struct {
	Result ValidationResult
}

func (e ScheduleConflictError) Error() string {
	if len(e.Result.Conflicts) == 0 {
		return "schedule conflict"
	}
	return fmt.Sprintf("schedule conflict: %s", e.Result.Conflicts[0].Message)
}

func wrapNotFound(err error, kind, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return NotFoundError{Kind: kind, ID: id}
	}
	return err
}

func wrapVersionConflict(err error, taskID string) error {
	if errors.Is(err, repo.ErrVersionConflict) {
		return ConcurrentModificationError{TaskID: taskID}
	}
	return err
}
