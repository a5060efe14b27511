package engine

import (
	"context"
	"fmt"

	"chantier/internal/domain"
	"chantier/internal/events"
)

// Conflict blocks a schedule mutation.
type Conflict struct {
	Code    string `json:"code" enum:"invalid-range,predecessor-violation,blocked-period"`
	TaskID  string `json:"task_id,omitempty"`
	Message string `json:"message"`
}

// Warning informs the caller without blocking; successors are never
// auto-adjusted.
type Warning struct {
	Code    string `json:"code" enum:"downstream-impact"`
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

// ValidationResult is shared by the preview and commit paths so the two can
// never disagree.
type ValidationResult struct {
	Valid     bool       `json:"valid"`
	Conflicts []Conflict `json:"conflicts"`
	Warnings  []Warning  `json:"warnings"`
}

type edgeWithTask struct {
	edge  domain.DependencyEdge
	other domain.Task
}

// scheduleSnapshot is the in-memory subgraph a validation runs against: the
// task, its incident edges with neighbor tasks, and the blockages covering
// its scope. No locks are held while computing over it.
type scheduleSnapshot struct {
	task         domain.Task
	predecessors []edgeWithTask
	successors   []edgeWithTask
	blockages    []domain.Blockage
}

func (e Engine) loadScheduleSnapshot(ctx context.Context, taskID string) (scheduleSnapshot, error) {
	var snap scheduleSnapshot
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return snap, wrapNotFound(err, "task", taskID)
	}
	snap.task = t

	predEdges, err := e.Repo.ListEdgesBySuccessor(ctx, taskID)
	if err != nil {
		return snap, err
	}
	succEdges, err := e.Repo.ListEdgesByPredecessor(ctx, taskID)
	if err != nil {
		return snap, err
	}
	var ids []string
	for _, edge := range predEdges {
		ids = append(ids, edge.PredecessorID)
	}
	for _, edge := range succEdges {
		ids = append(ids, edge.SuccessorID)
	}
	neighbors, err := e.Repo.ListTasksByIDs(ctx, ids)
	if err != nil {
		return snap, err
	}
	for _, edge := range predEdges {
		if pred, ok := neighbors[edge.PredecessorID]; ok {
			snap.predecessors = append(snap.predecessors, edgeWithTask{edge: edge, other: pred})
		}
	}
	for _, edge := range succEdges {
		if succ, ok := neighbors[edge.SuccessorID]; ok {
			snap.successors = append(snap.successors, edgeWithTask{edge: edge, other: succ})
		}
	}
	snap.blockages, err = e.Repo.ListBlockagesForTask(ctx, t.SiteID, t.AffaireID)
	return snap, err
}

// boundSatisfied applies one edge's rule to a successor schedule given the
// predecessor's dates. Lag may be negative to express overlap.
func boundSatisfied(kind domain.DependencyKind, lag int, predStart, predEnd, succStart, succEnd string) bool {
	switch kind {
	case domain.StartToStart:
		return !domain.DayBefore(succStart, domain.AddDays(predStart, lag))
	case domain.FinishToFinish:
		return !domain.DayBefore(succEnd, domain.AddDays(predEnd, lag))
	default: // finish_to_start
		return !domain.DayBefore(succStart, domain.AddDays(predEnd, lag))
	}
}

// validateSchedule is the pure core of the validator: it never mutates and
// is used unchanged by both preview and commit.
func validateSchedule(snap scheduleSnapshot, newStart, newEnd string) ValidationResult {
	res := ValidationResult{Conflicts: []Conflict{}, Warnings: []Warning{}}

	if domain.DayBefore(newEnd, newStart) {
		res.Conflicts = append(res.Conflicts, Conflict{
			Code:    "invalid-range",
			TaskID:  snap.task.ID,
			Message: fmt.Sprintf("start %s is after end %s", newStart, newEnd),
		})
	}

	for _, p := range snap.predecessors {
		if !boundSatisfied(p.edge.Kind, p.edge.LagDays, p.other.PlannedStart, p.other.PlannedEnd, newStart, newEnd) {
			res.Conflicts = append(res.Conflicts, Conflict{
				Code:   "predecessor-violation",
				TaskID: p.other.ID,
				Message: fmt.Sprintf("%s bound from predecessor %s (lag %d) violated",
					p.edge.Kind, p.other.ID, p.edge.LagDays),
			})
		}
	}

	for _, s := range snap.successors {
		if !boundSatisfied(s.edge.Kind, s.edge.LagDays, newStart, newEnd, s.other.PlannedStart, s.other.PlannedEnd) {
			res.Warnings = append(res.Warnings, Warning{
				Code:   "downstream-impact",
				TaskID: s.other.ID,
				Message: fmt.Sprintf("successor %s would violate its %s bound (lag %d); it is not adjusted automatically",
					s.other.ID, s.edge.Kind, s.edge.LagDays),
			})
		}
	}

	for _, b := range snap.blockages {
		if domain.WindowOverlaps(newStart, newEnd, b.StartDay, b.EndDay) {
			res.Conflicts = append(res.Conflicts, Conflict{
				Code:    "blocked-period",
				TaskID:  snap.task.ID,
				Message: fmt.Sprintf("proposed range overlaps %s blockage on %s %s (%s to %s)", b.Cause, b.Level, b.ScopeID, b.StartDay, b.EndDay),
			})
		}
	}

	res.Valid = len(res.Conflicts) == 0
	return res
}

// PreviewScheduleChange validates a proposed date change without mutating
// anything. Drag interactions call this on every drop candidate.
func (e Engine) PreviewScheduleChange(ctx context.Context, taskID, newStart, newEnd string) (ValidationResult, error) {
	if _, err := domain.ParseDay(newStart); err != nil {
		return ValidationResult{}, ValidationError{Msg: err.Error()}
	}
	if _, err := domain.ParseDay(newEnd); err != nil {
		return ValidationResult{}, ValidationError{Msg: err.Error()}
	}
	snap, err := e.loadScheduleSnapshot(ctx, taskID)
	if err != nil {
		return ValidationResult{}, err
	}
	return validateSchedule(snap, newStart, newEnd), nil
}

type CommitScheduleOptions struct {
	TaskID   string
	NewStart string
	NewEnd   string
	ActorID  string
}

// CommitScheduleChange re-runs the same validation as the preview and, when
// valid, persists the new dates under the task's version check.
func (e Engine) CommitScheduleChange(ctx context.Context, opts CommitScheduleOptions) (domain.Task, ValidationResult, error) {
	if _, err := domain.ParseDay(opts.NewStart); err != nil {
		return domain.Task{}, ValidationResult{}, ValidationError{Msg: err.Error()}
	}
	if _, err := domain.ParseDay(opts.NewEnd); err != nil {
		return domain.Task{}, ValidationResult{}, ValidationError{Msg: err.Error()}
	}
	snap, err := e.loadScheduleSnapshot(ctx, opts.TaskID)
	if err != nil {
		return domain.Task{}, ValidationResult{}, err
	}
	result := validateSchedule(snap, opts.NewStart, opts.NewEnd)
	if !result.Valid {
		return snap.task, result, ScheduleConflictError{Result: result}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return snap.task, result, err
	}
	defer tx.Rollback()

	t := snap.task
	oldStart, oldEnd := t.PlannedStart, t.PlannedEnd
	t.PlannedStart = opts.NewStart
	t.PlannedEnd = opts.NewEnd
	t.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateTaskVersioned(ctx, tx, &t); err != nil {
		return t, result, wrapVersionConflict(err, t.ID)
	}
	if err := e.Events.Append(ctx, tx, "task.rescheduled", t.AffaireID, "task", t.ID, opts.ActorID, events.EventPayload{
		"old_start": oldStart,
		"old_end":   oldEnd,
		"new_start": t.PlannedStart,
		"new_end":   t.PlannedEnd,
		"warnings":  len(result.Warnings),
	}); err != nil {
		return t, result, err
	}
	if err := tx.Commit(); err != nil {
		return t, result, err
	}
	return t, result, nil
}
