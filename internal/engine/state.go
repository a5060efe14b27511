package engine

import (
	"context"
	"database/sql"

	"chantier/internal/domain"
	"chantier/internal/events"
)

// allowedSources maps each transition command to the statuses it may leave
// from. Completion is absent on purpose: it is reached only through the
// daily reporting ledger at progress 100.
var allowedSources = map[string][]domain.Status{
	"start":   {domain.StatusNotStarted},
	"suspend": {domain.StatusInProgress},
	"resume":  {domain.StatusSuspended, domain.StatusDelayed, domain.StatusExtended},
	"delay":   {domain.StatusInProgress},
	"extend":  {domain.StatusInProgress, domain.StatusSuspended, domain.StatusDelayed, domain.StatusExtended},
}

func ensureTransition(command string, t domain.Task) error {
	for _, s := range allowedSources[command] {
		if t.Status == s {
			return nil
		}
	}
	return InvalidStateError{TaskID: t.ID, Status: t.Status, Command: command}
}

// StartTask moves a task from not_started to in_progress and stamps the
// launch in the audit ledger.
func (e Engine) StartTask(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	return e.transition(ctx, taskID, "start", func(t *domain.Task) (events.EventPayload, error) {
		t.Status = domain.StatusInProgress
		t.Progress = 0
		return events.EventPayload{"status": t.Status}, nil
	}, "task.started", actorID)
}

type SuspendOptions struct {
	TaskID  string
	Cause   string
	ActorID string
}

// SuspendTask freezes an in_progress task, recording cause, timestamp and
// the responsible actor.
func (e Engine) SuspendTask(ctx context.Context, opts SuspendOptions) (domain.Task, error) {
	if opts.Cause == "" {
		return domain.Task{}, validationf("suspension cause is required")
	}
	if opts.ActorID == "" {
		return domain.Task{}, validationf("actor is required")
	}
	if e.Config != nil && !e.Config.KnownCause(opts.Cause) {
		return domain.Task{}, validationf("unknown suspension cause %s", opts.Cause)
	}
	ts := e.nowRFC3339()
	return e.transition(ctx, opts.TaskID, "suspend", func(t *domain.Task) (events.EventPayload, error) {
		t.Status = domain.StatusSuspended
		t.SuspendCause = &opts.Cause
		t.SuspendedAt = &ts
		t.SuspendedBy = &opts.ActorID
		return events.EventPayload{"cause": opts.Cause}, nil
	}, "task.suspended", opts.ActorID)
}

// ResumeTask returns a suspended, delayed or extended task to in_progress
// and clears its suspension metadata.
func (e Engine) ResumeTask(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	return e.transition(ctx, taskID, "resume", func(t *domain.Task) (events.EventPayload, error) {
		from := t.Status
		t.Status = domain.StatusInProgress
		t.SuspendCause = nil
		t.SuspendedAt = nil
		t.SuspendedBy = nil
		return events.EventPayload{"from": from}, nil
	}, "task.resumed", actorID)
}

type DelayOptions struct {
	TaskID    string
	Reason    string
	TargetDay string
	OpenClaim bool
	ActorID   string
}

// DelayTask records a reschedule intent. It does not move the planned end
// date; that happens through a separate schedule commit.
func (e Engine) DelayTask(ctx context.Context, opts DelayOptions) (domain.Task, error) {
	if opts.Reason == "" {
		return domain.Task{}, validationf("delay reason is required")
	}
	if _, err := domain.ParseDay(opts.TargetDay); err != nil {
		return domain.Task{}, ValidationError{Msg: err.Error()}
	}
	if !domain.DayBefore(e.today(), opts.TargetDay) {
		return domain.Task{}, validationf("delay target %s must be a future date", opts.TargetDay)
	}
	return e.transition(ctx, opts.TaskID, "delay", func(t *domain.Task) (events.EventPayload, error) {
		t.Status = domain.StatusDelayed
		t.DelayReason = &opts.Reason
		t.DelayTarget = &opts.TargetDay
		t.DelayClaim = opts.OpenClaim
		return events.EventPayload{
			"reason":     opts.Reason,
			"target_day": opts.TargetDay,
			"open_claim": opts.OpenClaim,
		}, nil
	}, "task.delayed", opts.ActorID)
}

type ExtendOptions struct {
	TaskID         string
	AdditionalDays int
	Reason         string
	ActorID        string
}

// ExtendTask pushes the planned end date out by a positive number of days.
func (e Engine) ExtendTask(ctx context.Context, opts ExtendOptions) (domain.Task, error) {
	if opts.AdditionalDays <= 0 {
		return domain.Task{}, validationf("additional days must be positive, got %d", opts.AdditionalDays)
	}
	if opts.Reason == "" {
		return domain.Task{}, validationf("extension reason is required")
	}
	return e.transition(ctx, opts.TaskID, "extend", func(t *domain.Task) (events.EventPayload, error) {
		oldEnd := t.PlannedEnd
		t.PlannedEnd = domain.AddDays(t.PlannedEnd, opts.AdditionalDays)
		t.Status = domain.StatusExtended
		return events.EventPayload{
			"reason":          opts.Reason,
			"additional_days": opts.AdditionalDays,
			"old_end":         oldEnd,
			"new_end":         t.PlannedEnd,
		}, nil
	}, "task.extended", opts.ActorID)
}

// transition runs one status change atomically: read, check the source
// status, mutate, write under the version check, append the ledger event.
func (e Engine) transition(ctx context.Context, taskID, command string, mutate func(*domain.Task) (events.EventPayload, error), evtType, actorID string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, wrapNotFound(err, "task", taskID)
	}
	if err := ensureTransition(command, t); err != nil {
		return t, err
	}
	payload, err := mutate(&t)
	if err != nil {
		return t, err
	}
	t.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateTaskVersioned(ctx, tx, &t); err != nil {
		return t, wrapVersionConflict(err, t.ID)
	}
	if err := e.Events.Append(ctx, tx, evtType, t.AffaireID, "task", t.ID, actorID, payload); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

// completeTaskTx closes a task once its ledger progress reaches 100. Shares
// the caller's transaction so completion and report submission are atomic.
func (e Engine) completeTaskTx(ctx context.Context, tx *sql.Tx, t *domain.Task, actorID string) error {
	now := e.nowRFC3339()
	t.Status = domain.StatusCompleted
	t.Progress = 100
	t.CompletedAt = &now
	t.SuspendCause = nil
	t.SuspendedAt = nil
	t.SuspendedBy = nil
	t.DelayReason = nil
	t.DelayTarget = nil
	t.DelayClaim = false
	t.UpdatedAt = now
	if err := e.Repo.UpdateTaskVersioned(ctx, tx, t); err != nil {
		return wrapVersionConflict(err, t.ID)
	}
	return e.Events.Append(ctx, tx, "task.completed", t.AffaireID, "task", t.ID, actorID, events.EventPayload{})
}
