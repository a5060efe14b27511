package engine

import (
	"context"

	"github.com/google/uuid"

	"chantier/internal/domain"
	"chantier/internal/events"
	"chantier/internal/repo"
)

type BlockageOptions struct {
	Level    domain.ScopeLevel
	ScopeID  string
	Cause    string
	StartDay string
	EndDay   string
	ActorID  string
}

// ItemError records a per-task failure inside a cascade without aborting the
// remaining tasks.
type ItemError struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

// CascadeResult summarizes a blockage application: which tasks overlapped the
// window, which got suspended, and which were skipped with the reason.
type CascadeResult struct {
	Blockage   domain.Blockage `json:"blockage"`
	Candidates int             `json:"candidates"`
	Suspended  []string        `json:"suspended"`
	Skipped    []ItemError     `json:"skipped"`
}

// ApplyBlockage records the blockage, then suspends every overlapping task in
// scope that is currently in a suspendable status. Each task is handled in
// its own transaction so one failure never rolls back the others; the
// blockage row itself is committed before the cascade starts.
func (e Engine) ApplyBlockage(ctx context.Context, opts BlockageOptions) (CascadeResult, error) {
	var res CascadeResult
	if !opts.Level.IsValid() {
		return res, validationf("unknown scope level %s", opts.Level)
	}
	if opts.ScopeID == "" {
		return res, validationf("scope_id is required")
	}
	if opts.Cause == "" {
		return res, validationf("blockage cause is required")
	}
	if e.Config != nil && !e.Config.KnownCause(opts.Cause) {
		return res, validationf("unknown blockage cause %s", opts.Cause)
	}
	if opts.ActorID == "" {
		return res, validationf("actor is required")
	}
	if _, err := domain.ParseDay(opts.StartDay); err != nil {
		return res, ValidationError{Msg: err.Error()}
	}
	if _, err := domain.ParseDay(opts.EndDay); err != nil {
		return res, ValidationError{Msg: err.Error()}
	}
	if !domain.DayBefore(opts.StartDay, opts.EndDay) {
		return res, validationf("blockage start %s must be before end %s", opts.StartDay, opts.EndDay)
	}

	b := domain.Blockage{
		ID:        uuid.New().String(),
		Level:     opts.Level,
		ScopeID:   opts.ScopeID,
		Cause:     opts.Cause,
		StartDay:  opts.StartDay,
		EndDay:    opts.EndDay,
		CreatedBy: opts.ActorID,
		CreatedAt: e.nowRFC3339(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertBlockage(ctx, tx, b); err != nil {
		return res, err
	}
	affaireID := ""
	if b.Level == domain.ScopeAffaire {
		affaireID = b.ScopeID
	}
	if err := e.Events.Append(ctx, tx, "blockage.created", affaireID, "blockage", b.ID, opts.ActorID, events.EventPayload{
		"level":     b.Level,
		"scope_id":  b.ScopeID,
		"cause":     b.Cause,
		"start_day": b.StartDay,
		"end_day":   b.EndDay,
	}); err != nil {
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	res.Blockage = b

	tasks, err := e.Repo.ListTasksForScope(ctx, b.Level, b.ScopeID)
	if err != nil {
		return res, err
	}
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !domain.WindowOverlaps(t.PlannedStart, t.PlannedEnd, b.StartDay, b.EndDay) {
			continue
		}
		res.Candidates++
		switch t.Status {
		case domain.StatusInProgress, domain.StatusDelayed, domain.StatusExtended:
		default:
			res.Skipped = append(res.Skipped, ItemError{TaskID: t.ID, Message: "status " + string(t.Status) + " is not suspendable"})
			continue
		}
		if err := e.suspendForBlockage(ctx, t, b, opts.ActorID); err != nil {
			res.Skipped = append(res.Skipped, ItemError{TaskID: t.ID, Message: err.Error()})
			continue
		}
		res.Suspended = append(res.Suspended, t.ID)
	}
	return res, nil
}

func (e Engine) suspendForBlockage(ctx context.Context, t domain.Task, b domain.Blockage, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ts := e.nowRFC3339()
	t.Status = domain.StatusSuspended
	t.SuspendCause = &b.Cause
	t.SuspendedAt = &ts
	t.SuspendedBy = &actorID
	t.UpdatedAt = ts
	if err := e.Repo.UpdateTaskVersioned(ctx, tx, &t); err != nil {
		return wrapVersionConflict(err, t.ID)
	}
	if err := e.Events.Append(ctx, tx, "task.suspended", t.AffaireID, "task", t.ID, actorID, events.EventPayload{
		"cause":       b.Cause,
		"blockage_id": b.ID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) ListBlockages(ctx context.Context, level, scopeID string) ([]domain.Blockage, error) {
	return e.Repo.ListBlockages(ctx, repo.BlockageFilters{Level: level, ScopeID: scopeID})
}
