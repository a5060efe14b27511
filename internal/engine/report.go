package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"chantier/internal/domain"
	"chantier/internal/events"
	"chantier/internal/repo"
)

type SubmitOptions struct {
	TaskID      string
	Day         string
	Progress    int
	Personnel   int
	Hours       float64
	Comment     string
	DelayReason string
	ActorID     string
}

// SubmitDailyProgress writes or overwrites the ledger entry for (task, day)
// and propagates the reported progress onto the task. Reaching 100 closes
// the task in the same transaction.
func (e Engine) SubmitDailyProgress(ctx context.Context, opts SubmitOptions) (domain.DailyReport, error) {
	var rep domain.DailyReport
	if opts.Progress < 0 || opts.Progress > 100 {
		return rep, validationf("progress must be between 0 and 100, got %d", opts.Progress)
	}
	if opts.Personnel < 0 {
		return rep, validationf("personnel count cannot be negative")
	}
	if opts.Hours < 0 {
		return rep, validationf("hours cannot be negative")
	}
	if opts.ActorID == "" {
		return rep, validationf("actor is required")
	}
	day := opts.Day
	if day == "" {
		day = e.today()
	} else if _, err := domain.ParseDay(day); err != nil {
		return rep, ValidationError{Msg: err.Error()}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rep, err
	}
	defer tx.Rollback()

	// Checked inside the transaction: a confirmation racing this submission
	// must not let a mutable row reappear for a sealed (task, day).
	confirmed, err := e.Repo.ArchiveExists(ctx, tx, opts.TaskID, day)
	if err != nil {
		return rep, err
	}
	if confirmed {
		return rep, validationf("report for task %s on %s is already confirmed", opts.TaskID, day)
	}

	t, err := e.Repo.GetTaskTx(ctx, tx, opts.TaskID)
	if err != nil {
		return rep, wrapNotFound(err, "task", opts.TaskID)
	}
	if t.Status.IsTerminal() {
		return rep, InvalidStateError{TaskID: t.ID, Status: t.Status, Command: "report"}
	}

	now := e.nowRFC3339()
	rep = domain.DailyReport{
		TaskID:      t.ID,
		Day:         day,
		Status:      t.Status,
		Progress:    opts.Progress,
		Personnel:   opts.Personnel,
		Hours:       opts.Hours,
		Comment:     opts.Comment,
		DelayReason: optionalString(opts.DelayReason),
		SubmittedBy: opts.ActorID,
		UpdatedAt:   now,
	}
	if err := e.Repo.UpsertDailyReport(ctx, tx, rep); err != nil {
		return rep, err
	}

	if opts.Progress == 100 {
		if err := e.completeTaskTx(ctx, tx, &t, opts.ActorID); err != nil {
			return rep, err
		}
		rep.Status = t.Status
	} else {
		t.Progress = opts.Progress
		t.UpdatedAt = now
		if err := e.Repo.UpdateTaskVersioned(ctx, tx, &t); err != nil {
			return rep, wrapVersionConflict(err, t.ID)
		}
	}

	if err := e.Events.Append(ctx, tx, "report.submitted", t.AffaireID, "task", t.ID, opts.ActorID, events.EventPayload{
		"day":       day,
		"progress":  opts.Progress,
		"personnel": opts.Personnel,
		"hours":     opts.Hours,
	}); err != nil {
		return rep, err
	}
	return rep, tx.Commit()
}

// ConfirmResult summarizes an end-of-day confirmation run.
type ConfirmResult struct {
	Day       string      `json:"day"`
	Confirmed int         `json:"confirmed"`
	Skipped   []ItemError `json:"skipped,omitempty"`
}

// ConfirmDay freezes every unconfirmed entry for the day into the immutable
// archive and removes the mutable rows. Entries are confirmed one per
// transaction; a failure on one entry never blocks the rest. Running it
// twice is harmless, the second pass finds nothing left.
func (e Engine) ConfirmDay(ctx context.Context, day, actorID string) (ConfirmResult, error) {
	res := ConfirmResult{Day: day}
	if _, err := domain.ParseDay(day); err != nil {
		return res, ValidationError{Msg: err.Error()}
	}
	if actorID == "" {
		return res, validationf("actor is required")
	}

	reports, err := e.Repo.ListDailyReportsForDay(ctx, day)
	if err != nil {
		return res, err
	}
	for _, rep := range reports {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := e.confirmEntry(ctx, rep, actorID); err != nil {
			res.Skipped = append(res.Skipped, ItemError{TaskID: rep.TaskID, Message: err.Error()})
			continue
		}
		res.Confirmed++
	}
	return res, nil
}

func (e Engine) confirmEntry(ctx context.Context, rep domain.DailyReport, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// The day scan ran before this transaction; a correction may have landed
	// since. Re-read here so the archive copy and the delete below refer to
	// the same row content.
	fresh, err := e.Repo.GetDailyReportTx(ctx, tx, rep.TaskID, rep.Day)
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("report %s/%s already confirmed", rep.TaskID, rep.Day)
	}
	if err != nil {
		return err
	}

	entry := domain.ArchiveEntry{
		ID:          uuid.New().String(),
		TaskID:      fresh.TaskID,
		Day:         fresh.Day,
		Status:      fresh.Status,
		Progress:    fresh.Progress,
		Personnel:   fresh.Personnel,
		Hours:       fresh.Hours,
		Comment:     fresh.Comment,
		DelayReason: fresh.DelayReason,
		SubmittedBy: fresh.SubmittedBy,
		ConfirmedBy: actorID,
		ConfirmedAt: e.nowRFC3339(),
	}
	if err := e.Repo.InsertArchiveEntry(ctx, tx, entry); err != nil {
		return err
	}
	if err := e.Repo.DeleteDailyReport(ctx, tx, rep.TaskID, rep.Day); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "report.confirmed", "", "task", rep.TaskID, actorID, events.EventPayload{
		"day":        rep.Day,
		"archive_id": entry.ID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) GetDailyReport(ctx context.Context, taskID, day string) (domain.DailyReport, error) {
	rep, err := e.Repo.GetDailyReport(ctx, taskID, day)
	return rep, wrapNotFound(err, "report", taskID+"/"+day)
}

func (e Engine) ListDailyReports(ctx context.Context, day string) ([]domain.DailyReport, error) {
	if _, err := domain.ParseDay(day); err != nil {
		return nil, ValidationError{Msg: err.Error()}
	}
	return e.Repo.ListDailyReportsForDay(ctx, day)
}

func (e Engine) ListArchive(ctx context.Context, taskID, day string, limit int) ([]domain.ArchiveEntry, error) {
	return e.Repo.ListArchive(ctx, repo.ArchiveFilters{TaskID: taskID, Day: day, Limit: limit})
}
