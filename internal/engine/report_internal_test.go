package engine

import (
	"context"
	"testing"
	"time"

	"chantier/internal/config"
	"chantier/internal/db"
	"chantier/internal/domain"
	"chantier/internal/migrate"
)

func newLedgerEngine(t *testing.T) (Engine, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := New(conn, config.Default("ws-test"))
	e.Now = func() time.Time { return time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC) }
	return e, context.Background()
}

func startedTask(t *testing.T, e Engine, ctx context.Context, title string) string {
	t.Helper()
	task, err := e.CreateTask(ctx, TaskCreateOptions{
		SiteID: "site-1", AffaireID: "aff-1", Title: title,
		PlannedStart: "2026-01-10", PlannedEnd: "2026-01-20", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e.StartTask(ctx, task.ID, "tester"); err != nil {
		t.Fatalf("start: %v", err)
	}
	return task.ID
}

// A correction can land between the day scan and an entry's confirmation
// transaction. The archive must hold what the delete removes, not the scan's
// snapshot.
func TestConfirmEntryArchivesCurrentRow(t *testing.T) {
	e, ctx := newLedgerEngine(t)
	id := startedTask(t, e, ctx, "raced")

	if _, err := e.SubmitDailyProgress(ctx, SubmitOptions{TaskID: id, Day: "2026-01-15", Progress: 30, ActorID: "chef-1"}); err != nil {
		t.Fatal(err)
	}
	stale, err := e.Repo.GetDailyReport(ctx, id, "2026-01-15")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.SubmitDailyProgress(ctx, SubmitOptions{TaskID: id, Day: "2026-01-15", Progress: 50, ActorID: "chef-1"}); err != nil {
		t.Fatal(err)
	}

	if err := e.confirmEntry(ctx, stale, "conducteur-1"); err != nil {
		t.Fatalf("confirm with stale snapshot: %v", err)
	}
	archive, err := e.ListArchive(ctx, id, "2026-01-15", 0)
	if err != nil || len(archive) != 1 {
		t.Fatalf("archive rows = %d: %v", len(archive), err)
	}
	if archive[0].Progress != 50 {
		t.Fatalf("archived progress = %d, want the corrected 50", archive[0].Progress)
	}
	reports, _ := e.ListDailyReports(ctx, "2026-01-15")
	if len(reports) != 0 {
		t.Fatalf("mutable row survived confirmation: %v", reports)
	}
}

// The unique key on report_archive is the backstop: even if a mutable row
// reappears for a confirmed (task, day), a second confirmation cannot add a
// second archive entry.
func TestArchiveRejectsSecondEntryPerDay(t *testing.T) {
	e, ctx := newLedgerEngine(t)
	id := startedTask(t, e, ctx, "sealed twice")

	if _, err := e.SubmitDailyProgress(ctx, SubmitOptions{TaskID: id, Day: "2026-01-15", Progress: 30, ActorID: "chef-1"}); err != nil {
		t.Fatal(err)
	}
	if res, err := e.ConfirmDay(ctx, "2026-01-15", "conducteur-1"); err != nil || res.Confirmed != 1 {
		t.Fatalf("first confirm: %v %+v", err, res)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	row := domain.DailyReport{
		TaskID: id, Day: "2026-01-15", Status: domain.StatusInProgress,
		Progress: 60, SubmittedBy: "chef-1", UpdatedAt: e.nowRFC3339(),
	}
	if err := e.Repo.UpsertDailyReport(ctx, tx, row); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	res, err := e.ConfirmDay(ctx, "2026-01-15", "conducteur-1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Confirmed != 0 || len(res.Skipped) != 1 || res.Skipped[0].TaskID != id {
		t.Fatalf("duplicate confirmation should be skipped: %+v", res)
	}
	archive, _ := e.ListArchive(ctx, id, "2026-01-15", 0)
	if len(archive) != 1 || archive[0].Progress != 30 {
		t.Fatalf("archive no longer immutable: %+v", archive)
	}
}
