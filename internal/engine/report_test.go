package engine_test

import (
	"errors"
	"testing"

	"chantier/internal/engine"
)

func TestSubmitUpdatesTaskProgress(t *testing.T) {
	env := newTestEnv(t)
	id := mustCreateTask(t, env, "daily", "2026-01-10", "2026-01-20")
	if _, err := env.Engine.StartTask(env.Ctx, id, "tester"); err != nil {
		t.Fatal(err)
	}

	rep, err := env.Engine.SubmitDailyProgress(env.Ctx, engine.SubmitOptions{
		TaskID: id, Day: "2026-01-15", Progress: 40, Personnel: 3, Hours: 24, Comment: "trench done", ActorID: "chef-1",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rep.Progress != 40 || rep.SubmittedBy != "chef-1" {
		t.Fatalf("report mismatch: %+v", rep)
	}
	task, _ := env.Engine.GetTask(env.Ctx, id)
	if task.Progress != 40 {
		t.Fatalf("task progress = %d, want 40", task.Progress)
	}

	// resubmission same day overwrites, including regressions for corrections
	rep, err = env.Engine.SubmitDailyProgress(env.Ctx, engine.SubmitOptions{
		TaskID: id, Day: "2026-01-15", Progress: 35, Personnel: 2, Hours: 16, ActorID: "chef-1",
	})
	if err != nil || rep.Progress != 35 {
		t.Fatalf("resubmit: %v %+v", err, rep)
	}
	task, _ = env.Engine.GetTask(env.Ctx, id)
	if task.Progress != 35 {
		t.Fatalf("task progress after correction = %d, want 35", task.Progress)
	}
	reports, err := env.Engine.ListDailyReports(env.Ctx, "2026-01-15")
	if err != nil || len(reports) != 1 {
		t.Fatalf("expected single mutable row per (task, day): %v %v", err, reports)
	}
}

func TestSubmitDefaultsToToday(t *testing.T) {
	env := newTestEnv(t)
	id := mustCreateTask(t, env, "today", "2026-01-10", "2026-01-20")
	_, _ = env.Engine.StartTask(env.Ctx, id, "tester")
	rep, err := env.Engine.SubmitDailyProgress(env.Ctx, engine.SubmitOptions{
		TaskID: id, Progress: 10, Personnel: 1, Hours: 8, ActorID: "chef-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	// clock frozen at 2026-01-15
	if rep.Day != "2026-01-15" {
		t.Fatalf("day = %s, want 2026-01-15", rep.Day)
	}
}

func TestSubmitValidation(t *testing.T) {
	env := newTestEnv(t)
	id := mustCreateTask(t, env, "strict", "2026-01-10", "2026-01-20")
	_, _ = env.Engine.StartTask(env.Ctx, id, "tester")

	var verr engine.ValidationError
	if _, err := env.Engine.SubmitDailyProgress(env.Ctx, engine.SubmitOptions{TaskID: id, Progress: 120, ActorID: "a"}); !errors.As(err, &verr) {
		t.Fatalf("progress > 100 should fail, got %v", err)
	}
	if _, err := env.Engine.SubmitDailyProgress(env.Ctx, engine.SubmitOptions{TaskID: id, Progress: -1, ActorID: "a"}); !errors.As(err, &verr) {
		t.Fatalf("negative progress should fail, got %v", err)
	}
	if _, err := env.Engine.SubmitDailyProgress(env.Ctx, engine.SubmitOptions{TaskID: id, Progress: 10}); !errors.As(err, &verr) {
		t.Fatalf("missing actor should fail, got %v", err)
	}
	var nerr engine.NotFoundError
	if _, err := env.Engine.SubmitDailyProgress(env.Ctx, engine.SubmitOptions{TaskID: "ghost", Progress: 10, ActorID: "a"}); !errors.As(err, &nerr) {
		t.Fatalf("unknown task should fail, got %v", err)
	}
}

func TestFullProgressCompletesTask(t *testing.T) {
	env := newTestEnv(t)
	id := mustCreateTask(t, env, "finishing", "2026-01-10", "2026-01-20")
	_, _ = env.Engine.StartTask(env.Ctx, id, "tester")

	rep, err := env.Engine.SubmitDailyProgress(env.Ctx, engine.SubmitOptions{
		TaskID: id, Day: "2026-01-15", Progress: 100, Personnel: 4, Hours: 32, ActorID: "chef-1",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rep.Status != "completed" {
		t.Fatalf("report status = %s, want completed", rep.Status)
	}
	task, _ := env.Engine.GetTask(env.Ctx, id)
	if task.Status != "completed" || task.Progress != 100 || task.CompletedAt == nil {
		t.Fatalf("task not completed: %+v", task)
	}

	// no further submissions once completed
	var serr engine.InvalidStateError
	if _, err := env.Engine.SubmitDailyProgress(env.Ctx, engine.SubmitOptions{TaskID: id, Day: "2026-01-16", Progress: 50, ActorID: "chef-1"}); !errors.As(err, &serr) {
		t.Fatalf("submission on completed task should fail, got %v", err)
	}
}

func TestFullProgressCompletesFromSuspended(t *testing.T) {
	env := newTestEnv(t)
	id := mustCreateTask(t, env, "frozen finish", "2026-01-10", "2026-01-20")
	_, _ = env.Engine.StartTask(env.Ctx, id, "tester")
	if _, err := env.Engine.SuspendTask(env.Ctx, engine.SuspendOptions{TaskID: id, Cause: "weather", ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitDailyProgress(env.Ctx, engine.SubmitOptions{TaskID: id, Progress: 100, ActorID: "chef-1"}); err != nil {
		t.Fatalf("completion from suspended: %v", err)
	}
	task, _ := env.Engine.GetTask(env.Ctx, id)
	if task.Status != "completed" || task.SuspendCause != nil {
		t.Fatalf("suspension metadata should clear on completion: %+v", task)
	}
}

func TestCompletionClearsDelayMetadata(t *testing.T) {
	env := newTestEnv(t)
	id := mustCreateTask(t, env, "late finish", "2026-01-10", "2026-01-20")
	_, _ = env.Engine.StartTask(env.Ctx, id, "tester")
	if _, err := env.Engine.DelayTask(env.Ctx, engine.DelayOptions{
		TaskID: id, Reason: "rain", TargetDay: "2026-01-25", OpenClaim: true, ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitDailyProgress(env.Ctx, engine.SubmitOptions{TaskID: id, Progress: 100, ActorID: "chef-1"}); err != nil {
		t.Fatalf("completion from delayed: %v", err)
	}
	task, _ := env.Engine.GetTask(env.Ctx, id)
	if task.Status != "completed" {
		t.Fatalf("status = %s", task.Status)
	}
	if task.DelayReason != nil || task.DelayTarget != nil || task.DelayClaim {
		t.Fatalf("delay metadata should clear on completion: %+v", task)
	}
}

func TestConfirmDayArchivesAndEmpties(t *testing.T) {
	env := newTestEnv(t)
	a := mustCreateTask(t, env, "a", "2026-01-10", "2026-01-20")
	b := mustCreateTask(t, env, "b", "2026-01-10", "2026-01-20")
	_, _ = env.Engine.StartTask(env.Ctx, a, "tester")
	_, _ = env.Engine.StartTask(env.Ctx, b, "tester")
	for _, id := range []string{a, b} {
		if _, err := env.Engine.SubmitDailyProgress(env.Ctx, engine.SubmitOptions{
			TaskID: id, Day: "2026-01-15", Progress: 20, Personnel: 2, Hours: 16, ActorID: "chef-1",
		}); err != nil {
			t.Fatal(err)
		}
	}

	res, err := env.Engine.ConfirmDay(env.Ctx, "2026-01-15", "conducteur-1")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if res.Confirmed != 2 || len(res.Skipped) != 0 {
		t.Fatalf("confirm result: %+v", res)
	}

	// second confirmation finds nothing
	res, err = env.Engine.ConfirmDay(env.Ctx, "2026-01-15", "conducteur-1")
	if err != nil || res.Confirmed != 0 {
		t.Fatalf("second confirm: %v %+v", err, res)
	}

	reports, _ := env.Engine.ListDailyReports(env.Ctx, "2026-01-15")
	if len(reports) != 0 {
		t.Fatalf("mutable rows left after confirmation: %v", reports)
	}
	archive, err := env.Engine.ListArchive(env.Ctx, "", "2026-01-15", 0)
	if err != nil || len(archive) != 2 {
		t.Fatalf("archive rows = %d: %v", len(archive), err)
	}
	if archive[0].ConfirmedBy != "conducteur-1" || archive[0].ConfirmedAt == "" {
		t.Fatalf("confirmation stamp missing: %+v", archive[0])
	}
}

func TestSubmitAfterConfirmRejected(t *testing.T) {
	env := newTestEnv(t)
	id := mustCreateTask(t, env, "sealed", "2026-01-10", "2026-01-20")
	_, _ = env.Engine.StartTask(env.Ctx, id, "tester")
	if _, err := env.Engine.SubmitDailyProgress(env.Ctx, engine.SubmitOptions{
		TaskID: id, Day: "2026-01-15", Progress: 30, ActorID: "chef-1",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ConfirmDay(env.Ctx, "2026-01-15", "conducteur-1"); err != nil {
		t.Fatal(err)
	}
	var verr engine.ValidationError
	if _, err := env.Engine.SubmitDailyProgress(env.Ctx, engine.SubmitOptions{
		TaskID: id, Day: "2026-01-15", Progress: 60, ActorID: "chef-1",
	}); !errors.As(err, &verr) {
		t.Fatalf("submission on confirmed day should fail, got %v", err)
	}
	// a different day still works
	if _, err := env.Engine.SubmitDailyProgress(env.Ctx, engine.SubmitOptions{
		TaskID: id, Day: "2026-01-16", Progress: 60, ActorID: "chef-1",
	}); err != nil {
		t.Fatalf("fresh day submission: %v", err)
	}
}
