package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"chantier/internal/config"
	"chantier/internal/db"
	"chantier/internal/engine"
	"chantier/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default("ws-test"))
	eng.Now = func() time.Time { return time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func mustCreateTask(t *testing.T, env testEnv, title, start, end string) string {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		SiteID:       "site-1",
		AffaireID:    "aff-1",
		Title:        title,
		PlannedStart: start,
		PlannedEnd:   end,
		ActorID:      "tester",
	})
	if err != nil {
		t.Fatalf("create task %s: %v", title, err)
	}
	return task.ID
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		SiteID: "site-1", AffaireID: "aff-1", Title: "bad range",
		PlannedStart: "2026-02-10", PlannedEnd: "2026-02-01", ActorID: "tester",
	})
	var verr engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		SiteID: "site-1", AffaireID: "aff-1", Title: "bad date",
		PlannedStart: "01/02/2026", PlannedEnd: "2026-02-10", ActorID: "tester",
	})
	if !errors.As(err, &verr) {
		t.Fatalf("expected date format error, got %v", err)
	}
}

func TestStartSuspendResume(t *testing.T) {
	env := newTestEnv(t)
	id := mustCreateTask(t, env, "pipe run", "2026-02-01", "2026-02-10")

	task, err := env.Engine.StartTask(env.Ctx, id, "tester")
	if err != nil || task.Status != "in_progress" {
		t.Fatalf("start: %v status=%s", err, task.Status)
	}
	task, err = env.Engine.SuspendTask(env.Ctx, engine.SuspendOptions{TaskID: id, Cause: "weather", ActorID: "tester"})
	if err != nil || task.Status != "suspended" {
		t.Fatalf("suspend: %v status=%s", err, task.Status)
	}
	if task.SuspendCause == nil || *task.SuspendCause != "weather" || task.SuspendedBy == nil {
		t.Fatalf("suspension metadata missing: %+v", task)
	}
	task, err = env.Engine.ResumeTask(env.Ctx, id, "tester")
	if err != nil || task.Status != "in_progress" {
		t.Fatalf("resume: %v status=%s", err, task.Status)
	}
	if task.SuspendCause != nil || task.SuspendedAt != nil || task.SuspendedBy != nil {
		t.Fatalf("suspension metadata not cleared: %+v", task)
	}
}

func TestInvalidTransitionsRejected(t *testing.T) {
	env := newTestEnv(t)
	id := mustCreateTask(t, env, "strict", "2026-02-01", "2026-02-10")

	var serr engine.InvalidStateError
	if _, err := env.Engine.SuspendTask(env.Ctx, engine.SuspendOptions{TaskID: id, Cause: "weather", ActorID: "tester"}); !errors.As(err, &serr) {
		t.Fatalf("suspend from not_started should fail, got %v", err)
	}
	if _, err := env.Engine.ResumeTask(env.Ctx, id, "tester"); !errors.As(err, &serr) {
		t.Fatalf("resume from not_started should fail, got %v", err)
	}
	if _, err := env.Engine.StartTask(env.Ctx, id, "tester"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.Engine.StartTask(env.Ctx, id, "tester"); !errors.As(err, &serr) {
		t.Fatalf("double start should fail, got %v", err)
	}

	// task stayed untouched by the rejected command
	task, err := env.Engine.GetTask(env.Ctx, id)
	if err != nil || task.Status != "in_progress" {
		t.Fatalf("status drifted after rejection: %v %s", err, task.Status)
	}
}

func TestSuspendRequiresKnownCause(t *testing.T) {
	env := newTestEnv(t)
	id := mustCreateTask(t, env, "caused", "2026-02-01", "2026-02-10")
	if _, err := env.Engine.StartTask(env.Ctx, id, "tester"); err != nil {
		t.Fatal(err)
	}
	var verr engine.ValidationError
	if _, err := env.Engine.SuspendTask(env.Ctx, engine.SuspendOptions{TaskID: id, Cause: "alien_invasion", ActorID: "tester"}); !errors.As(err, &verr) {
		t.Fatalf("expected unknown-cause rejection, got %v", err)
	}
	if _, err := env.Engine.SuspendTask(env.Ctx, engine.SuspendOptions{TaskID: id, Cause: "strike", ActorID: "tester"}); err != nil {
		t.Fatalf("catalog cause rejected: %v", err)
	}
}

func TestDelayAndExtend(t *testing.T) {
	env := newTestEnv(t)
	id := mustCreateTask(t, env, "late", "2026-02-01", "2026-02-10")
	if _, err := env.Engine.StartTask(env.Ctx, id, "tester"); err != nil {
		t.Fatal(err)
	}

	task, err := env.Engine.DelayTask(env.Ctx, engine.DelayOptions{
		TaskID: id, Reason: "material shortage", TargetDay: "2026-02-20", OpenClaim: true, ActorID: "tester",
	})
	if err != nil || task.Status != "delayed" {
		t.Fatalf("delay: %v status=%s", err, task.Status)
	}
	// delay records intent only, dates untouched
	if task.PlannedEnd != "2026-02-10" {
		t.Fatalf("delay moved planned_end to %s", task.PlannedEnd)
	}
	if !task.DelayClaim || task.DelayTarget == nil || *task.DelayTarget != "2026-02-20" {
		t.Fatalf("delay metadata missing: %+v", task)
	}

	task, err = env.Engine.ExtendTask(env.Ctx, engine.ExtendOptions{TaskID: id, AdditionalDays: 5, Reason: "client change", ActorID: "tester"})
	if err != nil || task.Status != "extended" {
		t.Fatalf("extend: %v status=%s", err, task.Status)
	}
	if task.PlannedEnd != "2026-02-15" {
		t.Fatalf("extend end = %s, want 2026-02-15", task.PlannedEnd)
	}

	var verr engine.ValidationError
	if _, err := env.Engine.ExtendTask(env.Ctx, engine.ExtendOptions{TaskID: id, AdditionalDays: 0, Reason: "noop", ActorID: "tester"}); !errors.As(err, &verr) {
		t.Fatalf("zero-day extension should fail, got %v", err)
	}
}

func TestDelayTargetMustBeFuture(t *testing.T) {
	env := newTestEnv(t)
	id := mustCreateTask(t, env, "past", "2026-01-01", "2026-01-20")
	if _, err := env.Engine.StartTask(env.Ctx, id, "tester"); err != nil {
		t.Fatal(err)
	}
	// clock is frozen at 2026-01-15
	var verr engine.ValidationError
	if _, err := env.Engine.DelayTask(env.Ctx, engine.DelayOptions{TaskID: id, Reason: "r", TargetDay: "2026-01-10", ActorID: "tester"}); !errors.As(err, &verr) {
		t.Fatalf("past target should fail, got %v", err)
	}
	if _, err := env.Engine.DelayTask(env.Ctx, engine.DelayOptions{TaskID: id, Reason: "r", TargetDay: "2026-01-15", ActorID: "tester"}); !errors.As(err, &verr) {
		t.Fatalf("same-day target should fail, got %v", err)
	}
}

func TestEveryTransitionAppendsEvent(t *testing.T) {
	env := newTestEnv(t)
	id := mustCreateTask(t, env, "audited", "2026-02-01", "2026-02-10")
	_, _ = env.Engine.StartTask(env.Ctx, id, "tester")
	_, _ = env.Engine.SuspendTask(env.Ctx, engine.SuspendOptions{TaskID: id, Cause: "weather", ActorID: "tester"})
	_, _ = env.Engine.ResumeTask(env.Ctx, id, "tester")

	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT type FROM events WHERE entity_id=? ORDER BY id`, id)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer rows.Close()
	var types []string
	for rows.Next() {
		var typ string
		if err := rows.Scan(&typ); err != nil {
			t.Fatal(err)
		}
		types = append(types, typ)
	}
	want := []string{"task.created", "task.started", "task.suspended", "task.resumed"}
	if len(types) != len(want) {
		t.Fatalf("got %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, types[i], want[i])
		}
	}
}

func TestVersionIncrementsPerMutation(t *testing.T) {
	env := newTestEnv(t)
	id := mustCreateTask(t, env, "versioned", "2026-02-01", "2026-02-10")
	task, err := env.Engine.GetTask(env.Ctx, id)
	if err != nil || task.Version != 1 {
		t.Fatalf("fresh version = %d: %v", task.Version, err)
	}
	task, err = env.Engine.StartTask(env.Ctx, id, "tester")
	if err != nil || task.Version != 2 {
		t.Fatalf("after start version = %d: %v", task.Version, err)
	}
}
