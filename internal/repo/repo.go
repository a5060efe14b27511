package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"chantier/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrVersionConflict signals an optimistic-lock mismatch: the row moved
// between snapshot read and conditioned write.
var ErrVersionConflict = errors.New("version conflict")

const taskColumns = `id,site_id,affaire_id,parent_id,title,description,planned_start,planned_end,status,progress,
suspend_cause,suspended_at,suspended_by,delay_reason,delay_target,delay_claim,version,created_at,updated_at,completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// queryer lets read helpers run on the pool or on a transaction.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var parentID, description, suspendCause, suspendedAt, suspendedBy, delayReason, delayTarget, completedAt sql.NullString
	var delayClaim int
	var status string
	err := row.Scan(&t.ID, &t.SiteID, &t.AffaireID, &parentID, &t.Title, &description, &t.PlannedStart, &t.PlannedEnd,
		&status, &t.Progress, &suspendCause, &suspendedAt, &suspendedBy, &delayReason, &delayTarget, &delayClaim,
		&t.Version, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Status = domain.Status(status)
	t.DelayClaim = delayClaim != 0
	if parentID.Valid {
		t.ParentID = &parentID.String
	}
	if description.Valid {
		t.Description = description.String
	}
	if suspendCause.Valid {
		t.SuspendCause = &suspendCause.String
	}
	if suspendedAt.Valid {
		t.SuspendedAt = &suspendedAt.String
	}
	if suspendedBy.Valid {
		t.SuspendedBy = &suspendedBy.String
	}
	if delayReason.Valid {
		t.DelayReason = &delayReason.String
	}
	if delayTarget.Valid {
		t.DelayTarget = &delayTarget.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,site_id,affaire_id,parent_id,title,description,planned_start,planned_end,status,progress,
suspend_cause,suspended_at,suspended_by,delay_reason,delay_target,delay_claim,version,created_at,updated_at,completed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.SiteID, t.AffaireID, nullableStringPtr(t.ParentID), t.Title, nullable(t.Description),
		t.PlannedStart, t.PlannedEnd, string(t.Status), t.Progress,
		nullableStringPtr(t.SuspendCause), nullableStringPtr(t.SuspendedAt), nullableStringPtr(t.SuspendedBy),
		nullableStringPtr(t.DelayReason), nullableStringPtr(t.DelayTarget), boolToInt(t.DelayClaim),
		t.Version, t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	return err
}

// UpdateTaskVersioned writes all mutable columns conditioned on the version
// the caller read; zero rows affected means a concurrent writer won. On
// success the task's version is bumped in place.
func (r Repo) UpdateTaskVersioned(ctx context.Context, tx *sql.Tx, t *domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET planned_start=?, planned_end=?, status=?, progress=?,
suspend_cause=?, suspended_at=?, suspended_by=?, delay_reason=?, delay_target=?, delay_claim=?,
version=version+1, updated_at=?, completed_at=? WHERE id=? AND version=?`,
		t.PlannedStart, t.PlannedEnd, string(t.Status), t.Progress,
		nullableStringPtr(t.SuspendCause), nullableStringPtr(t.SuspendedAt), nullableStringPtr(t.SuspendedBy),
		nullableStringPtr(t.DelayReason), nullableStringPtr(t.DelayTarget), boolToInt(t.DelayClaim),
		t.UpdatedAt, nullableStringPtr(t.CompletedAt), t.ID, t.Version)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrVersionConflict
	}
	t.Version++
	return nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

type TaskFilters struct {
	SiteID          string
	AffaireID       string
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.SiteID != "" {
		clauses = append(clauses, "site_id=?")
		args = append(args, f.SiteID)
	}
	if f.AffaireID != "" {
		clauses = append(clauses, "affaire_id=?")
		args = append(args, f.AffaireID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// ListTasksByIDs loads a set of tasks in one query; missing ids are simply
// absent from the result.
func (r Repo) ListTasksByIDs(ctx context.Context, ids []string) (map[string]domain.Task, error) {
	res := map[string]domain.Task{}
	if len(ids) == 0 {
		return res, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res[t.ID] = t
	}
	return res, rows.Err()
}

// ListTasksForScope returns every task under a site or affaire.
func (r Repo) ListTasksForScope(ctx context.Context, level domain.ScopeLevel, scopeID string) ([]domain.Task, error) {
	column := "site_id"
	if level == domain.ScopeAffaire {
		column = "affaire_id"
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE `+column+`=? ORDER BY planned_start, id`, scopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// --- dependency edges ---

func scanEdge(row rowScanner) (domain.DependencyEdge, error) {
	var e domain.DependencyEdge
	var kind string
	err := row.Scan(&e.ID, &e.PredecessorID, &e.SuccessorID, &kind, &e.LagDays)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	e.Kind = domain.DependencyKind(kind)
	return e, err
}

func (r Repo) InsertEdge(ctx context.Context, tx *sql.Tx, e domain.DependencyEdge) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO task_deps(predecessor_id,successor_id,kind,lag_days) VALUES (?,?,?,?)`,
		e.PredecessorID, e.SuccessorID, string(e.Kind), e.LagDays)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// EdgeExists runs on the caller's transaction: the duplicate check must see
// the same edge set the insert will extend.
func (r Repo) EdgeExists(ctx context.Context, tx *sql.Tx, predecessorID, successorID string, kind domain.DependencyKind) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM task_deps WHERE predecessor_id=? AND successor_id=? AND kind=? LIMIT 1`,
		predecessorID, successorID, string(kind)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) listEdges(ctx context.Context, q queryer, where string, args ...any) ([]domain.DependencyEdge, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,predecessor_id,successor_id,kind,lag_days FROM task_deps `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DependencyEdge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) ListEdgesBySuccessor(ctx context.Context, taskID string) ([]domain.DependencyEdge, error) {
	return r.listEdges(ctx, r.DB, `WHERE successor_id=?`, taskID)
}

func (r Repo) ListEdgesByPredecessor(ctx context.Context, taskID string) ([]domain.DependencyEdge, error) {
	return r.listEdges(ctx, r.DB, `WHERE predecessor_id=?`, taskID)
}

// ListEdgesByPredecessorTx is the transactional variant used by the cycle
// walk, so the walk and the edge insert observe one edge set.
func (r Repo) ListEdgesByPredecessorTx(ctx context.Context, tx *sql.Tx, taskID string) ([]domain.DependencyEdge, error) {
	return r.listEdges(ctx, tx, `WHERE predecessor_id=?`, taskID)
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, affaireID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if affaireID != "" {
		clauses = append(clauses, "affaire_id=?")
		args = append(args, affaireID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,affaire_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var affaire, entity, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &affaire, &e.EntityKind, &entity, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if affaire.Valid {
			e.AffaireID = affaire.String
		}
		if entity.Valid {
			e.EntityID = entity.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
