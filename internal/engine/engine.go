package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"chantier/internal/config"
	"chantier/internal/domain"
	"chantier/internal/events"
	"chantier/internal/repo"
)

// Engine coordinates the task execution lifecycle: state transitions,
// schedule validation, blockage cascades and the daily reporting ledger.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) today() string {
	return domain.FormatDay(e.now())
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID           string
	SiteID       string
	AffaireID    string
	ParentID     string
	Title        string
	Description  string
	PlannedStart string
	PlannedEnd   string
	ActorID      string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.SiteID == "" {
		return domain.Task{}, validationf("site_id is required")
	}
	if opts.AffaireID == "" {
		return domain.Task{}, validationf("affaire_id is required")
	}
	if opts.Title == "" {
		return domain.Task{}, validationf("title is required")
	}
	if _, err := domain.ParseDay(opts.PlannedStart); err != nil {
		return domain.Task{}, ValidationError{Msg: err.Error()}
	}
	if _, err := domain.ParseDay(opts.PlannedEnd); err != nil {
		return domain.Task{}, ValidationError{Msg: err.Error()}
	}
	if domain.DayBefore(opts.PlannedEnd, opts.PlannedStart) {
		return domain.Task{}, validationf("planned_start %s is after planned_end %s", opts.PlannedStart, opts.PlannedEnd)
	}
	if opts.ParentID != "" {
		parent, err := e.Repo.GetTask(ctx, opts.ParentID)
		if err != nil {
			return domain.Task{}, wrapNotFound(err, "task", opts.ParentID)
		}
		if parent.AffaireID != opts.AffaireID {
			return domain.Task{}, validationf("parent %s belongs to a different affaire", opts.ParentID)
		}
		if err := e.ensureNoParentCycle(ctx, opts.ParentID, opts.ID); err != nil {
			return domain.Task{}, err
		}
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.nowRFC3339()
	t := domain.Task{
		ID:           id,
		SiteID:       opts.SiteID,
		AffaireID:    opts.AffaireID,
		ParentID:     optionalString(opts.ParentID),
		Title:        opts.Title,
		Description:  opts.Description,
		PlannedStart: opts.PlannedStart,
		PlannedEnd:   opts.PlannedEnd,
		Status:       domain.StatusNotStarted,
		Progress:     0,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.created", t.AffaireID, "task", t.ID, opts.ActorID, events.EventPayload{
		"title":         t.Title,
		"site_id":       t.SiteID,
		"planned_start": t.PlannedStart,
		"planned_end":   t.PlannedEnd,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// ensureNoParentCycle climbs the parent chain; the hierarchy is a tree used
// for grouping only and never consulted by the dependency validator.
func (e Engine) ensureNoParentCycle(ctx context.Context, parentID, childID string) error {
	cur := parentID
	for cur != "" {
		t, err := e.Repo.GetTask(ctx, cur)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil
			}
			return err
		}
		if t.ParentID == nil {
			return nil
		}
		if *t.ParentID == childID {
			return validationf("task hierarchy cycle detected via %s", cur)
		}
		cur = *t.ParentID
	}
	return nil
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	return t, wrapNotFound(err, "task", id)
}

// --- helpers ---

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
