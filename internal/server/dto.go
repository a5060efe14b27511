package server

import (
	"encoding/json"

	"chantier/internal/domain"
	"chantier/internal/engine"
)

// Request payloads

type CreateTaskRequest struct {
	ID           *string `json:"id,omitempty"`
	SiteID       string  `json:"site_id"`
	AffaireID    string  `json:"affaire_id"`
	ParentID     *string `json:"parent_id,omitempty"`
	Title        string  `json:"title"`
	Description  *string `json:"description,omitempty"`
	PlannedStart string  `json:"planned_start" format:"date"`
	PlannedEnd   string  `json:"planned_end" format:"date"`
}

type SuspendTaskRequest struct {
	Cause string `json:"cause"`
}

type DelayTaskRequest struct {
	Reason    string `json:"reason"`
	TargetDay string `json:"target_day" format:"date"`
	OpenClaim bool   `json:"open_claim,omitempty"`
}

type ExtendTaskRequest struct {
	AdditionalDays int    `json:"additional_days"`
	Reason         string `json:"reason"`
}

type ScheduleChangeRequest struct {
	NewStart string `json:"new_start" format:"date"`
	NewEnd   string `json:"new_end" format:"date"`
}

type CreateDependencyRequest struct {
	PredecessorID string `json:"predecessor_id"`
	SuccessorID   string `json:"successor_id"`
	Kind          string `json:"kind,omitempty" enum:"finish_to_start,start_to_start,finish_to_finish"`
	LagDays       int    `json:"lag_days,omitempty"`
}

type CreateBlockageRequest struct {
	Level    string `json:"level" enum:"site,affaire"`
	ScopeID  string `json:"scope_id"`
	Cause    string `json:"cause"`
	StartDay string `json:"start_day" format:"date"`
	EndDay   string `json:"end_day" format:"date"`
}

type SubmitReportRequest struct {
	Day         string  `json:"day,omitempty" format:"date"`
	Progress    int     `json:"progress"`
	Personnel   int     `json:"personnel,omitempty"`
	Hours       float64 `json:"hours,omitempty"`
	Comment     string  `json:"comment,omitempty"`
	DelayReason string  `json:"delay_reason,omitempty"`
}

// Response payloads

type TaskResponse struct {
	ID           string  `json:"id"`
	SiteID       string  `json:"site_id"`
	AffaireID    string  `json:"affaire_id"`
	ParentID     *string `json:"parent_id,omitempty"`
	Title        string  `json:"title"`
	Description  string  `json:"description,omitempty"`
	PlannedStart string  `json:"planned_start" format:"date"`
	PlannedEnd   string  `json:"planned_end" format:"date"`
	Status       string  `json:"status" enum:"not_started,in_progress,suspended,delayed,extended,completed"`
	Progress     int     `json:"progress"`
	SuspendCause *string `json:"suspend_cause,omitempty"`
	SuspendedAt  *string `json:"suspended_at,omitempty" format:"date-time"`
	SuspendedBy  *string `json:"suspended_by,omitempty"`
	DelayReason  *string `json:"delay_reason,omitempty"`
	DelayTarget  *string `json:"delay_target,omitempty" format:"date"`
	DelayClaim   bool    `json:"delay_claim,omitempty"`
	Version      int     `json:"version"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
	CompletedAt  *string `json:"completed_at,omitempty" format:"date-time"`
}

type DependencyResponse struct {
	ID            int64  `json:"id"`
	PredecessorID string `json:"predecessor_id"`
	SuccessorID   string `json:"successor_id"`
	Kind          string `json:"kind" enum:"finish_to_start,start_to_start,finish_to_finish"`
	LagDays       int    `json:"lag_days"`
}

type BlockageResponse struct {
	ID        string `json:"id"`
	Level     string `json:"level" enum:"site,affaire"`
	ScopeID   string `json:"scope_id"`
	Cause     string `json:"cause"`
	StartDay  string `json:"start_day" format:"date"`
	EndDay    string `json:"end_day" format:"date"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type CascadeResponse struct {
	Blockage   BlockageResponse   `json:"blockage"`
	Candidates int                `json:"candidates"`
	Suspended  []string           `json:"suspended"`
	Skipped    []engine.ItemError `json:"skipped"`
}

type ReportResponse struct {
	TaskID      string  `json:"task_id"`
	Day         string  `json:"day" format:"date"`
	Status      string  `json:"status"`
	Progress    int     `json:"progress"`
	Personnel   int     `json:"personnel"`
	Hours       float64 `json:"hours"`
	Comment     string  `json:"comment,omitempty"`
	DelayReason *string `json:"delay_reason,omitempty"`
	SubmittedBy string  `json:"submitted_by"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type ArchiveEntryResponse struct {
	ID          string  `json:"id"`
	TaskID      string  `json:"task_id"`
	Day         string  `json:"day" format:"date"`
	Status      string  `json:"status"`
	Progress    int     `json:"progress"`
	Personnel   int     `json:"personnel"`
	Hours       float64 `json:"hours"`
	Comment     string  `json:"comment,omitempty"`
	DelayReason *string `json:"delay_reason,omitempty"`
	SubmittedBy string  `json:"submitted_by"`
	ConfirmedBy string  `json:"confirmed_by"`
	ConfirmedAt string  `json:"confirmed_at" format:"date-time"`
}

type ScheduleCommitResponse struct {
	Task   TaskResponse            `json:"task"`
	Result engine.ValidationResult `json:"result"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	AffaireID  string         `json:"affaire_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedTasks struct {
	Items      []TaskResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// Conversion helpers

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:           t.ID,
		SiteID:       t.SiteID,
		AffaireID:    t.AffaireID,
		ParentID:     t.ParentID,
		Title:        t.Title,
		Description:  t.Description,
		PlannedStart: t.PlannedStart,
		PlannedEnd:   t.PlannedEnd,
		Status:       string(t.Status),
		Progress:     t.Progress,
		SuspendCause: t.SuspendCause,
		SuspendedAt:  t.SuspendedAt,
		SuspendedBy:  t.SuspendedBy,
		DelayReason:  t.DelayReason,
		DelayTarget:  t.DelayTarget,
		DelayClaim:   t.DelayClaim,
		Version:      t.Version,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
		CompletedAt:  t.CompletedAt,
	}
}

func mapTasks(in []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(in))
	for _, t := range in {
		out = append(out, taskResponse(t))
	}
	return out
}

func dependencyResponse(e domain.DependencyEdge) DependencyResponse {
	return DependencyResponse{
		ID:            e.ID,
		PredecessorID: e.PredecessorID,
		SuccessorID:   e.SuccessorID,
		Kind:          string(e.Kind),
		LagDays:       e.LagDays,
	}
}

func blockageResponse(b domain.Blockage) BlockageResponse {
	return BlockageResponse{
		ID:        b.ID,
		Level:     string(b.Level),
		ScopeID:   b.ScopeID,
		Cause:     b.Cause,
		StartDay:  b.StartDay,
		EndDay:    b.EndDay,
		CreatedBy: b.CreatedBy,
		CreatedAt: b.CreatedAt,
	}
}

func cascadeResponse(res engine.CascadeResult) CascadeResponse {
	return CascadeResponse{
		Blockage:   blockageResponse(res.Blockage),
		Candidates: res.Candidates,
		Suspended:  nonNilSlice(res.Suspended),
		Skipped:    nonNilSlice(res.Skipped),
	}
}

func reportResponse(d domain.DailyReport) ReportResponse {
	return ReportResponse{
		TaskID:      d.TaskID,
		Day:         d.Day,
		Status:      string(d.Status),
		Progress:    d.Progress,
		Personnel:   d.Personnel,
		Hours:       d.Hours,
		Comment:     d.Comment,
		DelayReason: d.DelayReason,
		SubmittedBy: d.SubmittedBy,
		UpdatedAt:   d.UpdatedAt,
	}
}

func archiveResponse(a domain.ArchiveEntry) ArchiveEntryResponse {
	return ArchiveEntryResponse{
		ID:          a.ID,
		TaskID:      a.TaskID,
		Day:         a.Day,
		Status:      string(a.Status),
		Progress:    a.Progress,
		Personnel:   a.Personnel,
		Hours:       a.Hours,
		Comment:     a.Comment,
		DelayReason: a.DelayReason,
		SubmittedBy: a.SubmittedBy,
		ConfirmedBy: a.ConfirmedBy,
		ConfirmedAt: a.ConfirmedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		AffaireID:  e.AffaireID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
