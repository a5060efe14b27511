package domain

// Status is the closed set of task execution states.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusSuspended  Status = "suspended"
	StatusDelayed    Status = "delayed"
	StatusExtended   Status = "extended"
	StatusCompleted  Status = "completed"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusSuspended, StatusDelayed, StatusExtended, StatusCompleted:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition leaves this status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted
}

// DependencyKind selects which bound rule an edge enforces.
type DependencyKind string

const (
	FinishToStart  DependencyKind = "finish_to_start"
	StartToStart   DependencyKind = "start_to_start"
	FinishToFinish DependencyKind = "finish_to_finish"
)

func (k DependencyKind) IsValid() bool {
	switch k {
	case FinishToStart, StartToStart, FinishToFinish:
		return true
	default:
		return false
	}
}

// ScopeLevel is the breadth of a blockage declaration.
type ScopeLevel string

const (
	ScopeSite    ScopeLevel = "site"
	ScopeAffaire ScopeLevel = "affaire"
)

func (l ScopeLevel) IsValid() bool {
	return l == ScopeSite || l == ScopeAffaire
}

type Task struct {
	ID           string  `json:"id"`
	SiteID       string  `json:"site_id"`
	AffaireID    string  `json:"affaire_id"`
	ParentID     *string `json:"parent_id,omitempty"`
	Title        string  `json:"title"`
	Description  string  `json:"description,omitempty"`
	PlannedStart string  `json:"planned_start" format:"date"`
	PlannedEnd   string  `json:"planned_end" format:"date"`
	Status       Status  `json:"status" enum:"not_started,in_progress,suspended,delayed,extended,completed"`
	Progress     int     `json:"progress"`

	// Suspension metadata, populated only while Status == suspended.
	SuspendCause *string `json:"suspend_cause,omitempty"`
	SuspendedAt  *string `json:"suspended_at,omitempty" format:"date-time"`
	SuspendedBy  *string `json:"suspended_by,omitempty"`

	// Delay intent recorded by the delay command; the planned dates move
	// only through a schedule commit.
	DelayReason *string `json:"delay_reason,omitempty"`
	DelayTarget *string `json:"delay_target,omitempty" format:"date"`
	DelayClaim  bool    `json:"delay_claim,omitempty"`

	Version     int     `json:"version"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

type DependencyEdge struct {
	ID            int64          `json:"id"`
	PredecessorID string         `json:"predecessor_id"`
	SuccessorID   string         `json:"successor_id"`
	Kind          DependencyKind `json:"kind" enum:"finish_to_start,start_to_start,finish_to_finish"`
	LagDays       int            `json:"lag_days"`
}

// Blockage is immutable once created; its only effect is the cascade run at
// creation time.
type Blockage struct {
	ID        string     `json:"id"`
	Level     ScopeLevel `json:"level" enum:"site,affaire"`
	ScopeID   string     `json:"scope_id"`
	Cause     string     `json:"cause"`
	StartDay  string     `json:"start_day" format:"date"`
	EndDay    string     `json:"end_day" format:"date"`
	CreatedBy string     `json:"created_by"`
	CreatedAt string     `json:"created_at" format:"date-time"`
}

// DailyReport is the mutable ledger row, at most one per (task, day).
// Confirmation moves its content into the archive and deletes it.
type DailyReport struct {
	TaskID      string  `json:"task_id"`
	Day         string  `json:"day" format:"date"`
	Status      Status  `json:"status" enum:"not_started,in_progress,suspended,delayed,extended,completed"`
	Progress    int     `json:"progress"`
	Personnel   int     `json:"personnel"`
	Hours       float64 `json:"hours"`
	Comment     string  `json:"comment,omitempty"`
	DelayReason *string `json:"delay_reason,omitempty"`
	SubmittedBy string  `json:"submitted_by"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

// ArchiveEntry is the immutable point-in-time copy of a confirmed report.
type ArchiveEntry struct {
	ID          string  `json:"id"`
	TaskID      string  `json:"task_id"`
	Day         string  `json:"day" format:"date"`
	Status      Status  `json:"status"`
	Progress    int     `json:"progress"`
	Personnel   int     `json:"personnel"`
	Hours       float64 `json:"hours"`
	Comment     string  `json:"comment,omitempty"`
	DelayReason *string `json:"delay_reason,omitempty"`
	SubmittedBy string  `json:"submitted_by"`
	ConfirmedBy string  `json:"confirmed_by"`
	ConfirmedAt string  `json:"confirmed_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	AffaireID  string `json:"affaire_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
