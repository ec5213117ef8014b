package reviews

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ActionProposed    = "proposed"
	ActionAccepted    = "accepted"
	ActionInProgress  = "in_progress"
	ActionImplemented = "implemented"
	ActionVerified    = "verified"
	ActionClosedState = "closed"
	ActionRejected    = "rejected"
)

// actionTransitions is the corrective-action lifecycle. Rejection sends the
// plan back to the host for a new proposal; verification is the reviewer-side
// check before closing.
var actionTransitions = map[string][]string{
	ActionProposed:    {ActionAccepted, ActionRejected},
	ActionAccepted:    {ActionInProgress},
	ActionInProgress:  {ActionImplemented},
	ActionImplemented: {ActionVerified, ActionInProgress},
	ActionVerified:    {ActionClosedState},
	ActionClosedState: {},
	ActionRejected:    {ActionProposed},
}

// CanTransitionAction reports whether a corrective action may move between
// the two states.
func CanTransitionAction(from, to string) bool {
	for _, next := range actionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CorrectiveAction is one CAP item owned by the host organization against a
// finding. History accumulates one entry per state change so the audit trail
// survives in the row itself.
type CorrectiveAction struct {
	ID              uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	FindingID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"finding_id"`
	Status          string         `gorm:"column:status;not null;default:'proposed';index" json:"status"`
	Description     string         `gorm:"column:description;type:text;not null" json:"description"`
	OwnerID         uuid.UUID      `gorm:"type:uuid;not null;column:owner_id;index" json:"owner_id"`
	DueOn           *time.Time     `gorm:"column:due_on;index" json:"due_on,omitempty"`
	VerifiedBy      *uuid.UUID     `gorm:"type:uuid;column:verified_by" json:"verified_by,omitempty"`
	VerifiedAt      *time.Time     `gorm:"column:verified_at" json:"verified_at,omitempty"`
	RejectNote      string         `gorm:"column:reject_note" json:"reject_note,omitempty"`
	DueSoonNotified bool           `gorm:"column:due_soon_notified;not null;default:false" json:"-"`
	OverdueNotified bool           `gorm:"column:overdue_notified;not null;default:false" json:"-"`
	History         datatypes.JSON `gorm:"column:history;type:jsonb" json:"history,omitempty"`
	Version         int            `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAt       time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (CorrectiveAction) TableName() string { return "corrective_action" }

// ActionHistoryEntry is one item in a corrective action's History column.
type ActionHistoryEntry struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	ActorID   uuid.UUID `json:"actor_id"`
	Note      string    `json:"note,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

// Open reports whether the action still counts against its finding.
func (a *CorrectiveAction) Open() bool {
	return a != nil && a.Status != ActionClosedState
}

// Overdue reports whether the action has a due date in the past and is not
// yet implemented, verified or closed.
func (a *CorrectiveAction) Overdue(now time.Time) bool {
	if a == nil || a.DueOn == nil {
		return false
	}
	switch a.Status {
	case ActionImplemented, ActionVerified, ActionClosedState:
		return false
	}
	return a.DueOn.Before(now)
}

// DueSoon reports whether the due date falls within the warning window and
// the action is still being worked.
func (a *CorrectiveAction) DueSoon(now time.Time, window time.Duration) bool {
	if a == nil || a.DueOn == nil {
		return false
	}
	switch a.Status {
	case ActionImplemented, ActionVerified, ActionClosedState:
		return false
	}
	return !a.DueOn.Before(now) && a.DueOn.Before(now.Add(window))
}
