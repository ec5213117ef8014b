package reviews

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	PhaseDraft     = "draft"
	PhaseScheduled = "scheduled"
	PhaseFieldwork = "fieldwork"
	PhaseReporting = "reporting"
	PhaseCompleted = "completed"
	PhaseClosed    = "closed"
	PhaseCancelled = "cancelled"
)

// phaseTransitions is the full lifecycle. Cancellation is allowed from any
// phase before completion; everything else moves strictly forward.
var phaseTransitions = map[string][]string{
	PhaseDraft:     {PhaseScheduled, PhaseCancelled},
	PhaseScheduled: {PhaseFieldwork, PhaseCancelled},
	PhaseFieldwork: {PhaseReporting, PhaseCancelled},
	PhaseReporting: {PhaseCompleted, PhaseCancelled},
	PhaseCompleted: {PhaseClosed},
	PhaseClosed:    {},
	PhaseCancelled: {},
}

// CanTransitionPhase reports whether a review may move from one phase to
// another.
func CanTransitionPhase(from, to string) bool {
	for _, next := range phaseTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TerminalPhase reports whether no further transitions exist.
func TerminalPhase(phase string) bool {
	return len(phaseTransitions[phase]) == 0
}

// PeerReview is one scheduled on-site review of a host organization by a team
// drawn from other member organizations. The reference (REV-<year>-<seq>) is
// assigned at scheduling and never changes afterwards. Scope is a jsonb array
// of questionnaire domain codes under review; empty means the full
// questionnaire.
type PeerReview struct {
	ID                 uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	HostOrganizationID uuid.UUID      `gorm:"type:uuid;not null;column:host_organization_id;index" json:"host_organization_id"`
	QuestionnaireID    uuid.UUID      `gorm:"type:uuid;not null;column:questionnaire_id;index" json:"questionnaire_id"`
	CycleYear          int            `gorm:"column:cycle_year;not null;index" json:"cycle_year"`
	Reference          string         `gorm:"column:reference;uniqueIndex" json:"reference,omitempty"`
	Phase              string         `gorm:"column:phase;not null;default:'draft';index" json:"phase"`
	Language           string         `gorm:"column:language;not null;default:'en'" json:"language"`
	Location           string         `gorm:"column:location" json:"location,omitempty"`
	Scope              datatypes.JSON `gorm:"column:scope;type:jsonb" json:"scope,omitempty"`
	StartsOn           *time.Time     `gorm:"column:starts_on" json:"starts_on,omitempty"`
	EndsOn             *time.Time     `gorm:"column:ends_on" json:"ends_on,omitempty"`
	CreatedBy          uuid.UUID      `gorm:"type:uuid;not null;column:created_by" json:"created_by"`
	CancelReason       string         `gorm:"column:cancel_reason" json:"cancel_reason,omitempty"`
	FindingSeq         int            `gorm:"column:finding_seq;not null;default:0" json:"-"`
	PhaseChangedAt     *time.Time     `gorm:"column:phase_changed_at" json:"phase_changed_at,omitempty"`
	CompletedAt        *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	ClosedAt           *time.Time     `gorm:"column:closed_at" json:"closed_at,omitempty"`
	CreatedAt          time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (PeerReview) TableName() string { return "peer_review" }

// Active reports whether the review is in a phase where fieldwork artifacts
// (findings, answers) may still be written.
func (r *PeerReview) Active() bool {
	if r == nil {
		return false
	}
	switch r.Phase {
	case PhaseFieldwork, PhaseReporting:
		return true
	}
	return false
}
