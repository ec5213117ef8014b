package assess

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	AssessmentInProgress = "in_progress"
	AssessmentSubmitted  = "submitted"
	AssessmentReopened   = "reopened"
)

// SelfAssessment is one organization's answers for one questionnaire version
// in one programme cycle. Only one assessment may exist per
// (organization, questionnaire, cycle).
type SelfAssessment struct {
	ID              uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OrganizationID  uuid.UUID      `gorm:"type:uuid;not null;index:idx_assessment_org_q_cycle,unique,priority:1;index" json:"organization_id"`
	QuestionnaireID uuid.UUID      `gorm:"type:uuid;not null;index:idx_assessment_org_q_cycle,unique,priority:2" json:"questionnaire_id"`
	CycleYear       int            `gorm:"column:cycle_year;not null;index:idx_assessment_org_q_cycle,unique,priority:3;index" json:"cycle_year"`
	Status          string         `gorm:"column:status;not null;default:'in_progress';index" json:"status"`
	StartedBy       uuid.UUID      `gorm:"type:uuid;not null;column:started_by" json:"started_by"`
	SubmittedBy     *uuid.UUID     `gorm:"type:uuid;column:submitted_by" json:"submitted_by,omitempty"`
	SubmittedAt     *time.Time     `gorm:"column:submitted_at" json:"submitted_at,omitempty"`
	ReopenNote      string         `gorm:"column:reopen_note" json:"reopen_note,omitempty"`
	CreatedAt       time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (SelfAssessment) TableName() string { return "self_assessment" }

// Writable reports whether answers may still be recorded.
func (a *SelfAssessment) Writable() bool {
	return a != nil && (a.Status == AssessmentInProgress || a.Status == AssessmentReopened)
}

// AssessmentAnswer is one answer to one question. Version increments on every
// write; the offline sync path uses it to detect stale updates.
type AssessmentAnswer struct {
	ID            uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	AssessmentID  uuid.UUID `gorm:"type:uuid;not null;index:idx_answer_assessment_question,unique,priority:1;index" json:"assessment_id"`
	QuestionID    uuid.UUID `gorm:"type:uuid;not null;index:idx_answer_assessment_question,unique,priority:2" json:"question_id"`
	MaturityLevel *int      `gorm:"column:maturity_level" json:"maturity_level,omitempty"`
	YesNo         *bool     `gorm:"column:yes_no" json:"yes_no,omitempty"`
	Narrative     string    `gorm:"column:narrative;type:text" json:"narrative,omitempty"`
	EvidenceNote  string    `gorm:"column:evidence_note;type:text" json:"evidence_note,omitempty"`
	AnsweredBy    uuid.UUID `gorm:"type:uuid;not null;column:answered_by" json:"answered_by"`
	Version       int       `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAt     time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt     time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (AssessmentAnswer) TableName() string { return "assessment_answer" }

// Answered reports whether the answer satisfies its question kind: maturity
// questions need a level, yes/no questions a boolean, narrative questions
// non-empty text.
func (ans *AssessmentAnswer) Answered(kind string) bool {
	if ans == nil {
		return false
	}
	switch kind {
	case QuestionKindMaturity:
		return ans.MaturityLevel != nil && *ans.MaturityLevel >= MaturityMin && *ans.MaturityLevel <= MaturityMax
	case QuestionKindYesNo:
		return ans.YesNo != nil
	case QuestionKindNarrative:
		return ans.Narrative != ""
	default:
		return false
	}
}
