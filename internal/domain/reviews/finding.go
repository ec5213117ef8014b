package reviews

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	FindingKindNonConformity = "non_conformity"
	FindingKindObservation   = "observation"
	FindingKindGoodPractice  = "good_practice"
)

const (
	SeverityMinor    = "minor"
	SeverityMajor    = "major"
	SeverityCritical = "critical"
)

const (
	FindingOpen   = "open"
	FindingClosed = "closed"
)

// Finding is one recorded result of fieldwork: a non-conformity, an
// observation, or a good practice. Non-conformities carry a severity and
// require at least one corrective action before they can close; the other
// kinds carry no severity and need no actions.
type Finding struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ReviewID    uuid.UUID      `gorm:"type:uuid;not null;index:idx_finding_review_seq,unique,priority:1;index" json:"review_id"`
	Seq         int            `gorm:"column:seq;not null;index:idx_finding_review_seq,unique,priority:2" json:"seq"`
	Reference   string         `gorm:"column:reference;uniqueIndex" json:"reference"`
	Kind        string         `gorm:"column:kind;not null" json:"kind"`
	Severity    string         `gorm:"column:severity" json:"severity,omitempty"`
	Status      string         `gorm:"column:status;not null;default:'open';index" json:"status"`
	DomainCode  string         `gorm:"column:domain_code;index" json:"domain_code,omitempty"`
	QuestionID  *uuid.UUID     `gorm:"type:uuid;column:question_id" json:"question_id,omitempty"`
	Title       string         `gorm:"column:title;not null" json:"title"`
	Description string         `gorm:"column:description;type:text" json:"description,omitempty"`
	Evidence    datatypes.JSON `gorm:"column:evidence;type:jsonb" json:"evidence,omitempty"`
	RaisedBy    uuid.UUID      `gorm:"type:uuid;not null;column:raised_by" json:"raised_by"`
	Version     int            `gorm:"column:version;not null;default:1" json:"version"`
	ClosedBy    *uuid.UUID     `gorm:"type:uuid;column:closed_by" json:"closed_by,omitempty"`
	ClosedAt    *time.Time     `gorm:"column:closed_at" json:"closed_at,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Finding) TableName() string { return "finding" }

// FieldNote is a free-text observation attached to a finding. Notes are
// append-only rows with client-generated IDs, so a reviewer capturing notes
// offline never conflicts with concurrent finding edits.
type FieldNote struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	FindingID uuid.UUID `gorm:"type:uuid;not null;index" json:"finding_id"`
	AuthorID  uuid.UUID `gorm:"type:uuid;not null;column:author_id" json:"author_id"`
	Note      string    `gorm:"column:note;type:text;not null" json:"note"`
	NotedAt   time.Time `gorm:"column:noted_at;not null" json:"noted_at"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (FieldNote) TableName() string { return "field_note" }

// ValidFindingKind reports whether kind names one of the finding kinds.
func ValidFindingKind(kind string) bool {
	switch kind {
	case FindingKindNonConformity, FindingKindObservation, FindingKindGoodPractice:
		return true
	}
	return false
}

// ValidSeverity reports whether severity names one of the severity grades.
func ValidSeverity(severity string) bool {
	switch severity {
	case SeverityMinor, SeverityMajor, SeverityCritical:
		return true
	}
	return false
}

// RequiresActions reports whether the finding kind demands corrective actions
// before closing.
func (f *Finding) RequiresActions() bool {
	return f != nil && f.Kind == FindingKindNonConformity
}

// SeverityAllowed reports whether the kind/severity pairing is legal: only
// non-conformities carry a severity, and then it is mandatory.
func SeverityAllowed(kind, severity string) bool {
	if kind == FindingKindNonConformity {
		return ValidSeverity(severity)
	}
	return severity == ""
}
