package assess

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/skyassure/peerreview-backend/internal/domain/common"
)

const (
	QuestionnaireDraft     = "draft"
	QuestionnairePublished = "published"
	QuestionnaireRetired   = "retired"
)

// Question kinds. Maturity questions score 1..5 (displayed A..E, the EoSM
// convention); yes/no and narrative questions carry no level.
const (
	QuestionKindMaturity  = "maturity"
	QuestionKindYesNo     = "yes_no"
	QuestionKindNarrative = "narrative"
)

const (
	MaturityMin = 1
	MaturityMax = 5
)

// MaturityLabel maps a numeric level onto its display letter.
func MaturityLabel(level int) string {
	if level < MaturityMin || level > MaturityMax {
		return ""
	}
	return string(rune('A' + level - 1))
}

// Questionnaire is a versioned, bilingual assessment template. Published
// versions are immutable; publishing a new version retires the previous one
// for the same slug.
type Questionnaire struct {
	ID          uuid.UUID            `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Slug        string               `gorm:"column:slug;not null;index:idx_questionnaire_slug_version,unique,priority:1" json:"slug"`
	Version     int                  `gorm:"column:version;not null;index:idx_questionnaire_slug_version,unique,priority:2" json:"version"`
	Status      string               `gorm:"column:status;not null;default:'draft';index" json:"status"`
	Title       common.BilingualText `gorm:"column:title;type:jsonb;not null" json:"title"`
	Description common.BilingualText `gorm:"column:description;type:jsonb" json:"description"`
	CreatedBy   uuid.UUID            `gorm:"type:uuid;not null;column:created_by" json:"created_by"`
	PublishedAt *time.Time           `gorm:"column:published_at" json:"published_at,omitempty"`
	RetiredAt   *time.Time           `gorm:"column:retired_at" json:"retired_at,omitempty"`
	CreatedAt   time.Time            `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time            `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt   gorm.DeletedAt       `gorm:"index" json:"deleted_at,omitempty"`
}

func (Questionnaire) TableName() string { return "questionnaire" }

// QuestionnaireDomain is an ordered assessment area within a questionnaire
// (SMS, safety culture, contingency, ...). The code is stable across versions
// so findings and statistics can be compared cycle over cycle.
type QuestionnaireDomain struct {
	ID              uuid.UUID            `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	QuestionnaireID uuid.UUID            `gorm:"type:uuid;not null;index:idx_qdomain_questionnaire_code,unique,priority:1;index" json:"questionnaire_id"`
	Code            string               `gorm:"column:code;not null;index:idx_qdomain_questionnaire_code,unique,priority:2" json:"code"`
	Name            common.BilingualText `gorm:"column:name;type:jsonb;not null" json:"name"`
	Position        int                  `gorm:"column:position;not null;default:0" json:"position"`
	Weight          float64              `gorm:"column:weight;not null;default:1" json:"weight"`
	CreatedAt       time.Time            `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt       time.Time            `gorm:"not null;default:now()" json:"updated_at"`
}

func (QuestionnaireDomain) TableName() string { return "questionnaire_domain" }

type Question struct {
	ID        uuid.UUID            `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	DomainID  uuid.UUID            `gorm:"type:uuid;not null;index" json:"domain_id"`
	Position  int                  `gorm:"column:position;not null;default:0" json:"position"`
	Kind      string               `gorm:"column:kind;not null;default:'maturity'" json:"kind"`
	Text      common.BilingualText `gorm:"column:text;type:jsonb;not null" json:"text"`
	Guidance  common.BilingualText `gorm:"column:guidance;type:jsonb" json:"guidance"`
	Required  bool                 `gorm:"column:required;not null;default:true" json:"required"`
	CreatedAt time.Time            `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time            `gorm:"not null;default:now()" json:"updated_at"`
}

func (Question) TableName() string { return "question" }

func ValidQuestionKind(kind string) bool {
	switch kind {
	case QuestionKindMaturity, QuestionKindYesNo, QuestionKindNarrative:
		return true
	default:
		return false
	}
}
