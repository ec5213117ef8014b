package orgs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Organization status lifecycle. Applied organizations become active when the
// programme coordinator approves them; rejected applications keep their row
// for audit.
const (
	StatusApplied   = "applied"
	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusWithdrawn = "withdrawn"
	StatusRejected  = "rejected"
)

// statusTransitions is the full lifecycle table. Anything not listed is
// rejected.
var statusTransitions = map[string][]string{
	StatusApplied:   {StatusActive, StatusRejected},
	StatusActive:    {StatusSuspended, StatusWithdrawn},
	StatusSuspended: {StatusActive, StatusWithdrawn},
}

func CanTransitionStatus(from, to string) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Organization is a member ANSP of the peer-review programme.
type Organization struct {
	ID              uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name            string         `gorm:"not null;column:name" json:"name"`
	ICAOCode        string         `gorm:"column:icao_code;uniqueIndex;not null" json:"icao_code"`
	Country         string         `gorm:"column:country;not null" json:"country"`
	Region          string         `gorm:"column:region;index" json:"region"`
	Language        string         `gorm:"column:language;not null;default:'en'" json:"language"`
	Status          string         `gorm:"column:status;not null;default:'applied';index" json:"status"`
	StatusNote      string         `gorm:"column:status_note" json:"status_note,omitempty"`
	ContactEmail    string         `gorm:"column:contact_email;not null" json:"contact_email"`
	AppliedAt       time.Time      `gorm:"column:applied_at;not null;default:now()" json:"applied_at"`
	ActivatedAt     *time.Time     `gorm:"column:activated_at" json:"activated_at,omitempty"`
	StatusChangedAt *time.Time     `gorm:"column:status_changed_at" json:"status_changed_at,omitempty"`
	CreatedAt       time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Organization) TableName() string { return "organization" }

// Authoring (creating or editing programme data) is only open to active
// organizations; suspended members retain read access.
func (o *Organization) CanAuthor() bool {
	return o != nil && o.Status == StatusActive
}
