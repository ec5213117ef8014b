package identity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Organization-scoped roles.
const (
	OrgRoleAdmin         = "org_admin"
	OrgRoleSafetyManager = "safety_manager"
	OrgRoleReviewer      = "reviewer"
	OrgRoleMember        = "member"
)

// Membership binds a user to an organization with a single role. A user may
// belong to several organizations (reviewers frequently do), each with its
// own role.
type Membership struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID         uuid.UUID      `gorm:"type:uuid;not null;index:idx_membership_user_org,unique,priority:1" json:"user_id"`
	OrganizationID uuid.UUID      `gorm:"type:uuid;not null;index:idx_membership_user_org,unique,priority:2;index" json:"organization_id"`
	Role           string         `gorm:"column:role;not null" json:"role"`
	InvitedBy      *uuid.UUID     `gorm:"type:uuid;column:invited_by" json:"invited_by,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Membership) TableName() string { return "membership" }

func ValidOrgRole(role string) bool {
	switch role {
	case OrgRoleAdmin, OrgRoleSafetyManager, OrgRoleReviewer, OrgRoleMember:
		return true
	default:
		return false
	}
}
