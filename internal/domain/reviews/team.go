package reviews

import (
	"time"

	"github.com/google/uuid"
)

const (
	TeamRoleLead     = "lead"
	TeamRoleReviewer = "reviewer"
	TeamRoleObserver = "observer"
)

// Invitation lifecycle for a team seat. Only accepted members count toward
// the scheduling quorum.
const (
	InviteInvited  = "invited"
	InviteAccepted = "accepted"
	InviteDeclined = "declined"
)

// CoolingOffCycles is how many cycles must pass before someone who reviewed a
// host may serve on that host's team again. A coordinator can override with a
// recorded justification.
const CoolingOffCycles = 2

// ReviewTeamMember assigns one user, acting for their organization, to a
// review team. The member's organization must differ from the host.
type ReviewTeamMember struct {
	ID             uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ReviewID       uuid.UUID  `gorm:"type:uuid;not null;index:idx_team_review_user,unique,priority:1;index" json:"review_id"`
	UserID         uuid.UUID  `gorm:"type:uuid;not null;index:idx_team_review_user,unique,priority:2;index" json:"user_id"`
	OrganizationID uuid.UUID  `gorm:"type:uuid;not null;column:organization_id;index" json:"organization_id"`
	Role           string     `gorm:"column:role;not null;default:'reviewer'" json:"role"`
	InviteStatus   string     `gorm:"column:invite_status;not null;default:'invited'" json:"invite_status"`
	RespondedAt    *time.Time `gorm:"column:responded_at" json:"responded_at,omitempty"`
	CoiOverride    bool       `gorm:"column:coi_override;not null;default:false" json:"coi_override"`
	CoiNote        string     `gorm:"column:coi_note" json:"coi_note,omitempty"`
	AddedBy        uuid.UUID  `gorm:"type:uuid;not null;column:added_by" json:"added_by"`
	RemovedAt      *time.Time `gorm:"column:removed_at" json:"removed_at,omitempty"`
	CreatedAt      time.Time  `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (ReviewTeamMember) TableName() string { return "review_team_member" }

// Seated reports whether the member still occupies a team seat.
func (m *ReviewTeamMember) Seated() bool {
	return m != nil && m.RemovedAt == nil && m.InviteStatus != InviteDeclined
}

// ValidTeamRole reports whether role is one of the assignable team roles.
func ValidTeamRole(role string) bool {
	switch role {
	case TeamRoleLead, TeamRoleReviewer, TeamRoleObserver:
		return true
	}
	return false
}
