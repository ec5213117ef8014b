package notify

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Notification kinds. Each kind maps to a message-catalog key pair
// (title/body) rendered in the recipient's locale when the row is created.
const (
	KindOrgActivated        = "org_activated"
	KindOrgStatusChanged    = "org_status_changed"
	KindMemberInvited       = "member_invited"
	KindReviewScheduled     = "review_scheduled"
	KindReviewPhase         = "review_phase_changed"
	KindTeamInvitation      = "team_invitation"
	KindInvitationResponse  = "invitation_response"
	KindFindingRecorded     = "finding_recorded"
	KindActionProposed      = "action_proposed"
	KindActionStatus        = "action_status_changed"
	KindActionDueSoon       = "action_due_soon"
	KindActionOverdue       = "action_overdue"
	KindActionVerify        = "action_awaiting_verification"
	KindAssessmentSubmitted = "assessment_submitted"
	KindAssessmentReopen    = "assessment_reopened"
	KindReportReady         = "report_ready"
)

const (
	EmailNone   = "none"
	EmailQueued = "queued"
	EmailSent   = "sent"
	EmailFailed = "failed"
)

// Notification is one in-app message for one user. Title and Body are
// rendered once, at creation, in the locale the recipient had at that moment;
// changing locale later does not re-render old rows.
type Notification struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	Kind        string         `gorm:"column:kind;not null;index" json:"kind"`
	Locale      string         `gorm:"column:locale;not null;default:'en'" json:"locale"`
	Title       string         `gorm:"column:title;not null" json:"title"`
	Body        string         `gorm:"column:body;type:text" json:"body"`
	Payload     datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload,omitempty"`
	ReadAt      *time.Time     `gorm:"column:read_at;index" json:"read_at,omitempty"`
	EmailStatus string         `gorm:"column:email_status;not null;default:'none'" json:"email_status"`
	EmailSentAt *time.Time     `gorm:"column:email_sent_at" json:"email_sent_at,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Notification) TableName() string { return "notification" }

// Unread reports whether the recipient has not yet opened the notification.
func (n *Notification) Unread() bool { return n != nil && n.ReadAt == nil }
