package identity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Programme-level roles. Most users carry none: their authority comes from
// organization memberships.
const (
	ProgrammeRoleCoordinator = "programme_coordinator"
	ProgrammeRoleAuditor     = "auditor"
)

type User struct {
	ID                 uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Email              string         `gorm:"uniqueIndex;not null;column:email" json:"email"`
	Password           string         `gorm:"not null;column:password" json:"-"`
	FirstName          string         `gorm:"not null;column:first_name" json:"first_name"`
	LastName           string         `gorm:"not null;column:last_name" json:"last_name"`
	Locale             string         `gorm:"column:locale;not null;default:'en'" json:"locale"`
	ProgrammeRole      string         `gorm:"column:programme_role;index" json:"programme_role,omitempty"`
	EmailNotifications bool           `gorm:"column:email_notifications;not null;default:true" json:"email_notifications"`
	AvatarBucketKey    string         `gorm:"column:avatar_bucket_key" json:"avatar_bucket_key,omitempty"`
	AvatarURL          string         `gorm:"column:avatar_url" json:"avatar_url,omitempty"`
	CreatedAt          time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (User) TableName() string { return "user" }

func (u *User) FullName() string {
	switch {
	case u == nil:
		return ""
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}
