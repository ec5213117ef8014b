package identity

import (
	"time"

	"github.com/google/uuid"
)

// UserToken pairs an issued access JWT with its opaque refresh token. Refresh
// rotates the row: the old row is deleted in the same transaction that
// creates the replacement.
type UserToken struct {
	ID           uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID       uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	AccessToken  string    `gorm:"column:access_token;not null;index" json:"-"`
	RefreshToken string    `gorm:"column:refresh_token;not null;uniqueIndex" json:"-"`
	ExpiresAt    time.Time `gorm:"column:expires_at;not null;index" json:"expires_at"`
	CreatedAt    time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (UserToken) TableName() string { return "user_token" }
