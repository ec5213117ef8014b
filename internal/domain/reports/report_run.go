package reports

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RunQueued    = "queued"
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// ReportRun is one attempt to render the PDF report of a review in one
// language. At most one run per (review, language) is current; promoting a
// new run demotes the previous one in the same transaction.
type ReportRun struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ReviewID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"review_id"`
	Language    string         `gorm:"column:language;not null;default:'en';index" json:"language"`
	Status      string         `gorm:"column:status;not null;default:'queued';index" json:"status"`
	RequestedBy uuid.UUID      `gorm:"type:uuid;not null;column:requested_by" json:"requested_by"`
	JobID       *uuid.UUID     `gorm:"type:uuid;column:job_id" json:"job_id,omitempty"`
	ObjectKey   string         `gorm:"column:object_key" json:"object_key,omitempty"`
	SizeBytes   int64          `gorm:"column:size_bytes;not null;default:0" json:"size_bytes"`
	PageCount   int            `gorm:"column:page_count;not null;default:0" json:"page_count"`
	IsCurrent   bool           `gorm:"column:is_current;not null;default:false;index" json:"is_current"`
	Error       string         `gorm:"column:error" json:"error,omitempty"`
	GeneratedAt *time.Time     `gorm:"column:generated_at" json:"generated_at,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (ReportRun) TableName() string { return "report_run" }
