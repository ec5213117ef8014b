package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Job kinds understood by the worker registry.
const (
	KindReportGenerate  = "report_generate"
	KindNotifyEmail     = "notify_email"
	KindCapOverdueSweep = "cap_overdue_sweep"
	KindStatsRebuild    = "stats_rebuild"
)

const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// DefaultMaxAttempts is how many times a job is claimed before it is marked
// failed for good.
const DefaultMaxAttempts = 3

// JobRun is one unit of background work, claimed by workers with
// FOR UPDATE SKIP LOCKED. DedupeKey, when set, is unique among live rows so
// the same logical job (one email per notification, one sweep per day) is
// never enqueued twice.
type JobRun struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Kind        string         `gorm:"column:kind;not null;index" json:"kind"`
	DedupeKey   *string        `gorm:"column:dedupe_key;uniqueIndex" json:"dedupe_key,omitempty"`
	EntityType  string         `gorm:"column:entity_type;index" json:"entity_type,omitempty"`
	EntityID    *uuid.UUID     `gorm:"type:uuid;column:entity_id;index" json:"entity_id,omitempty"`
	Status      string         `gorm:"column:status;not null;default:'queued';index" json:"status"`
	Stage       string         `gorm:"column:stage" json:"stage,omitempty"`
	Progress    int            `gorm:"column:progress;not null;default:0" json:"progress"`
	Attempts    int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	MaxAttempts int            `gorm:"column:max_attempts;not null;default:3" json:"max_attempts"`
	Error       string         `gorm:"column:error" json:"error,omitempty"`
	RunAfter    *time.Time     `gorm:"column:run_after;index" json:"run_after,omitempty"`
	LockedAt    *time.Time     `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	LastErrorAt *time.Time     `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	Payload     datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Result      datatypes.JSON `gorm:"column:result;type:jsonb" json:"result,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (JobRun) TableName() string { return "job_run" }

// Terminal reports whether the job will never run again. A failed job with
// attempts left is not terminal; the claim query will pick it back up.
func (j *JobRun) Terminal() bool {
	if j == nil {
		return false
	}
	switch j.Status {
	case StatusSucceeded, StatusCanceled:
		return true
	case StatusFailed:
		return j.Attempts >= j.MaxAttempts
	}
	return false
}
