package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type JobEventKind string

const (
	JobEventCreated   JobEventKind = "created"
	JobEventStarted   JobEventKind = "started"
	JobEventFailed    JobEventKind = "failed"
	JobEventSucceeded JobEventKind = "succeeded"
	JobEventCanceled  JobEventKind = "canceled"
)

// JobRunEvent is an append-only ledger of job lifecycle messages, the
// timeline behind the jobs admin endpoint.
type JobRunEvent struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	JobID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"job_id"`
	JobKind   string         `gorm:"column:job_kind;not null;index" json:"job_kind"`
	Kind      string         `gorm:"column:kind;not null;index" json:"kind"`
	Attempt   int            `gorm:"column:attempt;not null;default:0" json:"attempt"`
	Message   string         `gorm:"column:message;type:text" json:"message,omitempty"`
	Data      datatypes.JSON `gorm:"type:jsonb;column:data" json:"data,omitempty"`
	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
}

func (JobRunEvent) TableName() string { return "job_run_event" }
