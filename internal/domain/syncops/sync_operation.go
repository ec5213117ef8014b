package syncops

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Operation kinds a fieldwork client may queue offline. NoteAttach appends an
// evidence note to a finding without a version check, so pure note additions
// never conflict with concurrent finding edits.
const (
	OpAnswerUpsert  = "answer_upsert"
	OpFindingCreate = "finding_create"
	OpFindingUpdate = "finding_update"
	OpNoteAttach    = "note_attach"
)

// Outcomes recorded for an applied batch operation. A replayed operation is
// reported as duplicate to the client but keeps its original stored outcome.
const (
	OutcomeApplied   = "applied"
	OutcomeConflict  = "conflict"
	OutcomeRejected  = "rejected"
	OutcomeDuplicate = "duplicate"
)

// SyncOperation is the server-side record of one offline operation. The ID is
// generated by the client when the operation is queued, so replaying a batch
// after a lost response hits the primary key instead of applying twice.
type SyncOperation struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	ReviewID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"review_id"`
	DeviceID      string         `gorm:"column:device_id;index" json:"device_id,omitempty"`
	Kind          string         `gorm:"column:kind;not null" json:"kind"`
	EntityID      *uuid.UUID     `gorm:"type:uuid;column:entity_id" json:"entity_id,omitempty"`
	BaseVersion   int            `gorm:"column:base_version;not null;default:0" json:"base_version"`
	Payload       datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Outcome       string         `gorm:"column:outcome;not null" json:"outcome"`
	RejectCode    string         `gorm:"column:reject_code" json:"reject_code,omitempty"`
	ResultVersion int            `gorm:"column:result_version;not null;default:0" json:"result_version"`
	QueuedAt      time.Time      `gorm:"column:queued_at;not null" json:"queued_at"`
	ReceivedAt    time.Time      `gorm:"column:received_at;not null;default:now();index" json:"received_at"`
}

func (SyncOperation) TableName() string { return "sync_operation" }

// ValidOpKind reports whether kind names a queueable operation.
func ValidOpKind(kind string) bool {
	switch kind {
	case OpAnswerUpsert, OpFindingCreate, OpFindingUpdate, OpNoteAttach:
		return true
	}
	return false
}
