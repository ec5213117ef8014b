// Package store is the field agent's local queue: operations recorded while
// offline, kept in a sqlite file until the server acknowledges them.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	OpStatePending    = "pending"
	OpStateSent       = "sent"
	OpStateAcked      = "acked"
	OpStateConflicted = "conflicted"
	OpStateRejected   = "rejected"
)

const (
	OpKindAnswerUpsert  = "answer_upsert"
	OpKindFindingCreate = "finding_create"
	OpKindFindingUpdate = "finding_update"
	OpKindNoteAttach    = "note_attach"
)

// QueuedOp is one recorded operation. The ID doubles as the server-side
// idempotency key, so it is generated here, once, at queue time.
type QueuedOp struct {
	ID          uuid.UUID      `gorm:"column:id;type:text;primaryKey" json:"id"`
	ReviewID    uuid.UUID      `gorm:"column:review_id;type:text;not null;index" json:"review_id"`
	Kind        string         `gorm:"column:kind;not null" json:"kind"`
	EntityID    *uuid.UUID     `gorm:"column:entity_id;type:text" json:"entity_id,omitempty"`
	BaseVersion int            `gorm:"column:base_version;default:0" json:"base_version"`
	Payload     datatypes.JSON `gorm:"column:payload" json:"payload"`
	State       string         `gorm:"column:state;not null;default:pending;index" json:"state"`
	Attempts    int            `gorm:"column:attempts;default:0" json:"attempts"`
	LastError   string         `gorm:"column:last_error" json:"last_error,omitempty"`

	// Conflict bookkeeping: the server version the op lost to.
	ServerVersion int `gorm:"column:server_version;default:0" json:"server_version,omitempty"`

	QueuedAt  time.Time `gorm:"column:queued_at;not null" json:"queued_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (QueuedOp) TableName() string { return "queued_op" }

// SyncCursor remembers per-review drain progress.
type SyncCursor struct {
	ReviewID  uuid.UUID `gorm:"column:review_id;type:text;primaryKey" json:"review_id"`
	LastAckAt time.Time `gorm:"column:last_ack_at" json:"last_ack_at"`
	AckedOps  int64     `gorm:"column:acked_ops;default:0" json:"acked_ops"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (SyncCursor) TableName() string { return "sync_cursor" }

type Store struct {
	db *gorm.DB
}

// Open opens (and migrates) the queue database at path. ":memory:" works for
// tests.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	if err := db.AutoMigrate(&QueuedOp{}, &SyncCursor{}); err != nil {
		return nil, fmt.Errorf("migrate queue db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Enqueue(ctx context.Context, op *QueuedOp) error {
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	if op.State == "" {
		op.State = OpStatePending
	}
	if op.QueuedAt.IsZero() {
		op.QueuedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(op).Error
}

// NextBatch returns the oldest pending ops in queue order. Sent-but-unacked
// ops are included so a crash between send and ack is retried (the server
// side is idempotent on op ID).
func (s *Store) NextBatch(ctx context.Context, limit int) ([]*QueuedOp, error) {
	if limit <= 0 {
		limit = 50
	}
	var ops []*QueuedOp
	err := s.db.WithContext(ctx).
		Where("state IN ?", []string{OpStatePending, OpStateSent}).
		Order("queued_at ASC").
		Limit(limit).
		Find(&ops).Error
	return ops, err
}

func (s *Store) MarkSent(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&QueuedOp{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"state":      OpStateSent,
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": time.Now().UTC(),
		}).Error
}

// MarkAcked removes an applied or duplicate op and advances the cursor.
func (s *Store) MarkAcked(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var op QueuedOp
		if err := tx.Where("id = ?", id).First(&op).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		if err := tx.Delete(&QueuedOp{}, "id = ?", id).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		res := tx.Model(&SyncCursor{}).
			Where("review_id = ?", op.ReviewID).
			Updates(map[string]interface{}{
				"last_ack_at": now,
				"acked_ops":   gorm.Expr("acked_ops + 1"),
				"updated_at":  now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		return tx.Create(&SyncCursor{ReviewID: op.ReviewID, LastAckAt: now, AckedOps: 1, UpdatedAt: now}).Error
	})
}

// MarkConflicted parks an op with the server version it lost to. The op
// stays in the queue for operator review and is never resent.
func (s *Store) MarkConflicted(ctx context.Context, id uuid.UUID, serverVersion int, message string) error {
	return s.db.WithContext(ctx).Model(&QueuedOp{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"state":          OpStateConflicted,
			"server_version": serverVersion,
			"last_error":     message,
			"updated_at":     time.Now().UTC(),
		}).Error
}

func (s *Store) MarkRejected(ctx context.Context, id uuid.UUID, message string) error {
	return s.db.WithContext(ctx).Model(&QueuedOp{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"state":      OpStateRejected,
			"last_error": message,
			"updated_at": time.Now().UTC(),
		}).Error
}

// RecordFailure returns ops to pending after a failed push so the next drain
// retries them, unless the attempt budget is spent.
func (s *Store) RecordFailure(ctx context.Context, ids []uuid.UUID, maxAttempts int, message string) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&QueuedOp{}).
			Where("id IN ? AND attempts < ?", ids, maxAttempts).
			Updates(map[string]interface{}{
				"state":      OpStatePending,
				"last_error": message,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}
		return tx.Model(&QueuedOp{}).
			Where("id IN ? AND attempts >= ?", ids, maxAttempts).
			Updates(map[string]interface{}{
				"state":      OpStateRejected,
				"last_error": fmt.Sprintf("attempt budget spent: %s", message),
				"updated_at": now,
			}).Error
	})
}

// Counts reports queue depth by state.
func (s *Store) Counts(ctx context.Context) (map[string]int64, error) {
	type row struct {
		State string
		N     int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&QueuedOp{}).
		Select("state, count(*) as n").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.State] = r.N
	}
	return out, nil
}

// ListByState returns ops in a given state, oldest first.
func (s *Store) ListByState(ctx context.Context, state string, limit int) ([]*QueuedOp, error) {
	if limit <= 0 {
		limit = 100
	}
	var ops []*QueuedOp
	err := s.db.WithContext(ctx).
		Where("state = ?", state).
		Order("queued_at ASC").
		Limit(limit).
		Find(&ops).Error
	return ops, err
}
