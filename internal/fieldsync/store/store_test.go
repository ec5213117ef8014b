package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:): %v", err)
	}
	return s
}

func enqueueOp(t *testing.T, s *Store, reviewID uuid.UUID, kind string, queuedAt time.Time) *QueuedOp {
	t.Helper()
	payload, _ := json.Marshal(map[string]any{"value": "yes"})
	op := &QueuedOp{
		ReviewID: reviewID,
		Kind:     kind,
		Payload:  payload,
		QueuedAt: queuedAt,
	}
	if err := s.Enqueue(context.Background(), op); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return op
}

func TestEnqueueDefaults(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	op := &QueuedOp{ReviewID: uuid.New(), Kind: OpKindAnswerUpsert}
	if err := s.Enqueue(context.Background(), op); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if op.ID == uuid.Nil {
		t.Fatalf("Enqueue did not assign an ID")
	}
	if op.State != OpStatePending {
		t.Fatalf("state: got=%s want=%s", op.State, OpStatePending)
	}
	if op.QueuedAt.IsZero() {
		t.Fatalf("Enqueue did not stamp queued_at")
	}
}

func TestNextBatchOrderAndStates(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	reviewID := uuid.New()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	first := enqueueOp(t, s, reviewID, OpKindAnswerUpsert, base)
	second := enqueueOp(t, s, reviewID, OpKindFindingCreate, base.Add(time.Minute))
	third := enqueueOp(t, s, reviewID, OpKindNoteAttach, base.Add(2*time.Minute))

	// A sent-but-unacked op stays in the batch so a crash between send and
	// ack is retried.
	if err := s.MarkSent(ctx, []uuid.UUID{first.ID}); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	// Parked ops leave the queue.
	if err := s.MarkConflicted(ctx, second.ID, 4, "newer on server"); err != nil {
		t.Fatalf("MarkConflicted: %v", err)
	}

	batch, err := s.NextBatch(ctx, 10)
	if err != nil {
		t.Fatalf("NextBatch: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("batch size: got=%d want=2", len(batch))
	}
	if batch[0].ID != first.ID || batch[1].ID != third.ID {
		t.Fatalf("batch order: got=[%s %s] want=[%s %s]", batch[0].ID, batch[1].ID, first.ID, third.ID)
	}
	if batch[0].Attempts != 1 {
		t.Fatalf("sent op attempts: got=%d want=1", batch[0].Attempts)
	}
}

func TestNextBatchLimit(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	reviewID := uuid.New()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		enqueueOp(t, s, reviewID, OpKindAnswerUpsert, base.Add(time.Duration(i)*time.Second))
	}

	batch, err := s.NextBatch(context.Background(), 3)
	if err != nil {
		t.Fatalf("NextBatch: %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("batch size: got=%d want=3", len(batch))
	}
}

func TestMarkAckedAdvancesCursor(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	reviewID := uuid.New()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	first := enqueueOp(t, s, reviewID, OpKindAnswerUpsert, base)
	second := enqueueOp(t, s, reviewID, OpKindFindingUpdate, base.Add(time.Minute))

	if err := s.MarkAcked(ctx, first.ID); err != nil {
		t.Fatalf("MarkAcked: %v", err)
	}
	if err := s.MarkAcked(ctx, second.ID); err != nil {
		t.Fatalf("MarkAcked second: %v", err)
	}
	// Acking an already-removed op is a no-op.
	if err := s.MarkAcked(ctx, first.ID); err != nil {
		t.Fatalf("MarkAcked repeat: %v", err)
	}

	batch, err := s.NextBatch(ctx, 10)
	if err != nil {
		t.Fatalf("NextBatch: %v", err)
	}
	if len(batch) != 0 {
		t.Fatalf("queue after acks: got=%d ops want=0", len(batch))
	}

	var cursor SyncCursor
	if err := s.db.Where("review_id = ?", reviewID).First(&cursor).Error; err != nil {
		t.Fatalf("load cursor: %v", err)
	}
	if cursor.AckedOps != 2 {
		t.Fatalf("cursor acked_ops: got=%d want=2", cursor.AckedOps)
	}
	if cursor.LastAckAt.IsZero() {
		t.Fatalf("cursor last_ack_at not stamped")
	}
}

func TestMarkConflictedKeepsOp(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	op := enqueueOp(t, s, uuid.New(), OpKindFindingUpdate, time.Now().UTC())

	if err := s.MarkConflicted(ctx, op.ID, 7, "base_version behind"); err != nil {
		t.Fatalf("MarkConflicted: %v", err)
	}

	parked, err := s.ListByState(ctx, OpStateConflicted, 10)
	if err != nil {
		t.Fatalf("ListByState: %v", err)
	}
	if len(parked) != 1 {
		t.Fatalf("conflicted ops: got=%d want=1", len(parked))
	}
	if parked[0].ServerVersion != 7 {
		t.Fatalf("server_version: got=%d want=7", parked[0].ServerVersion)
	}
	if parked[0].LastError != "base_version behind" {
		t.Fatalf("last_error: got=%q", parked[0].LastError)
	}
}

func TestRecordFailureAttemptBudget(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	reviewID := uuid.New()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	fresh := enqueueOp(t, s, reviewID, OpKindAnswerUpsert, base)
	spent := enqueueOp(t, s, reviewID, OpKindAnswerUpsert, base.Add(time.Second))

	// Burn the second op's budget.
	for i := 0; i < 3; i++ {
		if err := s.MarkSent(ctx, []uuid.UUID{spent.ID}); err != nil {
			t.Fatalf("MarkSent: %v", err)
		}
	}
	if err := s.MarkSent(ctx, []uuid.UUID{fresh.ID}); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}

	if err := s.RecordFailure(ctx, []uuid.UUID{fresh.ID, spent.ID}, 3, "connection refused"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts[OpStatePending] != 1 || counts[OpStateRejected] != 1 {
		t.Fatalf("counts: got=%v want pending=1 rejected=1", counts)
	}

	rejected, err := s.ListByState(ctx, OpStateRejected, 10)
	if err != nil {
		t.Fatalf("ListByState: %v", err)
	}
	if len(rejected) != 1 || rejected[0].ID != spent.ID {
		t.Fatalf("rejected op: got=%v want=%s", rejected, spent.ID)
	}
}
