package fieldsync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/skyassure/peerreview-backend/internal/fieldsync/store"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
	"github.com/skyassure/peerreview-backend/internal/services"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func testConfig(serverURL string) Config {
	return Config{
		ServerURL:    serverURL,
		Token:        "test-token",
		DeviceID:     "tablet-01",
		BatchSize:    50,
		MaxAttempts:  3,
		PollInterval: time.Second,
		ProbeBase:    time.Millisecond,
		ProbeMax:     10 * time.Millisecond,
	}
}

func queueOp(t *testing.T, st *store.Store, kind string, queuedAt time.Time) *store.QueuedOp {
	t.Helper()
	payload, _ := json.Marshal(map[string]any{"value": "partial"})
	op := &store.QueuedOp{
		ReviewID: uuid.New(),
		Kind:     kind,
		Payload:  payload,
		QueuedAt: queuedAt,
	}
	if err := st.Enqueue(context.Background(), op); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return op
}

func TestDrainAppliesServerOutcomes(t *testing.T) {
	t.Parallel()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	base := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	applied := queueOp(t, st, store.OpKindAnswerUpsert, base)
	conflicted := queueOp(t, st, store.OpKindFindingUpdate, base.Add(time.Second))
	rejected := queueOp(t, st, store.OpKindNoteAttach, base.Add(2*time.Second))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sync/batch" {
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if got := r.Header.Get("X-Device-Id"); got != "tablet-01" {
			t.Errorf("X-Device-Id: got=%q want=tablet-01", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization: got=%q", got)
		}
		var body struct {
			Ops []services.SyncOpInput `json:"ops"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode batch: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		results := make([]services.SyncOpResult, 0, len(body.Ops))
		for _, op := range body.Ops {
			switch op.ID {
			case applied.ID:
				results = append(results, services.SyncOpResult{ID: op.ID, Outcome: "applied", Version: 1})
			case conflicted.ID:
				results = append(results, services.SyncOpResult{ID: op.ID, Outcome: "conflict", Version: 5, Message: "newer on server"})
			default:
				results = append(results, services.SyncOpResult{ID: op.ID, Outcome: "rejected", Code: "unknown_entity", Message: "no such note"})
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"results": results})
	}))
	defer srv.Close()

	eng := NewEngine(testLogger(t), testConfig(srv.URL), st)
	n, err := eng.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if n != 3 {
		t.Fatalf("drained ops: got=%d want=3", n)
	}

	counts, err := st.Counts(context.Background())
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts[store.OpStatePending] != 0 || counts[store.OpStateSent] != 0 {
		t.Fatalf("queue not drained: %v", counts)
	}
	if counts[store.OpStateConflicted] != 1 {
		t.Fatalf("conflicted: got=%d want=1", counts[store.OpStateConflicted])
	}
	if counts[store.OpStateRejected] != 1 {
		t.Fatalf("rejected: got=%d want=1", counts[store.OpStateRejected])
	}

	parked, err := st.ListByState(context.Background(), store.OpStateConflicted, 10)
	if err != nil {
		t.Fatalf("ListByState: %v", err)
	}
	if len(parked) != 1 || parked[0].ID != conflicted.ID {
		t.Fatalf("parked op: got=%v want=%s", parked, conflicted.ID)
	}
	if parked[0].ServerVersion != 5 {
		t.Fatalf("server_version: got=%d want=5", parked[0].ServerVersion)
	}

	dropped, err := st.ListByState(context.Background(), store.OpStateRejected, 10)
	if err != nil {
		t.Fatalf("ListByState: %v", err)
	}
	if len(dropped) != 1 || dropped[0].ID != rejected.ID {
		t.Fatalf("rejected op: got=%v want=%s", dropped, rejected.ID)
	}
	if dropped[0].LastError != "no such note" {
		t.Fatalf("last_error: got=%q", dropped[0].LastError)
	}
}

func TestDrainDuplicateOutcomeAcks(t *testing.T) {
	t.Parallel()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	op := queueOp(t, st, store.OpKindAnswerUpsert, time.Now().UTC())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"results": []services.SyncOpResult{
			{ID: op.ID, Outcome: "duplicate", Version: 2},
		}})
	}))
	defer srv.Close()

	eng := NewEngine(testLogger(t), testConfig(srv.URL), st)
	if _, err := eng.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	counts, err := st.Counts(context.Background())
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	for state, n := range counts {
		if n != 0 {
			t.Fatalf("queue not empty: %s=%d", state, n)
		}
	}
}

func TestDrainTransportErrorReturnsOpsToPending(t *testing.T) {
	t.Parallel()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	op := queueOp(t, st, store.OpKindAnswerUpsert, time.Now().UTC())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	eng := NewEngine(testLogger(t), testConfig(srv.URL), st)
	if _, err := eng.Drain(context.Background()); err == nil {
		t.Fatalf("Drain succeeded against a 401 server")
	}

	pending, err := st.ListByState(context.Background(), store.OpStatePending, 10)
	if err != nil {
		t.Fatalf("ListByState: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != op.ID {
		t.Fatalf("op not returned to pending: %v", pending)
	}
	if pending[0].Attempts != 1 {
		t.Fatalf("attempts: got=%d want=1", pending[0].Attempts)
	}
}
