package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/skyassure/peerreview-backend/internal/domain"
	"github.com/skyassure/peerreview-backend/internal/services"
)

type fakeSyncService struct {
	gotDeviceID string
	gotOps      []services.SyncOpInput
	results     []services.SyncOpResult
	err         error
}

func (f *fakeSyncService) ApplyBatch(ctx context.Context, deviceID string, ops []services.SyncOpInput) ([]services.SyncOpResult, error) {
	f.gotDeviceID = deviceID
	f.gotOps = ops
	return f.results, f.err
}

func (f *fakeSyncService) Status(ctx context.Context) (map[string]int64, error) {
	return map[string]int64{types.SyncApplied: 3}, nil
}

func (f *fakeSyncService) ListByReview(ctx context.Context, reviewID uuid.UUID, limit int) ([]*types.SyncOperation, error) {
	return nil, nil
}

func syncTestRouter(svc services.SyncService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewSyncHandler(svc)
	r.POST("/api/sync/batch", h.ApplyBatch)
	r.GET("/api/sync/status", h.Status)
	return r
}

func TestApplyBatchRequiresDeviceHeader(t *testing.T) {
	t.Parallel()
	r := syncTestRouter(&fakeSyncService{})

	req := httptest.NewRequest(http.MethodPost, "/api/sync/batch", bytes.NewBufferString(`{"ops":[]}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got=%d want=%d", w.Code, http.StatusBadRequest)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error.Code != "missing_device_id" {
		t.Fatalf("error code: got=%q want=missing_device_id", body.Error.Code)
	}
}

func TestApplyBatchPassesOpsThrough(t *testing.T) {
	t.Parallel()
	opID := uuid.New()
	svc := &fakeSyncService{
		results: []services.SyncOpResult{{ID: opID, Outcome: types.SyncApplied, Version: 1}},
	}
	r := syncTestRouter(svc)

	payload := map[string]any{
		"ops": []map[string]any{{
			"id":        opID.String(),
			"kind":      "answer_upsert",
			"review_id": uuid.New().String(),
			"payload":   map[string]any{"value": "yes"},
		}},
	}
	raw, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/sync/batch", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Device-Id", "tablet-07")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got=%d want=%d body=%s", w.Code, http.StatusOK, w.Body.String())
	}
	if svc.gotDeviceID != "tablet-07" {
		t.Fatalf("device id: got=%q want=tablet-07", svc.gotDeviceID)
	}
	if len(svc.gotOps) != 1 || svc.gotOps[0].ID != opID {
		t.Fatalf("forwarded ops: got=%v", svc.gotOps)
	}

	var body struct {
		Results []services.SyncOpResult `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Results) != 1 || body.Results[0].Outcome != types.SyncApplied {
		t.Fatalf("results: got=%v", body.Results)
	}
}

func TestSyncStatus(t *testing.T) {
	t.Parallel()
	r := syncTestRouter(&fakeSyncService{})

	req := httptest.NewRequest(http.MethodGet, "/api/sync/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got=%d", w.Code)
	}
	var body struct {
		Counts map[string]int64 `json:"counts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Counts[types.SyncApplied] != 3 {
		t.Fatalf("counts: got=%v", body.Counts)
	}
}
