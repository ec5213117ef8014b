package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/skyassure/peerreview-backend/internal/http/response"
	"github.com/skyassure/peerreview-backend/internal/observability"
	"github.com/skyassure/peerreview-backend/internal/services"
)

type SyncHandler struct {
	sync services.SyncService
}

func NewSyncHandler(sync services.SyncService) *SyncHandler {
	return &SyncHandler{sync: sync}
}

// POST /api/sync/batch
//
// Device identity comes from the X-Device-Id header; the body is the queued
// operations in submission order.
func (h *SyncHandler) ApplyBatch(c *gin.Context) {
	deviceID := c.GetHeader("X-Device-Id")
	if deviceID == "" {
		response.RespondError(c, http.StatusBadRequest, "missing_device_id", nil)
		return
	}
	var req struct {
		Ops []services.SyncOpInput `json:"ops"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	start := time.Now()
	results, err := h.sync.ApplyBatch(c.Request.Context(), deviceID, req.Ops)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	m := observability.Current()
	m.ObserveSyncBatch(len(req.Ops), time.Since(start))
	for i, res := range results {
		kind := ""
		if i < len(req.Ops) {
			kind = req.Ops[i].Kind
		}
		m.IncSyncOp(kind, res.Outcome)
	}
	response.RespondOK(c, gin.H{"results": results})
}

// GET /api/sync/status
func (h *SyncHandler) Status(c *gin.Context) {
	counts, err := h.sync.Status(c.Request.Context())
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"counts": counts})
}

// GET /api/reviews/:id/sync-operations?limit=100
func (h *SyncHandler) ListByReview(c *gin.Context) {
	reviewID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_review_id", err)
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	ops, err := h.sync.ListByReview(c.Request.Context(), reviewID, limit)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"operations": ops})
}
