package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/skyassure/peerreview-backend/internal/http/response"
	"github.com/skyassure/peerreview-backend/internal/services"
)

type ReportHandler struct {
	reports services.ReportService
}

func NewReportHandler(reports services.ReportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// POST /api/reviews/:id/report
func (h *ReportHandler) Request(c *gin.Context) {
	reviewID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_review_id", err)
		return
	}
	var req struct {
		Language string `json:"language"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	run, err := h.reports.Request(c.Request.Context(), reviewID, req.Language)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"run": run})
}

// GET /api/reviews/:id/report?lang=en
func (h *ReportHandler) Current(c *gin.Context) {
	reviewID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_review_id", err)
		return
	}
	dl, err := h.reports.Current(c.Request.Context(), reviewID, c.Query("lang"))
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, dl)
}

// GET /api/reviews/:id/report/runs
func (h *ReportHandler) ListRuns(c *gin.Context) {
	reviewID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_review_id", err)
		return
	}
	runs, err := h.reports.ListRuns(c.Request.Context(), reviewID)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"runs": runs})
}

// GET /api/report-runs/:id
func (h *ReportHandler) GetRun(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_run_id", err)
		return
	}
	run, err := h.reports.GetRun(c.Request.Context(), runID)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"run": run})
}
