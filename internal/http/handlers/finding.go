package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/skyassure/peerreview-backend/internal/http/response"
	"github.com/skyassure/peerreview-backend/internal/services"
)

const maxEvidenceBytes = 20 << 20

type FindingHandler struct {
	findings services.FindingService
}

func NewFindingHandler(findings services.FindingService) *FindingHandler {
	return &FindingHandler{findings: findings}
}

// POST /api/reviews/:id/findings
func (h *FindingHandler) Record(c *gin.Context) {
	reviewID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_review_id", err)
		return
	}
	var req struct {
		Kind        string     `json:"kind"`
		Severity    string     `json:"severity"`
		DomainCode  string     `json:"domain_code"`
		QuestionID  *uuid.UUID `json:"question_id"`
		Title       string     `json:"title"`
		Description string     `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	finding, err := h.findings.Record(c.Request.Context(), reviewID, services.RecordFindingInput{
		Kind:        req.Kind,
		Severity:    req.Severity,
		DomainCode:  req.DomainCode,
		QuestionID:  req.QuestionID,
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"finding": finding})
}

// PATCH /api/findings/:id
func (h *FindingHandler) Update(c *gin.Context) {
	findingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_finding_id", err)
		return
	}
	var req struct {
		Severity        *string `json:"severity"`
		Title           *string `json:"title"`
		Description     *string `json:"description"`
		ExpectedVersion int     `json:"expected_version"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	finding, err := h.findings.Update(c.Request.Context(), findingID, services.UpdateFindingInput{
		Severity:        req.Severity,
		Title:           req.Title,
		Description:     req.Description,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"finding": finding})
}

// POST /api/findings/:id/close
func (h *FindingHandler) Close(c *gin.Context) {
	findingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_finding_id", err)
		return
	}
	finding, err := h.findings.Close(c.Request.Context(), findingID)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"finding": finding})
}

// POST /api/findings/:id/evidence
func (h *FindingHandler) AttachEvidence(c *gin.Context) {
	findingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_finding_id", err)
		return
	}
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_upload", err)
		return
	}
	defer file.Close()
	raw, err := io.ReadAll(io.LimitReader(file, maxEvidenceBytes+1))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_upload", err)
		return
	}
	if len(raw) > maxEvidenceBytes {
		response.RespondError(c, http.StatusRequestEntityTooLarge, "evidence_too_large", nil)
		return
	}
	finding, err := h.findings.AttachEvidence(c.Request.Context(), findingID, header.Filename, raw)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"finding": finding})
}

// GET /api/findings/:id
func (h *FindingHandler) Get(c *gin.Context) {
	findingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_finding_id", err)
		return
	}
	detail, err := h.findings.Get(c.Request.Context(), findingID)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, detail)
}

// GET /api/reviews/:id/findings
func (h *FindingHandler) ListByReview(c *gin.Context) {
	reviewID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_review_id", err)
		return
	}
	rows, err := h.findings.ListByReview(c.Request.Context(), reviewID)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"findings": rows})
}
