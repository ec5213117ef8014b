package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/skyassure/peerreview-backend/internal/http/response"
	"github.com/skyassure/peerreview-backend/internal/services"
)

type AssessmentHandler struct {
	assessments services.AssessmentService
}

func NewAssessmentHandler(assessments services.AssessmentService) *AssessmentHandler {
	return &AssessmentHandler{assessments: assessments}
}

// POST /api/assessments
func (h *AssessmentHandler) Start(c *gin.Context) {
	var req struct {
		OrganizationID  uuid.UUID `json:"organization_id"`
		QuestionnaireID uuid.UUID `json:"questionnaire_id"`
		CycleYear       int       `json:"cycle_year"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	assessment, err := h.assessments.Start(c.Request.Context(), services.StartAssessmentInput{
		OrganizationID:  req.OrganizationID,
		QuestionnaireID: req.QuestionnaireID,
		CycleYear:       req.CycleYear,
	})
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"assessment": assessment})
}

// PUT /api/assessments/:id/answers
func (h *AssessmentHandler) Answer(c *gin.Context) {
	assessmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_assessment_id", err)
		return
	}
	var req struct {
		QuestionID      uuid.UUID `json:"question_id"`
		MaturityLevel   *int      `json:"maturity_level"`
		YesNo           *bool     `json:"yes_no"`
		Narrative       string    `json:"narrative"`
		EvidenceNote    string    `json:"evidence_note"`
		ExpectedVersion int       `json:"expected_version"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	answer, err := h.assessments.Answer(c.Request.Context(), assessmentID, services.AnswerInput{
		QuestionID:      req.QuestionID,
		MaturityLevel:   req.MaturityLevel,
		YesNo:           req.YesNo,
		Narrative:       req.Narrative,
		EvidenceNote:    req.EvidenceNote,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"answer": answer})
}

// GET /api/assessments/:id/progress
func (h *AssessmentHandler) Progress(c *gin.Context) {
	assessmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_assessment_id", err)
		return
	}
	progress, err := h.assessments.Progress(c.Request.Context(), assessmentID)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"progress": progress})
}

// POST /api/assessments/:id/submit
func (h *AssessmentHandler) Submit(c *gin.Context) {
	assessmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_assessment_id", err)
		return
	}
	assessment, err := h.assessments.Submit(c.Request.Context(), assessmentID)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"assessment": assessment})
}

// POST /api/assessments/:id/reopen
func (h *AssessmentHandler) Reopen(c *gin.Context) {
	assessmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_assessment_id", err)
		return
	}
	var req struct {
		Note string `json:"note"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	assessment, err := h.assessments.Reopen(c.Request.Context(), assessmentID, req.Note)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"assessment": assessment})
}

// GET /api/assessments/:id
func (h *AssessmentHandler) Get(c *gin.Context) {
	assessmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_assessment_id", err)
		return
	}
	detail, err := h.assessments.Get(c.Request.Context(), assessmentID)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, detail)
}

// GET /api/organizations/:id/assessments
func (h *AssessmentHandler) ListByOrg(c *gin.Context) {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_organization_id", err)
		return
	}
	rows, err := h.assessments.ListByOrg(c.Request.Context(), orgID)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"assessments": rows})
}
