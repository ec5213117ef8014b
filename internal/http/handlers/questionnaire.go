package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/skyassure/peerreview-backend/internal/domain/common"
	"github.com/skyassure/peerreview-backend/internal/http/response"
	"github.com/skyassure/peerreview-backend/internal/services"
)

type QuestionnaireHandler struct {
	questionnaires services.QuestionnaireService
}

func NewQuestionnaireHandler(questionnaires services.QuestionnaireService) *QuestionnaireHandler {
	return &QuestionnaireHandler{questionnaires: questionnaires}
}

type bilingualBody struct {
	EN string `json:"en"`
	FR string `json:"fr"`
}

func (b *bilingualBody) text() types.BilingualText {
	if b == nil {
		return types.BilingualText{}
	}
	return types.NewBilingual(b.EN, b.FR)
}

// POST /api/questionnaires
func (h *QuestionnaireHandler) CreateDraft(c *gin.Context) {
	var req struct {
		Slug        string         `json:"slug"`
		Title       *bilingualBody `json:"title"`
		Description *bilingualBody `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	q, err := h.questionnaires.CreateDraft(c.Request.Context(), services.CreateQuestionnaireInput{
		Slug:        req.Slug,
		Title:       req.Title.text(),
		Description: req.Description.text(),
	})
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"questionnaire": q})
}

// PATCH /api/questionnaires/:id
func (h *QuestionnaireHandler) UpdateDraft(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_questionnaire_id", err)
		return
	}
	var req struct {
		Title       *bilingualBody `json:"title"`
		Description *bilingualBody `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	input := services.UpdateQuestionnaireInput{}
	if req.Title != nil {
		t := req.Title.text()
		input.Title = &t
	}
	if req.Description != nil {
		d := req.Description.text()
		input.Description = &d
	}
	q, err := h.questionnaires.UpdateDraft(c.Request.Context(), id, input)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"questionnaire": q})
}

// POST /api/questionnaires/:id/publish
func (h *QuestionnaireHandler) Publish(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_questionnaire_id", err)
		return
	}
	q, err := h.questionnaires.Publish(c.Request.Context(), id)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"questionnaire": q})
}

// POST /api/questionnaires/:id/retire
func (h *QuestionnaireHandler) Retire(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_questionnaire_id", err)
		return
	}
	q, err := h.questionnaires.Retire(c.Request.Context(), id)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"questionnaire": q})
}

// GET /api/questionnaires
func (h *QuestionnaireHandler) List(c *gin.Context) {
	rows, err := h.questionnaires.List(c.Request.Context(), c.Query("status"))
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"questionnaires": rows})
}

// GET /api/questionnaires/:id
func (h *QuestionnaireHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_questionnaire_id", err)
		return
	}
	detail, err := h.questionnaires.Get(c.Request.Context(), id)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, detail)
}

// GET /api/questionnaires/:id/resolved?locale=fr
func (h *QuestionnaireHandler) GetResolved(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_questionnaire_id", err)
		return
	}
	resolved, err := h.questionnaires.GetResolved(c.Request.Context(), id, c.Query("locale"))
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, resolved)
}

// POST /api/questionnaires/:id/domains
func (h *QuestionnaireHandler) AddDomain(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_questionnaire_id", err)
		return
	}
	input, ok := bindDomainInput(c)
	if !ok {
		return
	}
	domain, err := h.questionnaires.AddDomain(c.Request.Context(), id, input)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"domain": domain})
}

// PATCH /api/questionnaire-domains/:id
func (h *QuestionnaireHandler) UpdateDomain(c *gin.Context) {
	domainID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_domain_id", err)
		return
	}
	input, ok := bindDomainInput(c)
	if !ok {
		return
	}
	domain, err := h.questionnaires.UpdateDomain(c.Request.Context(), domainID, input)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"domain": domain})
}

// DELETE /api/questionnaire-domains/:id
func (h *QuestionnaireHandler) DeleteDomain(c *gin.Context) {
	domainID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_domain_id", err)
		return
	}
	if err := h.questionnaires.DeleteDomain(c.Request.Context(), domainID); err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

// PUT /api/questionnaires/:id/domains/order
func (h *QuestionnaireHandler) ReorderDomains(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_questionnaire_id", err)
		return
	}
	orderedIDs, ok := bindOrderedIDs(c)
	if !ok {
		return
	}
	if err := h.questionnaires.ReorderDomains(c.Request.Context(), id, orderedIDs); err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

// POST /api/questionnaire-domains/:id/questions
func (h *QuestionnaireHandler) AddQuestion(c *gin.Context) {
	domainID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_domain_id", err)
		return
	}
	input, ok := bindQuestionInput(c)
	if !ok {
		return
	}
	question, err := h.questionnaires.AddQuestion(c.Request.Context(), domainID, input)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"question": question})
}

// PATCH /api/questions/:id
func (h *QuestionnaireHandler) UpdateQuestion(c *gin.Context) {
	questionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_question_id", err)
		return
	}
	input, ok := bindQuestionInput(c)
	if !ok {
		return
	}
	question, err := h.questionnaires.UpdateQuestion(c.Request.Context(), questionID, input)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"question": question})
}

// DELETE /api/questions/:id
func (h *QuestionnaireHandler) DeleteQuestion(c *gin.Context) {
	questionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_question_id", err)
		return
	}
	if err := h.questionnaires.DeleteQuestion(c.Request.Context(), questionID); err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

// PUT /api/questionnaire-domains/:id/questions/order
func (h *QuestionnaireHandler) ReorderQuestions(c *gin.Context) {
	domainID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_domain_id", err)
		return
	}
	orderedIDs, ok := bindOrderedIDs(c)
	if !ok {
		return
	}
	if err := h.questionnaires.ReorderQuestions(c.Request.Context(), domainID, orderedIDs); err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

func bindDomainInput(c *gin.Context) (services.DomainInput, bool) {
	var req struct {
		Code   string         `json:"code"`
		Name   *bilingualBody `json:"name"`
		Weight float64        `json:"weight"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return services.DomainInput{}, false
	}
	return services.DomainInput{
		Code:   req.Code,
		Name:   req.Name.text(),
		Weight: req.Weight,
	}, true
}

func bindQuestionInput(c *gin.Context) (services.QuestionInput, bool) {
	var req struct {
		Kind     string         `json:"kind"`
		Text     *bilingualBody `json:"text"`
		Guidance *bilingualBody `json:"guidance"`
		Required bool           `json:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return services.QuestionInput{}, false
	}
	return services.QuestionInput{
		Kind:     req.Kind,
		Text:     req.Text.text(),
		Guidance: req.Guidance.text(),
		Required: req.Required,
	}, true
}

func bindOrderedIDs(c *gin.Context) ([]uuid.UUID, bool) {
	var req struct {
		OrderedIDs []uuid.UUID `json:"ordered_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return nil, false
	}
	return req.OrderedIDs, true
}
