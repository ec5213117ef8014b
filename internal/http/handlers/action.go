package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/skyassure/peerreview-backend/internal/http/response"
	"github.com/skyassure/peerreview-backend/internal/services"
)

type ActionHandler struct {
	actions services.ActionService
}

func NewActionHandler(actions services.ActionService) *ActionHandler {
	return &ActionHandler{actions: actions}
}

// POST /api/findings/:id/actions
func (h *ActionHandler) Propose(c *gin.Context) {
	findingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_finding_id", err)
		return
	}
	var req struct {
		Description string    `json:"description"`
		OwnerID     uuid.UUID `json:"owner_id"`
		DueOn       time.Time `json:"due_on"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	action, err := h.actions.Propose(c.Request.Context(), findingID, services.ProposeActionInput{
		Description: req.Description,
		OwnerID:     req.OwnerID,
		DueOn:       req.DueOn,
	})
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"action": action})
}

// PATCH /api/actions/:id
func (h *ActionHandler) UpdateProposal(c *gin.Context) {
	actionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_action_id", err)
		return
	}
	var req struct {
		Description *string    `json:"description"`
		OwnerID     *uuid.UUID `json:"owner_id"`
		DueOn       *time.Time `json:"due_on"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	action, err := h.actions.UpdateProposal(c.Request.Context(), actionID, services.UpdateActionInput{
		Description: req.Description,
		OwnerID:     req.OwnerID,
		DueOn:       req.DueOn,
	})
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"action": action})
}

// POST /api/actions/:id/transition
func (h *ActionHandler) Transition(c *gin.Context) {
	actionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_action_id", err)
		return
	}
	var req struct {
		Status string `json:"status"`
		Note   string `json:"note"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	action, err := h.actions.Transition(c.Request.Context(), actionID, req.Status, req.Note)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"action": action})
}

// GET /api/actions/:id
func (h *ActionHandler) Get(c *gin.Context) {
	actionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_action_id", err)
		return
	}
	action, err := h.actions.Get(c.Request.Context(), actionID)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"action": action})
}

// GET /api/findings/:id/actions
func (h *ActionHandler) ListByFinding(c *gin.Context) {
	findingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_finding_id", err)
		return
	}
	rows, err := h.actions.ListByFinding(c.Request.Context(), findingID)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"actions": rows})
}
