package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/skyassure/peerreview-backend/internal/http/response"
	"github.com/skyassure/peerreview-backend/internal/services"
)

type MembershipHandler struct {
	memberships services.MembershipService
}

func NewMembershipHandler(memberships services.MembershipService) *MembershipHandler {
	return &MembershipHandler{memberships: memberships}
}

// GET /api/organizations/:id/members
func (h *MembershipHandler) ListByOrg(c *gin.Context) {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_organization_id", err)
		return
	}
	rows, err := h.memberships.ListByOrg(c.Request.Context(), orgID)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"memberships": rows})
}

// GET /api/me/memberships
func (h *MembershipHandler) ListMine(c *gin.Context) {
	rows, err := h.memberships.ListMine(c.Request.Context())
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"memberships": rows})
}

// PATCH /api/memberships/:id
func (h *MembershipHandler) UpdateRole(c *gin.Context) {
	membershipID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_membership_id", err)
		return
	}
	var req struct {
		Role string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	membership, err := h.memberships.UpdateRole(c.Request.Context(), membershipID, req.Role)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"membership": membership})
}

// DELETE /api/memberships/:id
func (h *MembershipHandler) Remove(c *gin.Context) {
	membershipID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_membership_id", err)
		return
	}
	if err := h.memberships.Remove(c.Request.Context(), membershipID); err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}
