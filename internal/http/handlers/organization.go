package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/skyassure/peerreview-backend/internal/domain"
	"github.com/skyassure/peerreview-backend/internal/http/response"
	"github.com/skyassure/peerreview-backend/internal/services"
)

type OrganizationHandler struct {
	orgs services.OrganizationService
}

func NewOrganizationHandler(orgs services.OrganizationService) *OrganizationHandler {
	return &OrganizationHandler{orgs: orgs}
}

// POST /api/organizations/apply (public)
func (h *OrganizationHandler) Apply(c *gin.Context) {
	var req struct {
		Name           string `json:"name"`
		ICAOCode       string `json:"icao_code"`
		Country        string `json:"country"`
		Region         string `json:"region"`
		Language       string `json:"language"`
		ContactEmail   string `json:"contact_email"`
		AdminFirstName string `json:"admin_first_name"`
		AdminLastName  string `json:"admin_last_name"`
		AdminPassword  string `json:"admin_password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	org, err := h.orgs.Apply(c.Request.Context(), services.ApplyInput{
		Name:           req.Name,
		ICAOCode:       req.ICAOCode,
		Country:        req.Country,
		Region:         req.Region,
		Language:       req.Language,
		ContactEmail:   req.ContactEmail,
		AdminFirstName: req.AdminFirstName,
		AdminLastName:  req.AdminLastName,
		AdminPassword:  req.AdminPassword,
	})
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"organization": org})
}

// GET /api/organizations
func (h *OrganizationHandler) List(c *gin.Context) {
	orgs, err := h.orgs.List(c.Request.Context(), c.Query("status"))
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"organizations": orgs})
}

// GET /api/organizations/:id
func (h *OrganizationHandler) Get(c *gin.Context) {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_organization_id", err)
		return
	}
	org, err := h.orgs.Get(c.Request.Context(), orgID)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"organization": org})
}

// PATCH /api/organizations/:id
func (h *OrganizationHandler) Update(c *gin.Context) {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_organization_id", err)
		return
	}
	var req struct {
		Name         *string `json:"name"`
		ICAOCode     *string `json:"icao_code"`
		Country      *string `json:"country"`
		Region       *string `json:"region"`
		Language     *string `json:"language"`
		ContactEmail *string `json:"contact_email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	org, err := h.orgs.UpdateProfile(c.Request.Context(), orgID, services.UpdateOrgProfileInput{
		Name:         req.Name,
		ICAOCode:     req.ICAOCode,
		Country:      req.Country,
		Region:       req.Region,
		Language:     req.Language,
		ContactEmail: req.ContactEmail,
	})
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"organization": org})
}

// POST /api/organizations/:id/approve
func (h *OrganizationHandler) Approve(c *gin.Context) {
	h.transition(c, h.orgs.Approve)
}

// POST /api/organizations/:id/reinstate
func (h *OrganizationHandler) Reinstate(c *gin.Context) {
	h.transition(c, h.orgs.Reinstate)
}

// POST /api/organizations/:id/reject
func (h *OrganizationHandler) Reject(c *gin.Context) {
	h.transitionWithNote(c, h.orgs.Reject)
}

// POST /api/organizations/:id/suspend
func (h *OrganizationHandler) Suspend(c *gin.Context) {
	h.transitionWithNote(c, h.orgs.Suspend)
}

// POST /api/organizations/:id/withdraw
func (h *OrganizationHandler) Withdraw(c *gin.Context) {
	h.transitionWithNote(c, h.orgs.Withdraw)
}

// POST /api/organizations/:id/members
func (h *OrganizationHandler) InviteMember(c *gin.Context) {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_organization_id", err)
		return
	}
	var req struct {
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Role      string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	membership, tempPassword, err := h.orgs.InviteMember(c.Request.Context(), orgID, services.InviteMemberInput{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      req.Role,
	})
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	payload := gin.H{"membership": membership}
	if tempPassword != "" {
		payload["temporary_password"] = tempPassword
	}
	response.RespondOK(c, payload)
}

func (h *OrganizationHandler) transition(c *gin.Context, fn func(ctx context.Context, orgID uuid.UUID) (*types.Organization, error)) {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_organization_id", err)
		return
	}
	org, err := fn(c.Request.Context(), orgID)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"organization": org})
}

func (h *OrganizationHandler) transitionWithNote(c *gin.Context, fn func(ctx context.Context, orgID uuid.UUID, note string) (*types.Organization, error)) {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_organization_id", err)
		return
	}
	var req struct {
		Note string `json:"note"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	org, err := fn(c.Request.Context(), orgID, req.Note)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"organization": org})
}
