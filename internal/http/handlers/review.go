package handlers

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/skyassure/peerreview-backend/internal/http/response"
	"github.com/skyassure/peerreview-backend/internal/repos"
	"github.com/skyassure/peerreview-backend/internal/services"
)

type ReviewHandler struct {
	reviews services.ReviewService
}

func NewReviewHandler(reviews services.ReviewService) *ReviewHandler {
	return &ReviewHandler{reviews: reviews}
}

// POST /api/reviews
func (h *ReviewHandler) CreateDraft(c *gin.Context) {
	var req struct {
		HostOrganizationID uuid.UUID `json:"host_organization_id"`
		QuestionnaireID    uuid.UUID `json:"questionnaire_id"`
		CycleYear          int       `json:"cycle_year"`
		Language           string    `json:"language"`
		Location           string    `json:"location"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	review, err := h.reviews.CreateDraft(c.Request.Context(), services.CreateReviewInput{
		HostOrganizationID: req.HostOrganizationID,
		QuestionnaireID:    req.QuestionnaireID,
		CycleYear:          req.CycleYear,
		Language:           req.Language,
		Location:           req.Location,
	})
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"review": review})
}

// POST /api/reviews/:id/schedule
func (h *ReviewHandler) Schedule(c *gin.Context) {
	reviewID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_review_id", err)
		return
	}
	var req struct {
		StartsOn time.Time `json:"starts_on"`
		EndsOn   time.Time `json:"ends_on"`
		Scope    []string  `json:"scope"`
		Location string    `json:"location"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	review, err := h.reviews.Schedule(c.Request.Context(), reviewID, services.ScheduleReviewInput{
		StartsOn: req.StartsOn,
		EndsOn:   req.EndsOn,
		Scope:    req.Scope,
		Location: req.Location,
	})
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"review": review})
}

// POST /api/reviews/:id/transition
func (h *ReviewHandler) Transition(c *gin.Context) {
	reviewID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_review_id", err)
		return
	}
	var req struct {
		Phase  string `json:"phase"`
		Force  bool   `json:"force"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	review, err := h.reviews.Transition(c.Request.Context(), reviewID, services.TransitionReviewInput{
		Phase:  req.Phase,
		Force:  req.Force,
		Reason: req.Reason,
	})
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"review": review})
}

// GET /api/reviews/:id
func (h *ReviewHandler) Get(c *gin.Context) {
	reviewID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_review_id", err)
		return
	}
	detail, err := h.reviews.Get(c.Request.Context(), reviewID)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, detail)
}

// GET /api/reviews/by-reference/:reference
func (h *ReviewHandler) GetByReference(c *gin.Context) {
	detail, err := h.reviews.GetByReference(c.Request.Context(), c.Param("reference"))
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, detail)
}

// GET /api/reviews?host_org=&phase=&cycle_year=
func (h *ReviewHandler) List(c *gin.Context) {
	filter := repos.ReviewListFilter{Phase: c.Query("phase")}
	if v := c.Query("host_org"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_organization_id", err)
			return
		}
		filter.HostOrganizationID = id
	}
	if v := c.Query("cycle_year"); v != "" {
		year, err := strconv.Atoi(v)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_cycle_year", err)
			return
		}
		filter.CycleYear = year
	}
	rows, err := h.reviews.List(c.Request.Context(), filter)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"reviews": rows})
}

// GET /api/reviews/upcoming
func (h *ReviewHandler) Upcoming(c *gin.Context) {
	rows, err := h.reviews.Upcoming(c.Request.Context())
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"reviews": rows})
}

// POST /api/reviews/:id/team
func (h *ReviewHandler) AssignTeamMember(c *gin.Context) {
	reviewID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_review_id", err)
		return
	}
	var req struct {
		UserID         uuid.UUID `json:"user_id"`
		OrganizationID uuid.UUID `json:"organization_id"`
		Role           string    `json:"role"`
		CoiOverride    bool      `json:"coi_override"`
		CoiNote        string    `json:"coi_note"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	member, err := h.reviews.AssignTeamMember(c.Request.Context(), reviewID, services.AssignTeamMemberInput{
		UserID:         req.UserID,
		OrganizationID: req.OrganizationID,
		Role:           req.Role,
		CoiOverride:    req.CoiOverride,
		CoiNote:        req.CoiNote,
	})
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"member": member})
}

// PATCH /api/reviews/:id/team/:userId
func (h *ReviewHandler) SetTeamRole(c *gin.Context) {
	reviewID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_review_id", err)
		return
	}
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_user_id", err)
		return
	}
	var req struct {
		Role string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	member, err := h.reviews.SetTeamRole(c.Request.Context(), reviewID, userID, req.Role)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"member": member})
}

// DELETE /api/reviews/:id/team/:userId
func (h *ReviewHandler) RemoveTeamMember(c *gin.Context) {
	reviewID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_review_id", err)
		return
	}
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_user_id", err)
		return
	}
	if err := h.reviews.RemoveTeamMember(c.Request.Context(), reviewID, userID); err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

// POST /api/reviews/:id/invitation
func (h *ReviewHandler) RespondInvitation(c *gin.Context) {
	reviewID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_review_id", err)
		return
	}
	var req struct {
		Accept bool `json:"accept"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	member, err := h.reviews.RespondInvitation(c.Request.Context(), reviewID, req.Accept)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"member": member})
}
