package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/skyassure/peerreview-backend/internal/http/response"
	"github.com/skyassure/peerreview-backend/internal/services"
)

type StatisticsHandler struct {
	stats services.StatisticsService
}

func NewStatisticsHandler(stats services.StatisticsService) *StatisticsHandler {
	return &StatisticsHandler{stats: stats}
}

// GET /api/statistics/programme?cycle_year=2026
func (h *StatisticsHandler) ProgrammeOverview(c *gin.Context) {
	cycleYear, _ := strconv.Atoi(c.Query("cycle_year"))
	overview, err := h.stats.ProgrammeOverview(c.Request.Context(), cycleYear)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, overview)
}

// GET /api/organizations/:id/dashboard?cycle_year=2026
func (h *StatisticsHandler) OrgDashboard(c *gin.Context) {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_organization_id", err)
		return
	}
	cycleYear, _ := strconv.Atoi(c.Query("cycle_year"))
	dash, err := h.stats.OrgDashboard(c.Request.Context(), orgID, cycleYear)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, dash)
}

// GET /api/statistics/participation
func (h *StatisticsHandler) Participation(c *gin.Context) {
	report, err := h.stats.Participation(c.Request.Context())
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, report)
}
