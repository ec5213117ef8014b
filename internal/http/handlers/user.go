package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/skyassure/peerreview-backend/internal/http/response"
	"github.com/skyassure/peerreview-backend/internal/services"
)

const maxAvatarBytes = 5 << 20

type UserHandler struct {
	users services.UserService
}

func NewUserHandler(users services.UserService) *UserHandler {
	return &UserHandler{users: users}
}

// GET /api/me
func (h *UserHandler) Me(c *gin.Context) {
	user, err := h.users.GetMe(c.Request.Context())
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"user": user})
}

// PATCH /api/me
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	var req struct {
		FirstName          *string `json:"first_name"`
		LastName           *string `json:"last_name"`
		Locale             *string `json:"locale"`
		EmailNotifications *bool   `json:"email_notifications"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	user, err := h.users.UpdateProfile(c.Request.Context(), services.UpdateProfileInput{
		FirstName:          req.FirstName,
		LastName:           req.LastName,
		Locale:             req.Locale,
		EmailNotifications: req.EmailNotifications,
	})
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"user": user})
}

// POST /api/me/avatar
func (h *UserHandler) UploadAvatar(c *gin.Context) {
	file, _, err := c.Request.FormFile("avatar")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_upload", err)
		return
	}
	defer file.Close()
	raw, err := io.ReadAll(io.LimitReader(file, maxAvatarBytes+1))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_upload", err)
		return
	}
	if len(raw) > maxAvatarBytes {
		response.RespondError(c, http.StatusRequestEntityTooLarge, "avatar_too_large", nil)
		return
	}
	user, err := h.users.UploadAvatar(c.Request.Context(), raw)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"user": user})
}
