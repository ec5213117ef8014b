package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/skyassure/peerreview-backend/internal/http/response"
	"github.com/skyassure/peerreview-backend/internal/platform/ctxutil"
	"github.com/skyassure/peerreview-backend/internal/services"
	"github.com/skyassure/peerreview-backend/internal/sse"
)

type NotificationHandler struct {
	notifications services.NotificationService
	hub           *sse.Hub
}

func NewNotificationHandler(notifications services.NotificationService, hub *sse.Hub) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, hub: hub}
}

// GET /api/notifications?unread=true&limit=50
func (h *NotificationHandler) List(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}
	unreadOnly := c.Query("unread") == "true"
	limit, _ := strconv.Atoi(c.Query("limit"))
	rows, err := h.notifications.ListForUser(c.Request.Context(), userID, unreadOnly, limit)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"notifications": rows})
}

// GET /api/notifications/unread-count
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}
	count, err := h.notifications.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"unread": count})
}

// POST /api/notifications/:id/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}
	notificationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_notification_id", err)
		return
	}
	if err := h.notifications.MarkRead(c.Request.Context(), userID, notificationID); err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

// POST /api/notifications/read-all
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}
	n, err := h.notifications.MarkAllRead(c.Request.Context(), userID)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"marked": n})
}

// GET /api/notifications/stream
//
// Server-sent events. The client subscribes to its own channel only; the
// token rides in the query string because EventSource cannot set headers.
func (h *NotificationHandler) Stream(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}
	client := h.hub.NewClient(userID)
	h.hub.Subscribe(client, sse.UserChannel(userID))
	defer h.hub.CloseClient(client)
	h.hub.ServeHTTP(c.Writer, c.Request, client)
}

func requestUserID(c *gin.Context) (uuid.UUID, bool) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return uuid.Nil, false
	}
	return rd.UserID, true
}
