package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/models"
	"messaging-service/internal/notify"
	"messaging-service/internal/repositories"
)

// NotificationHandler serves the notification feed and the collaborator
// event intake.
type NotificationHandler struct {
	notifRepo  repositories.NotificationRepository
	dispatcher *notify.Dispatcher
}

// NewNotificationHandler builds a NotificationHandler.
func NewNotificationHandler(notifRepo repositories.NotificationRepository, dispatcher *notify.Dispatcher) *NotificationHandler {
	return &NotificationHandler{notifRepo: notifRepo, dispatcher: dispatcher}
}

// List returns the caller's newest notifications.
func (h *NotificationHandler) List(c *gin.Context) {
	userID := c.GetInt("userID")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	notifications, err := h.notifRepo.List(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load notifications"})
		return
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}

	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

// Unread returns the authoritative unread total the client reconciles
// against after a reconnect.
func (h *NotificationHandler) Unread(c *gin.Context) {
	userID := c.GetInt("userID")

	total, err := h.notifRepo.UnreadTotal(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load unread total"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"total": total})
}

// MarkRead flags one notification read and pushes the new total to the
// caller's live connections.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	notificationID, err := strconv.Atoi(c.Param("notification_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification id"})
		return
	}

	userID := c.GetInt("userID")
	if err := h.dispatcher.MarkNotificationRead(c.Request.Context(), userID, notificationID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrNotificationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "could not mark notification read"})
		return
	}

	c.Status(http.StatusNoContent)
}

// MarkAllRead clears the caller's whole notification feed.
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID := c.GetInt("userID")
	if err := h.dispatcher.MarkAllNotificationsRead(c.Request.Context(), userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not mark notifications read"})
		return
	}
	c.Status(http.StatusNoContent)
}

// IntakeEvent is the collaborator surface: the portal posts
// connection-request and follow events here and the dispatcher takes over.
func (h *NotificationHandler) IntakeEvent(c *gin.Context) {
	var req struct {
		RecipientID int             `json:"recipient_id" binding:"required"`
		Kind        string          `json:"kind" binding:"required"`
		Payload     json.RawMessage `json:"payload"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch req.Kind {
	case models.NotificationKindConnectionRequest, models.NotificationKindFollow, models.NotificationKindMessage:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown notification kind"})
		return
	}

	n, err := h.dispatcher.Notify(c.Request.Context(), req.RecipientID, req.Kind, req.Payload)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not dispatch event"})
		return
	}

	c.JSON(http.StatusCreated, n)
}
