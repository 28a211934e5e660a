package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/directory"
	"messaging-service/internal/messaging"
	"messaging-service/internal/models"
	"messaging-service/internal/notify"
	"messaging-service/internal/repositories"
)

// ConversationHandler serves the chat list and message history the
// reconciliation layer refetches on every (re)connect.
type ConversationHandler struct {
	convRepo   repositories.ConversationRepository
	msgRepo    repositories.MessageRepository
	pipeline   *messaging.Service
	dispatcher *notify.Dispatcher
	directory  directory.Directory
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(convRepo repositories.ConversationRepository, msgRepo repositories.MessageRepository, pipeline *messaging.Service, dispatcher *notify.Dispatcher, dir directory.Directory) *ConversationHandler {
	return &ConversationHandler{
		convRepo:   convRepo,
		msgRepo:    msgRepo,
		pipeline:   pipeline,
		dispatcher: dispatcher,
		directory:  dir,
	}
}

// List returns the caller's conversations with partner names resolved
// through the account directory.
func (h *ConversationHandler) List(c *gin.Context) {
	userID := c.GetInt("userID")

	summaries, err := h.convRepo.List(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	partnerIDs := make([]int, 0, len(summaries))
	for _, s := range summaries {
		partnerIDs = append(partnerIDs, s.PartnerID)
	}

	accounts, err := h.directory.BulkAccounts(c.Request.Context(), partnerIDs)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load account info"})
		return
	}

	nameByID := map[int]string{}
	for _, a := range accounts {
		nameByID[a.ID] = a.DisplayName
	}
	for i := range summaries {
		summaries[i].PartnerName = nameByID[summaries[i].PartnerID]
	}

	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

// Start creates or returns the conversation with another account.
func (h *ConversationHandler) Start(c *gin.Context) {
	var req struct {
		ParticipantID int `json:"participant_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	if userID == req.ParticipantID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot start a conversation with yourself"})
		return
	}

	conv, err := h.pipeline.GetOrCreateConversation(c.Request.Context(), userID, req.ParticipantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create conversation"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversation_id": conv.ID})
}

// Messages returns one history page, oldest first, keyed by before_id.
func (h *ConversationHandler) Messages(c *gin.Context) {
	conversationID, err := strconv.Atoi(c.Param("conversation_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	userID := c.GetInt("userID")
	member, err := h.convRepo.IsParticipant(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
		return
	}

	beforeID, _ := strconv.Atoi(c.DefaultQuery("before_id", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	msgs, err := h.msgRepo.HistoryPage(c.Request.Context(), conversationID, beforeID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage accepts a message over REST; it runs the same pipeline as the
// socket path, so ordering and notification routing are identical.
func (h *ConversationHandler) PostMessage(c *gin.Context) {
	conversationID, err := strconv.Atoi(c.Param("conversation_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	msg, err := h.pipeline.Send(c.Request.Context(), messaging.SendRequest{
		SenderID:       userID,
		ConversationID: conversationID,
		Content:        req.Content,
	}, nil)
	if err != nil {
		c.JSON(statusForPipelineError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// MarkRead flags the conversation read for the caller; the REST twin of
// the mark_messages_read socket event.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	conversationID, err := strconv.Atoi(c.Param("conversation_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	userID := c.GetInt("userID")
	member, err := h.convRepo.IsParticipant(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
		return
	}

	if err := h.dispatcher.MarkConversationRead(c.Request.Context(), userID, conversationID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not mark read"})
		return
	}

	c.Status(http.StatusNoContent)
}

func statusForPipelineError(err error) int {
	switch {
	case errors.Is(err, messaging.ErrEmptyContent), errors.Is(err, messaging.ErrInvalidTarget):
		return http.StatusBadRequest
	case errors.Is(err, messaging.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, messaging.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusServiceUnavailable
	}
}
