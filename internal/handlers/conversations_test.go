package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/directory"
	"messaging-service/internal/messaging"
	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/notify"
	"messaging-service/internal/presence"
	"messaging-service/internal/rooms"
)

type convFixture struct {
	convRepo  *mocks.ConversationRepositoryMock
	msgRepo   *mocks.MessageRepositoryMock
	notifRepo *mocks.NotificationRepositoryMock
	publisher *mocks.PublisherMock
	dir       *mocks.DirectoryMock
	router    *gin.Engine
}

func newConvFixture(t *testing.T) *convFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	notifRepo := new(mocks.NotificationRepositoryMock)
	publisher := new(mocks.PublisherMock)
	dir := new(mocks.DirectoryMock)

	registry := presence.NewRegistry(convRepo, nil, time.Second, zerolog.Nop())
	roomMgr := rooms.NewManager(zerolog.Nop())
	dispatcher := notify.NewDispatcher(registry, notifRepo, msgRepo, publisher, zerolog.Nop())
	pipeline := messaging.NewService(convRepo, msgRepo, roomMgr, dispatcher, publisher, 1, 0, zerolog.Nop())

	handler := NewConversationHandler(convRepo, msgRepo, pipeline, dispatcher, dir)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	r.GET("/conversations", handler.List)
	r.POST("/conversations/start", handler.Start)
	r.GET("/conversations/:conversation_id/messages", handler.Messages)
	r.POST("/conversations/:conversation_id/messages", handler.PostMessage)
	r.POST("/conversations/:conversation_id/read", handler.MarkRead)

	return &convFixture{
		convRepo:  convRepo,
		msgRepo:   msgRepo,
		notifRepo: notifRepo,
		publisher: publisher,
		dir:       dir,
		router:    r,
	}
}

func TestListConversationsSuccess(t *testing.T) {
	f := newConvFixture(t)
	f.convRepo.On("List", mock.Anything, 1).
		Return([]models.ConversationSummary{{ConversationID: 3, PartnerID: 2, UnreadCount: 1}}, nil).Once()
	f.dir.On("BulkAccounts", mock.Anything, []int{2}).
		Return([]directory.Account{{ID: 2, DisplayName: "bob"}}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, "bob", resp.Conversations[0].PartnerName)

	f.convRepo.AssertExpectations(t)
	f.dir.AssertExpectations(t)
}

func TestListConversationsDirectoryFailure(t *testing.T) {
	f := newConvFixture(t)
	f.convRepo.On("List", mock.Anything, 1).
		Return([]models.ConversationSummary{{ConversationID: 3, PartnerID: 2}}, nil).Once()
	f.dir.On("BulkAccounts", mock.Anything, []int{2}).Return(nil, assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestStartConversationSuccess(t *testing.T) {
	f := newConvFixture(t)
	f.convRepo.On("GetOrCreate", mock.Anything, 1, 2).
		Return(models.Conversation{ID: 10, ParticipantLow: 1, ParticipantHi: 2}, false, nil).Once()
	f.convRepo.On("PartnerIDs", mock.Anything, mock.Anything).Return([]int{}, nil).Maybe()

	req := httptest.NewRequest(http.MethodPost, "/conversations/start", bytes.NewBufferString(`{"participant_id":2}`))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]int
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 10, resp["conversation_id"])
	f.convRepo.AssertExpectations(t)
}

func TestStartConversationWithSelf(t *testing.T) {
	f := newConvFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/conversations/start", bytes.NewBufferString(`{"participant_id":1}`))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetMessagesSuccess(t *testing.T) {
	f := newConvFixture(t)
	f.convRepo.On("IsParticipant", mock.Anything, 5, 1).Return(true, nil).Once()
	f.msgRepo.On("HistoryPage", mock.Anything, 5, 0, 50).
		Return([]models.Message{{ID: 1, ConversationID: 5, SenderID: 2, Content: "hi"}}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/5/messages", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	f.msgRepo.AssertExpectations(t)
}

func TestGetMessagesForbidden(t *testing.T) {
	f := newConvFixture(t)
	f.convRepo.On("IsParticipant", mock.Anything, 5, 1).Return(false, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/5/messages", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetMessagesInvalidID(t *testing.T) {
	f := newConvFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/conversations/abc/messages", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostMessageSuccess(t *testing.T) {
	f := newConvFixture(t)
	conv := models.Conversation{ID: 5, ParticipantLow: 1, ParticipantHi: 2}
	msg := models.Message{ID: 9, ConversationID: 5, SenderID: 1, Content: "hi"}

	f.convRepo.On("Get", mock.Anything, 5).Return(conv, nil).Once()
	f.msgRepo.On("Create", mock.Anything, 5, 1, "hi").Return(msg, nil).Once()
	f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.notifRepo.On("Create", mock.Anything, 2, models.NotificationKindMessage, mock.Anything).
		Return(models.Notification{ID: 1, RecipientID: 2}, nil).Once()
	f.notifRepo.On("UnreadTotal", mock.Anything, 2).Return(1, nil).Once()
	f.msgRepo.On("UnreadCount", mock.Anything, 5, 2).Return(1, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations/5/messages", bytes.NewBufferString(`{"content":"hi"}`))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var got models.Message
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, 9, got.ID)
	f.msgRepo.AssertExpectations(t)
}

func TestPostMessageNotParticipant(t *testing.T) {
	f := newConvFixture(t)
	conv := models.Conversation{ID: 5, ParticipantLow: 2, ParticipantHi: 3}
	f.convRepo.On("Get", mock.Anything, 5).Return(conv, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations/5/messages", bytes.NewBufferString(`{"content":"hi"}`))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMarkReadSuccess(t *testing.T) {
	f := newConvFixture(t)
	f.convRepo.On("IsParticipant", mock.Anything, 5, 1).Return(true, nil).Once()
	f.msgRepo.On("MarkConversationRead", mock.Anything, 5, 1).Return(2, nil).Once()
	f.notifRepo.On("MarkConversationNotificationsRead", mock.Anything, 1, 5).Return(nil).Once()
	f.notifRepo.On("UnreadTotal", mock.Anything, 1).Return(0, nil).Once()
	f.msgRepo.On("UnreadCount", mock.Anything, 5, 1).Return(0, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations/5/read", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	f.msgRepo.AssertExpectations(t)
	f.notifRepo.AssertExpectations(t)
}
