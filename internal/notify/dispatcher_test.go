package notify

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/presence"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
)

type fakeConn struct {
	id        string
	accountID int

	mu     sync.Mutex
	events []any
}

func (f *fakeConn) ConnID() string { return f.id }
func (f *fakeConn) AccountID() int { return f.accountID }
func (f *fakeConn) Send(event any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return true
}

func (f *fakeConn) received() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]any, len(f.events))
	copy(out, f.events)
	return out
}

type dispatcherFixture struct {
	notifRepo  *mocks.NotificationRepositoryMock
	msgRepo    *mocks.MessageRepositoryMock
	publisher  *mocks.PublisherMock
	registry   *presence.Registry
	dispatcher *Dispatcher
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	notifRepo := new(mocks.NotificationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	publisher := new(mocks.PublisherMock)
	convRepo := new(mocks.ConversationRepositoryMock)
	convRepo.On("PartnerIDs", mock.Anything, mock.Anything).Return([]int{}, nil).Maybe()

	registry := presence.NewRegistry(convRepo, nil, time.Second, zerolog.Nop())
	dispatcher := NewDispatcher(registry, notifRepo, msgRepo, publisher, zerolog.Nop())
	return &dispatcherFixture{
		notifRepo:  notifRepo,
		msgRepo:    msgRepo,
		publisher:  publisher,
		registry:   registry,
		dispatcher: dispatcher,
	}
}

func TestNotifyPushesToAllConnections(t *testing.T) {
	f := newDispatcherFixture(t)
	desktop := &fakeConn{id: "c1", accountID: 2}
	mobile := &fakeConn{id: "c2", accountID: 2}
	f.registry.ConnectionAuthenticated(context.Background(), desktop)
	f.registry.ConnectionAuthenticated(context.Background(), mobile)

	notif := models.Notification{ID: 3, RecipientID: 2, Kind: models.NotificationKindFollow}
	f.notifRepo.On("Create", mock.Anything, 2, models.NotificationKindFollow, mock.Anything).Return(notif, nil).Once()
	f.publisher.On("Publish", mock.Anything, rabbitmq.KeyNotificationPushed, mock.Anything).Return(nil).Once()
	f.notifRepo.On("UnreadTotal", mock.Anything, 2).Return(4, nil).Once()

	got, err := f.dispatcher.Notify(context.Background(), 2, models.NotificationKindFollow, json.RawMessage(`{"follower_id":9}`))
	require.NoError(t, err)
	assert.Equal(t, 3, got.ID)

	// Every live connection of the account converges on the same state: the
	// notification plus the full unread total, not a delta.
	for _, conn := range []*fakeConn{desktop, mobile} {
		events := conn.received()
		require.Len(t, events, 2)
		ne, ok := events[0].(models.NotificationEvent)
		require.True(t, ok)
		assert.Equal(t, 3, ne.Notification.ID)
		ue, ok := events[1].(models.UnreadCountEvent)
		require.True(t, ok)
		assert.Equal(t, 4, ue.Total)
		assert.Zero(t, ue.ConversationID)
	}
	f.notifRepo.AssertExpectations(t)
}

func TestNotifyPersistFailure(t *testing.T) {
	f := newDispatcherFixture(t)
	f.notifRepo.On("Create", mock.Anything, 2, models.NotificationKindFollow, mock.Anything).
		Return(models.Notification{}, assert.AnError).Once()

	_, err := f.dispatcher.Notify(context.Background(), 2, models.NotificationKindFollow, nil)
	require.Error(t, err)
	f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestNotifyOfflineRecipientStillPersists(t *testing.T) {
	f := newDispatcherFixture(t)

	notif := models.Notification{ID: 3, RecipientID: 2, Kind: models.NotificationKindConnectionRequest}
	f.notifRepo.On("Create", mock.Anything, 2, models.NotificationKindConnectionRequest, mock.Anything).Return(notif, nil).Once()
	f.publisher.On("Publish", mock.Anything, rabbitmq.KeyNotificationPushed, mock.Anything).Return(nil).Once()
	f.notifRepo.On("UnreadTotal", mock.Anything, 2).Return(1, nil).Once()

	_, err := f.dispatcher.Notify(context.Background(), 2, models.NotificationKindConnectionRequest, nil)
	require.NoError(t, err)
	f.notifRepo.AssertExpectations(t)
}

func TestMarkConversationReadBroadcastsCounters(t *testing.T) {
	f := newDispatcherFixture(t)
	conn := &fakeConn{id: "c1", accountID: 2}
	f.registry.ConnectionAuthenticated(context.Background(), conn)

	f.msgRepo.On("MarkConversationRead", mock.Anything, 5, 2).Return(3, nil).Once()
	f.notifRepo.On("MarkConversationNotificationsRead", mock.Anything, 2, 5).Return(nil).Once()
	f.notifRepo.On("UnreadTotal", mock.Anything, 2).Return(0, nil).Once()
	f.msgRepo.On("UnreadCount", mock.Anything, 5, 2).Return(0, nil).Once()

	require.NoError(t, f.dispatcher.MarkConversationRead(context.Background(), 2, 5))

	events := conn.received()
	require.Len(t, events, 1)
	ue, ok := events[0].(models.UnreadCountEvent)
	require.True(t, ok)
	assert.Zero(t, ue.Total)
	assert.Equal(t, 5, ue.ConversationID)
	assert.Zero(t, ue.Count)
	f.msgRepo.AssertExpectations(t)
	f.notifRepo.AssertExpectations(t)
}

func TestMarkNotificationReadNotFound(t *testing.T) {
	f := newDispatcherFixture(t)
	f.notifRepo.On("MarkRead", mock.Anything, 2, 99).Return(repositories.ErrNotificationNotFound).Once()

	err := f.dispatcher.MarkNotificationRead(context.Background(), 2, 99)
	require.ErrorIs(t, err, repositories.ErrNotificationNotFound)
}

func TestNotifyMessageCarriesPreviewAndCounts(t *testing.T) {
	f := newDispatcherFixture(t)
	conn := &fakeConn{id: "c1", accountID: 2}
	f.registry.ConnectionAuthenticated(context.Background(), conn)

	msg := models.Message{ID: 9, ConversationID: 5, SenderID: 1, Content: "hello there"}
	notif := models.Notification{ID: 3, RecipientID: 2, Kind: models.NotificationKindMessage}

	f.notifRepo.On("Create", mock.Anything, 2, models.NotificationKindMessage, mock.MatchedBy(func(p json.RawMessage) bool {
		var payload map[string]any
		if json.Unmarshal(p, &payload) != nil {
			return false
		}
		return payload["conversation_id"] == float64(5) && payload["preview"] == "hello there"
	})).Return(notif, nil).Once()
	f.publisher.On("Publish", mock.Anything, rabbitmq.KeyNotificationPushed, mock.Anything).Return(nil).Once()
	f.notifRepo.On("UnreadTotal", mock.Anything, 2).Return(2, nil).Once()
	f.msgRepo.On("UnreadCount", mock.Anything, 5, 2).Return(1, nil).Once()

	require.NoError(t, f.dispatcher.NotifyMessage(context.Background(), 2, msg))

	events := conn.received()
	require.Len(t, events, 2)
	ue, ok := events[1].(models.UnreadCountEvent)
	require.True(t, ok)
	assert.Equal(t, 2, ue.Total)
	assert.Equal(t, 1, ue.Count)
	f.notifRepo.AssertExpectations(t)
}

func TestPreviewTruncatesOnRuneBoundary(t *testing.T) {
	short := "bonjour"
	assert.Equal(t, short, preview(short))

	// 60 two-byte runes is exactly the cap; one more forces a cut that
	// must not land mid-rune.
	exact := strings.Repeat("é", 60)
	assert.Equal(t, exact, preview(exact))

	long := strings.Repeat("é", 61)
	p := preview(long)
	assert.True(t, utf8.ValidString(p))
	assert.LessOrEqual(t, len(p), 120)
	assert.Equal(t, strings.Repeat("é", 60), p)

	wide := strings.Repeat("a", 119) + "🌍"
	p = preview(wide)
	assert.True(t, utf8.ValidString(p))
	assert.Equal(t, strings.Repeat("a", 119), p)
}
