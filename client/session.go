// Package client implements the connection lifecycle a front end needs on
// top of the websocket protocol: authentication, reconnection with backoff,
// state reconciliation after every (re)connect, and an optimistic send
// lifecycle keyed by client-generated temp ids.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"messaging-service/internal/models"
)

var ErrSessionClosed = errors.New("session closed")

// Config controls a Session.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://host:8083/ws.
	URL string
	// APIBaseURL is the REST endpoint used for reconciliation fetches after
	// each successful connect. Empty disables the fetches.
	APIBaseURL string
	// Token is the bearer credential presented on every connect.
	Token string

	ReconnectMin time.Duration
	ReconnectMax time.Duration
	// PendingTimeout is how long an optimistic send waits for its server
	// echo before being reported as failed.
	PendingTimeout time.Duration

	Logger zerolog.Logger
}

// Handlers receives protocol events. Nil handlers are skipped. Callbacks run
// on the session's read goroutine and must not block.
type Handlers struct {
	// OnMessage fires for messages from other participants.
	OnMessage func(models.MessageEvent)
	// OnMessageConfirmed fires when the server echo for an optimistic send
	// arrives; the server-assigned message replaces the pending entry.
	OnMessageConfirmed func(tempID string, msg models.Message)
	// OnMessageFailed fires when a send errors or times out.
	OnMessageFailed func(tempID string, code string, reason string)

	OnChatCreated  func(models.Conversation)
	OnPresence     func(accountID int, online bool, lastSeen string)
	OnOnlineSet    func(accountIDs []int)
	OnTyping       func(conversationID int, accountID int, typing bool)
	OnNotification func(models.Notification)
	OnUnread       func(models.UnreadCountEvent)

	// OnConversations delivers the reconciliation fetch of the chat list
	// after each successful connect; locally cached lists must be replaced,
	// not merged.
	OnConversations func([]models.ConversationSummary)
}

type pendingMessage struct {
	tempID string
	timer  *time.Timer
}

// Session is one logical client connection that survives transport drops.
// Server state always wins: on every (re)connect the online set, room
// memberships and unread counters are rebuilt from what the server sends,
// never merged with stale local state.
type Session struct {
	cfg      Config
	handlers Handlers
	http     *http.Client
	log      zerolog.Logger

	wmu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	online  map[int]struct{}
	joined  map[int]struct{}
	pending map[string]*pendingMessage
	closed  bool

	// connectOK records whether the current transport got past
	// authentication; a failed handshake keeps the backoff growing.
	connectOK bool
}

// NewSession constructs a Session; Run starts it.
func NewSession(cfg Config, handlers Handlers) *Session {
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	if cfg.PendingTimeout <= 0 {
		cfg.PendingTimeout = 10 * time.Second
	}
	return &Session{
		cfg:      cfg,
		handlers: handlers,
		http:     &http.Client{Timeout: 10 * time.Second},
		log:      cfg.Logger,
		online:   make(map[int]struct{}),
		joined:   make(map[int]struct{}),
		pending:  make(map[string]*pendingMessage),
	}
}

// Run connects and keeps the session alive until the context is cancelled,
// reconnecting with exponential backoff. The backoff resets after every
// connect that gets past authentication.
func (s *Session) Run(ctx context.Context) error {
	backoff := s.cfg.ReconnectMin
	for {
		err := s.connectAndServe(ctx)
		if errors.Is(err, ErrSessionClosed) || s.isClosed() {
			return ErrSessionClosed
		}
		if ctx.Err() != nil {
			s.shutdown()
			return ctx.Err()
		}
		if s.lastConnectOK() {
			backoff = s.cfg.ReconnectMin
		}
		s.log.Warn().Err(err).Dur("backoff", backoff).Msg("connection lost, reconnecting")

		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.cfg.ReconnectMax {
			backoff = s.cfg.ReconnectMax
		}
	}
}

var errNotConnected = errors.New("not connected")

// connectAndServe runs one transport lifetime: dial, authenticate, rejoin,
// reconcile, then pump events until the connection dies.
func (s *Session) connectAndServe(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrSessionClosed
	}
	s.conn = conn
	s.connectOK = false
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	if err := s.write(models.ClientEvent{Type: models.EventAuthenticate, Token: s.cfg.Token}); err != nil {
		_ = conn.Close()
		return err
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			s.conn = nil
			s.mu.Unlock()
			return err
		}
		s.handleFrame(payload)
	}
}

func (s *Session) lastConnectOK() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectOK
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close terminates the session permanently.
func (s *Session) Close() {
	s.shutdown()
}

func (s *Session) shutdown() {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	for _, p := range s.pending {
		p.timer.Stop()
	}
	s.pending = make(map[string]*pendingMessage)
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// JoinConversation subscribes to a room; the membership is remembered and
// replayed on every reconnect.
func (s *Session) JoinConversation(conversationID int) error {
	s.mu.Lock()
	s.joined[conversationID] = struct{}{}
	s.mu.Unlock()
	return s.write(models.ClientEvent{Type: models.EventJoinChat, ConversationID: conversationID})
}

// LeaveConversation unsubscribes from a room.
func (s *Session) LeaveConversation(conversationID int) error {
	s.mu.Lock()
	delete(s.joined, conversationID)
	s.mu.Unlock()
	return s.write(models.ClientEvent{Type: models.EventLeaveChat, ConversationID: conversationID})
}

// SendMessage sends optimistically and returns the temp id identifying the
// pending entry. The message is confirmed via OnMessageConfirmed or fails
// via OnMessageFailed; it is never silently lost.
func (s *Session) SendMessage(conversationID, recipientID int, content string) (string, error) {
	tempID := uuid.NewString()

	p := &pendingMessage{tempID: tempID}
	p.timer = time.AfterFunc(s.cfg.PendingTimeout, func() {
		s.failPending(tempID, "timeout", "no acknowledgment before deadline")
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		p.timer.Stop()
		return "", ErrSessionClosed
	}
	s.pending[tempID] = p
	s.mu.Unlock()

	err := s.write(models.ClientEvent{
		Type:           models.EventSendMessage,
		ConversationID: conversationID,
		RecipientID:    recipientID,
		Content:        content,
		ClientTempID:   tempID,
	})
	if err != nil {
		s.failPending(tempID, "transport", err.Error())
		return tempID, err
	}
	return tempID, nil
}

// StartTyping signals typing in a conversation.
func (s *Session) StartTyping(conversationID int) error {
	return s.write(models.ClientEvent{Type: models.EventTypingStart, ConversationID: conversationID})
}

// StopTyping clears the typing signal.
func (s *Session) StopTyping(conversationID int) error {
	return s.write(models.ClientEvent{Type: models.EventTypingStop, ConversationID: conversationID})
}

// MarkRead marks a conversation read.
func (s *Session) MarkRead(conversationID int) error {
	return s.write(models.ClientEvent{Type: models.EventMarkMessagesRead, ConversationID: conversationID})
}

// Online returns a snapshot of the accounts currently known online.
func (s *Session) Online() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.online))
	for id := range s.online {
		ids = append(ids, id)
	}
	return ids
}

// IsOnline reports whether an account is in the current online set.
func (s *Session) IsOnline(accountID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.online[accountID]
	return ok
}

func (s *Session) write(event models.ClientEvent) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *Session) handleFrame(payload []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		s.log.Debug().Err(err).Msg("malformed server frame")
		return
	}

	switch head.Type {
	case models.EventOnlineUsers:
		var event models.OnlineUsersEvent
		if json.Unmarshal(payload, &event) != nil {
			return
		}
		s.handleConnected(event.AccountIDs)

	case models.EventUserOnline, models.EventUserOffline:
		var event models.PresenceEvent
		if json.Unmarshal(payload, &event) != nil {
			return
		}
		online := head.Type == models.EventUserOnline
		s.mu.Lock()
		if online {
			s.online[event.AccountID] = struct{}{}
		} else {
			delete(s.online, event.AccountID)
		}
		s.mu.Unlock()
		if s.handlers.OnPresence != nil {
			s.handlers.OnPresence(event.AccountID, online, event.LastSeen)
		}

	case models.EventNewMessage:
		var event models.MessageEvent
		if json.Unmarshal(payload, &event) != nil {
			return
		}
		if event.ClientTempID != "" {
			s.confirmPending(event.ClientTempID, event.Message)
			return
		}
		if s.handlers.OnMessage != nil {
			s.handlers.OnMessage(event)
		}

	case models.EventChatCreated:
		var event models.ChatCreatedEvent
		if json.Unmarshal(payload, &event) != nil {
			return
		}
		if s.handlers.OnChatCreated != nil {
			s.handlers.OnChatCreated(event.Conversation)
		}

	case models.EventUserTyping, models.EventUserStopTyping:
		var event models.TypingEvent
		if json.Unmarshal(payload, &event) != nil {
			return
		}
		if s.handlers.OnTyping != nil {
			s.handlers.OnTyping(event.ConversationID, event.AccountID, head.Type == models.EventUserTyping)
		}

	case models.EventNewNotification:
		var event models.NotificationEvent
		if json.Unmarshal(payload, &event) != nil {
			return
		}
		if s.handlers.OnNotification != nil {
			s.handlers.OnNotification(event.Notification)
		}

	case models.EventUnreadCount:
		var event models.UnreadCountEvent
		if json.Unmarshal(payload, &event) != nil {
			return
		}
		if s.handlers.OnUnread != nil {
			s.handlers.OnUnread(event)
		}

	case models.EventError:
		var event models.ErrorEvent
		if json.Unmarshal(payload, &event) != nil {
			return
		}
		if event.ClientTempID != "" {
			s.failPending(event.ClientTempID, event.Code, event.Message)
			return
		}
		s.log.Warn().Str("action", event.Action).Str("code", event.Code).Msg("server rejected action")
	}
}

// handleConnected runs once per transport lifetime, on the presence snapshot
// that follows a successful authenticate: replace the online set wholesale,
// rejoin rooms, and refetch authoritative REST state.
func (s *Session) handleConnected(onlineIDs []int) {
	s.mu.Lock()
	s.connectOK = true
	s.online = make(map[int]struct{}, len(onlineIDs))
	for _, id := range onlineIDs {
		s.online[id] = struct{}{}
	}
	joined := make([]int, 0, len(s.joined))
	for id := range s.joined {
		joined = append(joined, id)
	}
	s.mu.Unlock()

	if s.handlers.OnOnlineSet != nil {
		s.handlers.OnOnlineSet(onlineIDs)
	}

	for _, conversationID := range joined {
		_ = s.write(models.ClientEvent{Type: models.EventJoinChat, ConversationID: conversationID})
	}

	s.reconcile()
}

// reconcile refetches the chat list and unread total over REST and hands
// them to the application to replace its local copies.
func (s *Session) reconcile() {
	if s.cfg.APIBaseURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.handlers.OnConversations != nil {
		var body struct {
			Conversations []models.ConversationSummary `json:"conversations"`
		}
		if err := s.getJSON(ctx, "/conversations", &body); err != nil {
			s.log.Warn().Err(err).Msg("conversation reconcile fetch failed")
		} else {
			s.handlers.OnConversations(body.Conversations)
		}
	}

	if s.handlers.OnUnread != nil {
		var body struct {
			Total int `json:"total"`
		}
		if err := s.getJSON(ctx, "/notifications/unread", &body); err != nil {
			s.log.Warn().Err(err).Msg("unread reconcile fetch failed")
		} else {
			s.handlers.OnUnread(models.UnreadCountEvent{Type: models.EventUnreadCount, Total: body.Total})
		}
	}
}

func (s *Session) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.APIBaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *Session) confirmPending(tempID string, msg models.Message) {
	s.mu.Lock()
	p, ok := s.pending[tempID]
	if ok {
		p.timer.Stop()
		delete(s.pending, tempID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if s.handlers.OnMessageConfirmed != nil {
		s.handlers.OnMessageConfirmed(tempID, msg)
	}
}

func (s *Session) failPending(tempID, code, reason string) {
	s.mu.Lock()
	p, ok := s.pending[tempID]
	if ok {
		p.timer.Stop()
		delete(s.pending, tempID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if s.handlers.OnMessageFailed != nil {
		s.handlers.OnMessageFailed(tempID, code, reason)
	}
}
