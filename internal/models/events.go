package models

import "encoding/json"

// Client-to-server event types.
const (
	EventAuthenticate     = "authenticate"
	EventJoinChat         = "join_chat"
	EventLeaveChat        = "leave_chat"
	EventSendMessage      = "send_message"
	EventTypingStart      = "typing_start"
	EventTypingStop       = "typing_stop"
	EventMarkMessagesRead = "mark_messages_read"
)

// Server-to-client event types.
const (
	EventNewMessage      = "new_message"
	EventChatCreated     = "chat_created"
	EventUserOnline      = "user_online"
	EventUserOffline     = "user_offline"
	EventOnlineUsers     = "online_users"
	EventUserTyping      = "user_typing"
	EventUserStopTyping  = "user_stop_typing"
	EventNewNotification = "new_notification"
	EventUnreadCount     = "unread_count"
	EventError           = "error"
)

// ClientEvent is the flat inbound envelope read off a websocket connection.
type ClientEvent struct {
	Type           string `json:"type"`
	Token          string `json:"token,omitempty"`
	ConversationID int    `json:"conversation_id,omitempty"`
	RecipientID    int    `json:"recipient_id,omitempty"`
	Content        string `json:"content,omitempty"`
	ClientTempID   string `json:"client_temp_id,omitempty"`
}

// MessageEvent carries a persisted message to room members. ClientTempID is
// only set on the copy echoed to the sender so its optimistic entry can be
// reconciled.
type MessageEvent struct {
	Type           string  `json:"type"`
	ConversationID int     `json:"conversation_id"`
	Message        Message `json:"message"`
	ClientTempID   string  `json:"client_temp_id,omitempty"`
}

// ChatCreatedEvent announces a newly created conversation to both sides.
type ChatCreatedEvent struct {
	Type         string       `json:"type"`
	Conversation Conversation `json:"conversation"`
}

// PresenceEvent signals a single online/offline transition, scoped to
// conversation partners.
type PresenceEvent struct {
	Type      string `json:"type"`
	AccountID int    `json:"account_id"`
	LastSeen  string `json:"last_seen,omitempty"`
}

// OnlineUsersEvent is the full presence snapshot sent once after a
// successful authenticate.
type OnlineUsersEvent struct {
	Type       string `json:"type"`
	AccountIDs []int  `json:"account_ids"`
}

// TypingEvent signals typing start/stop within a conversation.
type TypingEvent struct {
	Type           string `json:"type"`
	ConversationID int    `json:"conversation_id"`
	AccountID      int    `json:"account_id"`
}

// NotificationEvent pushes a persisted notification to live connections.
type NotificationEvent struct {
	Type         string       `json:"type"`
	Notification Notification `json:"notification"`
}

// UnreadCountEvent broadcasts full counter values, never deltas, so
// concurrently open devices converge on the same totals.
type UnreadCountEvent struct {
	Type           string `json:"type"`
	ConversationID int    `json:"conversation_id,omitempty"`
	Count          int    `json:"count"`
	Total          int    `json:"total"`
}

// ErrorEvent is returned only to the originating connection, keyed to the
// failed action and, where applicable, the client temp id.
type ErrorEvent struct {
	Type         string `json:"type"`
	Action       string `json:"action"`
	Code         string `json:"code"`
	Message      string `json:"message"`
	ClientTempID string `json:"client_temp_id,omitempty"`
}

// Encode marshals an event for the wire. Events are plain structs so a
// marshal failure is a programming error; callers treat it as fatal for the
// event, not the connection.
func Encode(event any) ([]byte, error) {
	return json.Marshal(event)
}
