package models

import "time"

// Conversation is a direct-message thread between exactly two accounts.
// Participants are stored in canonical (low, high) order so that one
// unordered pair can never map to two rows.
type Conversation struct {
	ID             int       `db:"id" json:"id"`
	ParticipantLow int       `db:"participant_low" json:"participant_low"`
	ParticipantHi  int       `db:"participant_high" json:"participant_high"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// HasParticipant reports whether the account belongs to the conversation.
func (c Conversation) HasParticipant(accountID int) bool {
	return c.ParticipantLow == accountID || c.ParticipantHi == accountID
}

// PartnerOf returns the other participant of the conversation.
func (c Conversation) PartnerOf(accountID int) int {
	if c.ParticipantLow == accountID {
		return c.ParticipantHi
	}
	return c.ParticipantLow
}

// ConversationSummary is the per-user view used by the chat list.
type ConversationSummary struct {
	ConversationID int       `db:"id" json:"conversation_id"`
	PartnerID      int       `db:"partner_id" json:"partner_id"`
	PartnerName    string    `json:"partner_name,omitempty"`
	LastMessage    string    `db:"last_message" json:"last_message,omitempty"`
	LastMessageAt  time.Time `db:"last_message_at" json:"last_message_at,omitempty"`
	UnreadCount    int       `db:"unread_count" json:"unread_count"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
