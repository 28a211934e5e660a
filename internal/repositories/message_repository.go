package repositories

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	Create(ctx context.Context, conversationID int, senderID int, content string) (models.Message, error)
	HistoryPage(ctx context.Context, conversationID int, beforeID int, limit int) ([]models.Message, error)
	MarkConversationRead(ctx context.Context, conversationID int, readerID int) (int, error)
	UnreadCount(ctx context.Context, conversationID int, userID int) (int, error)
	UnreadTotal(ctx context.Context, userID int) (int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Create stores a message; the returned row carries the server-assigned id
// and timestamp that all ordering decisions are based on.
func (r *MessageRepo) Create(ctx context.Context, conversationID int, senderID int, content string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO messages (conversation_id, sender_id, content) VALUES ($1, $2, $3)
         RETURNING id, conversation_id, sender_id, content, read, created_at`,
		conversationID, senderID, content).
		StructScan(&msg)
	return msg, err
}

// HistoryPage returns up to limit messages older than beforeID in ascending
// id order. beforeID of zero means "latest page".
func (r *MessageRepo) HistoryPage(ctx context.Context, conversationID int, beforeID int, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `SELECT id, conversation_id, sender_id, content, read, created_at
        FROM (
            SELECT id, conversation_id, sender_id, content, read, created_at FROM messages
            WHERE conversation_id=$1 AND ($2 = 0 OR id < $2)
            ORDER BY id DESC LIMIT $3
        ) page ORDER BY id ASC`
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, conversationID, beforeID, limit)
	return msgs, err
}

// MarkConversationRead flags every message addressed to the reader as read
// and returns how many rows changed.
func (r *MessageRepo) MarkConversationRead(ctx context.Context, conversationID int, readerID int) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET read=TRUE WHERE conversation_id=$1 AND sender_id<>$2 AND read=FALSE`,
		conversationID, readerID)
	if err != nil {
		return 0, err
	}
	count, err := res.RowsAffected()
	return int(count), err
}

// UnreadCount returns the unread message count for one conversation.
func (r *MessageRepo) UnreadCount(ctx context.Context, conversationID int, userID int) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM messages WHERE conversation_id=$1 AND sender_id<>$2 AND read=FALSE`,
		conversationID, userID)
	return count, err
}

// UnreadTotal returns the unread message count across all of the user's
// conversations.
func (r *MessageRepo) UnreadTotal(ctx context.Context, userID int) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM messages m
         JOIN conversations c ON c.id = m.conversation_id
         WHERE (c.participant_low=$1 OR c.participant_high=$1)
         AND m.sender_id<>$1 AND m.read=FALSE`, userID)
	return count, err
}
