package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	GetOrCreate(ctx context.Context, userID int, partnerID int) (models.Conversation, bool, error)
	Get(ctx context.Context, conversationID int) (models.Conversation, error)
	IsParticipant(ctx context.Context, conversationID int, userID int) (bool, error)
	List(ctx context.Context, userID int) ([]models.ConversationSummary, error)
	PartnerIDs(ctx context.Context, userID int) ([]int, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// GetOrCreate returns the conversation for the unordered participant pair,
// inserting it if absent. The insert races against the same call from the
// other participant, so it relies on the unique (low, high) constraint
// instead of a read-then-write: ON CONFLICT DO NOTHING followed by a
// reselect yields the same row for both callers. The second return value is
// true when this call created the row.
func (r *ConversationRepo) GetOrCreate(ctx context.Context, userID int, partnerID int) (models.Conversation, bool, error) {
	if userID == partnerID {
		return models.Conversation{}, false, errors.New("cannot start conversation with self")
	}
	low, high := userID, partnerID
	if low > high {
		low, high = high, low
	}

	var conv models.Conversation
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO conversations (participant_low, participant_high) VALUES ($1, $2)
         ON CONFLICT (participant_low, participant_high) DO NOTHING
         RETURNING id, participant_low, participant_high, created_at`, low, high).
		StructScan(&conv)
	if err == nil {
		return conv, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, false, err
	}

	err = r.db.GetContext(ctx, &conv,
		`SELECT id, participant_low, participant_high, created_at FROM conversations
         WHERE participant_low=$1 AND participant_high=$2`, low, high)
	return conv, false, err
}

// Get fetches a conversation by id.
func (r *ConversationRepo) Get(ctx context.Context, conversationID int) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv,
		`SELECT id, participant_low, participant_high, created_at FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// IsParticipant checks whether a user belongs to the conversation.
func (r *ConversationRepo) IsParticipant(ctx context.Context, conversationID int, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM conversations WHERE id=$1 AND (participant_low=$2 OR participant_high=$2))`,
		conversationID, userID)
	return exists, err
}

// List returns the user's conversations with last-message summary and
// unread count, most recent activity first.
func (r *ConversationRepo) List(ctx context.Context, userID int) ([]models.ConversationSummary, error) {
	query := `SELECT c.id,
            CASE WHEN c.participant_low=$1 THEN c.participant_high ELSE c.participant_low END AS partner_id,
            COALESCE(m.content, '') AS last_message,
            COALESCE(m.created_at, c.created_at) AS last_message_at,
            (SELECT COUNT(*) FROM messages u
                WHERE u.conversation_id=c.id AND u.sender_id<>$1 AND u.read=FALSE) AS unread_count,
            c.created_at
        FROM conversations c
        LEFT JOIN LATERAL (
            SELECT content, created_at FROM messages
            WHERE conversation_id=c.id ORDER BY id DESC LIMIT 1
        ) m ON TRUE
        WHERE c.participant_low=$1 OR c.participant_high=$1
        ORDER BY COALESCE(m.created_at, c.created_at) DESC`

	var result []models.ConversationSummary
	err := r.db.SelectContext(ctx, &result, query, userID)
	return result, err
}

// PartnerIDs returns every account the user shares a conversation with,
// used to scope presence broadcasts to people who care.
func (r *ConversationRepo) PartnerIDs(ctx context.Context, userID int) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids,
		`SELECT CASE WHEN participant_low=$1 THEN participant_high ELSE participant_low END
         FROM conversations WHERE participant_low=$1 OR participant_high=$1`, userID)
	return ids, err
}
