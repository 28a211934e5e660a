package repositories

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

var ErrNotificationNotFound = errors.New("notification not found")

// NotificationRepository persists notifications and unread counters.
type NotificationRepository interface {
	Create(ctx context.Context, recipientID int, kind string, payload json.RawMessage) (models.Notification, error)
	List(ctx context.Context, recipientID int, limit int) ([]models.Notification, error)
	UnreadTotal(ctx context.Context, recipientID int) (int, error)
	MarkRead(ctx context.Context, recipientID int, notificationID int) error
	MarkAllRead(ctx context.Context, recipientID int) error
	MarkConversationNotificationsRead(ctx context.Context, recipientID int, conversationID int) error
}

// NotificationRepo is a sqlx implementation of NotificationRepository.
type NotificationRepo struct {
	db *sqlx.DB
}

// NewNotificationRepo constructs a NotificationRepo.
func NewNotificationRepo(db *sqlx.DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

// Create stores a notification.
func (r *NotificationRepo) Create(ctx context.Context, recipientID int, kind string, payload json.RawMessage) (models.Notification, error) {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	var n models.Notification
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO notifications (recipient_id, kind, payload) VALUES ($1, $2, $3)
         RETURNING id, recipient_id, kind, payload, read, created_at`,
		recipientID, kind, []byte(payload)).
		StructScan(&n)
	return n, err
}

// List returns the newest notifications for the recipient.
func (r *NotificationRepo) List(ctx context.Context, recipientID int, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var result []models.Notification
	err := r.db.SelectContext(ctx, &result,
		`SELECT id, recipient_id, kind, payload, read, created_at FROM notifications
         WHERE recipient_id=$1 ORDER BY id DESC LIMIT $2`, recipientID, limit)
	return result, err
}

// UnreadTotal returns the unread notification count for the recipient.
func (r *NotificationRepo) UnreadTotal(ctx context.Context, recipientID int) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM notifications WHERE recipient_id=$1 AND read=FALSE`, recipientID)
	return count, err
}

// MarkRead flags one notification as read.
func (r *NotificationRepo) MarkRead(ctx context.Context, recipientID int, notificationID int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET read=TRUE WHERE id=$1 AND recipient_id=$2`, notificationID, recipientID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// MarkAllRead flags every notification for the recipient as read.
func (r *NotificationRepo) MarkAllRead(ctx context.Context, recipientID int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET read=TRUE WHERE recipient_id=$1 AND read=FALSE`, recipientID)
	return err
}

// MarkConversationNotificationsRead flags the recipient's message-kind
// notifications for one conversation as read.
func (r *NotificationRepo) MarkConversationNotificationsRead(ctx context.Context, recipientID int, conversationID int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET read=TRUE
         WHERE recipient_id=$1 AND kind='message' AND read=FALSE
         AND (payload->>'conversation_id')::INT = $2`, recipientID, conversationID)
	return err
}
