package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/presence"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
)

// Dispatcher persists notifications, fans them out to every live connection
// of the recipient, and keeps unread counters in sync across devices by
// always broadcasting full counter values rather than deltas.
type Dispatcher struct {
	presence  *presence.Registry
	notifRepo repositories.NotificationRepository
	msgRepo   repositories.MessageRepository
	publisher rabbitmq.Publisher
	log       zerolog.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(reg *presence.Registry, notifRepo repositories.NotificationRepository, msgRepo repositories.MessageRepository, publisher rabbitmq.Publisher, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		presence:  reg,
		notifRepo: notifRepo,
		msgRepo:   msgRepo,
		publisher: publisher,
		log:       logger,
	}
}

// Notify persists a notification and pushes it to the recipient's live
// connections, followed by the new unread total.
func (d *Dispatcher) Notify(ctx context.Context, recipientID int, kind string, payload json.RawMessage) (models.Notification, error) {
	n, err := d.notifRepo.Create(ctx, recipientID, kind, payload)
	if err != nil {
		return models.Notification{}, fmt.Errorf("persist notification: %w", err)
	}

	observability.IncNotificationPushed(kind)
	_ = d.publisher.Publish(ctx, rabbitmq.KeyNotificationPushed, n)

	event := models.NotificationEvent{Type: models.EventNewNotification, Notification: n}
	for _, conn := range d.presence.Connections(recipientID) {
		conn.Send(event)
	}

	d.pushUnread(ctx, recipientID, 0)
	return n, nil
}

// NotifyMessage routes a chat message to a recipient with no connection in
// the room: a persisted message-kind notification plus the conversation's
// unread count.
func (d *Dispatcher) NotifyMessage(ctx context.Context, recipientID int, msg models.Message) error {
	payload, err := json.Marshal(map[string]any{
		"conversation_id": msg.ConversationID,
		"message_id":      msg.ID,
		"sender_id":       msg.SenderID,
		"preview":         preview(msg.Content),
	})
	if err != nil {
		return err
	}

	n, err := d.notifRepo.Create(ctx, recipientID, models.NotificationKindMessage, payload)
	if err != nil {
		return fmt.Errorf("persist notification: %w", err)
	}

	observability.IncNotificationPushed(models.NotificationKindMessage)
	_ = d.publisher.Publish(ctx, rabbitmq.KeyNotificationPushed, n)

	event := models.NotificationEvent{Type: models.EventNewNotification, Notification: n}
	for _, conn := range d.presence.Connections(recipientID) {
		conn.Send(event)
	}

	d.pushUnread(ctx, recipientID, msg.ConversationID)
	return nil
}

// MarkConversationRead clears the conversation's unread messages and its
// message notifications, then broadcasts the new totals to every live
// connection of the account so all open devices converge.
func (d *Dispatcher) MarkConversationRead(ctx context.Context, accountID, conversationID int) error {
	if _, err := d.msgRepo.MarkConversationRead(ctx, conversationID, accountID); err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}
	if err := d.notifRepo.MarkConversationNotificationsRead(ctx, accountID, conversationID); err != nil {
		return fmt.Errorf("mark notifications read: %w", err)
	}

	d.pushUnread(ctx, accountID, conversationID)
	return nil
}

// MarkAllNotificationsRead clears the whole notification feed and
// broadcasts the zeroed total.
func (d *Dispatcher) MarkAllNotificationsRead(ctx context.Context, accountID int) error {
	if err := d.notifRepo.MarkAllRead(ctx, accountID); err != nil {
		return err
	}
	d.pushUnread(ctx, accountID, 0)
	return nil
}

// MarkNotificationRead flags one notification read and broadcasts the new
// total.
func (d *Dispatcher) MarkNotificationRead(ctx context.Context, accountID, notificationID int) error {
	if err := d.notifRepo.MarkRead(ctx, accountID, notificationID); err != nil {
		return err
	}
	d.pushUnread(ctx, accountID, 0)
	return nil
}

// pushUnread broadcasts current counter values to all of the account's
// connections. conversationID of zero omits the per-conversation count.
func (d *Dispatcher) pushUnread(ctx context.Context, accountID, conversationID int) {
	total, err := d.notifRepo.UnreadTotal(ctx, accountID)
	if err != nil {
		d.log.Error().Err(err).Int("account_id", accountID).Msg("load unread total")
		return
	}

	event := models.UnreadCountEvent{Type: models.EventUnreadCount, Total: total}
	if conversationID != 0 {
		count, err := d.msgRepo.UnreadCount(ctx, conversationID, accountID)
		if err != nil {
			d.log.Error().Err(err).Int("conversation_id", conversationID).Msg("load conversation unread")
			return
		}
		event.ConversationID = conversationID
		event.Count = count
	}

	for _, conn := range d.presence.Connections(accountID) {
		conn.Send(event)
	}
}

// PushToAccount delivers an arbitrary event to all of the account's live
// connections without persisting anything.
func (d *Dispatcher) PushToAccount(accountID int, event any) {
	for _, conn := range d.presence.Connections(accountID) {
		conn.Send(event)
	}
}

// Connections exposes the account's live connections for delivery decisions
// made outside the dispatcher, such as per-connection room filtering.
func (d *Dispatcher) Connections(accountID int) []presence.Conn {
	return d.presence.Connections(accountID)
}

func preview(content string) string {
	const max = 120
	if len(content) <= max {
		return content
	}
	// Back off to a rune boundary so the cut never splits a multi-byte
	// character.
	cut := max
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut]
}
