package messaging

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"messaging-service/internal/models"
	"messaging-service/internal/notify"
	"messaging-service/internal/observability"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
	"messaging-service/internal/rooms"
)

// Conn is the slice of the sender's connection the pipeline needs for the
// acknowledgment echo.
type Conn interface {
	ConnID() string
	AccountID() int
	Send(event any) bool
}

// SendRequest describes one send_message action. ConversationID of zero
// with a RecipientID set auto-creates the conversation.
type SendRequest struct {
	SenderID       int
	ConversationID int
	RecipientID    int
	Content        string
	ClientTempID   string
}

// Service is the message delivery pipeline: authorize, validate, persist,
// fan out, route notifications.
type Service struct {
	convRepo   repositories.ConversationRepository
	msgRepo    repositories.MessageRepository
	rooms      *rooms.Manager
	dispatcher *notify.Dispatcher
	publisher  rabbitmq.Publisher

	persistRetries int
	retryBackoff   time.Duration

	log zerolog.Logger
}

// NewService constructs the pipeline.
func NewService(convRepo repositories.ConversationRepository, msgRepo repositories.MessageRepository, roomMgr *rooms.Manager, dispatcher *notify.Dispatcher, publisher rabbitmq.Publisher, persistRetries int, retryBackoff time.Duration, logger zerolog.Logger) *Service {
	if persistRetries < 1 {
		persistRetries = 1
	}
	return &Service{
		convRepo:       convRepo,
		msgRepo:        msgRepo,
		rooms:          roomMgr,
		dispatcher:     dispatcher,
		publisher:      publisher,
		persistRetries: persistRetries,
		retryBackoff:   retryBackoff,
		log:            logger,
	}
}

// Send runs the full pipeline for one message. The server-assigned id on
// the returned message is the ordering authority; client timestamps are
// never consulted. senderConn may be nil for REST-originated sends.
func (s *Service) Send(ctx context.Context, req SendRequest, senderConn Conn) (models.Message, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return models.Message{}, ErrEmptyContent
	}

	conv, err := s.resolveConversation(ctx, req)
	if err != nil {
		return models.Message{}, err
	}

	msg, err := s.persist(ctx, conv.ID, req.SenderID, content)
	if err != nil {
		return models.Message{}, err
	}

	observability.IncMessageSent()
	_ = s.publisher.Publish(ctx, rabbitmq.KeyMessageSent, msg)

	// Room members see the message immediately; the sender gets its own
	// copy tagged with the client temp id so optimistic UI state can be
	// reconciled.
	event := models.MessageEvent{
		Type:           models.EventNewMessage,
		ConversationID: conv.ID,
		Message:        msg,
	}
	exclude := ""
	if senderConn != nil {
		exclude = senderConn.ConnID()
	}
	s.rooms.Broadcast(conv.ID, event, exclude)

	if senderConn != nil {
		echo := event
		echo.ClientTempID = req.ClientTempID
		senderConn.Send(echo)
	}

	recipientID := conv.PartnerOf(req.SenderID)

	// The room broadcast only reached joined connections; every other live
	// connection of the recipient still gets the message itself, so a device
	// that never opened the conversation sees it without a history refetch.
	for _, conn := range s.dispatcher.Connections(recipientID) {
		if !s.rooms.IsJoined(conn.ConnID(), conv.ID) {
			conn.Send(event)
		}
	}

	if s.rooms.UserInRoom(conv.ID, recipientID) {
		// A connection in the room is looking at the conversation; the
		// message is read on arrival and must not bump unread counters.
		if _, err := s.msgRepo.MarkConversationRead(ctx, conv.ID, recipientID); err != nil {
			s.log.Warn().Err(err).Int("conversation_id", conv.ID).Msg("mark delivered message read")
		}
	} else if err := s.dispatcher.NotifyMessage(ctx, recipientID, msg); err != nil {
		s.log.Error().Err(err).Int("recipient_id", recipientID).Msg("route message notification")
	}

	return msg, nil
}

// GetOrCreateConversation returns the conversation for the pair, creating
// it if needed and announcing a creation to both sides.
func (s *Service) GetOrCreateConversation(ctx context.Context, userID, partnerID int) (models.Conversation, error) {
	conv, created, err := s.convRepo.GetOrCreate(ctx, userID, partnerID)
	if err != nil {
		return models.Conversation{}, err
	}
	if created {
		_ = s.publisher.Publish(ctx, rabbitmq.KeyConversationCreated, conv)
		event := models.ChatCreatedEvent{Type: models.EventChatCreated, Conversation: conv}
		s.dispatcher.PushToAccount(conv.ParticipantLow, event)
		s.dispatcher.PushToAccount(conv.ParticipantHi, event)
	}
	return conv, nil
}

func (s *Service) resolveConversation(ctx context.Context, req SendRequest) (models.Conversation, error) {
	if req.ConversationID != 0 {
		conv, err := s.convRepo.Get(ctx, req.ConversationID)
		if err != nil {
			if errors.Is(err, repositories.ErrConversationNotFound) {
				return models.Conversation{}, ErrNotFound
			}
			return models.Conversation{}, ErrUnavailable
		}
		if !conv.HasParticipant(req.SenderID) {
			return models.Conversation{}, ErrForbidden
		}
		return conv, nil
	}

	if req.RecipientID == 0 {
		return models.Conversation{}, ErrInvalidTarget
	}
	return s.GetOrCreateConversation(ctx, req.SenderID, req.RecipientID)
}

// persist writes the message with bounded retries. Transient store failures
// must never turn into a silent "delivered" acknowledgment, so after the
// last attempt the error surfaces to the sender.
func (s *Service) persist(ctx context.Context, conversationID, senderID int, content string) (models.Message, error) {
	var lastErr error
	for attempt := 0; attempt < s.persistRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return models.Message{}, ErrUnavailable
			case <-time.After(s.retryBackoff * time.Duration(attempt)):
			}
		}
		msg, err := s.msgRepo.Create(ctx, conversationID, senderID, content)
		if err == nil {
			return msg, nil
		}
		lastErr = err
	}
	s.log.Error().Err(lastErr).Int("conversation_id", conversationID).Msg("message persist failed after retries")
	return models.Message{}, ErrUnavailable
}
