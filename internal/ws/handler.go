package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"messaging-service/internal/auth"
	"messaging-service/internal/config"
	"messaging-service/internal/messaging"
	"messaging-service/internal/models"
	"messaging-service/internal/notify"
	"messaging-service/internal/observability"
	"messaging-service/internal/presence"
	"messaging-service/internal/repositories"
	"messaging-service/internal/rooms"
	"messaging-service/internal/typing"
)

// Error codes carried on error events.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeForbidden       = "forbidden"
	CodeInvalid         = "invalid"
	CodeNotFound        = "not_found"
	CodeUnavailable     = "unavailable"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler owns the websocket endpoint: upgrade, per-connection event loop,
// and routing of wire events into the presence, room, typing, notification
// and delivery components.
type Handler struct {
	authenticator *auth.Authenticator
	presence      *presence.Registry
	rooms         *rooms.Manager
	typing        *typing.Coordinator
	dispatcher    *notify.Dispatcher
	pipeline      *messaging.Service
	convRepo      repositories.ConversationRepository
	cfg           config.WebSocketConfig
	log           zerolog.Logger
}

// NewHandler constructs the websocket handler.
func NewHandler(authenticator *auth.Authenticator, reg *presence.Registry, roomMgr *rooms.Manager, typingCoord *typing.Coordinator, dispatcher *notify.Dispatcher, pipeline *messaging.Service, convRepo repositories.ConversationRepository, cfg config.WebSocketConfig, logger zerolog.Logger) *Handler {
	return &Handler{
		authenticator: authenticator,
		presence:      reg,
		rooms:         roomMgr,
		typing:        typingCoord,
		dispatcher:    dispatcher,
		pipeline:      pipeline,
		convRepo:      convRepo,
		cfg:           cfg,
		log:           logger,
	}
}

// Handle upgrades the connection and runs its read loop. The connection is
// unauthenticated until a valid authenticate event arrives; every other
// event on an unbound connection fails with an explicit error rather than
// being dropped, so clients can tell a bad credential from a network
// glitch.
func (h *Handler) Handle(c *gin.Context) {
	_, span := otel.Tracer("messaging-service/ws").Start(c.Request.Context(), "ws.handshake")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	span.End()
	if err != nil {
		return
	}

	client := NewClient(conn, h.cfg, h.log)
	observability.IncWSActive()
	observability.IncWSEvent("in", "connect")
	h.log.Debug().
		Str("conn_id", client.ConnID()).
		Str("ip", observability.IPFromRequest(c.Request)).
		Str("request_id", observability.RequestIDFromRequest(c.Request)).
		Str("device_id", observability.DeviceIDFromRequest(c.Request)).
		Msg("websocket connected")

	go client.WritePump()
	go client.ReadPump(h.handleFrame, h.onClose)
}

func (h *Handler) onClose(client *Client) {
	h.rooms.LeaveAll(client)
	h.presence.ConnectionClosed(client)
	observability.DecWSActive()
	observability.IncWSEvent("in", "disconnect")
}

// handleFrame parses and dispatches one inbound frame. A frame that is not
// valid JSON is a transport-level fault and closes the connection; nothing
// beyond "connection closed" ever reaches the shared components.
func (h *Handler) handleFrame(client *Client, payload []byte) {
	var event models.ClientEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.log.Debug().Err(err).Str("conn_id", client.ConnID()).Msg("malformed frame, closing connection")
		client.Close()
		return
	}

	observability.IncWSEvent("in", event.Type)
	ctx := context.Background()

	if event.Type == models.EventAuthenticate {
		h.handleAuthenticate(ctx, client, event)
		return
	}

	if client.AccountID() == 0 {
		h.sendError(client, event, CodeUnauthenticated, "authenticate first")
		return
	}

	switch event.Type {
	case models.EventJoinChat:
		h.handleJoin(ctx, client, event)
	case models.EventLeaveChat:
		h.rooms.Leave(client, event.ConversationID)
	case models.EventSendMessage:
		h.handleSend(ctx, client, event)
	case models.EventTypingStart:
		h.handleTyping(client, event, true)
	case models.EventTypingStop:
		h.handleTyping(client, event, false)
	case models.EventMarkMessagesRead:
		h.handleMarkRead(ctx, client, event)
	default:
		h.sendError(client, event, CodeInvalid, "unknown event type")
	}
}

func (h *Handler) handleAuthenticate(ctx context.Context, client *Client, event models.ClientEvent) {
	identity, err := h.authenticator.Authenticate(event.Token)
	if err != nil {
		h.sendError(client, event, CodeUnauthenticated, "invalid credential")
		return
	}

	if err := client.Bind(identity.AccountID); err != nil {
		h.sendError(client, event, CodeInvalid, "connection already authenticated")
		return
	}

	h.presence.ConnectionAuthenticated(ctx, client)

	online, err := h.presence.OnlinePartners(ctx, identity.AccountID)
	if err != nil {
		h.log.Error().Err(err).Int("account_id", identity.AccountID).Msg("presence snapshot")
		online = []int{}
	}
	client.Send(models.OnlineUsersEvent{Type: models.EventOnlineUsers, AccountIDs: online})
	observability.IncWSEvent("out", models.EventOnlineUsers)
}

func (h *Handler) handleJoin(ctx context.Context, client *Client, event models.ClientEvent) {
	conv, err := h.convRepo.Get(ctx, event.ConversationID)
	if err != nil {
		if errors.Is(err, repositories.ErrConversationNotFound) {
			h.sendError(client, event, CodeNotFound, "conversation not found")
		} else {
			h.sendError(client, event, CodeUnavailable, "could not load conversation")
		}
		return
	}
	if !conv.HasParticipant(client.AccountID()) {
		h.sendError(client, event, CodeForbidden, "not a conversation participant")
		return
	}
	h.rooms.Join(client, conv.ID)
}

func (h *Handler) handleSend(ctx context.Context, client *Client, event models.ClientEvent) {
	_, err := h.pipeline.Send(ctx, messaging.SendRequest{
		SenderID:       client.AccountID(),
		ConversationID: event.ConversationID,
		RecipientID:    event.RecipientID,
		Content:        event.Content,
		ClientTempID:   event.ClientTempID,
	}, client)
	if err != nil {
		h.sendError(client, event, codeForPipelineError(err), err.Error())
		return
	}
	observability.IncWSEvent("out", models.EventNewMessage)
}

func (h *Handler) handleTyping(client *Client, event models.ClientEvent, start bool) {
	if !h.rooms.IsJoined(client.ConnID(), event.ConversationID) {
		h.sendError(client, event, CodeForbidden, "join the conversation first")
		return
	}
	if start {
		h.typing.Start(event.ConversationID, client.AccountID(), client.ConnID())
	} else {
		h.typing.Stop(event.ConversationID, client.AccountID(), client.ConnID())
	}
}

func (h *Handler) handleMarkRead(ctx context.Context, client *Client, event models.ClientEvent) {
	member, err := h.convRepo.IsParticipant(ctx, event.ConversationID, client.AccountID())
	if err != nil {
		h.sendError(client, event, CodeUnavailable, "could not verify membership")
		return
	}
	if !member {
		h.sendError(client, event, CodeForbidden, "not a conversation participant")
		return
	}
	if err := h.dispatcher.MarkConversationRead(ctx, client.AccountID(), event.ConversationID); err != nil {
		h.sendError(client, event, CodeUnavailable, "could not mark read")
	}
}

// sendError reports a failed action back to the originating connection
// only; errors are never broadcast to other room members.
func (h *Handler) sendError(client *Client, event models.ClientEvent, code, message string) {
	observability.IncWSEvent("out", models.EventError)
	client.Send(models.ErrorEvent{
		Type:         models.EventError,
		Action:       event.Type,
		Code:         code,
		Message:      message,
		ClientTempID: event.ClientTempID,
	})
}

func codeForPipelineError(err error) string {
	switch {
	case errors.Is(err, messaging.ErrEmptyContent), errors.Is(err, messaging.ErrInvalidTarget):
		return CodeInvalid
	case errors.Is(err, messaging.ErrForbidden):
		return CodeForbidden
	case errors.Is(err, messaging.ErrNotFound):
		return CodeNotFound
	default:
		return CodeUnavailable
	}
}
