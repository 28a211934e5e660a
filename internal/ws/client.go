package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"messaging-service/internal/config"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
)

var ErrAlreadyBound = errors.New("connection already authenticated")

// Client is one live websocket connection. Outbound events go through a
// bounded send channel drained by the write pump; a connection that cannot
// keep up is closed rather than allowed to stall broadcasters.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	cfg  config.WebSocketConfig

	mu        sync.Mutex
	accountID int

	closeOnce sync.Once
	done      chan struct{}

	log zerolog.Logger
}

// NewClient wraps an upgraded websocket connection.
func NewClient(conn *websocket.Conn, cfg config.WebSocketConfig, logger zerolog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:   id,
		conn: conn,
		send: make(chan []byte, cfg.SendQueueSize),
		cfg:  cfg,
		done: make(chan struct{}),
		log:  logger.With().Str("conn_id", id).Logger(),
	}
}

// ConnID returns the connection's unique id.
func (c *Client) ConnID() string {
	return c.id
}

// AccountID returns the bound account id, zero while unauthenticated.
func (c *Client) AccountID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accountID
}

// Bind associates the connection with an account exactly once.
func (c *Client) Bind(accountID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accountID != 0 {
		return ErrAlreadyBound
	}
	c.accountID = accountID
	return nil
}

// Send marshals and enqueues an event without blocking. A full queue means
// the consumer has stalled for longer than the queue absorbs; the
// connection is closed and false returned.
func (c *Client) Send(event any) bool {
	payload, err := models.Encode(event)
	if err != nil {
		c.log.Error().Err(err).Msg("encode event")
		return false
	}

	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- payload:
		return true
	default:
		c.log.Warn().Int("account_id", c.AccountID()).Msg("send queue overflow, closing connection")
		observability.IncWSDropped()
		c.Close()
		return false
	}
}

// Close shuts the connection down once; safe from any goroutine.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Done is closed when the connection is shut down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// WritePump drains the send queue to the socket and keeps the connection
// alive with pings. Runs in its own goroutine; exits when the connection
// closes.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// ReadPump reads inbound frames and hands them to onEvent, then runs
// onClose exactly once when the connection dies. Per-connection delivery
// order is the read order here; the transport preserves it.
func (c *Client) ReadPump(onEvent func(*Client, []byte), onClose func(*Client)) {
	defer func() {
		c.Close()
		onClose(c)
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		onEvent(c, payload)
	}
}
