package typing

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"messaging-service/internal/models"
)

// Broadcaster delivers an event to a conversation's room, optionally
// excluding one connection.
type Broadcaster interface {
	Broadcast(conversationID int, event any, excludeConnID string)
}

type key struct {
	conversationID int
	accountID      int
}

// Coordinator tracks transient typing state per (conversation, account).
// Entries auto-expire: a typing_start whose stop event was lost (tab
// closed, connection dropped) still resolves to a user_stop_typing within
// the TTL. Nothing here is persisted.
type Coordinator struct {
	mu     sync.Mutex
	states map[key]time.Time

	ttl   time.Duration
	rooms Broadcaster
	log   zerolog.Logger
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(rooms Broadcaster, ttl time.Duration, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		states: make(map[key]time.Time),
		ttl:    ttl,
		rooms:  rooms,
		log:    logger,
	}
}

// Start marks the account as typing and broadcasts user_typing to the rest
// of the room. Repeated calls refresh the expiry.
func (c *Coordinator) Start(conversationID, accountID int, connID string) {
	k := key{conversationID: conversationID, accountID: accountID}

	c.mu.Lock()
	_, already := c.states[k]
	c.states[k] = time.Now().Add(c.ttl)
	c.mu.Unlock()

	if already {
		return
	}
	c.rooms.Broadcast(conversationID, models.TypingEvent{
		Type:           models.EventUserTyping,
		ConversationID: conversationID,
		AccountID:      accountID,
	}, connID)
}

// Stop clears the typing state immediately and broadcasts user_stop_typing.
func (c *Coordinator) Stop(conversationID, accountID int, connID string) {
	k := key{conversationID: conversationID, accountID: accountID}

	c.mu.Lock()
	_, active := c.states[k]
	delete(c.states, k)
	c.mu.Unlock()

	if !active {
		return
	}
	c.rooms.Broadcast(conversationID, models.TypingEvent{
		Type:           models.EventUserStopTyping,
		ConversationID: conversationID,
		AccountID:      accountID,
	}, connID)
}

// Run sweeps expired entries until the context is cancelled.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.sweep(now)
		}
	}
}

func (c *Coordinator) sweep(now time.Time) {
	c.mu.Lock()
	expired := make([]key, 0)
	for k, deadline := range c.states {
		if now.After(deadline) {
			expired = append(expired, k)
			delete(c.states, k)
		}
	}
	c.mu.Unlock()

	for _, k := range expired {
		c.rooms.Broadcast(k.conversationID, models.TypingEvent{
			Type:           models.EventUserStopTyping,
			ConversationID: k.conversationID,
			AccountID:      k.accountID,
		}, "")
	}
}

// Active reports whether the account currently counts as typing in the
// conversation.
func (c *Coordinator) Active(conversationID, accountID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline, ok := c.states[key{conversationID: conversationID, accountID: accountID}]
	return ok && time.Now().Before(deadline)
}
