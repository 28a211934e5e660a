package rooms

import (
	"sync"

	"github.com/rs/zerolog"
)

// Conn is the slice of a connection the room manager needs. Send must not
// block; the transport layer owns queueing and slow-consumer handling.
type Conn interface {
	ConnID() string
	AccountID() int
	Send(event any) bool
}

// Manager maps conversation ids to the connections currently subscribed to
// them. Membership is only ever mutated through these methods; all access
// is serialized by the manager's lock.
type Manager struct {
	mu     sync.RWMutex
	rooms  map[int]map[string]Conn
	joined map[string]map[int]struct{}
	log    zerolog.Logger
}

// NewManager creates an empty room manager.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		rooms:  make(map[int]map[string]Conn),
		joined: make(map[string]map[int]struct{}),
		log:    logger,
	}
}

// Join subscribes a connection to a conversation's room. Authorization is
// the caller's job; the manager only tracks membership.
func (m *Manager) Join(c Conn, conversationID int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[conversationID]; !ok {
		m.rooms[conversationID] = make(map[string]Conn)
	}
	m.rooms[conversationID][c.ConnID()] = c

	if _, ok := m.joined[c.ConnID()]; !ok {
		m.joined[c.ConnID()] = make(map[int]struct{})
	}
	m.joined[c.ConnID()][conversationID] = struct{}{}
}

// Leave unsubscribes a connection from a room.
func (m *Manager) Leave(c Conn, conversationID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveLocked(c.ConnID(), conversationID)
}

// LeaveAll removes a connection from every room; called on disconnect.
func (m *Manager) LeaveAll(c Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for conversationID := range m.joined[c.ConnID()] {
		m.leaveLocked(c.ConnID(), conversationID)
	}
	delete(m.joined, c.ConnID())
}

func (m *Manager) leaveLocked(connID string, conversationID int) {
	if members, ok := m.rooms[conversationID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(m.rooms, conversationID)
		}
	}
	if convs, ok := m.joined[connID]; ok {
		delete(convs, conversationID)
		if len(convs) == 0 {
			delete(m.joined, connID)
		}
	}
}

// IsJoined reports whether the connection is subscribed to the room.
func (m *Manager) IsJoined(connID string, conversationID int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.joined[connID][conversationID]
	return ok
}

// UserInRoom reports whether any of the account's connections is currently
// subscribed to the room.
func (m *Manager) UserInRoom(conversationID int, accountID int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.rooms[conversationID] {
		if c.AccountID() == accountID {
			return true
		}
	}
	return false
}

// Broadcast delivers an event to every member connection of the room,
// except the one identified by excludeConnID (empty to deliver to all).
// With zero members this is a no-op; persistence and notification routing
// do not go through the room.
func (m *Manager) Broadcast(conversationID int, event any, excludeConnID string) {
	m.mu.RLock()
	members := make([]Conn, 0, len(m.rooms[conversationID]))
	for _, c := range m.rooms[conversationID] {
		if c.ConnID() == excludeConnID {
			continue
		}
		members = append(members, c)
	}
	m.mu.RUnlock()

	for _, c := range members {
		c.Send(event)
	}
}
