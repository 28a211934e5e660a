package rooms

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id        string
	accountID int

	mu     sync.Mutex
	events []any
}

func (f *fakeConn) ConnID() string { return f.id }
func (f *fakeConn) AccountID() int { return f.accountID }
func (f *fakeConn) Send(event any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return true
}

func (f *fakeConn) received() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]any, len(f.events))
	copy(out, f.events)
	return out
}

func TestJoinAndLeave(t *testing.T) {
	m := NewManager(zerolog.Nop())
	conn := &fakeConn{id: "c1", accountID: 1}

	m.Join(conn, 5)
	require.True(t, m.IsJoined("c1", 5))
	require.True(t, m.UserInRoom(5, 1))

	m.Leave(conn, 5)
	assert.False(t, m.IsJoined("c1", 5))
	assert.False(t, m.UserInRoom(5, 1))
}

func TestLeaveAllClearsEveryRoom(t *testing.T) {
	m := NewManager(zerolog.Nop())
	conn := &fakeConn{id: "c1", accountID: 1}

	m.Join(conn, 5)
	m.Join(conn, 6)
	m.LeaveAll(conn)

	assert.False(t, m.IsJoined("c1", 5))
	assert.False(t, m.IsJoined("c1", 6))
}

func TestBroadcastExcludesSender(t *testing.T) {
	m := NewManager(zerolog.Nop())
	sender := &fakeConn{id: "c1", accountID: 1}
	other := &fakeConn{id: "c2", accountID: 2}
	outside := &fakeConn{id: "c3", accountID: 3}

	m.Join(sender, 5)
	m.Join(other, 5)

	m.Broadcast(5, "hello", "c1")

	assert.Empty(t, sender.received())
	assert.Len(t, other.received(), 1)
	assert.Empty(t, outside.received())
}

func TestBroadcastEmptyRoomIsNoop(t *testing.T) {
	m := NewManager(zerolog.Nop())
	m.Broadcast(99, "hello", "")
}

func TestUserInRoomAcrossConnections(t *testing.T) {
	m := NewManager(zerolog.Nop())
	first := &fakeConn{id: "c1", accountID: 1}
	second := &fakeConn{id: "c2", accountID: 1}

	m.Join(first, 5)
	m.Join(second, 5)

	m.Leave(first, 5)
	require.True(t, m.UserInRoom(5, 1), "second connection keeps the user in the room")

	m.Leave(second, 5)
	assert.False(t, m.UserInRoom(5, 1))
}
