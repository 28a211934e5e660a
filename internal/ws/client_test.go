package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/config"
	"messaging-service/internal/messaging"
)

func testWSConfig(queueSize int) config.WebSocketConfig {
	return config.WebSocketConfig{
		SendQueueSize:  queueSize,
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      time.Second,
		MaxMessageSize: 65536,
	}
}

// dialTestConn returns a live client-side websocket connection against a
// server that holds the socket open.
func dialTestConn(t *testing.T) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestBindExactlyOnce(t *testing.T) {
	client := NewClient(dialTestConn(t), testWSConfig(4), zerolog.Nop())

	require.Zero(t, client.AccountID())
	require.NoError(t, client.Bind(7))
	assert.Equal(t, 7, client.AccountID())
	assert.ErrorIs(t, client.Bind(8), ErrAlreadyBound)
	assert.Equal(t, 7, client.AccountID())
}

func TestSendQueueOverflowClosesConnection(t *testing.T) {
	// No write pump draining, so the queue fills immediately.
	client := NewClient(dialTestConn(t), testWSConfig(1), zerolog.Nop())

	require.True(t, client.Send(map[string]string{"type": "a"}))
	assert.False(t, client.Send(map[string]string{"type": "b"}), "overflow must be reported, not absorbed")

	select {
	case <-client.Done():
	case <-time.After(time.Second):
		t.Fatal("overflowing connection was not closed")
	}
	assert.False(t, client.Send(map[string]string{"type": "c"}), "closed connection rejects sends")
}

func TestCloseIsIdempotent(t *testing.T) {
	client := NewClient(dialTestConn(t), testWSConfig(1), zerolog.Nop())
	client.Close()
	client.Close()
	select {
	case <-client.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestCodeForPipelineError(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{messaging.ErrEmptyContent, CodeInvalid},
		{messaging.ErrInvalidTarget, CodeInvalid},
		{messaging.ErrForbidden, CodeForbidden},
		{messaging.ErrNotFound, CodeNotFound},
		{messaging.ErrUnavailable, CodeUnavailable},
		{assert.AnError, CodeUnavailable},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, codeForPipelineError(tc.err))
	}
}
