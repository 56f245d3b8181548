package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type collectorServer struct {
	*httptest.Server

	mu       sync.Mutex
	auth     string
	query    map[string]string
	hello    helloMessage
	binary   [][]byte
	closed   chan struct{}
	upgrader websocket.Upgrader
}

func newCollectorServer(t *testing.T) *collectorServer {
	t.Helper()
	cs := &collectorServer{closed: make(chan struct{})}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.mu.Lock()
		cs.auth = r.Header.Get("Authorization")
		cs.query = map[string]string{
			"session_id": r.URL.Query().Get("session_id"),
			"scope_id":   r.URL.Query().Get("scope_id"),
		}
		cs.mu.Unlock()

		conn, err := cs.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			msgType, payload, err := conn.ReadMessage()
			if err != nil {
				close(cs.closed)
				return
			}
			cs.mu.Lock()
			switch msgType {
			case websocket.TextMessage:
				_ = json.Unmarshal(payload, &cs.hello)
			case websocket.BinaryMessage:
				cs.binary = append(cs.binary, payload)
			}
			cs.mu.Unlock()
		}
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *collectorServer) wsURL() string {
	return "ws" + strings.TrimPrefix(cs.URL, "http")
}

func TestChannelConnectSendDisconnect(t *testing.T) {
	server := newCollectorServer(t)
	ch := New(server.wsURL(), nil)

	require.NoError(t, ch.Connect(context.Background(), "p1_1700000000000", "tok-abc", "p1"))
	require.NoError(t, ch.SendChunk([]byte{1, 2, 3, 4}))
	require.NoError(t, ch.SendChunk([]byte{5, 6}))
	require.NoError(t, ch.Disconnect())

	select {
	case <-server.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("server never observed the close")
	}

	server.mu.Lock()
	defer server.mu.Unlock()
	require.Equal(t, "Bearer tok-abc", server.auth)
	require.Equal(t, "p1_1700000000000", server.query["session_id"])
	require.Equal(t, "p1", server.query["scope_id"])
	require.Equal(t, "session_start", server.hello.Type)
	require.Equal(t, "p1_1700000000000", server.hello.SessionID)
	require.Equal(t, [][]byte{{1, 2, 3, 4}, {5, 6}}, server.binary)
}

func TestChannelSendWithoutConnect(t *testing.T) {
	ch := New("ws://127.0.0.1:1/audio", nil)
	require.ErrorIs(t, ch.SendChunk([]byte{1}), ErrNotConnected)
}

func TestChannelDoubleConnectRejected(t *testing.T) {
	server := newCollectorServer(t)
	ch := New(server.wsURL(), nil)

	require.NoError(t, ch.Connect(context.Background(), "s1", "", "p1"))
	defer ch.Disconnect()

	err := ch.Connect(context.Background(), "s2", "", "p1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "already connected")
}

func TestChannelConnectFailure(t *testing.T) {
	ch := New("ws://127.0.0.1:1/audio", nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := ch.Connect(ctx, "s1", "", "p1")
	require.Error(t, err)
	require.ErrorIs(t, ch.SendChunk([]byte{1}), ErrNotConnected)
}

func TestChannelDisconnectIdempotent(t *testing.T) {
	server := newCollectorServer(t)
	ch := New(server.wsURL(), nil)

	require.NoError(t, ch.Connect(context.Background(), "s1", "", "p1"))
	require.NoError(t, ch.Disconnect())
	require.NoError(t, ch.Disconnect())
}
