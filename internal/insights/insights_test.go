package insights

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

type analysisServer struct {
	*httptest.Server

	mu        sync.Mutex
	subscribe subscribeMessage
	sessionID string

	messages []string
	ready    chan struct{}
	upgrader websocket.Upgrader
}

// newAnalysisServer serves one connection, records the subscribe message, and
// pushes the configured payloads before waiting for the client to close.
func newAnalysisServer(t *testing.T, messages ...string) *analysisServer {
	t.Helper()
	as := &analysisServer{messages: messages, ready: make(chan struct{})}
	as.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		as.mu.Lock()
		as.sessionID = r.URL.Query().Get("session_id")
		as.mu.Unlock()

		conn, err := as.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		as.mu.Lock()
		_ = json.Unmarshal(payload, &as.subscribe)
		as.mu.Unlock()

		for _, msg := range as.messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		close(as.ready)

		// Hold the connection until the client disconnects.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(as.Close)
	return as
}

func (as *analysisServer) wsURL() string {
	return "ws" + strings.TrimPrefix(as.URL, "http")
}

func TestChannelAccumulatesTranscript(t *testing.T) {
	server := newAnalysisServer(t,
		`{"type":"transcript_segment","data":{"text":"hello there","start_ms":0,"end_ms":900}}`,
		`{"type":"transcript_segment","data":{"text":"general update","start_ms":900,"end_ms":2100}}`,
		`{"type":"heartbeat","data":{}}`,
	)
	ch := New(server.wsURL(), nil)

	require.NoError(t, ch.Connect(context.Background(), "p1_1700000000000", []string{"transcript"}))
	<-server.ready

	require.Eventually(t, func() bool {
		return len(ch.Segments()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ch.Disconnect())

	require.Equal(t, "hello there general update", ch.FullText())
	segs := ch.Segments()
	require.Equal(t, int64(900), segs[0].EndMs)
	require.Equal(t, int64(2100), segs[1].EndMs)

	server.mu.Lock()
	defer server.mu.Unlock()
	require.Equal(t, "subscribe", server.subscribe.Type)
	require.Equal(t, "p1_1700000000000", server.subscribe.SessionID)
	require.Equal(t, []string{"transcript"}, server.subscribe.Tiers)
	require.Equal(t, "p1_1700000000000", server.sessionID)
}

func TestChannelDeliversEvents(t *testing.T) {
	server := newAnalysisServer(t,
		`{"type":"question","data":{"tier":"questions","text":"what is the deadline?"}}`,
		`{"type":"action_item","data":{"text":"ship the report"}}`,
	)
	ch := New(server.wsURL(), nil)

	require.NoError(t, ch.Connect(context.Background(), "s1", []string{"questions", "action_items"}))
	<-server.ready

	events := ch.Events()
	first := <-events
	require.Equal(t, "questions", first.Tier)
	require.Equal(t, "what is the deadline?", first.Text)

	second := <-events
	require.Equal(t, "action_item", second.Tier)

	require.NoError(t, ch.Disconnect())
	_, open := <-events
	require.False(t, open)
}

func TestChannelReconnectResetsTranscript(t *testing.T) {
	first := newAnalysisServer(t,
		`{"type":"transcript_segment","data":{"text":"stale","start_ms":0,"end_ms":100}}`,
	)
	ch := New(first.wsURL(), nil)

	require.NoError(t, ch.Connect(context.Background(), "s1", nil))
	<-first.ready
	require.Eventually(t, func() bool { return len(ch.Segments()) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, ch.Disconnect())

	second := newAnalysisServer(t)
	ch.endpoint = second.wsURL()
	require.NoError(t, ch.Connect(context.Background(), "s2", nil))
	require.Empty(t, ch.Segments())
	require.Empty(t, ch.FullText())
	require.NoError(t, ch.Disconnect())
}

func TestChannelMalformedMessagesIgnored(t *testing.T) {
	server := newAnalysisServer(t,
		`not json`,
		`{"type":"transcript_segment","data":{"text":"kept","start_ms":0,"end_ms":50}}`,
	)
	ch := New(server.wsURL(), nil)

	require.NoError(t, ch.Connect(context.Background(), "s1", nil))
	<-server.ready
	require.Eventually(t, func() bool { return len(ch.Segments()) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, ch.Disconnect())
	require.Equal(t, "kept", ch.FullText())
}

func TestChannelConnectFailure(t *testing.T) {
	ch := New("ws://127.0.0.1:1/insights", nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.Error(t, ch.Connect(ctx, "s1", nil))
	require.NoError(t, ch.Disconnect())
}
