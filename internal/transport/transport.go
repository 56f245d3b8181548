// Package transport streams binary audio frames to the remote collector over
// a websocket connection scoped to one recording session.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const handshakeTimeout = 10 * time.Second

var ErrNotConnected = errors.New("transport channel is not connected")

// helloMessage announces the session before any audio frame is sent.
type helloMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	ScopeID   string `json:"scope_id"`
	Timestamp int64  `json:"timestamp"`
}

// Channel is a connection-oriented audio chunk sender. One Channel serves one
// coordinator; Connect/Disconnect bracket each session's use.
type Channel struct {
	endpoint string
	logger   *slog.Logger

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	done    chan struct{}
}

// New creates a disconnected channel for the configured endpoint.
func New(endpoint string, logger *slog.Logger) *Channel {
	return &Channel{endpoint: endpoint, logger: logger}
}

// Connect dials the collector with the session identity and credential, then
// announces the session. Connect on a connected channel is an error.
func (c *Channel) Connect(ctx context.Context, sessionID string, credential string, scopeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return errors.New("transport channel already connected")
	}
	if c.endpoint == "" {
		return errors.New("transport endpoint is not configured")
	}

	wsURL, err := url.Parse(c.endpoint)
	if err != nil {
		return fmt.Errorf("parse transport URL: %w", err)
	}
	query := wsURL.Query()
	query.Set("session_id", sessionID)
	query.Set("scope_id", scopeID)
	wsURL.RawQuery = query.Encode()

	headers := http.Header{}
	if credential != "" {
		headers.Set("Authorization", "Bearer "+credential)
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL.String(), headers)
	if err != nil {
		return fmt.Errorf("connect transport channel: %w", err)
	}

	hello, err := json.Marshal(helloMessage{
		Type:      "session_start",
		SessionID: sessionID,
		ScopeID:   scopeID,
		Timestamp: time.Now().UnixMilli(),
	})
	if err == nil {
		err = conn.WriteMessage(websocket.TextMessage, hello)
	}
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("announce session on transport channel: %w", err)
	}

	done := make(chan struct{})
	c.conn = conn
	c.done = done

	// Drain server frames so control messages are processed; the collector
	// sends nothing the client acts on.
	go c.readLoop(conn, done)
	return nil
}

// SendChunk writes one binary audio frame. Sends are serialized and delivered
// in call order; a failed send is not retried.
func (c *Channel) SendChunk(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		return fmt.Errorf("send audio chunk: %w", err)
	}
	return nil
}

// Disconnect closes the connection gracefully. Disconnecting an unconnected
// channel is a no-op.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	done := c.done
	c.conn = nil
	c.done = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	closeErr := conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	c.writeMu.Unlock()
	if closeErr != nil && c.logger != nil {
		c.logger.Debug("transport close message failed", "error", closeErr.Error())
	}

	err := conn.Close()
	<-done
	return err
}

func (c *Channel) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if c.logger != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("transport read loop ended", "error", err.Error())
			}
			return
		}
	}
}
