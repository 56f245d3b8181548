// Package insights receives realtime analysis results for a recording
// session and accumulates the transcript for the final upload.
package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const handshakeTimeout = 10 * time.Second

// Segment is one timed transcript span as reported by the analysis service.
type Segment struct {
	Text    string `json:"text"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
}

// Event is a non-transcript analysis result (question, action item, summary).
type Event struct {
	Tier string `json:"tier"`
	Text string `json:"text"`
}

// envelope is the wire shape of every server message.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type subscribeMessage struct {
	Type      string   `json:"type"`
	SessionID string   `json:"session_id"`
	Tiers     []string `json:"tiers"`
}

// Channel is a connection-oriented analysis result receiver. Each Connect
// resets the accumulated transcript; results survive Disconnect so the
// coordinator can read them during finalization.
type Channel struct {
	endpoint string
	logger   *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	done   chan struct{}
	events chan Event

	segments []Segment
}

// New creates a disconnected channel for the configured endpoint.
func New(endpoint string, logger *slog.Logger) *Channel {
	return &Channel{endpoint: endpoint, logger: logger}
}

// Connect dials the analysis service, subscribes the session to the given
// tiers, and starts the receive loop. Any previously accumulated transcript
// is discarded.
func (c *Channel) Connect(ctx context.Context, sessionID string, tiers []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return errors.New("insights channel already connected")
	}
	if c.endpoint == "" {
		return errors.New("insights endpoint is not configured")
	}

	wsURL, err := url.Parse(c.endpoint)
	if err != nil {
		return fmt.Errorf("parse insights URL: %w", err)
	}
	query := wsURL.Query()
	query.Set("session_id", sessionID)
	wsURL.RawQuery = query.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		return fmt.Errorf("connect insights channel: %w", err)
	}

	sub, err := json.Marshal(subscribeMessage{Type: "subscribe", SessionID: sessionID, Tiers: tiers})
	if err == nil {
		err = conn.WriteMessage(websocket.TextMessage, sub)
	}
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("subscribe insights channel: %w", err)
	}

	done := make(chan struct{})
	events := make(chan Event, 16)
	c.conn = conn
	c.done = done
	c.events = events
	c.segments = nil

	go c.recvLoop(conn, done, events)
	return nil
}

// Disconnect closes the connection gracefully and waits for the receive loop
// to drain. The accumulated transcript remains readable afterwards.
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

	closeErr := conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	if closeErr != nil && c.logger != nil {
		c.logger.Debug("insights close message failed", "error", closeErr.Error())
	}

	err := conn.Close()
	<-done
	return err
}

// Events delivers questions, action items and summaries as they arrive. The
// channel closes when the receive loop ends.
func (c *Channel) Events() <-chan Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events
}

// FullText joins the accumulated transcript segments in arrival order.
func (c *Channel) FullText() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	parts := make([]string, 0, len(c.segments))
	for _, seg := range c.segments {
		if seg.Text != "" {
			parts = append(parts, seg.Text)
		}
	}
	return strings.Join(parts, " ")
}

// Segments returns a copy of the accumulated transcript segments.
func (c *Channel) Segments() []Segment {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Segment, len(c.segments))
	copy(out, c.segments)
	return out
}

func (c *Channel) recvLoop(conn *websocket.Conn, done chan struct{}, events chan Event) {
	defer close(done)
	defer close(events)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if c.logger != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("insights receive loop ended", "error", err.Error())
			}
			return
		}

		var msg envelope
		if err := json.Unmarshal(payload, &msg); err != nil {
			if c.logger != nil {
				c.logger.Warn("discarding malformed insights message", "error", err.Error())
			}
			continue
		}

		switch msg.Type {
		case "transcript_segment":
			var seg Segment
			if err := json.Unmarshal(msg.Data, &seg); err != nil {
				continue
			}
			c.appendSegment(seg)
		case "question", "action_item", "summary":
			var ev Event
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				continue
			}
			if ev.Tier == "" {
				ev.Tier = msg.Type
			}
			select {
			case events <- ev:
			default:
				// Slow consumer; drop rather than stall the transcript.
			}
		default:
			if c.logger != nil {
				c.logger.Debug("ignoring insights message", "type", msg.Type)
			}
		}
	}
}

func (c *Channel) appendSegment(seg Segment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.segments = append(c.segments, seg)
}
