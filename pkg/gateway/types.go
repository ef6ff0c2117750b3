package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Outbound message types.
const (
	TypeReply = "reply"
	TypeError = "error"
	TypeEvent = "event"
)

// Error codes sent in TypeError messages.
const (
	CodeInvalidRequest    = "invalid_request"
	CodeRateLimited       = "rate_limited"
	CodeTooManyConcurrent = "too_many_concurrent"
	CodeShuttingDown      = "shutting_down"
)

// InboundRequest is one prompt sent by a client.
type InboundRequest struct {
	EventID     string `json:"event_id,omitempty"`
	Thread      string `json:"thread,omitempty"`
	RequesterID string `json:"requester_id,omitempty"`
	Text        string `json:"text"`
}

// OutboundMessage is everything the server writes to a client.
type OutboundMessage struct {
	Type      string      `json:"type"`
	EventID   string      `json:"event_id,omitempty"`
	TaskID    string      `json:"task_id,omitempty"`
	Text      string      `json:"text,omitempty"`
	Code      string      `json:"code,omitempty"`
	Event     string      `json:"event,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Seq       int64       `json:"seq,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// ClientInfo represents information about a connected client
type ClientInfo struct {
	ID           string    `json:"id"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
	IPAddress    string    `json:"ipAddress"`
	InFlight     int       `json:"inFlight"`
	Idle         bool      `json:"idle"`
}

// Client represents a connected WebSocket client
type Client struct {
	ID           string
	Conn         *websocket.Conn
	ConnectedAt  time.Time
	LastActivity time.Time
	IPAddress    string
	RateLimiter  *ClientRateLimiter

	writeMu      sync.Mutex
	writeTimeout time.Duration
}

// Send writes msg as one JSON text frame. Writes are serialized per client.
func (c *Client) Send(msg OutboundMessage) error {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.Conn.WriteJSON(msg)
}
