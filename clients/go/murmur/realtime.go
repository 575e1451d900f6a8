package murmur

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Event is a payload pushed by the server on the realtime channel.
type Event struct {
	Type        string `json:"type"`
	Count       *int   `json:"count,omitempty"`
	ID          string `json:"id,omitempty"`
	EntryID     string `json:"entry_id,omitempty"`
	SenderID    int64  `json:"sender_id,omitempty"`
	ReceiverID  int64  `json:"receiver_id,omitempty"`
	Content     string `json:"content,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	ThreadID    string `json:"thread_id,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Conn is an open realtime connection.
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex // serializes writes
}

// Connect opens the realtime channel.
func (c *Client) Connect(ctx context.Context) (*Conn, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"

	header := http.Header{}
	if c.Token != "" {
		header.Set("Authorization", "Bearer "+c.Token)
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, &APIError{Status: resp.StatusCode, Message: "realtime connection refused"}
		}
		return nil, err
	}
	return &Conn{ws: ws}, nil
}

func (c *Conn) write(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

// Ping sends an application heartbeat; the server answers with a pong event
// and refreshes presence.
func (c *Conn) Ping() error {
	return c.write(map[string]string{"type": "ping"})
}

// Send sends a message to a friend. The server answers with message.ack, or
// an error event when the message is rejected.
func (c *Conn) Send(friendID int64, content string) error {
	return c.write(map[string]interface{}{
		"type":      "sendmessage",
		"friend_id": friendID,
		"content":   content,
	})
}

// Next blocks until the next event arrives.
func (c *Conn) Next() (*Event, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Close closes the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.mu.Unlock()
	return c.ws.Close()
}
