package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Inbound payload types on the realtime channel.
const (
	InboundPing        = "ping"
	InboundSendMessage = "sendmessage"
)

// Outbound event types on the realtime channel.
const (
	EventPong            = "pong"
	EventPendingRequests = "pending_requests"
	EventChatMessage     = "chat.message"
	EventMessageAck      = "message.ack"
	EventError           = "error"
)

// Inbound is a tagged payload received from a client. Fields that do not
// apply to the payload type are left empty.
type Inbound struct {
	Type        string `json:"type"`
	FriendID    int64  `json:"friend_id,omitempty"`
	Content     string `json:"content,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// UnmarshalJSON accepts friend_id as a JSON number or a numeric string.
func (in *Inbound) UnmarshalJSON(data []byte) error {
	type plain Inbound
	var raw struct {
		plain
		FriendID json.RawMessage `json:"friend_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*in = Inbound(raw.plain)
	in.FriendID = 0

	id := bytes.TrimSpace(raw.FriendID)
	if len(id) == 0 || bytes.Equal(id, []byte("null")) {
		return nil
	}
	if id[0] == '"' {
		var s string
		if err := json.Unmarshal(id, &s); err != nil {
			return fmt.Errorf("friend_id: %w", err)
		}
		n, err := ParseUserID(s)
		if err != nil {
			return fmt.Errorf("friend_id: %w", err)
		}
		in.FriendID = n
		return nil
	}
	if err := json.Unmarshal(id, &in.FriendID); err != nil {
		return fmt.Errorf("friend_id: %w", err)
	}
	return nil
}

// Event is a payload pushed to a client.
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

// PongEvent answers a client heartbeat.
func PongEvent() Event {
	return Event{Type: EventPong}
}

// PendingRequestsEvent reports the number of pending incoming friend requests.
func PendingRequestsEvent(n int) Event {
	return Event{Type: EventPendingRequests, Count: &n}
}

// ChatMessageEvent is the fan-out payload delivered to a recipient.
func ChatMessageEvent(m *Message) Event {
	return Event{
		Type:        EventChatMessage,
		ID:          m.UID,
		EntryID:     m.EntryID,
		SenderID:    m.SenderID,
		ReceiverID:  m.ReceiverID,
		Content:     m.Content,
		ContentType: m.ContentType,
		ThreadID:    m.ThreadID,
		Timestamp:   m.Timestamp,
	}
}

// AckEvent confirms to the sender that a message was queued.
func AckEvent(m *Message) Event {
	return Event{
		Type:       EventMessageAck,
		ID:         m.UID,
		EntryID:    m.EntryID,
		ReceiverID: m.ReceiverID,
		ThreadID:   m.ThreadID,
		Timestamp:  m.Timestamp,
	}
}

// ErrorEvent reports a rejected client request without closing the connection.
func ErrorEvent(msg string) Event {
	return Event{Type: EventError, Error: msg}
}
