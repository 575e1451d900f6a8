package models

import "time"

// ContentTypeText is the default content type of a chat message.
const ContentTypeText = "text"

// Message is a chat message as it travels through the write-behind pipeline.
// EntryID is assigned by the queue on insert and is distinct from the
// storage row ID; UID is assigned once at enqueue and survives into storage.
type Message struct {
	EntryID     string `json:"entry_id,omitempty"` // Redis stream ID
	UID         string `json:"uid"`                // ULID
	SenderID    int64  `json:"sender_id"`
	ReceiverID  int64  `json:"receiver_id"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
	ThreadID    string `json:"thread_id"`
	Timestamp   int64  `json:"timestamp"` // Unix ms
}

// CreatedAt returns the message timestamp as a time.Time.
func (m *Message) CreatedAt() time.Time {
	return time.UnixMilli(m.Timestamp).UTC()
}

// StoredMessage is a message row in permanent storage.
type StoredMessage struct {
	ID          int64     `json:"id"`
	UID         string    `json:"uid"`
	ThreadID    string    `json:"thread_id"`
	SenderID    int64     `json:"sender_id"`
	ReceiverID  int64     `json:"receiver_id"`
	Content     string    `json:"content"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// ThreadEntry is one line of conversation history as seen by a user.
type ThreadEntry struct {
	MyWord     string `json:"myword,omitempty"`
	FriendWord string `json:"friendword,omitempty"`
	Timestamp  int64  `json:"timestamp"`
	IsPending  bool   `json:"is_pending,omitempty"`

	uid string
}

// UID returns the message UID the entry was built from.
func (e ThreadEntry) UID() string { return e.uid }

// NewThreadEntry builds the history line for viewerID.
func NewThreadEntry(viewerID, senderID int64, content, uid string, ts int64, pending bool) ThreadEntry {
	e := ThreadEntry{Timestamp: ts, IsPending: pending, uid: uid}
	if senderID == viewerID {
		e.MyWord = content
	} else {
		e.FriendWord = content
	}
	return e
}
