package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/nats-io/nats.go"

	"github.com/eldtechnologies/murmur/internal/models"
	"github.com/eldtechnologies/murmur/internal/store"
)

// ThreadReader returns a conversation as seen by one participant.
type ThreadReader interface {
	GetThread(ctx context.Context, userID, otherID int64) ([]models.ThreadEntry, error)
}

// Sender accepts chat messages.
type Sender interface {
	Send(ctx context.Context, senderID, receiverID int64, content, contentType string) (*models.Message, error)
}

// PresenceReader answers online-status queries.
type PresenceReader interface {
	IsOnline(ctx context.Context, userID int64) (bool, error)
	OnlineMany(ctx context.Context, userIDs []int64) (map[int64]bool, error)
}

// QueueInspector exposes the durable queue for health and stats.
type QueueInspector interface {
	Len(ctx context.Context) (int64, error)
	Scan(ctx context.Context, fn func(store.QueueEntry) bool) error
}

// ConnectionCounter reports local realtime connections.
type ConnectionCounter interface {
	Users() int
}

// Deps are the collaborators shared by the HTTP handlers. NATS is nil when
// fan-out runs in-process.
type Deps struct {
	Store    store.DataStore
	Redis    *store.RedisStore
	NATS     *nats.Conn
	Queue    QueueInspector
	Presence PresenceReader
	Sender   Sender
	History  ThreadReader
	Hub      ConnectionCounter
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store    store.DataStore
	redis    *store.RedisStore
	nats     *nats.Conn
	queue    QueueInspector
	presence PresenceReader
	sender   Sender
	history  ThreadReader
	hub      ConnectionCounter
}

// NewHandler creates a new Handler.
func NewHandler(d Deps) *Handler {
	return &Handler{
		store:    d.Store,
		redis:    d.Redis,
		nats:     d.NATS,
		queue:    d.Queue,
		presence: d.Presence,
		sender:   d.Sender,
		history:  d.History,
		hub:      d.Hub,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}
