package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/murmur/internal/api/middleware"
	"github.com/eldtechnologies/murmur/internal/messaging"
	"github.com/eldtechnologies/murmur/internal/models"
)

// SendMessageRequest represents the send message request body.
type SendMessageRequest struct {
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
}

// SendMessageResponse represents the send message response.
type SendMessageResponse struct {
	ID        string `json:"id"`
	EntryID   string `json:"entry_id"`
	ThreadID  string `json:"thread_id"`
	Timestamp int64  `json:"timestamp"`
}

// ThreadResponse represents a conversation history response.
type ThreadResponse struct {
	ThreadID string               `json:"thread_id"`
	Messages []models.ThreadEntry `json:"messages"`
}

// SendMessage handles the HTTP fallback for sending a chat message. It runs
// the same pipeline as the realtime sendmessage payload.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())
	if userID == 0 {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	friendID, err := models.ParseUserID(chi.URLParam(r, "friendID"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid friend ID")
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg, err := h.sender.Send(r.Context(), userID, friendID, req.Content, req.ContentType)
	if errors.Is(err, messaging.ErrInvalidMessage) {
		h.Error(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		h.Error(w, http.StatusServiceUnavailable, "failed to queue message")
		return
	}

	h.JSON(w, http.StatusAccepted, SendMessageResponse{
		ID:        msg.UID,
		EntryID:   msg.EntryID,
		ThreadID:  msg.ThreadID,
		Timestamp: msg.Timestamp,
	})
}

// GetThread handles fetching the conversation with a friend, including
// messages that have not been persisted yet.
func (h *Handler) GetThread(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())
	if userID == 0 {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	friendID, err := models.ParseUserID(chi.URLParam(r, "friendID"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid friend ID")
		return
	}

	entries, err := h.history.GetThread(r.Context(), userID, friendID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if entries == nil {
		entries = []models.ThreadEntry{}
	}

	h.JSON(w, http.StatusOK, ThreadResponse{
		ThreadID: models.ThreadID(userID, friendID),
		Messages: entries,
	})
}
