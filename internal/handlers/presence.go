package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/murmur/internal/models"
)

const maxPresenceQuery = 200

// PresenceResponse represents a single user's online status.
type PresenceResponse struct {
	UserID int64 `json:"user_id"`
	Online bool  `json:"online"`
}

// PresenceListResponse represents the online status of several users,
// keyed by user ID.
type PresenceListResponse struct {
	Online map[string]bool `json:"online"`
}

// Presence handles a single user's online status lookup.
func (h *Handler) Presence(w http.ResponseWriter, r *http.Request) {
	userID, err := models.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid user ID")
		return
	}

	online, err := h.presence.IsOnline(r.Context(), userID)
	if err != nil {
		h.Error(w, http.StatusServiceUnavailable, "presence unavailable")
		return
	}

	h.JSON(w, http.StatusOK, PresenceResponse{UserID: userID, Online: online})
}

// PresenceList handles bulk online status lookups for a friend list,
// GET /presence?ids=1,2,3.
func (h *Handler) PresenceList(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("ids")
	if raw == "" {
		h.Error(w, http.StatusBadRequest, "ids is required")
		return
	}

	parts := strings.Split(raw, ",")
	if len(parts) > maxPresenceQuery {
		h.Error(w, http.StatusBadRequest, "too many ids (max "+strconv.Itoa(maxPresenceQuery)+")")
		return
	}

	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := models.ParseUserID(strings.TrimSpace(p))
		if err != nil {
			h.Error(w, http.StatusBadRequest, "invalid user ID "+strconv.Quote(p))
			return
		}
		ids = append(ids, id)
	}

	status, err := h.presence.OnlineMany(r.Context(), ids)
	if err != nil {
		h.Error(w, http.StatusServiceUnavailable, "presence unavailable")
		return
	}

	online := make(map[string]bool, len(ids))
	for _, id := range ids {
		online[strconv.FormatInt(id, 10)] = status[id]
	}
	h.JSON(w, http.StatusOK, PresenceListResponse{Online: online})
}
