package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/eldtechnologies/murmur/internal/store"
)

// StatsResponse represents the pipeline statistics response.
type StatsResponse struct {
	QueueDepth    int64  `json:"queue_depth"`
	OldestPending string `json:"oldest_pending"`
	LocalUsers    int    `json:"local_users"`
}

// Stats reports how far the persistence worker is behind and how many users
// hold a realtime connection on this instance.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	depth, err := h.queue.Len(ctx)
	if err != nil {
		h.Error(w, http.StatusServiceUnavailable, "failed to read queue length")
		return
	}

	oldest := "nothing pending"
	err = h.queue.Scan(ctx, func(e store.QueueEntry) bool {
		if e.Err == nil {
			oldest = formatTimeAgo(e.Message.CreatedAt())
			return false
		}
		return true
	})
	if err != nil {
		oldest = "unknown"
	}

	users := 0
	if h.hub != nil {
		users = h.hub.Users()
	}

	h.JSON(w, http.StatusOK, StatsResponse{
		QueueDepth:    depth,
		OldestPending: oldest,
		LocalUsers:    users,
	})
}

// formatTimeAgo formats a time as a human-readable "X ago" string.
func formatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return strconv.Itoa(mins) + " minutes ago"
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return strconv.Itoa(hours) + " hours ago"
	default:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return strconv.Itoa(days) + " days ago"
	}
}
