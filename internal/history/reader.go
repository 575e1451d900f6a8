// Package history assembles a conversation from permanent storage and the
// messages still waiting in the durable queue.
package history

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/murmur/internal/models"
	"github.com/eldtechnologies/murmur/internal/store"
)

// ThreadStore returns persisted messages of a thread ordered by creation time.
type ThreadStore interface {
	GetThreadMessages(ctx context.Context, threadID string) ([]models.StoredMessage, error)
}

// QueueScanner walks the entries still in the durable queue.
type QueueScanner interface {
	Scan(ctx context.Context, fn func(store.QueueEntry) bool) error
}

// Reader serves conversation history.
type Reader struct {
	store  ThreadStore
	queue  QueueScanner
	logger zerolog.Logger
}

// NewReader creates a history reader.
func NewReader(s ThreadStore, q QueueScanner, logger zerolog.Logger) *Reader {
	return &Reader{
		store:  s,
		queue:  q,
		logger: logger.With().Str("component", "history").Logger(),
	}
}

// GetThread returns the conversation between userID and otherID from userID's
// point of view. Messages not yet persisted are included and marked pending.
// A message caught between insert and queue removal appears once, as persisted.
//
// The queue is scanned before storage is read. An entry the worker persists
// and removes in between is then seen pending and again persisted, never
// neither.
func (r *Reader) GetThread(ctx context.Context, userID, otherID int64) ([]models.ThreadEntry, error) {
	threadID := models.ThreadID(userID, otherID)

	var pending []models.ThreadEntry
	err := r.queue.Scan(ctx, func(e store.QueueEntry) bool {
		if e.Err != nil {
			return true
		}
		m := e.Message
		if !models.InThread(m.SenderID, m.ReceiverID, userID, otherID) {
			return true
		}
		pending = append(pending, models.NewThreadEntry(userID, m.SenderID, m.Content, m.UID, m.Timestamp, true))
		return true
	})
	if err != nil {
		// Persisted history is still useful without the pending tail.
		r.logger.Warn().Err(err).Str("thread_id", threadID).Msg("queue scan failed")
		pending = nil
	}

	rows, err := r.store.GetThreadMessages(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", threadID, err)
	}

	persisted := make(map[string]struct{}, len(rows))
	entries := make([]models.ThreadEntry, 0, len(rows)+len(pending))
	for _, m := range rows {
		persisted[m.UID] = struct{}{}
		entries = append(entries, models.NewThreadEntry(userID, m.SenderID, m.Content, m.UID, m.CreatedAt.UnixMilli(), false))
	}
	for _, e := range pending {
		if _, ok := persisted[e.UID()]; ok {
			continue
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp < entries[j].Timestamp
	})
	return entries, nil
}
