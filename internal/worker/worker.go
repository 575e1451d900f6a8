// Package worker drains the durable queue into permanent storage.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/murmur/internal/metrics"
	"github.com/eldtechnologies/murmur/internal/models"
	"github.com/eldtechnologies/murmur/internal/store"
)

const (
	DefaultBatchSize = 100
	DefaultBlock     = time.Second
	DefaultBackoff   = 5 * time.Second
)

// Queue is the consuming side of the durable queue.
type Queue interface {
	Drain(ctx context.Context, maxCount int, maxWait time.Duration) ([]store.QueueEntry, error)
	Remove(ctx context.Context, ids ...string) error
}

// MessageWriter persists a batch of messages in order.
type MessageWriter interface {
	InsertMessages(ctx context.Context, msgs []models.StoredMessage) (int64, error)
}

// Options tunes the drain loop.
type Options struct {
	BatchSize int
	Block     time.Duration // how long one Drain waits on an empty queue
	Backoff   time.Duration // pause after a failed batch
}

// Worker is the persistence loop. Several workers may run against the same
// queue: each drains through its own consumer, and storage skips rows whose
// UID already exists.
type Worker struct {
	queue  Queue
	store  MessageWriter
	opts   Options
	logger zerolog.Logger
}

// New creates a persistence worker.
func New(queue Queue, writer MessageWriter, opts Options, logger zerolog.Logger) *Worker {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Block <= 0 {
		opts.Block = DefaultBlock
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	return &Worker{
		queue:  queue,
		store:  writer,
		opts:   opts,
		logger: logger.With().Str("component", "worker").Logger(),
	}
}

// Run drains batches until ctx is cancelled. A failed batch is logged and
// retried after the backoff; failures never end the loop.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().
		Int("batch_size", w.opts.BatchSize).
		Dur("block", w.opts.Block).
		Msg("persistence worker started")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := w.ProcessBatch(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.BatchFailures.Inc()
			w.logger.Error().Err(err).Dur("backoff", w.opts.Backoff).Msg("batch failed, entries kept for retry")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.opts.Backoff):
			}
		}
	}
}

// ProcessBatch drains one batch and persists it, returning the number of rows
// written. Entries are removed from the queue only after the insert succeeds.
// Malformed entries are removed without being persisted: retrying cannot fix them.
func (w *Worker) ProcessBatch(ctx context.Context) (int64, error) {
	entries, err := w.queue.Drain(ctx, w.opts.BatchSize, w.opts.Block)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(entries))
	batch := make([]models.StoredMessage, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
		if e.Err != nil {
			metrics.MessagesDropped.WithLabelValues("malformed").Inc()
			w.logger.Warn().Err(e.Err).Str("entry_id", e.ID).Msg("dropping malformed queue entry")
			continue
		}
		batch = append(batch, toStored(e.Message))
	}

	var inserted int64
	if len(batch) > 0 {
		inserted, err = w.store.InsertMessages(ctx, batch)
		if err != nil {
			return 0, err
		}
	}

	if err := w.queue.Remove(ctx, ids...); err != nil {
		// Rows are committed; the entries come back on the next drain and
		// their UIDs make the reinsert a no-op.
		return inserted, err
	}

	metrics.MessagesPersisted.Add(float64(inserted))
	metrics.BatchSize.Observe(float64(len(entries)))
	w.logger.Debug().
		Int("drained", len(entries)).
		Int64("inserted", inserted).
		Int("dropped", len(entries)-len(batch)).
		Msg("batch persisted")
	return inserted, nil
}

func toStored(m models.Message) models.StoredMessage {
	return models.StoredMessage{
		UID:         m.UID,
		ThreadID:    models.ThreadID(m.SenderID, m.ReceiverID),
		SenderID:    m.SenderID,
		ReceiverID:  m.ReceiverID,
		Content:     m.Content,
		ContentType: m.ContentType,
		CreatedAt:   m.CreatedAt(),
	}
}
