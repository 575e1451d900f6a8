package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/murmur/internal/metrics"
	"github.com/eldtechnologies/murmur/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InsertMessages writes a batch of messages in one round trip.
func (s *PostgresStore) InsertMessages(ctx context.Context, msgs []models.StoredMessage) (int64, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	start := time.Now()
	defer func() {
		metrics.StorageLatency.WithLabelValues("insert_batch").Observe(time.Since(start).Seconds())
	}()

	var inserted int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, m := range msgs {
			batch.Queue(`
				INSERT INTO messages (uid, thread_id, sender_id, receiver_id, content, content_type, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (uid) DO NOTHING
			`, m.UID, m.ThreadID, m.SenderID, m.ReceiverID, m.Content, m.ContentType, m.CreatedAt)
		}

		br := tx.SendBatch(ctx, batch)
		for range msgs {
			tag, err := br.Exec()
			if err != nil {
				br.Close()
				return err
			}
			inserted += tag.RowsAffected()
		}
		return br.Close()
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// GetThreadMessages returns every persisted message of a conversation, oldest first.
func (s *PostgresStore) GetThreadMessages(ctx context.Context, threadID string) ([]models.StoredMessage, error) {
	start := time.Now()
	defer func() {
		metrics.StorageLatency.WithLabelValues("thread").Observe(time.Since(start).Seconds())
	}()

	rows, err := s.pool.Query(ctx, `
		SELECT id, uid, thread_id, sender_id, receiver_id, content, content_type, created_at
		FROM messages
		WHERE thread_id = $1
		ORDER BY created_at ASC, id ASC
	`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.StoredMessage
	for rows.Next() {
		var m models.StoredMessage
		if err := rows.Scan(
			&m.ID,
			&m.UID,
			&m.ThreadID,
			&m.SenderID,
			&m.ReceiverID,
			&m.Content,
			&m.ContentType,
			&m.CreatedAt,
		); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// CountPendingFriendRequests counts unanswered requests addressed to userID.
func (s *PostgresStore) CountPendingFriendRequests(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM friend_requests WHERE to_user_id = $1 AND status = $2
	`, userID, friendRequestPending).Scan(&count)
	return count, err
}
