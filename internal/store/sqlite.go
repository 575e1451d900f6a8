package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/murmur/internal/metrics"
	"github.com/eldtechnologies/murmur/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/murmur.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/murmur.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY between them.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertMessages writes a batch of messages in one transaction.
func (s *SQLiteStore) InsertMessages(ctx context.Context, msgs []models.StoredMessage) (int64, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	start := time.Now()
	defer func() {
		metrics.StorageLatency.WithLabelValues("insert_batch").Observe(time.Since(start).Seconds())
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO messages (uid, thread_id, sender_id, receiver_id, content, content_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var inserted int64
	for _, m := range msgs {
		res, err := stmt.ExecContext(ctx, m.UID, m.ThreadID, m.SenderID, m.ReceiverID, m.Content, m.ContentType, m.CreatedAt.UnixMilli())
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// GetThreadMessages returns every persisted message of a conversation, oldest first.
func (s *SQLiteStore) GetThreadMessages(ctx context.Context, threadID string) ([]models.StoredMessage, error) {
	start := time.Now()
	defer func() {
		metrics.StorageLatency.WithLabelValues("thread").Observe(time.Since(start).Seconds())
	}()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, uid, thread_id, sender_id, receiver_id, content, content_type, created_at
		FROM messages
		WHERE thread_id = ?
		ORDER BY created_at ASC, id ASC
	`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.StoredMessage
	for rows.Next() {
		var m models.StoredMessage
		var createdMs int64
		if err := rows.Scan(
			&m.ID,
			&m.UID,
			&m.ThreadID,
			&m.SenderID,
			&m.ReceiverID,
			&m.Content,
			&m.ContentType,
			&createdMs,
		); err != nil {
			return nil, err
		}
		m.CreatedAt = time.UnixMilli(createdMs).UTC()
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// CountPendingFriendRequests counts unanswered requests addressed to userID.
func (s *SQLiteStore) CountPendingFriendRequests(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM friend_requests WHERE to_user_id = ? AND status = ?
	`, userID, friendRequestPending).Scan(&count)
	return count, err
}

// AddFriendRequest records a friend request. The friend-request service owns
// this table in production; the method exists for local setups and tests.
func (s *SQLiteStore) AddFriendRequest(ctx context.Context, fromUserID, toUserID int64, status int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO friend_requests (from_user_id, to_user_id, status) VALUES (?, ?, ?)
	`, fromUserID, toUserID, status)
	return err
}
