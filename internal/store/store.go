package store

import (
	"context"

	"github.com/eldtechnologies/murmur/internal/models"
)

// DataStore defines the interface for permanent storage of chat messages and
// the friend-request lookups the realtime core needs.
// Both PostgresStore and SQLiteStore implement this interface.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Message operations
	//
	// InsertMessages writes msgs in slice order in a single transaction.
	// Rows whose UID already exists are skipped, so re-inserting a batch after
	// a crash between insert and queue removal does not duplicate history.
	InsertMessages(ctx context.Context, msgs []models.StoredMessage) (int64, error)
	GetThreadMessages(ctx context.Context, threadID string) ([]models.StoredMessage, error)

	// Friend request operations
	CountPendingFriendRequests(ctx context.Context, userID int64) (int, error)
}

// friendRequestPending is the status value of an unanswered friend request.
const friendRequestPending = 1
