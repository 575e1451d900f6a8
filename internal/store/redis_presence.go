package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/murmur/internal/metrics"
)

const (
	onlineKeyPrefix = "online_user:"
	onlineValue     = "online"

	// DefaultPresenceTTL bounds how long a user appears online after the
	// owning process dies without a clean disconnect.
	DefaultPresenceTTL = time.Hour
)

// onlineKey returns the presence key for a user.
func onlineKey(userID int64) string {
	return fmt.Sprintf("%s%d", onlineKeyPrefix, userID)
}

// RedisPresence is the presence store. Every record carries a TTL, so a
// record whose owner crashed disappears on expiry without an explicit delete.
type RedisPresence struct {
	client *redis.Client
	ttl    time.Duration
}

// Presence returns a presence store on this Redis connection.
func (s *RedisStore) Presence(ttl time.Duration) *RedisPresence {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &RedisPresence{client: s.client, ttl: ttl}
}

// TTL returns the record lifetime.
func (p *RedisPresence) TTL() time.Duration {
	return p.ttl
}

// SetOnline marks a user online for one TTL.
func (p *RedisPresence) SetOnline(ctx context.Context, userID int64) error {
	defer observeRedis(time.Now())
	metrics.PresenceUpdates.WithLabelValues("online").Inc()
	return p.client.Set(ctx, onlineKey(userID), onlineValue, p.ttl).Err()
}

// SetOffline removes a user's presence record. Deleting a missing record is not an error.
func (p *RedisPresence) SetOffline(ctx context.Context, userID int64) error {
	defer observeRedis(time.Now())
	metrics.PresenceUpdates.WithLabelValues("offline").Inc()
	return p.client.Del(ctx, onlineKey(userID)).Err()
}

// Refresh extends the TTL without touching the value. It returns false when
// the record no longer exists, in which case the caller should SetOnline.
func (p *RedisPresence) Refresh(ctx context.Context, userID int64) (bool, error) {
	defer observeRedis(time.Now())
	metrics.PresenceUpdates.WithLabelValues("refresh").Inc()
	return p.client.Expire(ctx, onlineKey(userID), p.ttl).Result()
}

// IsOnline reports whether a user currently has a presence record.
func (p *RedisPresence) IsOnline(ctx context.Context, userID int64) (bool, error) {
	defer observeRedis(time.Now())
	status, err := p.client.Get(ctx, onlineKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return status == onlineValue, nil
}

// OnlineMany reports presence for several users in one round trip.
func (p *RedisPresence) OnlineMany(ctx context.Context, userIDs []int64) (map[int64]bool, error) {
	result := make(map[int64]bool, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}
	defer observeRedis(time.Now())

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = onlineKey(id)
	}
	values, err := p.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		s, _ := v.(string)
		result[userIDs[i]] = s == onlineValue
	}
	return result, nil
}
