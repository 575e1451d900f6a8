package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/murmur/internal/metrics"
	"github.com/eldtechnologies/murmur/internal/models"
)

const (
	DefaultQueueStream = "msg_write_queue"
	DefaultQueueGroup  = "persist-workers"
	DefaultQueueMaxLen = 100000

	// defaultClaimIdle is how long an entry may sit unacknowledged in another
	// consumer's pending list before this consumer takes it over.
	defaultClaimIdle = time.Minute

	scanPageSize = 500
)

// ErrMalformedEntry marks a queue entry that can never be persisted.
var ErrMalformedEntry = errors.New("malformed queue entry")

// QueueOptions configures a RedisQueue.
type QueueOptions struct {
	Stream    string
	Group     string
	Consumer  string        // unique per process
	MaxLen    int64         // length bound; oldest entries are evicted beyond it
	ClaimIdle time.Duration // <0 disables claiming from other consumers
}

// QueueEntry is one drained queue entry. Err is set when the entry could not
// be decoded into a valid message; Message is then only partially filled.
type QueueEntry struct {
	ID      string
	Message models.Message
	Err     error
}

// RedisQueue is the durable write-behind queue, a capped Redis stream read
// through a consumer group.
//
// The length bound is a deliberate lossy-under-pressure policy: when the
// stream is full, XADD trims the oldest entries, trading durability for
// bounded memory. Evictions are only visible in metrics.QueueEvicted.
type RedisQueue struct {
	client    *redis.Client
	stream    string
	group     string
	consumer  string
	maxLen    int64
	claimIdle time.Duration
}

// Queue returns a durable queue on this Redis connection and makes sure the
// stream and its consumer group exist.
func (s *RedisStore) Queue(ctx context.Context, opts QueueOptions) (*RedisQueue, error) {
	if opts.Stream == "" {
		opts.Stream = DefaultQueueStream
	}
	if opts.Group == "" {
		opts.Group = DefaultQueueGroup
	}
	if opts.Consumer == "" {
		opts.Consumer = "consumer-" + ulid.Make().String()
	}
	if opts.MaxLen <= 0 {
		opts.MaxLen = DefaultQueueMaxLen
	}
	if opts.ClaimIdle == 0 {
		opts.ClaimIdle = defaultClaimIdle
	}

	q := &RedisQueue{
		client:    s.client,
		stream:    opts.Stream,
		group:     opts.Group,
		consumer:  opts.Consumer,
		maxLen:    opts.MaxLen,
		claimIdle: opts.ClaimIdle,
	}
	if err := q.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *RedisQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Stream returns the stream key.
func (q *RedisQueue) Stream() string {
	return q.stream
}

// Enqueue appends a message and returns its entry ID. UID, content type and
// thread ID are filled in when unset. An unset timestamp is taken from the
// entry ID, so every server instance orders messages by the Redis clock.
// Only Redis is touched.
func (q *RedisQueue) Enqueue(ctx context.Context, msg *models.Message) (string, error) {
	defer observeRedis(time.Now())

	if msg.UID == "" {
		msg.UID = ulid.Make().String()
	}
	if msg.ContentType == "" {
		msg.ContentType = models.ContentTypeText
	}
	if msg.ThreadID == "" {
		msg.ThreadID = models.ThreadID(msg.SenderID, msg.ReceiverID)
	}

	pipe := q.client.TxPipeline()
	lenCmd := pipe.XLen(ctx, q.stream)
	addCmd := pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Values: encodeMessage(msg),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}

	if before := lenCmd.Val(); before >= q.maxLen {
		metrics.QueueEvicted.Add(float64(before + 1 - q.maxLen))
	}
	metrics.QueueEnqueued.Inc()

	msg.EntryID = addCmd.Val()
	if msg.Timestamp == 0 {
		msg.Timestamp = entryIDMillis(msg.EntryID)
	}
	return msg.EntryID, nil
}

// Drain returns up to maxCount entries in insertion order, blocking up to
// maxWait when nothing is available. Entries this consumer received before but
// never removed are returned first, then entries abandoned by other consumers,
// then new entries.
func (q *RedisQueue) Drain(ctx context.Context, maxCount int, maxWait time.Duration) ([]QueueEntry, error) {
	if maxCount <= 0 {
		maxCount = 100
	}

	// Own pending entries (a previous batch failed before Remove).
	pending, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, "0"},
		Count:    int64(maxCount),
		Block:    -1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if entries := q.decodeStreams(ctx, pending); len(entries) > 0 {
		return entries, nil
	}

	// Entries stuck with a consumer that went away.
	if q.claimIdle > 0 {
		claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.stream,
			Group:    q.group,
			Consumer: q.consumer,
			MinIdle:  q.claimIdle,
			Start:    "0-0",
			Count:    int64(maxCount),
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, err
		}
		if entries := q.decode(ctx, claimed); len(entries) > 0 {
			return entries, nil
		}
	}

	// BLOCK 0 would wait forever; a zero wait means poll.
	block := maxWait
	if block <= 0 {
		block = -1
	}
	fresh, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    int64(maxCount),
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return q.decodeStreams(ctx, fresh), nil
}

func (q *RedisQueue) decodeStreams(ctx context.Context, streams []redis.XStream) []QueueEntry {
	var entries []QueueEntry
	for _, st := range streams {
		entries = append(entries, q.decode(ctx, st.Messages)...)
	}
	return entries
}

// decode converts stream messages into entries. Messages without a body were
// trimmed while pending; they are acknowledged and skipped.
func (q *RedisQueue) decode(ctx context.Context, msgs []redis.XMessage) []QueueEntry {
	entries := make([]QueueEntry, 0, len(msgs))
	var ghosts []string
	for _, xm := range msgs {
		if len(xm.Values) == 0 {
			ghosts = append(ghosts, xm.ID)
			continue
		}
		msg, err := decodeMessage(xm.ID, xm.Values)
		entries = append(entries, QueueEntry{ID: xm.ID, Message: msg, Err: err})
	}
	if len(ghosts) > 0 {
		q.client.XAck(ctx, q.stream, q.group, ghosts...)
	}
	metrics.QueueDrained.Add(float64(len(entries)))
	return entries
}

// Remove deletes entries by ID. Unknown or already removed IDs are ignored,
// so a retried Remove after a crash is safe.
func (q *RedisQueue) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	defer observeRedis(time.Now())

	pipe := q.client.TxPipeline()
	pipe.XAck(ctx, q.stream, q.group, ids...)
	delCmd := pipe.XDel(ctx, q.stream, ids...)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	metrics.QueueRemoved.Add(float64(delCmd.Val()))
	return nil
}

// Scan walks every entry currently in the queue, oldest first, until fn
// returns false. Malformed entries are passed with Err set.
func (q *RedisQueue) Scan(ctx context.Context, fn func(QueueEntry) bool) error {
	start := "-"
	for {
		page, err := q.client.XRangeN(ctx, q.stream, start, "+", scanPageSize).Result()
		if err != nil {
			return err
		}
		if start != "-" && len(page) > 0 && page[0].ID == start {
			page = page[1:]
		}
		if len(page) == 0 {
			return nil
		}
		for _, xm := range page {
			msg, err := decodeMessage(xm.ID, xm.Values)
			if !fn(QueueEntry{ID: xm.ID, Message: msg, Err: err}) {
				return nil
			}
		}
		start = page[len(page)-1].ID
	}
}

// Len returns the number of entries in the queue.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.XLen(ctx, q.stream).Result()
}

// encodeMessage builds the stream fields. A zero timestamp is left out and
// read back from the entry ID.
func encodeMessage(m *models.Message) map[string]interface{} {
	values := map[string]interface{}{
		"uid":          m.UID,
		"sender_id":    strconv.FormatInt(m.SenderID, 10),
		"receiver_id":  strconv.FormatInt(m.ReceiverID, 10),
		"content":      m.Content,
		"content_type": m.ContentType,
	}
	if m.Timestamp != 0 {
		values["timestamp"] = strconv.FormatInt(m.Timestamp, 10)
	}
	return values
}

// decodeMessage parses stream fields. Sender and receiver must be positive
// integers; anything else makes the entry malformed.
func decodeMessage(id string, values map[string]interface{}) (models.Message, error) {
	field := func(k string) string {
		s, _ := values[k].(string)
		return s
	}

	msg := models.Message{
		EntryID:     id,
		UID:         field("uid"),
		Content:     field("content"),
		ContentType: field("content_type"),
	}
	if msg.ContentType == "" {
		msg.ContentType = models.ContentTypeText
	}
	if ts, err := strconv.ParseInt(field("timestamp"), 10, 64); err == nil {
		msg.Timestamp = ts
	} else {
		msg.Timestamp = entryIDMillis(id)
	}

	sender, err := models.ParseUserID(field("sender_id"))
	if err != nil {
		return msg, fmt.Errorf("%w: sender: %v", ErrMalformedEntry, err)
	}
	receiver, err := models.ParseUserID(field("receiver_id"))
	if err != nil {
		return msg, fmt.Errorf("%w: receiver: %v", ErrMalformedEntry, err)
	}
	msg.SenderID = sender
	msg.ReceiverID = receiver
	msg.ThreadID = models.ThreadID(sender, receiver)
	if msg.UID == "" {
		// Entries written by other producers may lack a UID; the entry ID is
		// unique for the lifetime of the stream.
		msg.UID = "x-" + id
	}
	return msg, nil
}

// entryIDMillis extracts the millisecond part of a stream ID ("1700000000000-0").
func entryIDMillis(id string) int64 {
	ms, _, _ := strings.Cut(id, "-")
	n, _ := strconv.ParseInt(ms, 10, 64)
	return n
}
