package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/murmur/internal/models"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisStoreFromClient(client)
}

func newTestQueue(t *testing.T, rs *RedisStore, maxLen int64) *RedisQueue {
	t.Helper()
	q, err := rs.Queue(context.Background(), QueueOptions{
		Stream:    "test_queue",
		Consumer:  "c1",
		MaxLen:    maxLen,
		ClaimIdle: -1,
	})
	if err != nil {
		t.Fatal(err)
	}
	return q
}

func enqueue(t *testing.T, q *RedisQueue, from, to int64, content string) *models.Message {
	t.Helper()
	msg := &models.Message{SenderID: from, ReceiverID: to, Content: content}
	if _, err := q.Enqueue(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestQueueEnqueueFillsFields(t *testing.T) {
	_, rs := newTestRedis(t)
	q := newTestQueue(t, rs, 100)

	msg := enqueue(t, q, 2, 1, "hi")
	if msg.EntryID == "" || msg.UID == "" || msg.Timestamp == 0 {
		t.Fatalf("expected generated fields, got %+v", msg)
	}
	if msg.ThreadID != "1_2" {
		t.Fatalf("expected thread 1_2, got %q", msg.ThreadID)
	}
	if msg.ContentType != models.ContentTypeText {
		t.Fatalf("expected default content type, got %q", msg.ContentType)
	}
}

func TestQueueDrainFIFO(t *testing.T) {
	_, rs := newTestRedis(t)
	q := newTestQueue(t, rs, 100)
	ctx := context.Background()

	for _, c := range []string{"m1", "m2", "m3"} {
		enqueue(t, q, 1, 2, c)
	}

	entries, err := q.Drain(ctx, 10, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if entries[i].Err != nil {
			t.Fatalf("entry %d: %v", i, entries[i].Err)
		}
		if entries[i].Message.Content != want {
			t.Fatalf("entry %d: expected %q, got %q", i, want, entries[i].Message.Content)
		}
	}
}

func TestQueueDrainRespectsCount(t *testing.T) {
	_, rs := newTestRedis(t)
	q := newTestQueue(t, rs, 100)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		enqueue(t, q, 1, 2, "x")
	}
	entries, err := q.Drain(ctx, 2, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}

func TestQueueOverflowEvictsOldest(t *testing.T) {
	_, rs := newTestRedis(t)
	q := newTestQueue(t, rs, 3)
	ctx := context.Background()

	for _, c := range []string{"m1", "m2", "m3", "m4", "m5"} {
		enqueue(t, q, 1, 2, c)
	}

	n, err := q.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected length 3, got %d", n)
	}

	entries, err := q.Drain(ctx, 10, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, want := range []string{"m3", "m4", "m5"} {
		if entries[i].Message.Content != want {
			t.Fatalf("entry %d: expected %q, got %q", i, want, entries[i].Message.Content)
		}
	}
}

func TestQueueDrainEmptyTimesOut(t *testing.T) {
	_, rs := newTestRedis(t)
	q := newTestQueue(t, rs, 100)

	entries, err := q.Drain(context.Background(), 10, 20*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}

func TestQueueDrainWakesOnEnqueue(t *testing.T) {
	_, rs := newTestRedis(t)
	q := newTestQueue(t, rs, 100)

	go func() {
		time.Sleep(50 * time.Millisecond)
		msg := &models.Message{SenderID: 1, ReceiverID: 2, Content: "late"}
		q.Enqueue(context.Background(), msg)
	}()

	entries, err := q.Drain(context.Background(), 10, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Message.Content != "late" {
		t.Fatalf("expected the late entry, got %+v", entries)
	}
}

func TestQueueRedeliversUnremoved(t *testing.T) {
	_, rs := newTestRedis(t)
	q := newTestQueue(t, rs, 100)
	ctx := context.Background()

	enqueue(t, q, 1, 2, "keep")

	first, err := q.Drain(ctx, 10, 10*time.Millisecond)
	if err != nil || len(first) != 1 {
		t.Fatalf("expected one entry, got %d (%v)", len(first), err)
	}

	// Batch failed: nothing removed, the next drain sees the same entry.
	second, err := q.Drain(ctx, 10, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 1 || second[0].ID != first[0].ID {
		t.Fatalf("expected redelivery of %s, got %+v", first[0].ID, second)
	}

	if err := q.Remove(ctx, first[0].ID); err != nil {
		t.Fatal(err)
	}
	third, err := q.Drain(ctx, 10, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if len(third) != 0 {
		t.Fatalf("expected empty queue after remove, got %d", len(third))
	}
}

func TestQueueClaimsAbandonedEntries(t *testing.T) {
	mr, rs := newTestRedis(t)
	ctx := context.Background()
	crashed := newTestQueue(t, rs, 100)

	enqueue(t, crashed, 1, 2, "m1")
	enqueue(t, crashed, 1, 2, "m2")

	mr.SetTime(time.Now())
	taken, err := crashed.Drain(ctx, 10, 0)
	if err != nil || len(taken) != 2 {
		t.Fatalf("expected 2 entries, got %d (%v)", len(taken), err)
	}

	survivor, err := rs.Queue(ctx, QueueOptions{
		Stream:    "test_queue",
		Consumer:  "c2",
		ClaimIdle: time.Minute,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Not idle long enough yet.
	early, err := survivor.Drain(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(early) != 0 {
		t.Fatalf("claimed %d entries before they were idle", len(early))
	}

	mr.SetTime(time.Now().Add(2 * time.Minute))
	claimed, err := survivor.Drain(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 2 {
		t.Fatalf("expected 2 claimed entries, got %d", len(claimed))
	}
	for i, want := range []string{"m1", "m2"} {
		if claimed[i].ID != taken[i].ID || claimed[i].Message.Content != want {
			t.Fatalf("claimed entry %d = %+v, want %s", i, claimed[i], want)
		}
	}

	// The entries now belong to the survivor.
	again, err := crashed.Drain(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Fatalf("original consumer still sees %d entries", len(again))
	}

	if err := survivor.Remove(ctx, claimed[0].ID, claimed[1].ID); err != nil {
		t.Fatal(err)
	}
	if n, _ := survivor.Len(ctx); n != 0 {
		t.Fatalf("queue length = %d after remove", n)
	}
}

func TestQueueTimestampFromRedisClock(t *testing.T) {
	mr, rs := newTestRedis(t)
	q := newTestQueue(t, rs, 100)
	ctx := context.Background()

	at := time.Date(2031, 3, 4, 5, 6, 7, 0, time.UTC)
	mr.SetTime(at)

	msg := enqueue(t, q, 1, 2, "clocked")
	if msg.Timestamp != at.UnixMilli() {
		t.Fatalf("timestamp = %d, want %d", msg.Timestamp, at.UnixMilli())
	}
	if msg.Timestamp != entryIDMillis(msg.EntryID) {
		t.Fatalf("timestamp %d does not match entry %s", msg.Timestamp, msg.EntryID)
	}

	explicit := &models.Message{SenderID: 1, ReceiverID: 2, Content: "set", Timestamp: 1234}
	if _, err := q.Enqueue(ctx, explicit); err != nil {
		t.Fatal(err)
	}

	entries, err := q.Drain(ctx, 10, 0)
	if err != nil || len(entries) != 2 {
		t.Fatalf("drain = %d entries, %v", len(entries), err)
	}
	if entries[0].Message.Timestamp != at.UnixMilli() {
		t.Fatalf("drained timestamp = %d", entries[0].Message.Timestamp)
	}
	if entries[1].Message.Timestamp != 1234 {
		t.Fatalf("explicit timestamp lost: %d", entries[1].Message.Timestamp)
	}
}

func TestQueueRemoveIdempotent(t *testing.T) {
	_, rs := newTestRedis(t)
	q := newTestQueue(t, rs, 100)
	ctx := context.Background()

	msg := enqueue(t, q, 1, 2, "x")
	if err := q.Remove(ctx, msg.EntryID); err != nil {
		t.Fatal(err)
	}
	if err := q.Remove(ctx, msg.EntryID); err != nil {
		t.Fatalf("second remove should be a no-op, got %v", err)
	}
	if err := q.Remove(ctx, "1-1"); err != nil {
		t.Fatalf("removing unknown id should be a no-op, got %v", err)
	}
}

func TestQueueMalformedEntry(t *testing.T) {
	_, rs := newTestRedis(t)
	q := newTestQueue(t, rs, 100)
	ctx := context.Background()

	err := rs.Client().XAdd(ctx, &redis.XAddArgs{
		Stream: q.Stream(),
		Values: map[string]interface{}{"sender_id": "None", "receiver_id": "2", "content": "x"},
	}).Err()
	if err != nil {
		t.Fatal(err)
	}

	entries, err := q.Drain(ctx, 10, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Err == nil {
		t.Fatal("expected malformed entry error")
	}
}

func TestQueueScan(t *testing.T) {
	_, rs := newTestRedis(t)
	q := newTestQueue(t, rs, 2000)
	ctx := context.Background()

	// More than one page.
	total := scanPageSize + 20
	for i := 0; i < total; i++ {
		enqueue(t, q, 1, 2, "x")
	}

	seen := 0
	ids := make(map[string]bool)
	err := q.Scan(ctx, func(e QueueEntry) bool {
		if ids[e.ID] {
			t.Fatalf("entry %s visited twice", e.ID)
		}
		ids[e.ID] = true
		seen++
		return true
	})
	if err != nil {
		t.Fatal(err)
	}
	if seen != total {
		t.Fatalf("expected %d entries, got %d", total, seen)
	}

	seen = 0
	q.Scan(ctx, func(QueueEntry) bool {
		seen++
		return seen < 3
	})
	if seen != 3 {
		t.Fatalf("expected scan to stop after 3, got %d", seen)
	}
}

func TestPresenceLifecycle(t *testing.T) {
	mr, rs := newTestRedis(t)
	p := rs.Presence(time.Hour)
	ctx := context.Background()

	if err := p.SetOnline(ctx, 1); err != nil {
		t.Fatal(err)
	}
	online, err := p.IsOnline(ctx, 1)
	if err != nil || !online {
		t.Fatalf("expected online, got %v (%v)", online, err)
	}
	if got := mr.TTL(onlineKey(1)); got != time.Hour {
		t.Fatalf("expected 1h TTL, got %s", got)
	}

	if err := p.SetOffline(ctx, 1); err != nil {
		t.Fatal(err)
	}
	online, _ = p.IsOnline(ctx, 1)
	if online {
		t.Fatal("expected offline after SetOffline")
	}

	// Safe without a record.
	if err := p.SetOffline(ctx, 1); err != nil {
		t.Fatalf("SetOffline on missing record: %v", err)
	}
}

func TestPresenceExpiresWithoutRefresh(t *testing.T) {
	mr, rs := newTestRedis(t)
	p := rs.Presence(time.Minute)
	ctx := context.Background()

	p.SetOnline(ctx, 7)
	mr.FastForward(61 * time.Second)

	online, err := p.IsOnline(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if online {
		t.Fatal("expected record to expire")
	}
}

func TestPresenceRefreshExtendsTTL(t *testing.T) {
	mr, rs := newTestRedis(t)
	p := rs.Presence(time.Minute)
	ctx := context.Background()

	p.SetOnline(ctx, 7)
	mr.FastForward(40 * time.Second)

	ok, err := p.Refresh(ctx, 7)
	if err != nil || !ok {
		t.Fatalf("expected refresh to succeed, got %v (%v)", ok, err)
	}
	mr.FastForward(40 * time.Second)

	online, _ := p.IsOnline(ctx, 7)
	if !online {
		t.Fatal("expected refreshed record to survive")
	}
	if v, _ := mr.Get(onlineKey(7)); v != onlineValue {
		t.Fatalf("refresh must not change the value, got %q", v)
	}

	ok, err = p.Refresh(ctx, 8)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("refresh of a missing record should report false")
	}
}

func TestPresenceOnlineMany(t *testing.T) {
	_, rs := newTestRedis(t)
	p := rs.Presence(time.Hour)
	ctx := context.Background()

	p.SetOnline(ctx, 1)
	p.SetOnline(ctx, 3)

	status, err := p.OnlineMany(ctx, []int64{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if !status[1] || status[2] || !status[3] {
		t.Fatalf("unexpected status %v", status)
	}
}
