package fanout

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/murmur/internal/models"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	got    [][]byte
	closed bool
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.got = append(c.got, payload)
	return true
}

func (c *fakeConn) events(t *testing.T) []models.Event {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Event, 0, len(c.got))
	for _, p := range c.got {
		var ev models.Event
		if err := json.Unmarshal(p, &ev); err != nil {
			t.Fatal(err)
		}
		out = append(out, ev)
	}
	return out
}

func newTestHub() *Hub {
	return NewHub(NewLocalBus(), zerolog.Nop())
}

func TestHubDeliverToAllConnections(t *testing.T) {
	h := newTestHub()
	phone := &fakeConn{id: "phone"}
	laptop := &fakeConn{id: "laptop"}
	other := &fakeConn{id: "other"}

	h.Join(2, phone, nil)
	h.Join(2, laptop, nil)
	h.Join(3, other, nil)

	msg := &models.Message{UID: "u1", SenderID: 1, ReceiverID: 2, Content: "hi"}
	if err := h.Deliver(context.Background(), 2, models.ChatMessageEvent(msg)); err != nil {
		t.Fatal(err)
	}

	for _, c := range []*fakeConn{phone, laptop} {
		evs := c.events(t)
		if len(evs) != 1 {
			t.Fatalf("%s: expected 1 event, got %d", c.id, len(evs))
		}
		if evs[0].Type != models.EventChatMessage || evs[0].Content != "hi" {
			t.Fatalf("%s: unexpected event %+v", c.id, evs[0])
		}
	}
	if len(other.events(t)) != 0 {
		t.Fatal("unrelated user received a delivery")
	}
}

func TestHubDeliverWithoutConnectionsIsNoop(t *testing.T) {
	h := newTestHub()
	if err := h.Deliver(context.Background(), 99, models.PongEvent()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestHubLeave(t *testing.T) {
	h := newTestHub()
	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b"}

	h.Join(1, a, nil)
	h.Join(1, b, nil)

	if n := h.Leave(1, a, nil); n != 1 {
		t.Fatalf("expected 1 remaining, got %d", n)
	}
	if n := h.Leave(1, a, nil); n != 1 {
		t.Fatalf("double leave changed count to %d", n)
	}
	if n := h.Leave(1, b, nil); n != 0 {
		t.Fatalf("expected 0 remaining, got %d", n)
	}
	if h.Users() != 0 {
		t.Fatalf("expected no users, got %d", h.Users())
	}

	h.Deliver(context.Background(), 1, models.PongEvent())
	if len(a.events(t))+len(b.events(t)) != 0 {
		t.Fatal("left connections must not receive deliveries")
	}
}

func TestHubDroppedSendDoesNotBlockOthers(t *testing.T) {
	h := newTestHub()
	dead := &fakeConn{id: "dead", closed: true}
	live := &fakeConn{id: "live"}
	h.Join(1, dead, nil)
	h.Join(1, live, nil)

	h.Deliver(context.Background(), 1, models.PongEvent())
	if len(live.events(t)) != 1 {
		t.Fatal("live connection should still receive the event")
	}
}

func TestHubConcurrentJoinLeaveDeliver(t *testing.T) {
	h := newTestHub()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := &fakeConn{id: string(rune('a' + i))}
			h.Join(1, c, nil)
			h.Deliver(context.Background(), 1, models.PongEvent())
			h.Leave(1, c, nil)
		}(i)
	}
	wg.Wait()
	if h.Connections(1) != 0 {
		t.Fatalf("expected 0 connections, got %d", h.Connections(1))
	}
}

func TestHubRejoinWaitsForLastLeave(t *testing.T) {
	h := newTestHub()
	old := &fakeConn{id: "old"}
	fresh := &fakeConn{id: "fresh"}
	h.Join(1, old, nil)

	var mu sync.Mutex
	var order []string
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	left := make(chan struct{})
	go func() {
		defer close(left)
		h.Leave(1, old, func() {
			close(entered)
			<-release
			record("offline")
		})
	}()
	<-entered

	joined := make(chan struct{})
	go func() {
		defer close(joined)
		h.Join(1, fresh, func() { record("online") })
	}()

	select {
	case <-joined:
		t.Fatal("join completed while the last leave was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-left
	<-joined

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "offline" || order[1] != "online" {
		t.Fatalf("transitions ran as %v", order)
	}
	if h.Connections(1) != 1 {
		t.Fatalf("expected 1 connection, got %d", h.Connections(1))
	}
}

func TestHubLeaveNonMemberSkipsOnLast(t *testing.T) {
	h := newTestHub()
	called := false
	if n := h.Leave(7, &fakeConn{id: "x"}, func() { called = true }); n != 0 {
		t.Fatalf("expected 0 remaining, got %d", n)
	}
	if called {
		t.Fatal("onLast ran for a connection that never joined")
	}
	if h.Users() != 0 {
		t.Fatalf("expected no users, got %d", h.Users())
	}
}

// slowBus blocks subscriptions for one user until released.
type slowBus struct {
	*LocalBus
	slowUser int64
	release  chan struct{}
}

func (b *slowBus) Subscribe(userID int64, handler Handler) (Subscription, error) {
	if userID == b.slowUser {
		<-b.release
	}
	return b.LocalBus.Subscribe(userID, handler)
}

func TestHubSlowSubscribeDoesNotBlockOtherUsers(t *testing.T) {
	bus := &slowBus{LocalBus: NewLocalBus(), slowUser: 1, release: make(chan struct{})}
	h := NewHub(bus, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Join(1, &fakeConn{id: "slow"}, nil)
	}()

	fast := &fakeConn{id: "fast"}
	other := make(chan struct{})
	go func() {
		defer close(other)
		h.Join(2, fast, nil)
		h.Deliver(context.Background(), 2, models.PongEvent())
		h.Leave(2, fast, nil)
	}()

	select {
	case <-other:
	case <-time.After(time.Second):
		t.Fatal("another user's join blocked behind a slow subscribe")
	}
	if len(fast.events(t)) != 1 {
		t.Fatal("delivery to the other user was lost")
	}

	close(bus.release)
	<-done
	if h.Connections(1) != 1 {
		t.Fatalf("expected slow join to complete, got %d connections", h.Connections(1))
	}
}
