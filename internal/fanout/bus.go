package fanout

import (
	"context"
	"sync"
)

// Handler receives a payload published for a user.
type Handler func(ctx context.Context, payload []byte)

// Subscription is an active bus subscription.
type Subscription interface {
	Unsubscribe() error
}

// Bus carries per-user deliveries between the processes that hold the
// user's connections.
type Bus interface {
	Publish(ctx context.Context, userID int64, payload []byte) error
	Subscribe(userID int64, handler Handler) (Subscription, error)
	Close() error
}

// LocalBus is an in-process Bus for single-instance deployments and tests.
type LocalBus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[int64]map[uint64]Handler
}

// NewLocalBus creates an empty in-process bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[int64]map[uint64]Handler)}
}

// Publish calls every handler subscribed to userID synchronously.
func (b *LocalBus) Publish(ctx context.Context, userID int64, payload []byte) error {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[userID]))
	for _, h := range b.subs[userID] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, payload)
	}
	return nil
}

// Subscribe registers handler for userID.
func (b *LocalBus) Subscribe(userID int64, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[uint64]Handler)
	}
	b.subs[userID][id] = handler
	return &localSub{bus: b, userID: userID, id: id}, nil
}

// Close drops all subscriptions.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[int64]map[uint64]Handler)
	return nil
}

type localSub struct {
	bus    *LocalBus
	userID int64
	id     uint64
}

func (s *localSub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if handlers, ok := s.bus.subs[s.userID]; ok {
		delete(handlers, s.id)
		if len(handlers) == 0 {
			delete(s.bus.subs, s.userID)
		}
	}
	return nil
}
