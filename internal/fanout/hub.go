// Package fanout tracks which connections belong to which user and delivers
// events to all of a user's live connections, across server processes.
package fanout

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/murmur/internal/metrics"
	"github.com/eldtechnologies/murmur/internal/models"
)

// Conn is a live connection that can receive events.
type Conn interface {
	ID() string
	// Send queues payload for writing without blocking. It returns false when
	// the connection is closed or its buffer is full.
	Send(payload []byte) bool
}

// group is one user's set of local connections plus the bus subscription that
// feeds them. The subscription exists exactly while the set is non-empty.
//
// mu serializes the user's membership transitions, including the bus
// round trip and the callbacks passed to Join and Leave. conns and refs are
// guarded by Hub.mu, which is never held across I/O.
type group struct {
	mu    sync.Mutex
	refs  int
	conns map[string]Conn
	sub   Subscription
}

// Hub is the connection registry for this process. Deliveries always go
// through the bus, so a recipient connected to another process is reached the
// same way as a local one.
type Hub struct {
	mu     sync.Mutex
	bus    Bus
	users  map[int64]*group
	logger zerolog.Logger
}

// NewHub creates a registry that fans out over bus.
func NewHub(bus Bus, logger zerolog.Logger) *Hub {
	return &Hub{
		bus:    bus,
		users:  make(map[int64]*group),
		logger: logger.With().Str("component", "fanout").Logger(),
	}
}

// lockUser returns the user's group with its transition lock held, creating
// an empty group when needed.
func (h *Hub) lockUser(userID int64) *group {
	h.mu.Lock()
	g, ok := h.users[userID]
	if !ok {
		g = &group{conns: make(map[string]Conn)}
		h.users[userID] = g
	}
	g.refs++
	h.mu.Unlock()

	g.mu.Lock()
	return g
}

func (h *Hub) unlockUser(userID int64, g *group) {
	g.mu.Unlock()

	h.mu.Lock()
	g.refs--
	if g.refs == 0 && len(g.conns) == 0 {
		delete(h.users, userID)
	}
	h.mu.Unlock()
}

// Join adds conn to the user's delivery group, then runs onJoin (if non-nil)
// before any other Join or Leave for the same user can proceed.
func (h *Hub) Join(userID int64, conn Conn, onJoin func()) error {
	g := h.lockUser(userID)
	defer h.unlockUser(userID, g)

	if g.sub == nil {
		sub, err := h.bus.Subscribe(userID, func(_ context.Context, payload []byte) {
			h.deliverLocal(userID, payload)
		})
		if err != nil {
			return err
		}
		g.sub = sub
	}

	h.mu.Lock()
	g.conns[conn.ID()] = conn
	h.mu.Unlock()

	if onJoin != nil {
		onJoin()
	}
	return nil
}

// Leave removes conn from the user's group and returns how many of the user's
// connections remain on this process. When conn was the last one, onLast (if
// non-nil) runs before any other Join for the user can proceed. Leaving twice
// is harmless.
func (h *Hub) Leave(userID int64, conn Conn, onLast func()) int {
	g := h.lockUser(userID)
	defer h.unlockUser(userID, g)

	h.mu.Lock()
	_, member := g.conns[conn.ID()]
	delete(g.conns, conn.ID())
	remaining := len(g.conns)
	h.mu.Unlock()

	if !member || remaining > 0 {
		return remaining
	}

	if g.sub != nil {
		if err := g.sub.Unsubscribe(); err != nil {
			h.logger.Warn().Err(err).Int64("user_id", userID).Msg("unsubscribe failed")
		}
		g.sub = nil
	}
	if onLast != nil {
		onLast()
	}
	return 0
}

// Deliver sends event to every live connection of userID on any process.
// A user with no live connections is not an error; the message reaches them
// through history instead.
func (h *Hub) Deliver(ctx context.Context, userID int64, event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return h.bus.Publish(ctx, userID, payload)
}

// deliverLocal writes payload to this process's connections for userID.
func (h *Hub) deliverLocal(userID int64, payload []byte) int {
	h.mu.Lock()
	g, ok := h.users[userID]
	if !ok {
		h.mu.Unlock()
		return 0
	}
	snapshot := make([]Conn, 0, len(g.conns))
	for _, c := range g.conns {
		snapshot = append(snapshot, c)
	}
	h.mu.Unlock()

	delivered := 0
	for _, c := range snapshot {
		if c.Send(payload) {
			delivered++
			metrics.FanoutDeliveries.WithLabelValues("ok").Inc()
			continue
		}
		metrics.FanoutDeliveries.WithLabelValues("dropped").Inc()
		h.logger.Debug().Int64("user_id", userID).Str("conn", c.ID()).Msg("delivery dropped")
	}
	return delivered
}

// Connections returns the number of local connections for userID.
func (h *Hub) Connections(userID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if g, ok := h.users[userID]; ok {
		return len(g.conns)
	}
	return 0
}

// Users returns the number of users with at least one local connection.
func (h *Hub) Users() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, g := range h.users {
		if len(g.conns) > 0 {
			n++
		}
	}
	return n
}
