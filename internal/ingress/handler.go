// Package ingress serves the realtime WebSocket channel: it authenticates
// connections, tracks presence, and dispatches inbound payloads.
package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/murmur/internal/auth"
	"github.com/eldtechnologies/murmur/internal/fanout"
	"github.com/eldtechnologies/murmur/internal/messaging"
	"github.com/eldtechnologies/murmur/internal/metrics"
	"github.com/eldtechnologies/murmur/internal/models"
)

const (
	defaultSendBuffer   = 64
	defaultPongWait     = 60 * time.Second
	defaultWriteWait    = 10 * time.Second
	defaultRefresh      = 5 * time.Minute
	maxInboundFrameSize = 16 * 1024
	cleanupTimeout      = 5 * time.Second
)

// Presence is the online-status store.
type Presence interface {
	SetOnline(ctx context.Context, userID int64) error
	SetOffline(ctx context.Context, userID int64) error
	Refresh(ctx context.Context, userID int64) (bool, error)
}

// Registry tracks live connections per user. The callbacks run while no
// other Join or Leave for the same user can proceed.
type Registry interface {
	Join(userID int64, c fanout.Conn, onJoin func()) error
	Leave(userID int64, c fanout.Conn, onLast func()) int
}

// Sender accepts chat messages from a connection.
type Sender interface {
	Send(ctx context.Context, senderID, receiverID int64, content, contentType string) (*models.Message, error)
}

// FriendRequestCounter reports pending incoming friend requests.
type FriendRequestCounter interface {
	CountPendingFriendRequests(ctx context.Context, userID int64) (int, error)
}

// Options tunes connection handling. Zero values take defaults.
type Options struct {
	AllowedOrigins  []string
	PresenceRefresh time.Duration
	SendBuffer      int
	PongWait        time.Duration
	PingInterval    time.Duration // must be shorter than PongWait
	WriteWait       time.Duration
}

func (o Options) withDefaults() Options {
	if o.PresenceRefresh <= 0 {
		o.PresenceRefresh = defaultRefresh
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = defaultSendBuffer
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	return o
}

// Handler is the http.Handler for GET /ws.
type Handler struct {
	auth     auth.Authenticator
	presence Presence
	registry Registry
	sender   Sender
	friends  FriendRequestCounter
	upgrader websocket.Upgrader
	opts     Options
	logger   zerolog.Logger

	mu       sync.Mutex
	live     map[*conn]struct{}
	draining bool
	wg       sync.WaitGroup
}

// NewHandler creates the realtime channel handler.
func NewHandler(a auth.Authenticator, presence Presence, registry Registry, sender Sender, friends FriendRequestCounter, opts Options, logger zerolog.Logger) *Handler {
	opts = opts.withDefaults()
	return &Handler{
		auth:     a,
		presence: presence,
		registry: registry,
		sender:   sender,
		friends:  friends,
		upgrader: newUpgrader(opts.AllowedOrigins),
		opts:     opts,
		logger:   logger.With().Str("component", "ingress").Logger(),
		live:     make(map[*conn]struct{}),
	}
}

// track registers c as live. It returns false once Shutdown has started.
func (h *Handler) track(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.draining {
		return false
	}
	h.live[c] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *Handler) untrack(c *conn) {
	h.mu.Lock()
	delete(h.live, c)
	h.mu.Unlock()
	h.wg.Done()
}

// Shutdown closes every live connection and waits until each has left its
// group and cleared presence, or until ctx is done. Connections arriving
// afterwards are refused. http.Server.Shutdown does not reach hijacked
// connections, so call this before closing the stores.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.draining = true
	conns := make([]*conn, 0, len(h.live))
	for c := range h.live {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.goingAway()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		h.logger.Info().Int("connections", len(conns)).Msg("realtime connections drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeHTTP authenticates the request, upgrades it and runs the connection
// until either side closes it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.Authenticate(r.Context(), auth.TokenFromRequest(r))
	if err != nil {
		h.logger.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("rejected unauthenticated connection")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "authentication required"})
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Debug().Err(err).Int64("user_id", userID).Msg("websocket upgrade failed")
		return
	}

	id := uuid.Must(uuid.NewV7()).String()
	c := newConn(id, userID, ws, h.opts, h.logger.With().Int64("user_id", userID).Str("conn", id).Logger())
	if !h.track(c) {
		c.goingAway()
		return
	}
	defer h.untrack(c)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go c.writePump()

	if err := h.activate(ctx, c); err != nil {
		c.logger.Error().Err(err).Msg("failed to activate connection")
		c.close()
		return
	}
	defer h.cleanup(c)

	go h.refreshLoop(ctx, c)
	h.readLoop(ctx, c)
}

// activate registers presence and group membership and pushes the initial
// state to the client.
func (h *Handler) activate(ctx context.Context, c *conn) error {
	err := h.registry.Join(c.userID, c, func() {
		if err := h.presence.SetOnline(ctx, c.userID); err != nil {
			c.logger.Warn().Err(err).Msg("failed to set presence")
		}
	})
	if err != nil {
		return err
	}
	c.setState(StateActive)
	metrics.ActiveConnections.Inc()

	count, err := h.friends.CountPendingFriendRequests(ctx, c.userID)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to count pending friend requests")
		count = 0
	}
	c.sendEvent(models.PendingRequestsEvent(count))

	c.logger.Info().Stringer("state", c.State()).Msg("connection active")
	return nil
}

// cleanup runs on every exit path of an active connection: client close,
// transport error, slow consumer or server shutdown.
func (h *Handler) cleanup(c *conn) {
	c.close()
	metrics.ActiveConnections.Dec()

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	h.registry.Leave(c.userID, c, func() {
		if err := h.presence.SetOffline(ctx, c.userID); err != nil {
			c.logger.Warn().Err(err).Msg("failed to clear presence")
		}
	})
	c.logger.Info().Msg("connection closed")
}

func (h *Handler) readLoop(ctx context.Context, c *conn) {
	c.ws.SetReadLimit(maxInboundFrameSize)
	c.ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Err(err).Msg("read failed")
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
		h.dispatch(ctx, c, data)
	}
}

// dispatch handles one inbound payload. Nothing a client sends closes the
// connection from here.
func (h *Handler) dispatch(ctx context.Context, c *conn, data []byte) {
	var in models.Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		metrics.InboundPayloads.WithLabelValues("malformed").Inc()
		c.logger.Debug().Err(err).Msg("ignoring malformed payload")
		// A send with a bad field still deserves an answer.
		var typed struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &typed) == nil && typed.Type == models.InboundSendMessage {
			c.sendEvent(models.ErrorEvent("invalid sendmessage payload: " + err.Error()))
		}
		return
	}

	switch in.Type {
	case models.InboundPing:
		metrics.InboundPayloads.WithLabelValues(in.Type).Inc()
		c.sendEvent(models.PongEvent())
		h.refresh(ctx, c)

	case models.InboundSendMessage:
		metrics.InboundPayloads.WithLabelValues(in.Type).Inc()
		msg, err := h.sender.Send(ctx, c.userID, in.FriendID, in.Content, in.ContentType)
		switch {
		case errors.Is(err, messaging.ErrInvalidMessage):
			c.sendEvent(models.ErrorEvent(err.Error()))
		case err != nil:
			c.logger.Error().Err(err).Int64("friend_id", in.FriendID).Msg("send failed")
			c.sendEvent(models.ErrorEvent("message could not be sent"))
		default:
			c.sendEvent(models.AckEvent(msg))
		}

	default:
		metrics.InboundPayloads.WithLabelValues("unknown").Inc()
		c.logger.Debug().Str("type", in.Type).Msg("ignoring unknown payload type")
	}
}

// refresh extends the presence TTL, recreating the record when it expired or
// was cleared by another process.
func (h *Handler) refresh(ctx context.Context, c *conn) {
	ok, err := h.presence.Refresh(ctx, c.userID)
	if err != nil {
		c.logger.Warn().Err(err).Msg("presence refresh failed")
		return
	}
	if !ok {
		if err := h.presence.SetOnline(ctx, c.userID); err != nil {
			c.logger.Warn().Err(err).Msg("presence re-register failed")
		}
	}
}

func (h *Handler) refreshLoop(ctx context.Context, c *conn) {
	ticker := time.NewTicker(h.opts.PresenceRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			h.refresh(ctx, c)
		}
	}
}
