package ingress

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/murmur/internal/models"
)

// State is the lifecycle stage of a realtime connection.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// conn is one authenticated WebSocket. The read loop runs on the HTTP
// handler goroutine; writePump is the only goroutine that writes frames.
type conn struct {
	id     string
	userID int64
	ws     *websocket.Conn
	opts   Options
	logger zerolog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	state     atomic.Int32
}

func newConn(id string, userID int64, ws *websocket.Conn, opts Options, logger zerolog.Logger) *conn {
	c := &conn{
		id:     id,
		userID: userID,
		ws:     ws,
		opts:   opts,
		logger: logger,
		send:   make(chan []byte, opts.SendBuffer),
		done:   make(chan struct{}),
	}
	c.state.Store(int32(StateAuthenticated))
	return c
}

// ID implements fanout.Conn.
func (c *conn) ID() string { return c.id }

// Send implements fanout.Conn. A connection whose buffer is full is too slow
// to keep up and is closed.
func (c *conn) Send(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- payload:
		return true
	case <-c.done:
		return false
	default:
		c.logger.Warn().Msg("send buffer full, closing slow connection")
		c.close()
		return false
	}
}

func (c *conn) sendEvent(event models.Event) bool {
	payload, err := json.Marshal(event)
	if err != nil {
		c.logger.Error().Err(err).Str("type", event.Type).Msg("failed to encode event")
		return false
	}
	return c.Send(payload)
}

func (c *conn) setState(s State) {
	c.state.Store(int32(s))
}

// State returns the connection's lifecycle stage.
func (c *conn) State() State {
	return State(c.state.Load())
}

// close stops the writer and unblocks the reader. Safe to call many times
// from any goroutine.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		close(c.done)
		c.ws.Close()
	})
}

// goingAway tells the client the server is leaving, then closes.
func (c *conn) goingAway() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteWait))
	c.close()
}

// writePump owns all writes to the socket and sends keepalive pings.
func (c *conn) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case payload := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug().Err(err).Msg("write failed")
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				c.logger.Debug().Err(err).Msg("ping failed")
				return
			}
		case <-c.done:
			return
		}
	}
}
