package ingress

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// newUpgrader creates a WebSocket upgrader for the given allowed origins.
// An empty list keeps gorilla's same-origin check; "*" allows any origin.
// Requests without an Origin header come from non-browser clients and pass.
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if len(allowedOrigins) == 0 {
		return upgrader
	}

	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}
	upgrader.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed["*"] || allowed[origin]
	}
	return upgrader
}
