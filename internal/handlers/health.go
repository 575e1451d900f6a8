package handlers

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
)

const version = "0.1.0"

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`            // "pass" or "fail"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	Version   string           `json:"version"`
	Instance  string           `json:"instance,omitempty"`
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

// Health handles the health check endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	allHealthy := true

	// Permanent storage
	if h.store != nil {
		start := time.Now()
		if err := h.store.Ping(ctx); err != nil {
			checks["database"] = Check{Status: "fail", Message: "connection failed"}
			allHealthy = false
		} else {
			checks["database"] = Check{Status: "pass", Latency: time.Since(start).String()}
		}
	} else {
		checks["database"] = Check{Status: "fail", Message: "not configured"}
		allHealthy = false
	}

	// Redis
	if h.redis != nil {
		start := time.Now()
		if err := h.redis.Ping(ctx); err != nil {
			checks["redis"] = Check{Status: "fail", Message: "connection failed"}
			allHealthy = false
		} else {
			checks["redis"] = Check{Status: "pass", Latency: time.Since(start).String()}
		}
	} else {
		checks["redis"] = Check{Status: "fail", Message: "not configured"}
		allHealthy = false
	}

	// NATS is optional; without it fan-out stays in-process.
	if h.nats != nil {
		if h.nats.Status() == nats.CONNECTED {
			checks["nats"] = Check{Status: "pass", Latency: rttString(h.nats)}
		} else {
			checks["nats"] = Check{Status: "fail", Message: h.nats.Status().String()}
			allHealthy = false
		}
	}

	// Queue depth is informational: a backlog means the worker is behind,
	// not that this instance is unhealthy.
	if h.queue != nil {
		if n, err := h.queue.Len(ctx); err != nil {
			checks["queue"] = Check{Status: "fail", Message: "length unavailable"}
			allHealthy = false
		} else {
			checks["queue"] = Check{Status: "pass", Message: strconv.FormatInt(n, 10) + " pending"}
		}
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	hostname, _ := os.Hostname()
	resp := HealthResponse{
		Status:    status,
		Version:   version,
		Instance:  hostname,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	h.JSON(w, statusCode, resp)
}

func rttString(nc *nats.Conn) string {
	rtt, err := nc.RTT()
	if err != nil {
		return ""
	}
	return rtt.String()
}

// RootResponse represents the root endpoint response.
type RootResponse struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	Endpoints []string `json:"endpoints"`
}

// Root handles the API info endpoint.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, RootResponse{
		Name:    "murmur",
		Version: version,
		Endpoints: []string{
			"GET /ws",
			"GET /threads/{friendID}",
			"POST /messages/{friendID}",
			"GET /presence/{userID}",
			"GET /presence?ids=1,2,3",
			"GET /stats",
			"GET /health",
			"GET /metrics",
		},
	})
}
