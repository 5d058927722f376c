package handlers

import (
	"context"
	"net/http"
	"os"
	"time"
)

const version = "0.1.0"

// Check is the outcome of probing one dependency.
type Check struct {
	Status  string `json:"status"` // pass | fail
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is served by /health.
type HealthResponse struct {
	Status    string           `json:"status"` // healthy | degraded
	Version   string           `json:"version"`
	Instance  string           `json:"instance,omitempty"`
	Sessions  int              `json:"sessions"`
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

type dependency struct {
	name     string
	pinger   Pinger
	optional bool
}

func (h *Handler) dependencies() []dependency {
	deps := []dependency{
		{name: "database"},
		{name: "redis"},
		{name: "data_db", pinger: h.dataDB, optional: true},
	}
	if h.db != nil {
		deps[0].pinger = h.db
	}
	if h.redis != nil {
		deps[1].pinger = h.redis
	}
	return deps
}

// Health pings the chat store, Redis and, when wired, the data database.
// An unreachable required dependency turns the answer into a 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Version:   version,
		Instance:  os.Getenv("HOSTNAME"),
		Checks:    make(map[string]Check),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK

	for _, dep := range h.dependencies() {
		var c Check
		switch {
		case dep.pinger == nil && dep.optional:
			continue
		case dep.pinger == nil:
			c = Check{Status: "fail", Message: "not configured"}
		default:
			c = h.ping(ctx, dep)
		}
		resp.Checks[dep.name] = c
		if c.Status != "pass" {
			resp.Status, code = "degraded", http.StatusServiceUnavailable
		}
	}

	if h.sessions != nil {
		resp.Sessions = h.sessions.Hub().Len()
	}
	h.JSON(w, code, resp)
}

func (h *Handler) ping(ctx context.Context, dep dependency) Check {
	start := time.Now()
	if err := dep.pinger.Ping(ctx); err != nil {
		h.logger.Warn().Err(err).Str("check", dep.name).Msg("health check failed")
		return Check{Status: "fail", Message: "connection failed"}
	}
	return Check{Status: "pass", Latency: time.Since(start).String()}
}

// Root identifies the service.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, map[string]string{
		"name":    "talkdb",
		"version": version,
	})
}
