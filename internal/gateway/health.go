package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"secretary/internal/channels"
	"secretary/internal/monitoring"
	"secretary/internal/version"
)

const healthCheckTimeout = 2 * time.Second

// HealthResponse represents the basic health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
	Uptime    string    `json:"uptime"`
	Database  string    `json:"database"`
}

// MetricsResponse represents the detailed metrics response
type MetricsResponse struct {
	monitoring.MetricsSnapshot
	Channels  map[string]channels.ChannelStatus `json:"channels"`
	Scheduler map[string]interface{}            `json:"scheduler,omitempty"`
	RateLimit map[string]interface{}            `json:"rate_limit"`
	Events    []monitoring.Event                `json:"recent_events"`
}

const recentEvents = 20

// handleHealth reports liveness. The store is pinged on every call and a
// failed ping marks the bot degraded.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	database := "ok"
	if err := g.store.Ping(ctx); err != nil {
		log.Printf("[Health] Database ping failed: %v", err)
		database = "unreachable"
		g.metrics.SetStatus("degraded")
	} else if !g.metrics.IsHealthy() {
		g.metrics.SetStatus("healthy")
	}

	status := "healthy"
	if !g.metrics.IsHealthy() {
		status = "degraded"
	}

	versionInfo := g.version
	if versionInfo == "" {
		versionInfo = version.Info()
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Version:   versionInfo,
		Uptime:    g.metrics.GetUptime().Round(time.Second).String(),
		Database:  database,
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, response)
}

// handleMetrics returns dispatch and job counters together with channel,
// scheduler and rate limiter state.
func (g *Gateway) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := MetricsResponse{
		MetricsSnapshot: g.metrics.Snapshot(),
		Channels:        g.channelManager.GetStatus(),
		RateLimit:       g.rateLimitMiddleware.GetStats(),
		Events:          g.metrics.Events(monitoring.EventFilter{MaxResults: recentEvents}),
	}
	if g.scheduler != nil {
		response.Scheduler = g.scheduler.Status()
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	writeJSON(w, http.StatusOK, response)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Gateway] Failed to encode response: %v", err)
	}
}
