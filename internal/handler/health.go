package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Pinger is any dependency the readiness check can probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	storage Pinger
	redis   Pinger
	timeout time.Duration
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler. redis may be nil when no
// shared cache is configured.
func NewHealthHandler(storage, redis Pinger, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &HealthHandler{
		storage: storage,
		redis:   redis,
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

// HealthResponse represents the health status response
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse represents the readiness check response
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Health handles GET /healthz - simple liveness check
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
}

// Ready handles GET /readyz. Returns 200 only if storage and, when configured,
// redis answer within the timeout.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := make(map[string]string)
	ready := probe(ctx, "storage", h.storage, checks)
	if h.redis != nil {
		ready = probe(ctx, "redis", h.redis, checks) && ready
	} else {
		checks["redis"] = "not configured"
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ReadinessResponse{Status: status, Checks: checks})

	h.logger.DebugContext(ctx, "readiness check",
		slog.String("status", status),
		slog.String("storage", checks["storage"]),
		slog.String("redis", checks["redis"]),
	)
}

func probe(ctx context.Context, name string, p Pinger, checks map[string]string) bool {
	if p == nil {
		checks[name] = "not configured"
		return false
	}
	if err := p.Ping(ctx); err != nil {
		checks[name] = "error: " + err.Error()
		return false
	}
	checks[name] = "ok"
	return true
}
