package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger is any dependency that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	db        Pinger // optional
	cache     Pinger // optional
	mode      string
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler. db and cache may be nil when a
// mode runs without them.
func NewHealthHandler(db, cache Pinger, mode string, startedAt time.Time, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, cache: cache, mode: mode, startedAt: startedAt, logger: logHandler(logger, "health")}
}

// HealthCheck responds with the engine status and per-dependency
// connectivity.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	checks := map[string]string{}
	if h.db != nil {
		checks["postgres"] = "ok"
		if err := h.db.Ping(ctx); err != nil {
			checks["postgres"] = err.Error()
			status = "degraded"
		}
	}
	if h.cache != nil {
		checks["redis"] = "ok"
		if err := h.cache.Ping(ctx); err != nil {
			checks["redis"] = err.Error()
			status = "degraded"
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":         status,
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"checks":         checks,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}
