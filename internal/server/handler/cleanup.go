package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// CleanupRunner runs the retention sweep on demand.
type CleanupRunner interface {
	RunRetention(ctx context.Context, now time.Time) error
}

// CleanupHandler exposes the retention sweep as a privileged operation.
type CleanupHandler struct {
	sweeper CleanupRunner
	logger  *slog.Logger
}

// NewCleanupHandler creates a CleanupHandler.
func NewCleanupHandler(sweeper CleanupRunner, logger *slog.Logger) *CleanupHandler {
	return &CleanupHandler{sweeper: sweeper, logger: logHandler(logger, "cleanup")}
}

// Trigger runs retention immediately instead of waiting for the next
// scheduled sweep.
// POST /api/cleanup
func (h *CleanupHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	started := time.Now().UTC()
	if err := h.sweeper.RunRetention(r.Context(), started); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: cleanup trigger failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "cleanup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "completed",
		"started_at":  started.Format(time.RFC3339),
		"duration_ms": time.Since(started).Milliseconds(),
	})
}
