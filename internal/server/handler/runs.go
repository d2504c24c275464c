package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Dalcyang/oddsarb/internal/domain"
)

// RunLedger defines the ledger methods the run handler requires.
type RunLedger interface {
	Recent(ctx context.Context, limit int) ([]domain.Run, error)
	Get(ctx context.Context, id string) (domain.Run, error)
}

// RunHandler serves ingestion run history endpoints.
type RunHandler struct {
	ledger RunLedger
	logger *slog.Logger
}

// NewRunHandler creates a RunHandler.
func NewRunHandler(ledger RunLedger, logger *slog.Logger) *RunHandler {
	return &RunHandler{ledger: ledger, logger: logHandler(logger, "runs")}
}

// ListRecent returns the most recently started runs.
// GET /api/runs?limit=20
func (h *RunHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 200 {
		limit = 200
	}

	runs, err := h.ledger.Recent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list runs failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []domain.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// Get returns one run by id.
// GET /api/runs/{id}
func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing run id")
		return
	}

	run, err := h.ledger.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get run failed",
			slog.String("run_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}
