package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Dalcyang/oddsarb/internal/domain"
)

// BookmakerAdminStore defines the store methods the bookmaker handler
// requires.
type BookmakerAdminStore interface {
	List(ctx context.Context) ([]domain.Bookmaker, error)
	SetActive(ctx context.Context, name string, active bool) error
}

// PerformanceStore provides the trailing-window bookmaker aggregation.
type PerformanceStore interface {
	BookmakerPerformance(ctx context.Context, window time.Duration) ([]domain.BookmakerPerformance, error)
}

// BookmakerHandler serves bookmaker registry endpoints.
type BookmakerHandler struct {
	books  BookmakerAdminStore
	perf   PerformanceStore
	logger *slog.Logger
}

// NewBookmakerHandler creates a BookmakerHandler.
func NewBookmakerHandler(books BookmakerAdminStore, perf PerformanceStore, logger *slog.Logger) *BookmakerHandler {
	return &BookmakerHandler{books: books, perf: perf, logger: logHandler(logger, "bookmakers")}
}

// List returns the bookmaker registry.
// GET /api/bookmakers
func (h *BookmakerHandler) List(w http.ResponseWriter, r *http.Request) {
	books, err := h.books.List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list bookmakers failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list bookmakers")
		return
	}
	if books == nil {
		books = []domain.Bookmaker{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookmakers": books})
}

// Performance returns per-bookmaker quote output over a trailing window.
// GET /api/bookmakers/performance?window=168h
func (h *BookmakerHandler) Performance(w http.ResponseWriter, r *http.Request) {
	window := 7 * 24 * time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid window")
			return
		}
		window = d
	}

	perf, err := h.perf.BookmakerPerformance(r.Context(), window)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: bookmaker performance failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to aggregate performance")
		return
	}
	if perf == nil {
		perf = []domain.BookmakerPerformance{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"window":     window.String(),
		"bookmakers": perf,
	})
}

// setActiveRequest toggles a bookmaker's active flag.
type setActiveRequest struct {
	Active bool `json:"active"`
}

// SetActive enables or disables a bookmaker. Quotes from disabled bookmakers
// are rejected at normalization.
// PUT /api/bookmakers/{name}/active
func (h *BookmakerHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing bookmaker name")
		return
	}

	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.books.SetActive(r.Context(), name, req.Active); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "bookmaker not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: set bookmaker active failed",
			slog.String("bookmaker", name),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to update bookmaker")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookmaker": name, "active": req.Active})
}
