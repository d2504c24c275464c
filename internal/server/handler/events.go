package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Dalcyang/oddsarb/internal/domain"
)

// EventQueryStore defines the read methods the event handler requires.
type EventQueryStore interface {
	GetByID(ctx context.Context, id int64) (domain.SportEvent, error)
	ListUpcoming(ctx context.Context, sport domain.SportType, opts domain.ListOpts) ([]domain.SportEvent, error)
}

// EventHandler serves the sport event read endpoints.
type EventHandler struct {
	events EventQueryStore
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(events EventQueryStore, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: events, logger: logHandler(logger, "events")}
}

// ListUpcoming returns events that have not started yet, soonest first.
// GET /api/events?sport=soccer&limit=50&until=2026-03-15T00:00:00Z
func (h *EventHandler) ListUpcoming(w http.ResponseWriter, r *http.Request) {
	sport := domain.SportType(r.URL.Query().Get("sport"))

	events, err := h.events.ListUpcoming(r.Context(), sport, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list upcoming events failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []domain.SportEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// Get returns one event by id.
// GET /api/events/{id}
func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(pathParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	event, err := h.events.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get event failed",
			slog.Int64("event_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load event")
		return
	}
	writeJSON(w, http.StatusOK, event)
}
