package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Dalcyang/oddsarb/internal/domain"
)

// OddsQueryStore defines the read methods the odds handler requires.
type OddsQueryStore interface {
	ListLatest(ctx context.Context, eventID int64) ([]domain.Quote, error)
	ListByMarket(ctx context.Context, key domain.MarketKey) ([]domain.Quote, error)
}

// OddsHandler serves odds query endpoints.
type OddsHandler struct {
	odds   OddsQueryStore
	cache  domain.BestPriceCache // optional; nil falls back to the store
	logger *slog.Logger
}

// NewOddsHandler creates an OddsHandler.
func NewOddsHandler(odds OddsQueryStore, cache domain.BestPriceCache, logger *slog.Logger) *OddsHandler {
	return &OddsHandler{odds: odds, cache: cache, logger: logHandler(logger, "odds")}
}

// listOddsResponse wraps the latest odds response.
type listOddsResponse struct {
	EventID int64          `json:"event_id"`
	Odds    []domain.Quote `json:"odds"`
}

// ListLatest returns the current quote per (bookmaker, market, selection) for
// one event.
// GET /api/odds/{event_id}
func (h *OddsHandler) ListLatest(w http.ResponseWriter, r *http.Request) {
	eventID, err := strconv.ParseInt(pathParam(r, "event_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	quotes, err := h.odds.ListLatest(r.Context(), eventID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list latest odds failed",
			slog.Int64("event_id", eventID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list odds")
		return
	}
	if quotes == nil {
		quotes = []domain.Quote{}
	}
	writeJSON(w, http.StatusOK, listOddsResponse{EventID: eventID, Odds: quotes})
}

// BestFor returns the best available price per selection for one market,
// served from the shared cache when the ingest process keeps it warm and
// recomputed from the store otherwise.
// GET /api/odds/{event_id}/best?bet_type=match_winner
func (h *OddsHandler) BestFor(w http.ResponseWriter, r *http.Request) {
	eventID, err := strconv.ParseInt(pathParam(r, "event_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}
	betType := domain.BetType(r.URL.Query().Get("bet_type"))
	if betType == "" {
		writeError(w, http.StatusBadRequest, "missing bet_type")
		return
	}
	key := domain.MarketKey{EventID: eventID, BetType: betType}

	if h.cache != nil {
		best, err := h.cache.GetBest(r.Context(), key)
		if err == nil {
			writeJSON(w, http.StatusOK, bestForResponse(key, best, "cache"))
			return
		}
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.WarnContext(r.Context(), "handler: best price cache read failed",
				slog.Int64("event_id", eventID),
				slog.String("bet_type", string(betType)),
				slog.String("error", err.Error()),
			)
		}
	}

	quotes, err := h.odds.ListByMarket(r.Context(), key)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: best price store read failed",
			slog.Int64("event_id", eventID),
			slog.String("bet_type", string(betType)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to compute best prices")
		return
	}

	best := make(map[string]domain.Quote)
	for _, q := range quotes {
		if !q.IsAvailable {
			continue
		}
		if cur, ok := best[q.Selection]; !ok || q.Decimal > cur.Decimal {
			best[q.Selection] = q
		}
	}
	writeJSON(w, http.StatusOK, bestForResponse(key, best, "store"))
}

func bestForResponse(key domain.MarketKey, best map[string]domain.Quote, source string) map[string]any {
	return map[string]any{
		"event_id": key.EventID,
		"bet_type": key.BetType,
		"source":   source,
		"best":     best,
	}
}
