package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Dalcyang/oddsarb/internal/domain"
)

// OpportunityQueryStore defines the read methods the arbitrage handler
// requires.
type OpportunityQueryStore interface {
	ListActive(ctx context.Context, minProfitPct float64, opts domain.ListOpts) ([]domain.Opportunity, error)
}

// MarketEvaluator re-runs detection for one (event, market) on demand.
type MarketEvaluator interface {
	Evaluate(ctx context.Context, key domain.MarketKey) (*domain.Opportunity, error)
}

// ArbHandler serves arbitrage opportunity endpoints.
type ArbHandler struct {
	opps      OpportunityQueryStore
	evaluator MarketEvaluator // optional; when nil, Detect returns 501
	logger    *slog.Logger
}

// NewArbHandler creates an ArbHandler.
func NewArbHandler(opps OpportunityQueryStore, logger *slog.Logger) *ArbHandler {
	return &ArbHandler{opps: opps, logger: logHandler(logger, "arbitrage")}
}

// WithEvaluator enables the on-demand detection endpoint. Only modes that own
// the in-memory index can serve it.
func (h *ArbHandler) WithEvaluator(ev MarketEvaluator) *ArbHandler {
	h.evaluator = ev
	return h
}

// listActiveResponse wraps the active opportunities response.
type listActiveResponse struct {
	Opportunities []domain.Opportunity `json:"opportunities"`
}

// ListActive returns currently active, unexpired opportunities, most
// profitable first.
// GET /api/arbitrage/active?min_profit=0.5&limit=50
func (h *ArbHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	minProfit := 0.0
	if v := r.URL.Query().Get("min_profit"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			writeError(w, http.StatusBadRequest, "invalid min_profit")
			return
		}
		minProfit = f
	}

	opps, err := h.opps.ListActive(r.Context(), minProfit, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list active opportunities failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list opportunities")
		return
	}
	if opps == nil {
		opps = []domain.Opportunity{}
	}
	writeJSON(w, http.StatusOK, listActiveResponse{Opportunities: opps})
}

// detectRequest identifies the market to re-evaluate.
type detectRequest struct {
	EventID int64  `json:"event_id"`
	BetType string `json:"bet_type"`
}

// Detect re-runs arbitrage detection for one market against the current
// index contents and returns the resulting opportunity, if any.
// POST /api/arbitrage/detect
func (h *ArbHandler) Detect(w http.ResponseWriter, r *http.Request) {
	if h.evaluator == nil {
		writeError(w, http.StatusNotImplemented, "detection not available in this mode")
		return
	}

	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.EventID <= 0 || req.BetType == "" {
		writeError(w, http.StatusBadRequest, "event_id and bet_type are required")
		return
	}

	key := domain.MarketKey{EventID: req.EventID, BetType: domain.BetType(req.BetType)}
	opp, err := h.evaluator.Evaluate(r.Context(), key)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: on-demand detection failed",
			slog.Int64("event_id", req.EventID),
			slog.String("bet_type", req.BetType),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "detection failed")
		return
	}
	if opp == nil {
		writeJSON(w, http.StatusOK, map[string]any{"detected": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"detected": true, "opportunity": opp})
}
