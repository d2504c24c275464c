package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Dalcyang/oddsarb/internal/domain"
	"github.com/Dalcyang/oddsarb/internal/ingest"
	"github.com/Dalcyang/oddsarb/internal/ledger"
)

// maxBatchSize bounds one ingestion request.
const maxBatchSize = 1000

// IngestHandler accepts observation batches from external producers. Each
// request is one ledgered run: started before the first observation and
// finalized when the batch is done, so the producer gets per-item outcomes
// plus the run record in a single response.
type IngestHandler struct {
	ingestor *ingest.Ingestor
	ledger   *ledger.Ledger
	logger   *slog.Logger
}

// NewIngestHandler creates an IngestHandler.
func NewIngestHandler(ing *ingest.Ingestor, led *ledger.Ledger, logger *slog.Logger) *IngestHandler {
	return &IngestHandler{ingestor: ing, ledger: led, logger: logHandler(logger, "ingest")}
}

// observationRequest is the wire form of one observation.
type observationRequest struct {
	Event       eventRequest      `json:"event"`
	BetType     string            `json:"bet_type"`
	Selection   string            `json:"selection"`
	OddsDecimal float64           `json:"odds_decimal"`
	Fractional  string            `json:"odds_fractional"`
	American    int               `json:"odds_american"`
	StakeLimit  float64           `json:"stake_limit"`
	CapturedAt  time.Time         `json:"captured_at"`
	Confidence  float64           `json:"confidence"`
	Extra       map[string]string `json:"extra"`
}

// eventRequest identifies the fixture an observation belongs to.
type eventRequest struct {
	SportType  string    `json:"sport_type"`
	HomeTeam   string    `json:"home_team"`
	AwayTeam   string    `json:"away_team"`
	StartsAt   time.Time `json:"starts_at"`
	League     string    `json:"league"`
	Country    string    `json:"country"`
	ExternalID string    `json:"external_id"`
}

// ingestRequest is one batch from one bookmaker.
type ingestRequest struct {
	Bookmaker    string               `json:"bookmaker"`
	SportType    string               `json:"sport_type"`
	Observations []observationRequest `json:"observations"`
}

// itemResult reports the per-item outcome back to the producer.
type itemResult struct {
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// IngestBatch accepts a batch of observations, runs them through the engine,
// and returns the per-item outcomes plus the finalized run record.
// POST /api/ingest
func (h *IngestHandler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Bookmaker == "" {
		writeError(w, http.StatusBadRequest, "bookmaker is required")
		return
	}
	if len(req.Observations) == 0 {
		writeError(w, http.StatusBadRequest, "observations must not be empty")
		return
	}
	if len(req.Observations) > maxBatchSize {
		writeError(w, http.StatusBadRequest, "batch exceeds maximum size")
		return
	}

	obs := make([]domain.Observation, 0, len(req.Observations))
	for _, o := range req.Observations {
		obs = append(obs, domain.Observation{
			Bookmaker: req.Bookmaker,
			Event: domain.EventDescriptor{
				SportType:  domain.SportType(o.Event.SportType),
				HomeTeam:   o.Event.HomeTeam,
				AwayTeam:   o.Event.AwayTeam,
				StartsAt:   o.Event.StartsAt,
				League:     o.Event.League,
				Country:    o.Event.Country,
				ExternalID: o.Event.ExternalID,
			},
			BetType:    domain.BetType(o.BetType),
			Selection:  o.Selection,
			Decimal:    o.OddsDecimal,
			Fractional: o.Fractional,
			American:   o.American,
			StakeLimit: o.StakeLimit,
			CapturedAt: o.CapturedAt,
			Confidence: o.Confidence,
			Extra:      o.Extra,
		})
	}

	run, err := h.ledger.Start(r.Context(), req.Bookmaker, domain.SportType(req.SportType))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: start run failed",
			slog.String("bookmaker", req.Bookmaker),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}

	results := h.ingestor.IngestBatch(r.Context(), &run, obs)

	if err := h.ledger.Complete(r.Context(), run); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: finalize run failed",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()),
		)
	}

	items := make([]itemResult, len(results))
	for i, res := range results {
		items[i].Outcome = string(res.Outcome)
		if res.Err != nil {
			items[i].Error = res.Err.Error()
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run":     run,
		"results": items,
	})
}
