// Package ingest is the entry point for quotes produced by the external
// scraping collaborator. Each observation is normalized, upserted into the
// freshness index (and write-through persisted), and the affected market is
// re-evaluated, all within the one Ingest call, so no partial state is ever
// visible to the matcher.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Dalcyang/oddsarb/internal/domain"
	"github.com/Dalcyang/oddsarb/internal/index"
	"github.com/Dalcyang/oddsarb/internal/matcher"
	"github.com/Dalcyang/oddsarb/internal/normalizer"
)

// Outcome classifies what happened to one observation.
type Outcome string

const (
	OutcomeInserted   Outcome = "inserted"
	OutcomeSuperseded Outcome = "superseded"
	// OutcomeStale means the observation was older than the stored quote
	// for its key and was dropped. Not an error.
	OutcomeStale      Outcome = "stale"
	OutcomeInvalid    Outcome = "invalid"
	OutcomeUnresolved Outcome = "unresolved"
	// OutcomeError means an infrastructure failure, not a per-item
	// rejection.
	OutcomeError Outcome = "error"
)

// Result is the per-item accept/reject answer returned to the producer.
type Result struct {
	Outcome Outcome
	Err     error
}

// Accepted reports whether the observation changed the index.
func (r Result) Accepted() bool {
	return r.Outcome == OutcomeInserted || r.Outcome == OutcomeSuperseded
}

// Ingestor wires normalizer, index, persistence, and matcher into the
// ingestion path. It is safe for concurrent use by multiple producers.
type Ingestor struct {
	norm    *normalizer.Normalizer
	index   *index.Index
	odds    domain.OddsStore
	matcher *matcher.Matcher
	cache   domain.BestPriceCache // optional
	logger  *slog.Logger
}

// New creates an Ingestor. cache may be nil.
func New(
	norm *normalizer.Normalizer,
	ix *index.Index,
	odds domain.OddsStore,
	m *matcher.Matcher,
	cache domain.BestPriceCache,
	logger *slog.Logger,
) *Ingestor {
	return &Ingestor{
		norm:    norm,
		index:   ix,
		odds:    odds,
		matcher: m,
		cache:   cache,
		logger:  logger.With(slog.String("component", "ingestor")),
	}
}

// Ingest processes one observation. When run is non-nil its counters are
// updated in place; the caller owns the run and finalizes it through the
// ledger. No rejection aborts ingestion; the producer keeps delivering.
func (in *Ingestor) Ingest(ctx context.Context, run *domain.Run, obs domain.Observation) Result {
	if run != nil {
		run.OddsExtracted++
	}

	quote, eventCreated, err := in.norm.Normalize(ctx, obs)
	if err != nil {
		return in.reject(run, obs, err)
	}
	if eventCreated && run != nil {
		run.EventsFound++
	}

	status := in.index.Upsert(quote)
	if status == index.StatusStale {
		// Out-of-order or duplicate delivery; silently dropped.
		if run != nil {
			run.Metrics.StaleDropped++
		}
		return Result{Outcome: OutcomeStale, Err: domain.ErrStaleDelivery}
	}

	// Write-through: the odds table mirrors the index row. The store applies
	// the same last-timestamp-wins predicate, so a racing writer that lost in
	// the index cannot win in the database.
	if err := in.odds.Upsert(ctx, quote); err != nil {
		in.logger.Error("odds write-through failed",
			slog.Int64("event_id", quote.EventID),
			slog.String("bookmaker", quote.Bookmaker),
			slog.String("error", err.Error()),
		)
		if run != nil {
			run.ErrorsCount++
		}
		return Result{Outcome: OutcomeError, Err: err}
	}

	if run != nil {
		if status == index.StatusInserted {
			run.Metrics.Inserted++
		} else {
			run.Metrics.Superseded++
		}
	}

	opp, err := in.matcher.Evaluate(ctx, quote.Market())
	if err != nil {
		in.logger.Error("market evaluation failed",
			slog.Int64("event_id", quote.EventID),
			slog.String("bet_type", string(quote.BetType)),
			slog.String("error", err.Error()),
		)
		if run != nil {
			run.ErrorsCount++
		}
		// The quote itself was accepted; report the upsert outcome.
		return Result{Outcome: Outcome(status), Err: err}
	}
	if opp != nil && run != nil {
		run.Metrics.Opportunities++
	}

	in.refreshBestCache(ctx, quote.Market())

	return Result{Outcome: Outcome(status)}
}

// IngestBatch processes a small batch, returning one result per item in
// order.
func (in *Ingestor) IngestBatch(ctx context.Context, run *domain.Run, obs []domain.Observation) []Result {
	results := make([]Result, len(obs))
	for i, o := range obs {
		results[i] = in.Ingest(ctx, run, o)
	}
	return results
}

// Prune releases engine state for markets the eviction sweep retired: the
// matcher's per-market serialization entries, and cached fixture resolutions
// for event days past the window.
func (in *Ingestor) Prune(retired []domain.MarketKey, eventsBefore time.Time) {
	in.matcher.Forget(retired)
	if n := in.norm.EvictFixturesBefore(eventsBefore); n > 0 {
		in.logger.Debug("fixture cache pruned", slog.Int("entries", n))
	}
}

// Reevaluate re-runs matching for the given markets. The sweeps use it after
// evicting quotes so opportunities built on removed quotes are retired.
func (in *Ingestor) Reevaluate(ctx context.Context, keys []domain.MarketKey) {
	for _, key := range keys {
		if _, err := in.matcher.Evaluate(ctx, key); err != nil {
			in.logger.Warn("re-evaluation failed",
				slog.Int64("event_id", key.EventID),
				slog.String("bet_type", string(key.BetType)),
				slog.String("error", err.Error()),
			)
		}
		in.refreshBestCache(ctx, key)
	}
}

func (in *Ingestor) reject(run *domain.Run, obs domain.Observation, err error) Result {
	outcome := OutcomeError
	switch {
	case errors.Is(err, domain.ErrInvalidQuote):
		outcome = OutcomeInvalid
		if run != nil {
			run.Metrics.Invalid++
		}
	case errors.Is(err, domain.ErrUnresolvedEvent):
		outcome = OutcomeUnresolved
		if run != nil {
			run.Metrics.Unresolved++
		}
	}
	if run != nil {
		run.ErrorsCount++
	}
	in.logger.Warn("observation rejected",
		slog.String("bookmaker", obs.Bookmaker),
		slog.String("selection", obs.Selection),
		slog.String("outcome", string(outcome)),
		slog.String("error", err.Error()),
	)
	return Result{Outcome: outcome, Err: err}
}

func (in *Ingestor) refreshBestCache(ctx context.Context, key domain.MarketKey) {
	if in.cache == nil {
		return
	}
	best, complete := in.index.BestFor(key, time.Now().UTC())
	if !complete || len(best) == 0 {
		if err := in.cache.Invalidate(ctx, key); err != nil {
			in.logger.Debug("best-price cache invalidate failed", slog.String("error", err.Error()))
		}
		return
	}
	if err := in.cache.SetBest(ctx, key, best); err != nil {
		in.logger.Debug("best-price cache update failed", slog.String("error", err.Error()))
	}
}
