// Package matcher evaluates (event, market) groups for arbitrage whenever the
// freshness index accepts a quote, and computes the stake split that locks in
// profit when one exists.
package matcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Dalcyang/oddsarb/internal/domain"
	"github.com/Dalcyang/oddsarb/internal/index"
	"github.com/Dalcyang/oddsarb/internal/lifecycle"
)

// Config holds the matcher's tunable parameters.
type Config struct {
	// TotalStake is the stake budget split across selections.
	TotalStake float64
	// MinProfitPct filters out combinations whose profit would round to
	// noise. Zero-profit combinations (implied sum exactly 1) never qualify
	// regardless of this value.
	MinProfitPct float64
}

// Matcher is the per-market arbitrage evaluator. Evaluations for the same
// (event, market) key are serialized by a per-key critical section;
// evaluations for different keys run fully in parallel.
type Matcher struct {
	cfg       Config
	index     *index.Index
	lifecycle *lifecycle.Manager
	logger    *slog.Logger
	keys      keyedMutex
}

// New creates a Matcher reading best prices from the index and writing
// opportunity transitions through the lifecycle manager.
func New(cfg Config, ix *index.Index, lc *lifecycle.Manager, logger *slog.Logger) *Matcher {
	return &Matcher{
		cfg:       cfg,
		index:     ix,
		lifecycle: lc,
		logger:    logger.With(slog.String("component", "matcher")),
	}
}

// Evaluate re-derives the opportunity state for one (event, market) group
// from the index's current best prices. It returns the active opportunity
// after the call, or nil when the market does not qualify (which also
// deactivates any previously active opportunity for the key).
func (m *Matcher) Evaluate(ctx context.Context, key domain.MarketKey) (*domain.Opportunity, error) {
	unlock := m.keys.lock(key)
	defer unlock()

	now := time.Now().UTC()

	best, complete := m.index.BestFor(key, now)
	if !complete {
		// The market's outcome set is no longer fully covered; any active
		// opportunity lost its basis.
		if err := m.lifecycle.Deactivate(ctx, key, now); err != nil {
			return nil, err
		}
		return nil, nil
	}

	sum := 0.0
	for _, q := range best {
		sum += q.ImpliedProbability()
	}
	if sum >= 1 {
		if err := m.lifecycle.Deactivate(ctx, key, now); err != nil {
			return nil, err
		}
		return nil, nil
	}

	alloc, err := Allocate(best, m.cfg.TotalStake)
	if errors.Is(err, domain.ErrDegenerateAllocation) {
		// Candidate discarded, nothing published.
		m.logger.Debug("degenerate allocation",
			slog.Int64("event_id", key.EventID),
			slog.String("bet_type", string(key.BetType)),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if alloc.ProfitPct < m.cfg.MinProfitPct {
		if err := m.lifecycle.Deactivate(ctx, key, now); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return m.lifecycle.Apply(ctx, lifecycle.Candidate{
		Key:            key,
		ProfitPct:      alloc.ProfitPct,
		TotalStake:     alloc.TotalStake,
		ExpectedProfit: alloc.ExpectedProfit,
		Legs:           alloc.Legs,
	}, now)
}

// Forget drops the serialization state for markets the eviction sweep has
// retired. A key currently held or waited on is kept; a later ingest for a
// forgotten key simply recreates its entry.
func (m *Matcher) Forget(keys []domain.MarketKey) {
	m.keys.forget(keys)
}

// keyedMutex serializes work per market key. Entries are reference counted so
// the eviction sweep can drop retired keys without racing in-flight holders.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[domain.MarketKey]*marketLock
}

type marketLock struct {
	sync.Mutex
	refs int
}

func (km *keyedMutex) lock(key domain.MarketKey) func() {
	km.mu.Lock()
	if km.locks == nil {
		km.locks = make(map[domain.MarketKey]*marketLock)
	}
	l, ok := km.locks[key]
	if !ok {
		l = &marketLock{}
		km.locks[key] = l
	}
	l.refs++
	km.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		km.mu.Lock()
		l.refs--
		km.mu.Unlock()
	}
}

func (km *keyedMutex) forget(keys []domain.MarketKey) {
	km.mu.Lock()
	defer km.mu.Unlock()
	for _, key := range keys {
		if l, ok := km.locks[key]; ok && l.refs == 0 {
			delete(km.locks, key)
		}
	}
}
