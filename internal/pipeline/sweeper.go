// Package pipeline runs the background sweeps that keep the engine's working
// set bounded: index eviction, opportunity expiry, and database retention.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dalcyang/oddsarb/internal/domain"
	"github.com/Dalcyang/oddsarb/internal/index"
	"github.com/Dalcyang/oddsarb/internal/ingest"
	"github.com/Dalcyang/oddsarb/internal/lifecycle"
)

// retentionLockKey serializes retention runs across instances.
const retentionLockKey = "sweep:retention"

// retentionLockTTL bounds how long a crashed instance can block the next
// retention run.
const retentionLockTTL = 10 * time.Minute

// Config holds the sweep schedules and retention thresholds.
type Config struct {
	EvictionInterval  time.Duration
	ExpiryInterval    time.Duration
	RetentionInterval time.Duration
	RetentionWindow   time.Duration
	EventPastWindow   time.Duration
	ArchiveEnabled    bool
}

// Sweeper owns the three background maintenance loops. Every sweep only moves
// state toward stale or inactive; none of them creates quotes or activates
// opportunities, so a sweep can never race a detection into a wrong state.
type Sweeper struct {
	cfg       Config
	index     *index.Index
	ingestor  *ingest.Ingestor
	lifecycle *lifecycle.Manager
	odds      domain.OddsStore
	events    domain.EventStore
	opps      domain.OpportunityStore
	locks     domain.LockManager
	archiver  domain.Archiver
	logger    *slog.Logger
}

// New creates a Sweeper. archiver may be nil when cold storage is disabled;
// locks may be nil in single-instance deployments.
func New(
	cfg Config,
	ix *index.Index,
	ing *ingest.Ingestor,
	lc *lifecycle.Manager,
	odds domain.OddsStore,
	events domain.EventStore,
	opps domain.OpportunityStore,
	locks domain.LockManager,
	archiver domain.Archiver,
	logger *slog.Logger,
) *Sweeper {
	return &Sweeper{
		cfg:       cfg,
		index:     ix,
		ingestor:  ing,
		lifecycle: lc,
		odds:      odds,
		events:    events,
		opps:      opps,
		locks:     locks,
		archiver:  archiver,
		logger:    logger.With(slog.String("component", "sweeper")),
	}
}

// RunEviction removes quotes past the retention window from the in-memory
// index, mirrors the removal into the odds store, re-evaluates every touched
// market so opportunities backed by evicted quotes are retired, and prunes
// per-market engine state for markets that emptied out.
func (s *Sweeper) RunEviction(ctx context.Context, now time.Time) error {
	evicted, touched, retired := s.index.Evict(now)
	s.ingestor.Prune(retired, now.Add(-s.cfg.EventPastWindow))
	if len(evicted) == 0 {
		return nil
	}

	cutoff := now.Add(-s.cfg.RetentionWindow)
	marked, err := s.odds.MarkUnavailableBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: eviction mark unavailable: %w", err)
	}

	s.ingestor.Reevaluate(ctx, touched)

	s.logger.Info("eviction sweep complete",
		slog.Int("evicted", len(evicted)),
		slog.Int("markets_touched", len(touched)),
		slog.Int64("rows_marked", marked))
	return nil
}

// RunExpiry retires every active opportunity whose validity window has
// passed.
func (s *Sweeper) RunExpiry(ctx context.Context, now time.Time) error {
	expired, err := s.lifecycle.SweepExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("pipeline: expiry sweep: %w", err)
	}
	if expired > 0 {
		s.logger.Info("expiry sweep complete", slog.Int64("expired", expired))
	}
	return nil
}

// RunRetention archives and deletes rows older than the retention window:
// odds, past events, and retired opportunities. Only one instance runs
// retention at a time; losing the lock race is not an error.
func (s *Sweeper) RunRetention(ctx context.Context, now time.Time) error {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, retentionLockKey, retentionLockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.Debug("retention sweep already running elsewhere")
			return nil
		}
		if err != nil {
			return fmt.Errorf("pipeline: retention lock: %w", err)
		}
		defer unlock()
	}

	cutoff := now.Add(-s.cfg.RetentionWindow)

	if s.cfg.ArchiveEnabled && s.archiver != nil {
		if _, err := s.archiver.ArchiveOdds(ctx, cutoff); err != nil {
			return fmt.Errorf("pipeline: retention archive odds: %w", err)
		}
		if _, err := s.archiver.ArchiveOpportunities(ctx, cutoff); err != nil {
			return fmt.Errorf("pipeline: retention archive opportunities: %w", err)
		}
	}

	oddsDeleted, err := s.odds.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: retention delete odds: %w", err)
	}
	oppsDeleted, err := s.opps.DeleteInactiveBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: retention delete opportunities: %w", err)
	}
	eventsDeleted, err := s.events.DeleteBefore(ctx, now.Add(-s.cfg.EventPastWindow))
	if err != nil {
		return fmt.Errorf("pipeline: retention delete events: %w", err)
	}

	s.logger.Info("retention sweep complete",
		slog.Int64("odds_deleted", oddsDeleted),
		slog.Int64("opportunities_deleted", oppsDeleted),
		slog.Int64("events_deleted", eventsDeleted),
		slog.Time("cutoff", cutoff))
	return nil
}
