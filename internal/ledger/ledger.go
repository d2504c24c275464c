// Package ledger records ingestion run outcomes for operators. Runs are
// created in the running state and finalized exactly once; the matching logic
// never reads them.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Dalcyang/oddsarb/internal/domain"
)

// Ledger wraps the run store with start/finalize semantics.
type Ledger struct {
	store  domain.RunStore
	logger *slog.Logger
}

// New creates a Ledger.
func New(store domain.RunStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger.With(slog.String("component", "run_ledger")),
	}
}

// Start opens a new run record for one bookmaker/sport stream.
func (l *Ledger) Start(ctx context.Context, bookmaker string, sport domain.SportType) (domain.Run, error) {
	run := domain.Run{
		ID:        uuid.NewString(),
		Bookmaker: bookmaker,
		SportType: sport,
		StartedAt: time.Now().UTC(),
		Status:    domain.RunRunning,
	}
	if err := l.store.Create(ctx, run); err != nil {
		return domain.Run{}, fmt.Errorf("ledger: create run: %w", err)
	}
	l.logger.Info("run started",
		slog.String("run_id", run.ID),
		slog.String("bookmaker", bookmaker),
		slog.String("sport", string(sport)),
	)
	return run, nil
}

// Complete finalizes the run as completed with its counts.
func (l *Ledger) Complete(ctx context.Context, run domain.Run) error {
	return l.finalize(ctx, run, domain.RunCompleted, "")
}

// Fail finalizes the run as failed, recording the upstream cause. Per-item
// rejections never fail a run; only a delivery-level failure does.
func (l *Ledger) Fail(ctx context.Context, run domain.Run, cause error) error {
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	return l.finalize(ctx, run, domain.RunFailed, detail)
}

// Cancel finalizes the run as cancelled. A cancelled producer simply stops
// delivering; whatever was already upserted stays committed.
func (l *Ledger) Cancel(ctx context.Context, run domain.Run) error {
	return l.finalize(ctx, run, domain.RunCancelled, "")
}

func (l *Ledger) finalize(ctx context.Context, run domain.Run, status domain.RunStatus, detail string) error {
	if run.Finalized() {
		return domain.ErrRunFinalized
	}
	now := time.Now().UTC()
	run.EndedAt = &now
	run.Status = status
	run.ErrorDetail = detail

	if err := l.store.Finalize(ctx, run); err != nil {
		return fmt.Errorf("ledger: finalize run %s: %w", run.ID, err)
	}
	l.logger.Info("run finalized",
		slog.String("run_id", run.ID),
		slog.String("status", string(status)),
		slog.Int("events_found", run.EventsFound),
		slog.Int("odds_extracted", run.OddsExtracted),
		slog.Int("errors", run.ErrorsCount),
		slog.Duration("duration", now.Sub(run.StartedAt)),
	)
	return nil
}

// Recent returns the most recently started runs.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]domain.Run, error) {
	runs, err := l.store.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list recent runs: %w", err)
	}
	return runs, nil
}

// Get returns one run by id.
func (l *Ledger) Get(ctx context.Context, id string) (domain.Run, error) {
	run, err := l.store.GetByID(ctx, id)
	if err != nil {
		return domain.Run{}, fmt.Errorf("ledger: get run %s: %w", id, err)
	}
	return run, nil
}
