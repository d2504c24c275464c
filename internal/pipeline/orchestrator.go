package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Orchestrator runs the three sweep loops as concurrent goroutines. Each loop
// ticks on its own interval; a failed sweep is logged and retried on the next
// tick rather than stopping the loop.
type Orchestrator struct {
	sweeper *Sweeper
	cfg     Config
	logger  *slog.Logger
}

// NewOrchestrator creates an Orchestrator for the given sweeper.
func NewOrchestrator(sweeper *Sweeper, cfg Config, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		sweeper: sweeper,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "orchestrator")),
	}
}

// Run starts the sweep loops and blocks until the context is cancelled. A
// clean shutdown returns nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("sweep orchestrator starting",
		slog.Duration("eviction_interval", o.cfg.EvictionInterval),
		slog.Duration("expiry_interval", o.cfg.ExpiryInterval),
		slog.Duration("retention_interval", o.cfg.RetentionInterval))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return o.loop(ctx, "eviction", o.cfg.EvictionInterval, o.sweeper.RunEviction)
	})
	g.Go(func() error {
		return o.loop(ctx, "expiry", o.cfg.ExpiryInterval, o.sweeper.RunExpiry)
	})
	g.Go(func() error {
		return o.loop(ctx, "retention", o.cfg.RetentionInterval, o.sweeper.RunRetention)
	})

	if err := g.Wait(); err != nil {
		o.logger.Error("sweep orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("sweep orchestrator stopped cleanly")
	return nil
}

func (o *Orchestrator) loop(ctx context.Context, name string, interval time.Duration, run func(context.Context, time.Time) error) error {
	if interval <= 0 {
		return fmt.Errorf("pipeline: %s interval must be positive", name)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("sweep loop stopped", slog.String("sweep", name))
			return nil
		case <-ticker.C:
			if err := run(ctx, time.Now().UTC()); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				o.logger.Error("sweep failed",
					slog.String("sweep", name),
					slog.String("error", err.Error()))
			}
		}
	}
}
