package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Dalcyang/oddsarb/internal/index"
	"github.com/Dalcyang/oddsarb/internal/ingest"
	"github.com/Dalcyang/oddsarb/internal/ledger"
	"github.com/Dalcyang/oddsarb/internal/lifecycle"
	"github.com/Dalcyang/oddsarb/internal/matcher"
	"github.com/Dalcyang/oddsarb/internal/normalizer"
	"github.com/Dalcyang/oddsarb/internal/pipeline"
	"github.com/Dalcyang/oddsarb/internal/server"
	"github.com/Dalcyang/oddsarb/internal/server/handler"
	"github.com/Dalcyang/oddsarb/internal/server/ws"
)

// engine bundles the core components one process owns. Every mode builds the
// full set; modes differ in which loops and routes they start.
type engine struct {
	index     *index.Index
	norm      *normalizer.Normalizer
	lifecycle *lifecycle.Manager
	matcher   *matcher.Matcher
	ledger    *ledger.Ledger
	ingestor  *ingest.Ingestor
	sweeper   *pipeline.Sweeper
}

// buildEngine wires the core components against the dependencies.
func (a *App) buildEngine(deps *Dependencies) *engine {
	cfg := a.cfg

	reliability := make(map[string]float64, len(cfg.Bookmakers))
	for _, bm := range cfg.Bookmakers {
		reliability[bm.Name] = cfg.Reliability(bm.Name)
	}

	ix := index.New(index.Config{
		Shards:          cfg.Engine.IndexShards,
		StalenessWindow: cfg.Engine.StalenessWindow.Duration,
		RetentionWindow: cfg.Engine.RetentionWindow.Duration,
	})

	norm := normalizer.New(normalizer.Config{
		EventPastWindow:   cfg.Engine.EventPastWindow.Duration,
		EventFutureWindow: cfg.Engine.EventFutureWindow.Duration,
	}, deps.BookmakerStore, deps.EventStore, a.logger)

	lc := lifecycle.NewManager(lifecycle.Config{
		ValidityWindow:       cfg.Engine.ValidityWindow.Duration,
		StalenessWindow:      cfg.Engine.StalenessWindow.Duration,
		LowRiskConfidence:    cfg.Engine.LowRiskConfidence,
		MediumRiskConfidence: cfg.Engine.MediumRiskConfidence,
		Reliability:          reliability,
	}, deps.OpportunityStore, deps.EventStore, deps.SignalBus, a.logger)

	m := matcher.New(matcher.Config{
		TotalStake:   cfg.Engine.TotalStake,
		MinProfitPct: cfg.Engine.MinProfitPct,
	}, ix, lc, a.logger)

	led := ledger.New(deps.RunStore, a.logger)
	ing := ingest.New(norm, ix, deps.OddsStore, m, deps.BestPriceCache, a.logger)

	sweeper := pipeline.New(pipeline.Config{
		EvictionInterval:  cfg.Sweep.EvictionInterval.Duration,
		ExpiryInterval:    cfg.Sweep.ExpiryInterval.Duration,
		RetentionInterval: cfg.Sweep.RetentionInterval.Duration,
		RetentionWindow:   cfg.Engine.RetentionWindow.Duration,
		EventPastWindow:   cfg.Engine.EventPastWindow.Duration,
		ArchiveEnabled:    cfg.Sweep.ArchiveEnabled,
	}, ix, ing, lc, deps.OddsStore, deps.EventStore, deps.OpportunityStore, deps.LockManager, deps.Archiver, a.logger)

	return &engine{
		index:     ix,
		norm:      norm,
		lifecycle: lc,
		matcher:   m,
		ledger:    led,
		ingestor:  ing,
		sweeper:   sweeper,
	}
}

// serverConfig translates the config server block.
func (a *App) serverConfig() server.Config {
	return server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		ReadAPIKey:  a.cfg.Server.ReadAPIKey,
		WriteAPIKey: a.cfg.Server.WriteAPIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}
}

// startServer runs the HTTP server and its graceful shutdown watcher inside
// the errgroup.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, srv *server.Server) {
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// IngestMode serves the ingestion API plus on-demand detection, and runs the
// index eviction and opportunity expiry loops that only make sense in the
// process owning the index. Retention belongs to sweep mode.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ingest mode")

	eng := a.buildEngine(deps)
	g, ctx := errgroup.WithContext(ctx)

	startedAt := time.Now().UTC()
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{Mode: a.cfg.Mode, StartedAt: startedAt})
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.Postgres, deps.Redis, a.cfg.Mode, startedAt, a.logger),
		Arb:    handler.NewArbHandler(deps.OpportunityStore, a.logger).WithEvaluator(eng.matcher),
		Runs:   handler.NewRunHandler(eng.ledger, a.logger),
		Ingest: handler.NewIngestHandler(eng.ingestor, eng.ledger, a.logger),
	}
	srv := server.NewServer(a.serverConfig(), handlers, hub, deps.RateLimiter, a.logger)
	a.startServer(ctx, g, srv)

	g.Go(func() error {
		return a.runLoop(ctx, a.cfg.Sweep.EvictionInterval.Duration, eng.sweeper.RunEviction)
	})
	g.Go(func() error {
		return a.runLoop(ctx, a.cfg.Sweep.ExpiryInterval.Duration, eng.sweeper.RunExpiry)
	})

	return g.Wait()
}

// ServerMode serves the read surface plus privileged administration. It does
// not own an index, so on-demand detection and ingestion are not registered.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	eng := a.buildEngine(deps)
	g, ctx := errgroup.WithContext(ctx)

	startedAt := time.Now().UTC()
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{Mode: a.cfg.Mode, StartedAt: startedAt})
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(deps.Postgres, deps.Redis, a.cfg.Mode, startedAt, a.logger),
		Events:     handler.NewEventHandler(deps.EventStore, a.logger),
		Odds:       handler.NewOddsHandler(deps.OddsStore, deps.BestPriceCache, a.logger),
		Arb:        handler.NewArbHandler(deps.OpportunityStore, a.logger),
		Runs:       handler.NewRunHandler(eng.ledger, a.logger),
		Bookmakers: handler.NewBookmakerHandler(deps.BookmakerStore, deps.OddsStore, a.logger),
		Cleanup:    handler.NewCleanupHandler(eng.sweeper, a.logger),
	}
	srv := server.NewServer(a.serverConfig(), handlers, hub, deps.RateLimiter, a.logger)
	a.startServer(ctx, g, srv)

	return g.Wait()
}

// SweepMode runs only the background sweeps.
func (a *App) SweepMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sweep mode")

	eng := a.buildEngine(deps)
	orch := pipeline.NewOrchestrator(eng.sweeper, pipeline.Config{
		EvictionInterval:  a.cfg.Sweep.EvictionInterval.Duration,
		ExpiryInterval:    a.cfg.Sweep.ExpiryInterval.Duration,
		RetentionInterval: a.cfg.Sweep.RetentionInterval.Duration,
		RetentionWindow:   a.cfg.Engine.RetentionWindow.Duration,
		EventPastWindow:   a.cfg.Engine.EventPastWindow.Duration,
		ArchiveEnabled:    a.cfg.Sweep.ArchiveEnabled,
	}, a.logger)
	return orch.Run(ctx)
}

// FullMode runs the whole engine in one process: ingestion, read surface,
// WebSocket hub, and all sweeps.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	eng := a.buildEngine(deps)
	g, ctx := errgroup.WithContext(ctx)

	startedAt := time.Now().UTC()
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{Mode: a.cfg.Mode, StartedAt: startedAt})
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(deps.Postgres, deps.Redis, a.cfg.Mode, startedAt, a.logger),
		Events:     handler.NewEventHandler(deps.EventStore, a.logger),
		Odds:       handler.NewOddsHandler(deps.OddsStore, deps.BestPriceCache, a.logger),
		Arb:        handler.NewArbHandler(deps.OpportunityStore, a.logger).WithEvaluator(eng.matcher),
		Runs:       handler.NewRunHandler(eng.ledger, a.logger),
		Bookmakers: handler.NewBookmakerHandler(deps.BookmakerStore, deps.OddsStore, a.logger),
		Ingest:     handler.NewIngestHandler(eng.ingestor, eng.ledger, a.logger),
		Cleanup:    handler.NewCleanupHandler(eng.sweeper, a.logger),
	}
	srv := server.NewServer(a.serverConfig(), handlers, hub, deps.RateLimiter, a.logger)
	a.startServer(ctx, g, srv)

	orch := pipeline.NewOrchestrator(eng.sweeper, pipeline.Config{
		EvictionInterval:  a.cfg.Sweep.EvictionInterval.Duration,
		ExpiryInterval:    a.cfg.Sweep.ExpiryInterval.Duration,
		RetentionInterval: a.cfg.Sweep.RetentionInterval.Duration,
		RetentionWindow:   a.cfg.Engine.RetentionWindow.Duration,
		EventPastWindow:   a.cfg.Engine.EventPastWindow.Duration,
		ArchiveEnabled:    a.cfg.Sweep.ArchiveEnabled,
	}, a.logger)
	g.Go(func() error {
		return orch.Run(ctx)
	})

	return g.Wait()
}

// runLoop ticks a single sweep function until the context is cancelled.
func (a *App) runLoop(ctx context.Context, interval time.Duration, run func(context.Context, time.Time) error) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := run(ctx, time.Now().UTC()); err != nil && ctx.Err() == nil {
				a.logger.Error("background sweep failed", "error", err.Error())
			}
		}
	}
}
