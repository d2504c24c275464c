package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/Dalcyang/oddsarb/internal/blob/s3"
	"github.com/Dalcyang/oddsarb/internal/cache/redis"
	"github.com/Dalcyang/oddsarb/internal/config"
	"github.com/Dalcyang/oddsarb/internal/domain"
	"github.com/Dalcyang/oddsarb/internal/store/postgres"
)

// Dependencies bundles the infrastructure the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	BookmakerStore   domain.BookmakerStore
	EventStore       domain.EventStore
	OddsStore        domain.OddsStore
	OpportunityStore domain.OpportunityStore
	RunStore         domain.RunStore

	// Caches
	BestPriceCache domain.BestPriceCache
	RateLimiter    domain.RateLimiter
	LockManager    domain.LockManager
	SignalBus      domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver

	// Raw clients, for health checks
	Postgres *postgres.Client
	Redis    *redis.Client
}

// needsS3 reports whether the mode runs the retention archiver.
func needsS3(cfg *config.Config) bool {
	if !cfg.Sweep.ArchiveEnabled {
		return false
	}
	switch cfg.Mode {
	case "sweep", "full", "server":
		return true
	default:
		return false
	}
}

// Wire constructs the concrete dependency implementations from the given
// configuration and returns them together with a cleanup function.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// PostgreSQL. Every mode persists at least one of quotes, opportunities,
	// or runs, so the pool is unconditional.
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Postgres = pgClient
	deps.BookmakerStore = postgres.NewBookmakerStore(pool)
	deps.EventStore = postgres.NewEventStore(pool)
	deps.OddsStore = postgres.NewOddsStore(pool)
	deps.OpportunityStore = postgres.NewOpportunityStore(pool)
	deps.RunStore = postgres.NewRunStore(pool)

	// Redis.
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Redis = redisClient
	deps.BestPriceCache = redis.NewBestPriceCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// S3 blob storage, only when the retention archiver is on.
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.OddsStore, deps.OpportunityStore, logger)
	}

	// Seed the bookmaker registry from config so normalization can resolve
	// configured sources on first sight.
	for _, bm := range cfg.Bookmakers {
		if _, err := deps.BookmakerStore.Upsert(ctx, domain.Bookmaker{
			Name:        bm.Name,
			DisplayName: bm.DisplayName,
			WebsiteURL:  bm.WebsiteURL,
			IsActive:    bm.Active,
		}); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: seed bookmaker %s: %w", bm.Name, err)
		}
	}

	return deps, cleanup, nil
}
