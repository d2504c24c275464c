package domain

import (
	"context"
	"time"
)

// BestPriceCache mirrors the freshness index's best-price projection into a
// shared cache so read-only processes (server mode) can serve current best
// prices without owning the index.
type BestPriceCache interface {
	SetBest(ctx context.Context, key MarketKey, best map[string]Quote) error
	GetBest(ctx context.Context, key MarketKey) (map[string]Quote, error)
	Invalidate(ctx context.Context, key MarketKey) error
}

// RateLimiter provides distributed rate limiting for the HTTP surface.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking. Sweeps acquire a lock so only one
// instance runs retention at a time.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub fan-out of engine events (quote accepted,
// opportunity created/updated/deactivated).
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
