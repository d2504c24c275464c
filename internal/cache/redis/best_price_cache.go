package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Dalcyang/oddsarb/internal/domain"
)

// bestTTL bounds how long a cached projection can outlive its writer. The
// ingest loop refreshes the key on every accepted quote, so an entry this old
// means the market has gone quiet.
const bestTTL = 30 * time.Minute

// BestPriceCache implements domain.BestPriceCache using one Redis string per
// (event, bet_type) market, holding the best-per-selection map as JSON.
type BestPriceCache struct {
	rdb *redis.Client
}

// NewBestPriceCache creates a BestPriceCache backed by the given Client.
func NewBestPriceCache(c *Client) *BestPriceCache {
	return &BestPriceCache{rdb: c.Underlying()}
}

func bestKey(key domain.MarketKey) string {
	return "best:" + strconv.FormatInt(key.EventID, 10) + ":" + string(key.BetType)
}

// SetBest stores the best-per-selection projection for one market.
func (bc *BestPriceCache) SetBest(ctx context.Context, key domain.MarketKey, best map[string]domain.Quote) error {
	payload, err := json.Marshal(best)
	if err != nil {
		return fmt.Errorf("redis: marshal best prices: %w", err)
	}
	if err := bc.rdb.Set(ctx, bestKey(key), payload, bestTTL).Err(); err != nil {
		return fmt.Errorf("redis: set best prices event=%d market=%s: %w", key.EventID, key.BetType, err)
	}
	return nil
}

// GetBest retrieves the projection for one market. It returns
// domain.ErrNotFound when no projection is cached.
func (bc *BestPriceCache) GetBest(ctx context.Context, key domain.MarketKey) (map[string]domain.Quote, error) {
	payload, err := bc.rdb.Get(ctx, bestKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get best prices event=%d market=%s: %w", key.EventID, key.BetType, err)
	}

	var best map[string]domain.Quote
	if err := json.Unmarshal(payload, &best); err != nil {
		return nil, fmt.Errorf("redis: unmarshal best prices: %w", err)
	}
	return best, nil
}

// Invalidate drops the projection for one market. Missing keys are not an
// error.
func (bc *BestPriceCache) Invalidate(ctx context.Context, key domain.MarketKey) error {
	if err := bc.rdb.Del(ctx, bestKey(key)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate best prices event=%d market=%s: %w", key.EventID, key.BetType, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.BestPriceCache = (*BestPriceCache)(nil)
