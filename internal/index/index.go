// Package index implements the freshness index: the sole authority for the
// current quote per (event, bookmaker, bet_type, selection) key. New
// observations supersede the stored quote only when strictly newer, so
// out-of-order and duplicate deliveries collapse deterministically.
package index

import (
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/Dalcyang/oddsarb/internal/domain"
)

// UpsertStatus is the outcome of an index upsert.
type UpsertStatus string

const (
	// StatusInserted means no quote existed for the key.
	StatusInserted UpsertStatus = "inserted"
	// StatusSuperseded means an older quote was replaced.
	StatusSuperseded UpsertStatus = "superseded"
	// StatusStale means the stored quote is at least as new; the delivery
	// was dropped. Re-delivery of the identical quote lands here, which
	// makes ingestion idempotent.
	StatusStale UpsertStatus = "stale"
)

// Accepted reports whether the upsert changed the index.
func (s UpsertStatus) Accepted() bool {
	return s == StatusInserted || s == StatusSuperseded
}

// Config holds the index thresholds.
type Config struct {
	// Shards is the number of independently locked partitions. All quotes
	// of one (event, market) live in the same shard.
	Shards int
	// StalenessWindow is the maximum quote age BestFor considers live.
	StalenessWindow time.Duration
	// RetentionWindow is the maximum quote age before Evict removes a key.
	RetentionWindow time.Duration
}

// Index is a sharded in-memory map of current quotes. Upserts to different
// markets proceed in parallel; upserts to the same key are serialized by the
// owning shard's lock, so last-timestamp-wins is applied atomically.
type Index struct {
	cfg    Config
	shards []*shard
}

type shard struct {
	mu      sync.RWMutex
	markets map[domain.MarketKey]map[domain.QuoteKey]domain.Quote
}

// New creates an Index with the given configuration.
func New(cfg Config) *Index {
	if cfg.Shards <= 0 {
		cfg.Shards = 32
	}
	shards := make([]*shard, cfg.Shards)
	for i := range shards {
		shards[i] = &shard{markets: make(map[domain.MarketKey]map[domain.QuoteKey]domain.Quote)}
	}
	return &Index{cfg: cfg, shards: shards}
}

func (ix *Index) shardFor(key domain.MarketKey) *shard {
	h := fnv.New32a()
	h.Write([]byte(strconv.FormatInt(key.EventID, 10)))
	h.Write([]byte{'|'})
	h.Write([]byte(key.BetType))
	return ix.shards[h.Sum32()%uint32(len(ix.shards))]
}

// Upsert applies last-timestamp-wins for the quote's key. A quote replaces
// the stored one iff its captured-at timestamp is strictly newer; timestamp
// ties keep the existing record.
func (ix *Index) Upsert(q domain.Quote) UpsertStatus {
	sh := ix.shardFor(q.Market())
	sh.mu.Lock()
	defer sh.mu.Unlock()

	market, ok := sh.markets[q.Market()]
	if !ok {
		market = make(map[domain.QuoteKey]domain.Quote)
		sh.markets[q.Market()] = market
	}

	current, exists := market[q.Key()]
	if !exists {
		market[q.Key()] = q
		return StatusInserted
	}
	if !q.LastUpdated.After(current.LastUpdated) {
		return StatusStale
	}
	market[q.Key()] = q
	return StatusSuperseded
}

// Get returns the current quote for a key.
func (ix *Index) Get(key domain.QuoteKey) (domain.Quote, bool) {
	sh := ix.shardFor(domain.MarketKey{EventID: key.EventID, BetType: key.BetType})
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	market, ok := sh.markets[domain.MarketKey{EventID: key.EventID, BetType: key.BetType}]
	if !ok {
		return domain.Quote{}, false
	}
	q, ok := market[key]
	return q, ok
}

// BestFor returns, per selection of the market's outcome set, the live quote
// with the highest decimal price across bookmakers. A quote is live when its
// availability flag is set and its age at "now" is within the staleness
// window. complete is false when any selection of the outcome set has no
// live quote; the returned map then holds whatever selections were covered.
//
// The outcome set comes from the bet-type catalog when the market has a fixed
// one; otherwise it is the set of selections currently known to the index for
// this market (at least two).
func (ix *Index) BestFor(key domain.MarketKey, now time.Time) (map[string]domain.Quote, bool) {
	sh := ix.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	market, ok := sh.markets[key]
	if !ok || len(market) == 0 {
		return nil, false
	}

	cutoff := now.Add(-ix.cfg.StalenessWindow)
	best := make(map[string]domain.Quote)
	observed := make(map[string]bool)
	for k, q := range market {
		observed[k.Selection] = true
		if !q.IsAvailable || q.LastUpdated.Before(cutoff) {
			continue
		}
		if cur, ok := best[k.Selection]; !ok || q.Decimal > cur.Decimal {
			best[k.Selection] = q
		}
	}

	outcomes := domain.KnownOutcomes(key.BetType)
	if outcomes == nil {
		if len(observed) < 2 {
			return best, false
		}
		outcomes = make([]string, 0, len(observed))
		for sel := range observed {
			outcomes = append(outcomes, sel)
		}
	}

	for _, sel := range outcomes {
		if _, ok := best[sel]; !ok {
			return best, false
		}
	}
	return best, true
}

// Evict removes quotes whose captured-at timestamp is older than the
// retention window. It returns the evicted quotes, the market keys they
// belonged to so the caller can re-evaluate those markets, and the subset of
// keys whose market emptied out entirely and was dropped from the index.
// Eviction is pure cleanup and never runs on the matching hot path.
func (ix *Index) Evict(now time.Time) (evicted []domain.Quote, touched, retired []domain.MarketKey) {
	cutoff := now.Add(-ix.cfg.RetentionWindow)

	for _, sh := range ix.shards {
		sh.mu.Lock()
		for mk, market := range sh.markets {
			removed := false
			for k, q := range market {
				if q.LastUpdated.Before(cutoff) {
					evicted = append(evicted, q)
					delete(market, k)
					removed = true
				}
			}
			if removed {
				touched = append(touched, mk)
			}
			if len(market) == 0 {
				delete(sh.markets, mk)
				retired = append(retired, mk)
			}
		}
		sh.mu.Unlock()
	}
	return evicted, touched, retired
}

// Len returns the number of current quotes across all shards.
func (ix *Index) Len() int {
	n := 0
	for _, sh := range ix.shards {
		sh.mu.RLock()
		for _, market := range sh.markets {
			n += len(market)
		}
		sh.mu.RUnlock()
	}
	return n
}
