package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// BookmakerPerformance is an aggregation of one bookmaker's output over a
// trailing window, served by the read views.
type BookmakerPerformance struct {
	BookmakerID   int64
	Bookmaker     string
	QuoteCount    int64
	EventCount    int64
	AvgConfidence float64
	LastQuoteAt   *time.Time
}

// BookmakerStore persists bookmaker identities.
type BookmakerStore interface {
	Upsert(ctx context.Context, b Bookmaker) (Bookmaker, error)
	GetByName(ctx context.Context, name string) (Bookmaker, error)
	List(ctx context.Context) ([]Bookmaker, error)
	SetActive(ctx context.Context, name string, active bool) error
}

// EventStore persists sport events.
type EventStore interface {
	Create(ctx context.Context, ev SportEvent) (SportEvent, error)
	GetByID(ctx context.Context, id int64) (SportEvent, error)
	FindByFixture(ctx context.Context, home, away string, date time.Time) (SportEvent, error)
	Touch(ctx context.Context, id int64, isLive bool) error
	ListUpcoming(ctx context.Context, sport SportType, opts ListOpts) ([]SportEvent, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// OddsStore persists current quotes, one row per (event, bookmaker, bet_type,
// selection) key. Upsert applies last-timestamp-wins at the row level so
// concurrent writers resolve deterministically.
type OddsStore interface {
	Upsert(ctx context.Context, q Quote) error
	ListByMarket(ctx context.Context, key MarketKey) ([]Quote, error)
	ListLatest(ctx context.Context, eventID int64) ([]Quote, error)
	ListBefore(ctx context.Context, before time.Time) ([]Quote, error)
	MarkUnavailableBefore(ctx context.Context, before time.Time) (int64, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	BookmakerPerformance(ctx context.Context, window time.Duration) ([]BookmakerPerformance, error)
}

// OpportunityStore persists arbitrage opportunities, at most one active row
// per (event, bet_type) key.
type OpportunityStore interface {
	Upsert(ctx context.Context, opp Opportunity) error
	GetActive(ctx context.Context, key MarketKey) (Opportunity, error)
	Deactivate(ctx context.Context, key MarketKey, at time.Time) error
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
	ListActive(ctx context.Context, minProfitPct float64, opts ListOpts) ([]Opportunity, error)
	ListBefore(ctx context.Context, before time.Time) ([]Opportunity, error)
	DeleteInactiveBefore(ctx context.Context, before time.Time) (int64, error)
}

// RunStore persists ingestion run records.
type RunStore interface {
	Create(ctx context.Context, run Run) error
	Finalize(ctx context.Context, run Run) error
	GetByID(ctx context.Context, id string) (Run, error)
	ListRecent(ctx context.Context, limit int) ([]Run, error)
}
