package domain

import "time"

// RiskLevel classifies an opportunity by confidence.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// OpportunityLeg is one side of an arbitrage: the quote used for a selection
// and the stake assigned to it. Payout = Stake × Odds and is equal across all
// legs of a valid opportunity.
type OpportunityLeg struct {
	BookmakerID int64     `json:"bookmaker_id"`
	Bookmaker   string    `json:"bookmaker"`
	Selection   string    `json:"selection"`
	Odds        float64   `json:"odds_decimal"`
	Stake       float64   `json:"stake"`
	Payout      float64   `json:"payout"`
	QuotedAt    time.Time `json:"quoted_at"`
}

// Opportunity is a detected arbitrage for one (event, market). At most one
// active opportunity exists per key; re-detections update the record in place.
// ProfitPct, TotalStake, and ExpectedProfit are strictly positive whenever
// the opportunity is active.
type Opportunity struct {
	ID             string
	EventID        int64
	BetType        BetType
	ProfitPct      float64
	TotalStake     float64
	ExpectedProfit float64
	Legs           []OpportunityLeg
	Confidence     float64
	Risk           RiskLevel
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExpiresAt      time.Time
}

// Key returns the (event, market) key the opportunity is derived from.
func (o Opportunity) Key() MarketKey {
	return MarketKey{EventID: o.EventID, BetType: o.BetType}
}

// Expired reports whether the opportunity's validity window has passed.
func (o Opportunity) Expired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && o.ExpiresAt.Before(now)
}
