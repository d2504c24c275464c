package domain

import "time"

// BetType identifies a betting market on an event.
type BetType string

const (
	BetMatchWinner      BetType = "match_winner"
	BetMoneyline        BetType = "moneyline"
	BetOverUnder        BetType = "over_under"
	BetHandicap         BetType = "handicap"
	BetBothTeamsToScore BetType = "both_teams_to_score"
)

// Decimal odds bounds accepted by the normalizer.
const (
	MinDecimalOdds = 1.001
	MaxDecimalOdds = 1000.0
)

// Metadata is an explicitly-typed bag for opaque per-bookmaker source
// attributes. It rides along on a quote for audit purposes; matching logic
// never reads it.
type Metadata map[string]string

// QuoteKey uniquely identifies the current quote for one selection from one
// bookmaker. At most one current quote exists per key.
type QuoteKey struct {
	EventID     int64
	BookmakerID int64
	BetType     BetType
	Selection   string
}

// MarketKey identifies an (event, market) group, the unit of arbitrage
// evaluation.
type MarketKey struct {
	EventID int64
	BetType BetType
}

// Quote is a canonical odds observation. LastUpdated is the captured-at
// timestamp reported by the producer; supersession is decided on it, never on
// arrival order.
type Quote struct {
	EventID     int64
	BookmakerID int64
	Bookmaker   string // slug, denormalized for logging and legs
	BetType     BetType
	Selection   string
	Decimal     float64
	Fractional  string // optional alternate representation, e.g. "3/2"
	American    int    // optional alternate representation, 0 = unset
	StakeLimit  float64
	IsAvailable bool
	LastUpdated time.Time
	Confidence  float64 // producer-reported, in [0,1]
	Extra       Metadata
}

// Key returns the uniqueness key for the quote.
func (q Quote) Key() QuoteKey {
	return QuoteKey{
		EventID:     q.EventID,
		BookmakerID: q.BookmakerID,
		BetType:     q.BetType,
		Selection:   q.Selection,
	}
}

// Market returns the (event, market) group the quote belongs to.
func (q Quote) Market() MarketKey {
	return MarketKey{EventID: q.EventID, BetType: q.BetType}
}

// ImpliedProbability converts decimal odds to the bookmaker's implied
// outcome probability.
func (q Quote) ImpliedProbability() float64 {
	return 1 / q.Decimal
}

// Observation is one raw odds sighting delivered by the upstream scraping
// collaborator. It has not been validated or resolved yet.
type Observation struct {
	Bookmaker  string // slug
	Event      EventDescriptor
	BetType    BetType
	Selection  string
	Decimal    float64
	Fractional string
	American   int
	StakeLimit float64
	CapturedAt time.Time
	Confidence float64
	Extra      Metadata
}

// KnownOutcomes returns the full selection set a market of the given bet type
// must cover before it can be evaluated. Bet types without a fixed outcome
// set (e.g. handicap lines) return nil; for those the observed selection set
// is used instead.
func KnownOutcomes(bt BetType) []string {
	switch bt {
	case BetMatchWinner:
		return []string{"home", "draw", "away"}
	case BetMoneyline:
		return []string{"home", "away"}
	case BetOverUnder:
		return []string{"over", "under"}
	case BetBothTeamsToScore:
		return []string{"yes", "no"}
	default:
		return nil
	}
}
