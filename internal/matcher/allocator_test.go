package matcher

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/Dalcyang/oddsarb/internal/domain"
)

func approx(t *testing.T, name string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s = %v, want %v (tolerance %v)", name, got, want, tol)
	}
}

func bestQuotes(prices map[string]float64) map[string]domain.Quote {
	at := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	best := make(map[string]domain.Quote, len(prices))
	var id int64 = 1
	for sel, p := range prices {
		best[sel] = domain.Quote{
			EventID:     1,
			BookmakerID: id,
			Bookmaker:   "book",
			BetType:     domain.BetMoneyline,
			Selection:   sel,
			Decimal:     p,
			IsAvailable: true,
			LastUpdated: at,
		}
		id++
	}
	return best
}

func TestAllocateTwoWay(t *testing.T) {
	best := bestQuotes(map[string]float64{"home": 2.50, "away": 2.20})

	alloc, err := Allocate(best, 1000)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	approx(t, "ProfitPct", alloc.ProfitPct, 17.0213, 0.0001)
	approx(t, "Payout", alloc.Payout, 1170.21, 0.01)
	approx(t, "ExpectedProfit", alloc.ExpectedProfit, 170.21, 0.01)

	if len(alloc.Legs) != 2 {
		t.Fatalf("len(Legs) = %d, want 2", len(alloc.Legs))
	}
	// Legs are ordered by selection.
	if alloc.Legs[0].Selection != "away" || alloc.Legs[1].Selection != "home" {
		t.Fatalf("leg order = [%s, %s], want [away, home]",
			alloc.Legs[0].Selection, alloc.Legs[1].Selection)
	}
	approx(t, "away stake", alloc.Legs[0].Stake, 531.91, 0.001)
	approx(t, "home stake", alloc.Legs[1].Stake, 468.09, 0.001)

	sum := alloc.Legs[0].Stake + alloc.Legs[1].Stake
	approx(t, "stake sum", sum, 1000, 1e-9)

	// Rounding to cents leaves at most a few cents between leg payouts.
	approx(t, "payout spread", alloc.Legs[0].Payout, alloc.Legs[1].Payout, 0.05)
}

func TestAllocateThreeWay(t *testing.T) {
	best := bestQuotes(map[string]float64{"home": 3.20, "draw": 3.60, "away": 3.50})

	alloc, err := Allocate(best, 500)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	sumImplied := 1/3.20 + 1/3.60 + 1/3.50
	approx(t, "ProfitPct", alloc.ProfitPct, (1/sumImplied-1)*100, 0.0001)

	var stakeSum float64
	for _, leg := range alloc.Legs {
		if leg.Stake <= 0 {
			t.Errorf("leg %s stake = %v, want > 0", leg.Selection, leg.Stake)
		}
		stakeSum += leg.Stake
		approx(t, "leg payout "+leg.Selection, leg.Payout, alloc.Payout, 0.05)
	}
	approx(t, "stake sum", stakeSum, 500, 1e-9)

	if alloc.ExpectedProfit <= 0 {
		t.Errorf("ExpectedProfit = %v, want > 0", alloc.ExpectedProfit)
	}
}

func TestAllocateDegenerate(t *testing.T) {
	tests := []struct {
		name   string
		prices map[string]float64
		stake  float64
	}{
		{
			name:   "implied sum above one",
			prices: map[string]float64{"home": 2.10, "draw": 3.40, "away": 4.20},
			stake:  1000,
		},
		{
			name:   "implied sum exactly one",
			prices: map[string]float64{"home": 2.00, "away": 2.00},
			stake:  1000,
		},
		{
			name:   "single selection",
			prices: map[string]float64{"home": 5.00},
			stake:  1000,
		},
		{
			name:   "zero stake budget",
			prices: map[string]float64{"home": 2.50, "away": 2.20},
			stake:  0,
		},
		{
			name:   "negative stake budget",
			prices: map[string]float64{"home": 2.50, "away": 2.20},
			stake:  -50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Allocate(bestQuotes(tt.prices), tt.stake)
			if !errors.Is(err, domain.ErrDegenerateAllocation) {
				t.Fatalf("err = %v, want ErrDegenerateAllocation", err)
			}
		})
	}
}

func TestAllocateCarriesQuoteProvenance(t *testing.T) {
	at := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	best := map[string]domain.Quote{
		"over": {
			EventID: 1, BookmakerID: 10, Bookmaker: "betway",
			BetType: domain.BetOverUnder, Selection: "over",
			Decimal: 2.30, IsAvailable: true, LastUpdated: at,
		},
		"under": {
			EventID: 1, BookmakerID: 20, Bookmaker: "hollywoodbets",
			BetType: domain.BetOverUnder, Selection: "under",
			Decimal: 2.40, IsAvailable: true, LastUpdated: at.Add(-time.Minute),
		},
	}

	alloc, err := Allocate(best, 200)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	over := alloc.Legs[0]
	if over.Bookmaker != "betway" || over.BookmakerID != 10 {
		t.Errorf("over leg source = %s/%d, want betway/10", over.Bookmaker, over.BookmakerID)
	}
	if !over.QuotedAt.Equal(at) {
		t.Errorf("over leg quoted at %v, want %v", over.QuotedAt, at)
	}
	if over.Odds != 2.30 {
		t.Errorf("over leg odds = %v, want 2.30", over.Odds)
	}
}
