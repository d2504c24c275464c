package matcher

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/Dalcyang/oddsarb/internal/domain"
)

// Allocation is the equal-payout stake split for one qualifying odds
// combination. Stakes sum to TotalStake exactly; every leg's payout equals
// Payout.
type Allocation struct {
	TotalStake     float64
	Payout         float64
	ExpectedProfit float64
	ProfitPct      float64
	Legs           []domain.OpportunityLeg
}

var one = decimal.NewFromInt(1)

// Allocate splits totalStake across the best quotes so that every selection
// pays out the same amount: stake_i = totalStake × (1/price_i) / Σ(1/price_j),
// with the last stake taking the rounding remainder so the sum is exact.
// It returns domain.ErrDegenerateAllocation when the combination is not a
// strict arbitrage (Σ implied ≥ 1) or when rounding produces a non-positive
// stake for any outcome.
func Allocate(best map[string]domain.Quote, totalStake float64) (Allocation, error) {
	if len(best) < 2 {
		return Allocation{}, fmt.Errorf("%w: %d selections", domain.ErrDegenerateAllocation, len(best))
	}
	if totalStake <= 0 {
		return Allocation{}, fmt.Errorf("%w: non-positive stake budget %g", domain.ErrDegenerateAllocation, totalStake)
	}

	// Deterministic leg ordering regardless of map iteration.
	selections := make([]string, 0, len(best))
	for sel := range best {
		selections = append(selections, sel)
	}
	sort.Strings(selections)

	total := decimal.NewFromFloat(totalStake)

	sumImplied := decimal.Zero
	implied := make(map[string]decimal.Decimal, len(best))
	for sel, q := range best {
		inv := one.Div(decimal.NewFromFloat(q.Decimal))
		implied[sel] = inv
		sumImplied = sumImplied.Add(inv)
	}
	if sumImplied.GreaterThanOrEqual(one) {
		return Allocation{}, fmt.Errorf("%w: implied probability sum %s >= 1",
			domain.ErrDegenerateAllocation, sumImplied.StringFixed(6))
	}

	payout := total.Div(sumImplied)
	profit := payout.Sub(total)
	profitPct := one.Div(sumImplied).Sub(one).Mul(decimal.NewFromInt(100))

	legs := make([]domain.OpportunityLeg, 0, len(selections))
	allocated := decimal.Zero
	for i, sel := range selections {
		q := best[sel]

		var stake decimal.Decimal
		if i == len(selections)-1 {
			stake = total.Sub(allocated)
		} else {
			stake = total.Mul(implied[sel]).Div(sumImplied).Round(2)
			allocated = allocated.Add(stake)
		}
		if !stake.IsPositive() {
			return Allocation{}, fmt.Errorf("%w: stake %s for selection %q",
				domain.ErrDegenerateAllocation, stake.StringFixed(2), sel)
		}

		stakeF, _ := stake.Float64()
		payoutF, _ := stake.Mul(decimal.NewFromFloat(q.Decimal)).Round(2).Float64()
		legs = append(legs, domain.OpportunityLeg{
			BookmakerID: q.BookmakerID,
			Bookmaker:   q.Bookmaker,
			Selection:   sel,
			Odds:        q.Decimal,
			Stake:       stakeF,
			Payout:      payoutF,
			QuotedAt:    q.LastUpdated,
		})
	}

	payoutF, _ := payout.Round(2).Float64()
	profitF, _ := profit.Round(2).Float64()
	profitPctF, _ := profitPct.Round(4).Float64()
	if profitF <= 0 {
		return Allocation{}, fmt.Errorf("%w: expected profit %.2f", domain.ErrDegenerateAllocation, profitF)
	}

	return Allocation{
		TotalStake:     totalStake,
		Payout:         payoutF,
		ExpectedProfit: profitF,
		ProfitPct:      profitPctF,
		Legs:           legs,
	}, nil
}
