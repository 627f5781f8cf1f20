// Package allocation turns portfolio weights into whole-share purchases
// under a cash budget.
package allocation

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/aristath/frontier/internal/domain"
)

var maxShares = decimal.NewFromInt(math.MaxInt64)

// Allocation is a whole-share purchase plan and the cash it leaves unspent.
type Allocation struct {
	Shares   map[string]int64 `json:"shares"`
	Invested float64          `json:"invested"`
	Leftover float64          `json:"leftover"`
}

// Assets returns the assets that receive at least one share, sorted by name.
func (a Allocation) Assets() []string {
	assets := make([]string, 0, len(a.Shares))
	for asset, n := range a.Shares {
		if n > 0 {
			assets = append(assets, asset)
		}
	}
	sort.Strings(assets)
	return assets
}

// position tracks one asset during allocation. Cash amounts are decimals so
// spent plus leftover always equals the budget.
type position struct {
	asset  string
	price  decimal.Decimal
	target decimal.Decimal
	shares int64
}

func (p *position) held() decimal.Decimal {
	return p.price.Mul(decimal.NewFromInt(p.shares))
}

// deficit is the dollar amount still missing to reach the target.
func (p *position) deficit() decimal.Decimal {
	return p.target.Sub(p.held())
}

// gain is how much one more share reduces |target - held|.
func (p *position) gain() decimal.Decimal {
	d := p.deficit()
	return d.Abs().Sub(d.Sub(p.price).Abs())
}

// Allocate buys floor(weight·budget / price) shares of each asset, then spends
// the remaining cash one share at a time on the affordable asset whose
// purchase most reduces the total deviation from the dollar targets. It stops
// when no asset with a positive weight fits in the leftover cash.
//
// Assets with zero weight never receive shares. Every asset in weights
// appears in the result.
func Allocate(weights map[string]float64, latestPrices domain.LatestPrices, budget float64) (Allocation, error) {
	if math.IsNaN(budget) || math.IsInf(budget, 0) || budget < 0 {
		return Allocation{}, fmt.Errorf("%w: budget must be a non-negative number, got %v", domain.ErrInvalidBudget, budget)
	}

	assets := make([]string, 0, len(weights))
	for asset := range weights {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	total := decimal.NewFromFloat(budget)
	result := Allocation{Shares: make(map[string]int64, len(weights))}
	positions := make([]*position, 0, len(assets))

	for _, asset := range assets {
		w := weights[asset]
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return Allocation{}, fmt.Errorf("%w: asset %s has weight %v", domain.ErrInvalidWeights, asset, w)
		}
		result.Shares[asset] = 0
		if w == 0 {
			continue
		}

		price, ok := latestPrices[asset]
		if !ok || math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
			return Allocation{}, fmt.Errorf("%w: asset %s", domain.ErrMissingPrice, asset)
		}

		p := &position{
			asset:  asset,
			price:  decimal.NewFromFloat(price),
			target: decimal.NewFromFloat(w).Mul(total),
		}
		shares := p.target.Div(p.price).Floor()
		if shares.GreaterThan(maxShares) {
			return Allocation{}, fmt.Errorf("%w: budget buys more than %d shares of asset %s", domain.ErrInvalidBudget, int64(math.MaxInt64), asset)
		}
		p.shares = shares.IntPart()
		positions = append(positions, p)
	}

	remaining := total
	for _, p := range positions {
		remaining = remaining.Sub(p.held())
	}

	// Weights summing above 1 can overspend; sell back from the most
	// overweight positions first.
	for remaining.IsNegative() {
		worst := mostOverweight(positions)
		if worst == nil {
			break
		}
		worst.shares--
		remaining = remaining.Add(worst.price)
	}

	for i, limit := 0, iterationLimit(positions, total); i < limit; i++ {
		best := bestPurchase(positions, remaining)
		if best == nil {
			break
		}
		best.shares++
		remaining = remaining.Sub(best.price)
	}

	invested := decimal.Zero
	for _, p := range positions {
		result.Shares[p.asset] = p.shares
		invested = invested.Add(p.held())
	}
	result.Invested = invested.InexactFloat64()
	result.Leftover = remaining.InexactFloat64()

	return result, nil
}

// bestPurchase picks the affordable position with the largest deviation
// reduction, breaking ties by larger deficit and then by name.
func bestPurchase(positions []*position, remaining decimal.Decimal) *position {
	var best *position
	for _, p := range positions {
		if p.price.GreaterThan(remaining) {
			continue
		}
		if best == nil {
			best = p
			continue
		}
		switch p.gain().Cmp(best.gain()) {
		case 1:
			best = p
		case 0:
			if p.deficit().GreaterThan(best.deficit()) {
				best = p
			}
		}
	}
	return best
}

func mostOverweight(positions []*position) *position {
	var worst *position
	for _, p := range positions {
		if p.shares == 0 {
			continue
		}
		if worst == nil || p.deficit().LessThan(worst.deficit()) {
			worst = p
		}
	}
	return worst
}

// iterationLimit bounds the greedy loop at n·ceil(budget/minPrice) + n,
// saturating at math.MaxInt.
func iterationLimit(positions []*position, total decimal.Decimal) int {
	if len(positions) == 0 {
		return 0
	}
	minPrice := positions[0].price
	for _, p := range positions[1:] {
		if p.price.LessThan(minPrice) {
			minPrice = p.price
		}
	}
	n := decimal.NewFromInt(int64(len(positions)))
	limit := n.Mul(total.Div(minPrice).Ceil()).Add(n)
	if limit.GreaterThan(decimal.NewFromInt(math.MaxInt)) {
		return math.MaxInt
	}
	return int(limit.IntPart())
}
