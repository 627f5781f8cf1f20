// Package optimization estimates risk and return from price history and
// solves mean-variance portfolio problems over them.
package optimization

import (
	"fmt"
	"math"
	"sort"

	"github.com/aristath/frontier/internal/domain"
)

const feasibilityTolerance = 1e-9

// Bounds limits each asset weight to [Lower, Upper]. PerAsset overrides the
// pair for individual assets.
type Bounds struct {
	Lower    float64               `json:"lower"`
	Upper    float64               `json:"upper"`
	PerAsset map[string][2]float64 `json:"per_asset,omitempty"`
}

// DefaultBounds is the long-only box [0, 1].
func DefaultBounds() Bounds {
	return Bounds{Lower: 0, Upper: 1}
}

// For returns the bounds that apply to asset.
func (b Bounds) For(asset string) (float64, float64) {
	if pair, ok := b.PerAsset[asset]; ok {
		return pair[0], pair[1]
	}
	return b.Lower, b.Upper
}

// SectorConstraint caps or floors the total weight of groups of assets.
// Assets missing from SectorMapper belong to no sector.
type SectorConstraint struct {
	SectorMapper map[string]string  `json:"sector_mapper"`
	SectorLower  map[string]float64 `json:"sector_lower,omitempty"`
	SectorUpper  map[string]float64 `json:"sector_upper,omitempty"`
}

// sectorBound is a resolved sector constraint over asset indices. Missing
// sides are ±Inf.
type sectorBound struct {
	Name    string
	Members []int
	Lower   float64
	Upper   float64
}

// Constraints is the resolved constraint set for one asset universe.
type Constraints struct {
	Assets     []string
	MinWeights []float64
	MaxWeights []float64
	Sectors    []sectorBound
}

// ConstraintsSummary describes a constraint set for diagnostics.
type ConstraintsSummary struct {
	TotalAssets       int     `json:"total_assets"`
	AssetsWithBounds  int     `json:"assets_with_bounds"`
	SectorConstraints int     `json:"sector_constraints"`
	TotalMinWeight    float64 `json:"total_min_weight"`
	TotalMaxWeight    float64 `json:"total_max_weight"`
}

// BuildConstraints resolves bounds and sector constraints against assets.
func BuildConstraints(assets []string, bounds Bounds, sectors []SectorConstraint) (Constraints, error) {
	c := Constraints{
		Assets:     assets,
		MinWeights: make([]float64, len(assets)),
		MaxWeights: make([]float64, len(assets)),
	}

	index := make(map[string]int, len(assets))
	for i, asset := range assets {
		index[asset] = i
		lo, hi := bounds.For(asset)
		if math.IsNaN(lo) || math.IsNaN(hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0) {
			return Constraints{}, fmt.Errorf("%w: bounds for asset %s must be finite", domain.ErrInfeasible, asset)
		}
		c.MinWeights[i] = lo
		c.MaxWeights[i] = hi
	}

	for _, sc := range sectors {
		members := make(map[string][]int)
		for asset, sector := range sc.SectorMapper {
			if i, ok := index[asset]; ok {
				members[sector] = append(members[sector], i)
			}
		}

		names := make(map[string]bool)
		for name := range sc.SectorLower {
			names[name] = true
		}
		for name := range sc.SectorUpper {
			names[name] = true
		}

		sorted := make([]string, 0, len(names))
		for name := range names {
			sorted = append(sorted, name)
		}
		sort.Strings(sorted)

		for _, name := range sorted {
			sb := sectorBound{Name: name, Members: members[name], Lower: math.Inf(-1), Upper: math.Inf(1)}
			sort.Ints(sb.Members)
			if lower, ok := sc.SectorLower[name]; ok {
				sb.Lower = lower
			}
			if upper, ok := sc.SectorUpper[name]; ok {
				sb.Upper = upper
			}
			c.Sectors = append(c.Sectors, sb)
		}
	}

	return c, c.Validate()
}

// Validate checks that the constraint set admits at least one fully
// invested portfolio, as far as can be told without solving.
func (c Constraints) Validate() error {
	totalMin, totalMax := 0.0, 0.0
	for i, asset := range c.Assets {
		minWeight, maxWeight := c.MinWeights[i], c.MaxWeights[i]
		if minWeight > maxWeight {
			return fmt.Errorf("%w: asset %s has invalid bounds: lower=%.4f > upper=%.4f",
				domain.ErrInfeasible, asset, minWeight, maxWeight)
		}
		totalMin += minWeight
		totalMax += maxWeight
	}

	if totalMin > 1+feasibilityTolerance {
		return fmt.Errorf("%w: total minimum weights %.2f%% exceed 100%%", domain.ErrInfeasible, totalMin*100)
	}
	if totalMax < 1-feasibilityTolerance {
		return fmt.Errorf("%w: total maximum weights %.2f%% are below 100%%", domain.ErrInfeasible, totalMax*100)
	}

	for _, sb := range c.Sectors {
		if sb.Lower > sb.Upper {
			return fmt.Errorf("%w: sector %s has lower bound %.4f above upper bound %.4f",
				domain.ErrInfeasible, sb.Name, sb.Lower, sb.Upper)
		}
		memberMin, memberMax := 0.0, 0.0
		for _, i := range sb.Members {
			memberMin += c.MinWeights[i]
			memberMax += c.MaxWeights[i]
		}
		if sb.Lower > memberMax+feasibilityTolerance {
			return fmt.Errorf("%w: sector %s needs %.4f but its assets allow at most %.4f",
				domain.ErrInfeasible, sb.Name, sb.Lower, memberMax)
		}
		if sb.Upper < memberMin-feasibilityTolerance {
			return fmt.Errorf("%w: sector %s is capped at %.4f but its assets require %.4f",
				domain.ErrInfeasible, sb.Name, sb.Upper, memberMin)
		}
	}

	return nil
}

// Summary generates a summary of constraints for diagnostics.
func (c Constraints) Summary() ConstraintsSummary {
	summary := ConstraintsSummary{
		TotalAssets:       len(c.Assets),
		SectorConstraints: len(c.Sectors),
	}
	for i := range c.Assets {
		if c.MinWeights[i] > 0 || c.MaxWeights[i] < 1 {
			summary.AssetsWithBounds++
		}
		summary.TotalMinWeight += c.MinWeights[i]
		summary.TotalMaxWeight += c.MaxWeights[i]
	}
	return summary
}

// maxAttainableReturn fills the highest-return assets first, ignoring sectors.
func (c Constraints) maxAttainableReturn(mu []float64) float64 {
	order := make([]int, len(mu))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return mu[order[a]] > mu[order[b]] })

	remaining := 1.0
	ret := 0.0
	for i := range mu {
		remaining -= c.MinWeights[i]
		ret += c.MinWeights[i] * mu[i]
	}
	for _, i := range order {
		if remaining <= 0 {
			break
		}
		add := math.Min(remaining, c.MaxWeights[i]-c.MinWeights[i])
		ret += add * mu[i]
		remaining -= add
	}
	return ret
}

// project maps v onto {Σw = 1, lo ≤ w ≤ hi} by bisecting the shift τ in
// w_i = clip(v_i - τ, lo_i, hi_i).
func (c Constraints) project(v []float64) []float64 {
	n := len(v)
	sumAt := func(tau float64) float64 {
		s := 0.0
		for i := 0; i < n; i++ {
			s += clip(v[i]-tau, c.MinWeights[i], c.MaxWeights[i])
		}
		return s
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for i := 0; i < n; i++ {
		lo = math.Min(lo, v[i]-c.MaxWeights[i])
		hi = math.Max(hi, v[i]-c.MinWeights[i])
	}
	for iter := 0; iter < 200 && hi-lo > 1e-15; iter++ {
		mid := (lo + hi) / 2
		if sumAt(mid) > 1 {
			lo = mid
		} else {
			hi = mid
		}
	}

	tau := (lo + hi) / 2
	w := make([]float64, n)
	for i := 0; i < n; i++ {
		w[i] = clip(v[i]-tau, c.MinWeights[i], c.MaxWeights[i])
	}
	return w
}
