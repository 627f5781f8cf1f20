package optimization

import (
	"fmt"
	"math"
	"sort"

	"github.com/aristath/frontier/internal/domain"
)

// Default weight cleanup parameters.
const (
	DefaultWeightCutoff    = 1e-4
	DefaultWeightPrecision = 4
)

// Weights maps an asset to its portfolio weight.
type Weights map[string]float64

// Sum returns the total weight.
func (w Weights) Sum() float64 {
	total := 0.0
	for _, v := range w {
		total += v
	}
	return total
}

// Assets returns the asset names in sorted order.
func (w Weights) Assets() []string {
	assets := make([]string, 0, len(w))
	for asset := range w {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}

// EqualWeights assigns 1/n to each asset.
func EqualWeights(assets []string) Weights {
	w := make(Weights, len(assets))
	for _, asset := range assets {
		w[asset] = 1 / float64(len(assets))
	}
	return w
}

// Performance is the expected annual return, variance, volatility and Sharpe
// ratio of a weighted portfolio.
type Performance struct {
	ExpectedReturn float64 `json:"expected_return"`
	Variance       float64 `json:"variance"`
	Volatility     float64 `json:"volatility"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
}

// CleanWeights zeroes weights whose magnitude is below cutoff and rounds the
// rest to precision decimal digits. The result is not renormalized, so its
// sum may drift slightly from 1. A negative precision skips rounding.
func CleanWeights(raw Weights, cutoff float64, precision int) Weights {
	clean := make(Weights, len(raw))
	scale := math.Pow(10, float64(precision))
	for asset, w := range raw {
		if math.Abs(w) < cutoff {
			clean[asset] = 0
			continue
		}
		if precision >= 0 {
			w = math.Round(w*scale) / scale
		}
		// Rounding can land a weight just under the cutoff; cut again so a
		// second pass is a no-op.
		if math.Abs(w) < cutoff {
			w = 0
		}
		clean[asset] = w
	}
	return clean
}

// PortfolioPerformance computes expected return w'μ, volatility sqrt(w'Σw)
// and the Sharpe ratio against riskFreeRate. Assets absent from weights have
// zero weight.
func PortfolioPerformance(weights Weights, mu ExpectedReturns, sigma CovarianceMatrix, riskFreeRate float64) (Performance, error) {
	n := sigma.Size()
	if len(sigma.Matrix) != n {
		return Performance{}, fmt.Errorf("%w: covariance matrix size %d doesn't match asset count %d", domain.ErrDimensionMismatch, len(sigma.Matrix), n)
	}

	w := make([]float64, n)
	known := make(map[string]bool, n)
	for i, asset := range sigma.Assets {
		known[asset] = true
		w[i] = weights[asset]
	}
	for asset, v := range weights {
		if !known[asset] && v != 0 {
			return Performance{}, fmt.Errorf("%w: weight for unknown asset %s", domain.ErrDimensionMismatch, asset)
		}
	}

	var expectedReturn float64
	for i, asset := range sigma.Assets {
		ret, ok := mu[asset]
		if !ok {
			return Performance{}, fmt.Errorf("%w: missing expected return for asset %s", domain.ErrDimensionMismatch, asset)
		}
		expectedReturn += w[i] * ret
	}

	var variance float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			variance += w[i] * w[j] * sigma.At(i, j)
		}
	}
	if variance <= zeroVarianceTolerance {
		return Performance{}, fmt.Errorf("%w: portfolio variance %g", domain.ErrDivisionByZero, variance)
	}

	volatility := math.Sqrt(variance)
	return Performance{
		ExpectedReturn: expectedReturn,
		Variance:       variance,
		Volatility:     volatility,
		SharpeRatio:    (expectedReturn - riskFreeRate) / volatility,
	}, nil
}
