package optimization

import (
	"fmt"
	"math"

	"github.com/aristath/frontier/internal/domain"
	"github.com/aristath/frontier/pkg/formulas"
)

// Estimation defaults.
const (
	DefaultTradingPeriodsPerYear = 252
	DefaultRiskFreeRate          = 0.02
	DefaultEMASpan               = 500
)

// ReturnsMethod selects how expected returns are estimated from history.
type ReturnsMethod string

const (
	// MeanHistorical annualizes the arithmetic mean of simple returns.
	MeanHistorical ReturnsMethod = "mean_historical"
	// CompoundedHistorical annualizes the geometric growth of the series.
	CompoundedHistorical ReturnsMethod = "compounded_historical"
	// EMAHistorical annualizes an exponentially weighted mean of returns.
	EMAHistorical ReturnsMethod = "ema_historical"
	// CAPMReturns derives returns from each asset's beta to the market.
	CAPMReturns ReturnsMethod = "capm"
)

// ReturnMatrix holds period-over-period simple returns per asset.
// A return is NaN where either neighbouring price is missing.
type ReturnMatrix struct {
	Assets  []string
	Returns map[string][]float64
}

// Len returns the number of return periods.
func (rm ReturnMatrix) Len() int {
	if len(rm.Assets) == 0 {
		return 0
	}
	return len(rm.Returns[rm.Assets[0]])
}

// ExpectedReturns maps an asset to its annualized expected return.
type ExpectedReturns map[string]float64

// ComputeReturns converts a price table into simple returns.
func ComputeReturns(table *domain.PriceHistory) (ReturnMatrix, error) {
	if err := table.Validate(); err != nil {
		return ReturnMatrix{}, err
	}

	rm := ReturnMatrix{
		Assets:  table.Assets,
		Returns: make(map[string][]float64, len(table.Assets)),
	}
	for _, asset := range table.Assets {
		returns := formulas.CalculateReturns(table.Prices[asset])
		if len(formulas.DropNaN(returns)) == 0 {
			return ReturnMatrix{}, fmt.Errorf("%w: asset %s has no returns", domain.ErrInsufficientData, asset)
		}
		rm.Returns[asset] = returns
	}

	return rm, nil
}

// ReturnsEstimator turns a return matrix into annualized expected returns.
type ReturnsEstimator interface {
	Method() ReturnsMethod
	Estimate(rm ReturnMatrix, periodsPerYear int) (ExpectedReturns, error)
}

// MeanHistoricalEstimator is the default estimator: mean return × periods.
type MeanHistoricalEstimator struct{}

func (MeanHistoricalEstimator) Method() ReturnsMethod { return MeanHistorical }

func (MeanHistoricalEstimator) Estimate(rm ReturnMatrix, periodsPerYear int) (ExpectedReturns, error) {
	return estimatePerAsset(rm, func(returns []float64) float64 {
		return formulas.Mean(returns) * float64(periodsPerYear)
	})
}

// CompoundedHistoricalEstimator annualizes cumulative growth geometrically.
type CompoundedHistoricalEstimator struct{}

func (CompoundedHistoricalEstimator) Method() ReturnsMethod { return CompoundedHistorical }

func (CompoundedHistoricalEstimator) Estimate(rm ReturnMatrix, periodsPerYear int) (ExpectedReturns, error) {
	return estimatePerAsset(rm, func(returns []float64) float64 {
		return formulas.CompoundAnnualReturn(returns, periodsPerYear)
	})
}

// EMAHistoricalEstimator weights recent returns more heavily.
type EMAHistoricalEstimator struct {
	Span int
}

func (EMAHistoricalEstimator) Method() ReturnsMethod { return EMAHistorical }

func (e EMAHistoricalEstimator) Estimate(rm ReturnMatrix, periodsPerYear int) (ExpectedReturns, error) {
	span := e.Span
	if span <= 0 {
		span = DefaultEMASpan
	}
	return estimatePerAsset(rm, func(returns []float64) float64 {
		return formulas.CalculateEMA(returns, span) * float64(periodsPerYear)
	})
}

// CAPMEstimator prices each asset as rf + beta * (market return - rf).
// Without a benchmark the market is the equal-weighted universe.
type CAPMEstimator struct {
	RiskFreeRate float64
	// Benchmark holds market returns aligned with the return matrix periods.
	Benchmark []float64
}

func (CAPMEstimator) Method() ReturnsMethod { return CAPMReturns }

func (c CAPMEstimator) Estimate(rm ReturnMatrix, periodsPerYear int) (ExpectedReturns, error) {
	market := c.Benchmark
	if market == nil {
		market = equalWeightedMarket(rm)
	} else if len(market) != rm.Len() {
		return nil, fmt.Errorf("%w: benchmark has %d returns, expected %d", domain.ErrDimensionMismatch, len(market), rm.Len())
	}

	marketReturns := formulas.DropNaN(market)
	marketVariance := formulas.Variance(marketReturns)
	if len(marketReturns) < 2 {
		return nil, fmt.Errorf("%w: market has fewer than 2 returns", domain.ErrInsufficientData)
	}
	if marketVariance == 0 {
		return nil, fmt.Errorf("%w: market return variance is zero", domain.ErrDivisionByZero)
	}
	marketAnnual := formulas.Mean(marketReturns) * float64(periodsPerYear)

	expected := make(ExpectedReturns, len(rm.Assets))
	for _, asset := range rm.Assets {
		x, m := formulas.PairwiseComplete(rm.Returns[asset], market)
		if len(x) < 2 {
			return nil, fmt.Errorf("%w: asset %s overlaps the market on %d returns", domain.ErrInsufficientData, asset, len(x))
		}
		beta := formulas.Covariance(x, m) / formulas.Variance(m)
		if math.IsNaN(beta) || math.IsInf(beta, 0) {
			return nil, fmt.Errorf("%w: beta undefined for asset %s", domain.ErrDivisionByZero, asset)
		}
		expected[asset] = c.RiskFreeRate + beta*(marketAnnual-c.RiskFreeRate)
	}

	return expected, nil
}

// equalWeightedMarket averages the available returns of each period.
func equalWeightedMarket(rm ReturnMatrix) []float64 {
	market := make([]float64, rm.Len())
	for t := range market {
		sum, count := 0.0, 0
		for _, asset := range rm.Assets {
			r := rm.Returns[asset][t]
			if math.IsNaN(r) {
				continue
			}
			sum += r
			count++
		}
		if count == 0 {
			market[t] = math.NaN()
			continue
		}
		market[t] = sum / float64(count)
	}
	return market
}

func estimatePerAsset(rm ReturnMatrix, estimate func([]float64) float64) (ExpectedReturns, error) {
	expected := make(ExpectedReturns, len(rm.Assets))
	for _, asset := range rm.Assets {
		returns := formulas.DropNaN(rm.Returns[asset])
		if len(returns) == 0 {
			return nil, fmt.Errorf("%w: asset %s has no returns", domain.ErrInsufficientData, asset)
		}
		value := estimate(returns)
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return nil, fmt.Errorf("%w: expected return for asset %s is not finite", domain.ErrInsufficientData, asset)
		}
		expected[asset] = value
	}
	return expected, nil
}

// ParseReturnsMethod maps a configuration name to a method. An empty name
// selects the default.
func ParseReturnsMethod(name string) (ReturnsMethod, error) {
	switch ReturnsMethod(name) {
	case "":
		return MeanHistorical, nil
	case MeanHistorical, CompoundedHistorical, EMAHistorical, CAPMReturns:
		return ReturnsMethod(name), nil
	default:
		return "", fmt.Errorf("unknown returns method: %s", name)
	}
}

// EstimatorFor returns the estimator for method. CAPM uses riskFreeRate and
// the equal-weighted market.
func EstimatorFor(method ReturnsMethod, riskFreeRate float64) (ReturnsEstimator, error) {
	switch method {
	case "", MeanHistorical:
		return MeanHistoricalEstimator{}, nil
	case CompoundedHistorical:
		return CompoundedHistoricalEstimator{}, nil
	case EMAHistorical:
		return EMAHistoricalEstimator{Span: DefaultEMASpan}, nil
	case CAPMReturns:
		return CAPMEstimator{RiskFreeRate: riskFreeRate}, nil
	default:
		return nil, fmt.Errorf("unknown returns method: %s", method)
	}
}

// ComputeExpectedReturns estimates annualized expected returns with method.
// periodsPerYear <= 0 selects 252.
func ComputeExpectedReturns(table *domain.PriceHistory, method ReturnsMethod, periodsPerYear int) (ExpectedReturns, error) {
	estimator, err := EstimatorFor(method, DefaultRiskFreeRate)
	if err != nil {
		return nil, err
	}
	return EstimateExpectedReturns(table, estimator, periodsPerYear)
}

// EstimateExpectedReturns runs a specific estimator over the table.
func EstimateExpectedReturns(table *domain.PriceHistory, estimator ReturnsEstimator, periodsPerYear int) (ExpectedReturns, error) {
	rm, err := ComputeReturns(table)
	if err != nil {
		return nil, err
	}
	return estimator.Estimate(rm, periodsOrDefault(periodsPerYear))
}

func periodsOrDefault(periodsPerYear int) int {
	if periodsPerYear <= 0 {
		return DefaultTradingPeriodsPerYear
	}
	return periodsPerYear
}
