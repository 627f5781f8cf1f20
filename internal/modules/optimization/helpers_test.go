package optimization

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aristath/frontier/internal/domain"
)

// makeTable builds a price table with one column per asset, in the given order.
func makeTable(t *testing.T, assets []string, prices ...[]float64) *domain.PriceHistory {
	t.Helper()
	require.Len(t, prices, len(assets))

	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	dates := make([]time.Time, len(prices[0]))
	for i := range dates {
		dates[i] = start.AddDate(0, 0, i)
	}

	series := make(map[string][]float64, len(assets))
	for i, asset := range assets {
		series[asset] = prices[i]
	}

	table, err := domain.NewPriceHistory(dates, assets, series)
	require.NoError(t, err)
	return table
}

// scenarioTable is the two-asset table with constant opposite trends.
func scenarioTable(t *testing.T) *domain.PriceHistory {
	return makeTable(t, []string{"A", "B"},
		[]float64{100, 110, 121},
		[]float64{50, 45, 40.5},
	)
}

// noisyTrendTable rises in A and falls in B like scenarioTable, with uneven
// steps so both series carry variance. It ends at A = 121.
func noisyTrendTable(t *testing.T) *domain.PriceHistory {
	return makeTable(t, []string{"A", "B"},
		[]float64{100, 108, 119, 121},
		[]float64{50, 46, 44, 40.5},
	)
}

// sampleUniverse is a four-asset problem with distinct risk and return.
func sampleUniverse() (ExpectedReturns, CovarianceMatrix) {
	mu := ExpectedReturns{"AAA": 0.12, "BBB": 0.09, "CCC": 0.15, "DDD": 0.05}
	sigma := NewCovarianceMatrix([]string{"AAA", "BBB", "CCC", "DDD"}, [][]float64{
		{0.040, 0.006, 0.012, 0.002},
		{0.006, 0.025, 0.004, 0.001},
		{0.012, 0.004, 0.090, 0.003},
		{0.002, 0.001, 0.003, 0.010},
	})
	return mu, sigma
}

func sharpe(w Weights, mu ExpectedReturns, sigma CovarianceMatrix, rf float64) float64 {
	perf, err := PortfolioPerformance(w, mu, sigma, rf)
	if err != nil {
		return 0
	}
	return perf.SharpeRatio
}
