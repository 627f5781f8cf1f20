package domain

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func days(n int) []time.Time {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	dates := make([]time.Time, n)
	for i := range dates {
		dates[i] = start.AddDate(0, 0, i)
	}
	return dates
}

func TestNewPriceHistory_Valid(t *testing.T) {
	ph, err := NewPriceHistory(days(3), []string{"A", "B"}, map[string][]float64{
		"A": {100, 110, 121},
		"B": {50, 45, 40.5},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, ph.Len())
	assert.Equal(t, 3, ph.Observations("A"))
	assert.Equal(t, LatestPrices{"A": 121, "B": 40.5}, ph.LatestPrices())
}

func TestNewPriceHistory_BoundaryGaps(t *testing.T) {
	nan := math.NaN()
	ph, err := NewPriceHistory(days(4), []string{"A", "B"}, map[string][]float64{
		"A": {nan, 10, 11, 12},
		"B": {20, 21, 22, nan},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, ph.Observations("A"))
	assert.Equal(t, 3, ph.Observations("B"))
	assert.Equal(t, 22.0, ph.LatestPrices()["B"])
}

func TestPriceHistory_Validate(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name   string
		dates  []time.Time
		assets []string
		prices map[string][]float64
		want   error
	}{
		{
			name:   "single asset",
			dates:  days(3),
			assets: []string{"A"},
			prices: map[string][]float64{"A": {1, 2, 3}},
			want:   ErrInsufficientData,
		},
		{
			name:   "one observation",
			dates:  days(3),
			assets: []string{"A", "B"},
			prices: map[string][]float64{"A": {1, 2, 3}, "B": {nan, nan, 4}},
			want:   ErrInsufficientData,
		},
		{
			name:   "interior gap",
			dates:  days(3),
			assets: []string{"A", "B"},
			prices: map[string][]float64{"A": {1, 2, 3}, "B": {4, nan, 4}},
			want:   ErrInvalidPriceHistory,
		},
		{
			name:   "non-positive price",
			dates:  days(3),
			assets: []string{"A", "B"},
			prices: map[string][]float64{"A": {1, 0, 3}, "B": {4, 5, 6}},
			want:   ErrInvalidPriceHistory,
		},
		{
			name:   "length mismatch",
			dates:  days(3),
			assets: []string{"A", "B"},
			prices: map[string][]float64{"A": {1, 2}, "B": {4, 5, 6}},
			want:   ErrInvalidPriceHistory,
		},
		{
			name:   "missing series",
			dates:  days(3),
			assets: []string{"A", "B"},
			prices: map[string][]float64{"A": {1, 2, 3}},
			want:   ErrInvalidPriceHistory,
		},
		{
			name:   "duplicate asset",
			dates:  days(3),
			assets: []string{"A", "A"},
			prices: map[string][]float64{"A": {1, 2, 3}},
			want:   ErrInvalidPriceHistory,
		},
		{
			name:   "unordered dates",
			dates:  []time.Time{days(3)[1], days(3)[0], days(3)[2]},
			assets: []string{"A", "B"},
			prices: map[string][]float64{"A": {1, 2, 3}, "B": {4, 5, 6}},
			want:   ErrInvalidPriceHistory,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPriceHistory(tt.dates, tt.assets, tt.prices)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestErrorKind(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), ErrInfeasible)
	assert.Equal(t, "infeasible", ErrorKind(wrapped))
	assert.Equal(t, "division_by_zero", ErrorKind(ErrDivisionByZero))
	assert.Equal(t, "internal", ErrorKind(errors.New("boom")))
	assert.True(t, IsPipelineError(ErrInvalidBudget))
	assert.False(t, IsPipelineError(nil))
}
