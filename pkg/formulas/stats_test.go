package formulas

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateReturns(t *testing.T) {
	tests := []struct {
		name   string
		prices []float64
		want   []float64
	}{
		{
			name:   "empty prices",
			prices: []float64{},
			want:   []float64{},
		},
		{
			name:   "single price",
			prices: []float64{100},
			want:   []float64{},
		},
		{
			name:   "growing prices",
			prices: []float64{100, 110, 121},
			want:   []float64{0.10, 0.10},
		},
		{
			name:   "falling prices",
			prices: []float64{50, 45, 40.5},
			want:   []float64{-0.10, -0.10},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateReturns(tt.prices)
			assert.InDeltaSlice(t, tt.want, got, 1e-12)
		})
	}
}

func TestCalculateReturns_MissingPrices(t *testing.T) {
	got := CalculateReturns([]float64{math.NaN(), 100, 110, math.NaN()})

	assert.Len(t, got, 3)
	assert.True(t, math.IsNaN(got[0]))
	assert.InDelta(t, 0.10, got[1], 1e-12)
	assert.True(t, math.IsNaN(got[2]))
}

func TestPairwiseComplete(t *testing.T) {
	nan := math.NaN()
	xs, ys := PairwiseComplete(
		[]float64{nan, 1, 2, 3},
		[]float64{4, 5, nan, 6},
	)

	assert.Equal(t, []float64{1, 3}, xs)
	assert.Equal(t, []float64{5, 6}, ys)
}

func TestDropNaN(t *testing.T) {
	assert.Equal(t, []float64{1, 2}, DropNaN([]float64{math.NaN(), 1, 2, math.NaN()}))
	assert.Empty(t, DropNaN(nil))
}

func TestCovariance(t *testing.T) {
	assert.InDelta(t, 2.5, Covariance([]float64{1, 2, 3, 4, 5}, []float64{1, 2, 3, 4, 5}), 1e-12)
	assert.InDelta(t, -2.5, Covariance([]float64{1, 2, 3, 4, 5}, []float64{5, 4, 3, 2, 1}), 1e-12)
	assert.Zero(t, Covariance([]float64{1}, []float64{1}))
	assert.Zero(t, Covariance([]float64{1, 2}, []float64{1}))
}

func TestCompoundAnnualReturn(t *testing.T) {
	tests := []struct {
		name      string
		returns   []float64
		periods   int
		expected  float64
		tolerance float64
	}{
		{"empty returns", nil, 252, 0, 0},
		{"one year of small positive returns", makeReturns(0.001, 252), 252, 0.286, 0.01},
		{"half year of returns", makeReturns(0.002, 126), 252, 0.654, 0.01},
		{"one year of negative returns", makeReturns(-0.001, 252), 252, -0.223, 0.01},
		{"zero returns", makeReturns(0, 252), 252, 0, 1e-12},
		{"total loss", []float64{-1}, 252, -1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CompoundAnnualReturn(tt.returns, tt.periods)
			assert.InDelta(t, tt.expected, got, tt.tolerance)
		})
	}
}

func TestCalculateEMA(t *testing.T) {
	t.Run("shorter than span falls back to mean", func(t *testing.T) {
		assert.InDelta(t, 2.0, CalculateEMA([]float64{1, 2, 3}, 10), 1e-12)
	})

	t.Run("constant series", func(t *testing.T) {
		assert.InDelta(t, 0.01, CalculateEMA(makeReturns(0.01, 50), 10), 1e-12)
	})

	t.Run("weights recent values more", func(t *testing.T) {
		data := append(makeReturns(0, 20), makeReturns(1, 5)...)
		ema := CalculateEMA(data, 10)
		assert.Greater(t, ema, Mean(data))
		assert.Less(t, ema, 1.0)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Zero(t, CalculateEMA(nil, 10))
	})
}

func makeReturns(value float64, count int) []float64 {
	returns := make([]float64, count)
	for i := range returns {
		returns[i] = value
	}
	return returns
}
