package allocation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/frontier/internal/domain"
)

func TestSectorExposure(t *testing.T) {
	weights := map[string]float64{"A": 0.6, "B": 0.4}
	prices := domain.LatestPrices{"A": 120, "B": 30}

	alloc, err := Allocate(weights, prices, 1000)
	require.NoError(t, err)

	groups := SectorExposure(alloc, prices, weights, map[string]string{"A": "Tech"})

	assert.Equal(t, []GroupAllocation{
		{Name: UnassignedGroup, TargetPct: 0.4, CurrentPct: 0.39, CurrentValue: 390, Deviation: -0.01},
		{Name: "Tech", TargetPct: 0.6, CurrentPct: 0.6, CurrentValue: 600, Deviation: 0},
	}, groups)
}

func TestSectorExposure_SharedSector(t *testing.T) {
	weights := map[string]float64{"A": 0.25, "B": 0.25, "C": 0.5}
	prices := domain.LatestPrices{"A": 10, "B": 10, "C": 10}
	alloc := Allocation{
		Shares:   map[string]int64{"A": 2, "B": 3, "C": 5},
		Invested: 100,
		Leftover: 0,
	}

	groups := SectorExposure(alloc, prices, weights, map[string]string{"A": "Energy", "B": "Energy", "C": "Utilities"})

	require.Len(t, groups, 2)
	assert.Equal(t, "Energy", groups[0].Name)
	assert.InDelta(t, 0.5, groups[0].TargetPct, 1e-9)
	assert.InDelta(t, 0.5, groups[0].CurrentPct, 1e-9)
	assert.InDelta(t, 50.0, groups[0].CurrentValue, 1e-9)
	assert.Equal(t, "Utilities", groups[1].Name)
}

func TestBuildGroupAllocations(t *testing.T) {
	tests := []struct {
		name         string
		groupValues  map[string]float64
		groupTargets map[string]float64
		totalValue   float64
		expected     []GroupAllocation
	}{
		{
			name:         "target without holdings",
			groupValues:  map[string]float64{},
			groupTargets: map[string]float64{"Tech": 0.3},
			totalValue:   100,
			expected: []GroupAllocation{
				{Name: "Tech", TargetPct: 0.3, Deviation: -0.3},
			},
		},
		{
			name:         "zero total value",
			groupValues:  map[string]float64{"Tech": 0},
			groupTargets: map[string]float64{"Tech": 1},
			totalValue:   0,
			expected: []GroupAllocation{
				{Name: "Tech", TargetPct: 1, Deviation: -1},
			},
		},
		{
			name:         "rounding",
			groupValues:  map[string]float64{"Tech": 33.3333},
			groupTargets: map[string]float64{"Tech": 0.33333},
			totalValue:   100,
			expected: []GroupAllocation{
				{Name: "Tech", TargetPct: 0.3333, CurrentPct: 0.3333, CurrentValue: 33.33, Deviation: 0},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, buildGroupAllocations(tt.groupValues, tt.groupTargets, tt.totalValue))
		})
	}
}
