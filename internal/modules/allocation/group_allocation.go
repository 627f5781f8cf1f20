package allocation

import (
	"math"
	"sort"

	"github.com/aristath/frontier/internal/domain"
)

// UnassignedGroup collects assets that belong to no sector.
const UnassignedGroup = "OTHER"

// GroupAllocation compares the target weight of a sector with what the
// whole-share allocation actually holds.
type GroupAllocation struct {
	Name         string  `json:"name"`
	TargetPct    float64 `json:"target_pct"`
	CurrentPct   float64 `json:"current_pct"`
	CurrentValue float64 `json:"current_value"`
	Deviation    float64 `json:"deviation"`
}

// SectorExposure aggregates an allocation by sector. Targets are the summed
// weights of each sector's assets; current values are shares times latest
// price, as a fraction of the full budget (invested plus leftover).
func SectorExposure(
	alloc Allocation,
	latestPrices domain.LatestPrices,
	weights map[string]float64,
	sectorMapper map[string]string,
) []GroupAllocation {
	groupValues := make(map[string]float64)
	for asset, shares := range alloc.Shares {
		groupValues[groupOf(asset, sectorMapper)] += float64(shares) * latestPrices[asset]
	}

	groupTargets := make(map[string]float64)
	for asset, w := range weights {
		groupTargets[groupOf(asset, sectorMapper)] += w
	}

	return buildGroupAllocations(groupValues, groupTargets, alloc.Invested+alloc.Leftover)
}

func groupOf(asset string, sectorMapper map[string]string) string {
	if sector, ok := sectorMapper[asset]; ok && sector != "" {
		return sector
	}
	return UnassignedGroup
}

// buildGroupAllocations creates GroupAllocation structs from group values and targets
func buildGroupAllocations(
	groupValues map[string]float64,
	groupTargets map[string]float64,
	totalValue float64,
) []GroupAllocation {
	// Collect all group names (from both values and targets)
	groupNames := make(map[string]bool)
	for name := range groupValues {
		groupNames[name] = true
	}
	for name := range groupTargets {
		groupNames[name] = true
	}

	allocations := make([]GroupAllocation, 0, len(groupNames))
	for groupName := range groupNames {
		currentValue := groupValues[groupName]
		targetPct := groupTargets[groupName]

		var currentPct float64
		if totalValue > 0 {
			currentPct = currentValue / totalValue
		}

		allocations = append(allocations, GroupAllocation{
			Name:         groupName,
			TargetPct:    round(targetPct, 4),
			CurrentPct:   round(currentPct, 4),
			CurrentValue: round(currentValue, 2),
			Deviation:    round(currentPct-targetPct, 4),
		})
	}

	// Sort by name for consistent output
	sort.Slice(allocations, func(i, j int) bool {
		return allocations[i].Name < allocations[j].Name
	})

	return allocations
}

// round rounds a float64 to n decimal places
func round(val float64, decimals int) float64 {
	multiplier := math.Pow(10, float64(decimals))
	return math.Round(val*multiplier) / multiplier
}
