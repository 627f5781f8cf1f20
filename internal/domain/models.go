// Package domain provides the price-history model shared by the estimators,
// the optimizer and the price sources, plus the pipeline error kinds.
package domain

import (
	"fmt"
	"math"
	"time"
)

// PriceHistory is a table of adjusted close prices for several assets aligned
// on one ordered set of dates. A missing observation is math.NaN() and may only
// appear in a leading or trailing run of a series.
type PriceHistory struct {
	Dates  []time.Time
	Assets []string
	Prices map[string][]float64
}

// LatestPrices maps an asset to its most recent observed price.
type LatestPrices map[string]float64

// NewPriceHistory builds a validated price table. The asset order is kept as
// given and drives the row/column order of every derived matrix.
func NewPriceHistory(dates []time.Time, assets []string, prices map[string][]float64) (*PriceHistory, error) {
	ph := &PriceHistory{
		Dates:  dates,
		Assets: assets,
		Prices: prices,
	}
	if err := ph.Validate(); err != nil {
		return nil, err
	}
	return ph, nil
}

// Validate checks the structural invariants of the table.
func (ph *PriceHistory) Validate() error {
	if ph == nil {
		return fmt.Errorf("%w: nil table", ErrInvalidPriceHistory)
	}
	if len(ph.Assets) < 2 {
		return fmt.Errorf("%w: need at least 2 assets, got %d", ErrInsufficientData, len(ph.Assets))
	}

	for i := 1; i < len(ph.Dates); i++ {
		if !ph.Dates[i].After(ph.Dates[i-1]) {
			return fmt.Errorf("%w: dates not strictly increasing at %s", ErrInvalidPriceHistory, ph.Dates[i].Format("2006-01-02"))
		}
	}

	seen := make(map[string]bool, len(ph.Assets))
	for _, asset := range ph.Assets {
		if asset == "" {
			return fmt.Errorf("%w: empty asset identifier", ErrInvalidPriceHistory)
		}
		if seen[asset] {
			return fmt.Errorf("%w: duplicate asset %s", ErrInvalidPriceHistory, asset)
		}
		seen[asset] = true

		series, ok := ph.Prices[asset]
		if !ok {
			return fmt.Errorf("%w: no prices for asset %s", ErrInvalidPriceHistory, asset)
		}
		if len(series) != len(ph.Dates) {
			return fmt.Errorf("%w: asset %s has %d prices for %d dates", ErrInvalidPriceHistory, asset, len(series), len(ph.Dates))
		}
		if err := validateSeries(asset, series); err != nil {
			return err
		}
	}

	return nil
}

func validateSeries(asset string, series []float64) error {
	first, last := span(series)
	if first < 0 || last-first+1 < 2 {
		return fmt.Errorf("%w: asset %s has fewer than 2 observations", ErrInsufficientData, asset)
	}
	for i := first; i <= last; i++ {
		p := series[i]
		if math.IsNaN(p) {
			return fmt.Errorf("%w: asset %s has a gap at index %d", ErrInvalidPriceHistory, asset, i)
		}
		if math.IsInf(p, 0) || p <= 0 {
			return fmt.Errorf("%w: asset %s has non-positive price %v at index %d", ErrInvalidPriceHistory, asset, p, i)
		}
	}
	return nil
}

// span returns the first and last index holding an observation, or -1, -1.
func span(series []float64) (int, int) {
	first, last := -1, -1
	for i, p := range series {
		if math.IsNaN(p) {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
	}
	return first, last
}

// Observations returns the number of non-missing prices for asset.
func (ph *PriceHistory) Observations(asset string) int {
	first, last := span(ph.Prices[asset])
	if first < 0 {
		return 0
	}
	return last - first + 1
}

// Len returns the number of dates in the table.
func (ph *PriceHistory) Len() int {
	return len(ph.Dates)
}

// LatestPrices returns the last observed price of every asset.
func (ph *PriceHistory) LatestPrices() LatestPrices {
	latest := make(LatestPrices, len(ph.Assets))
	for _, asset := range ph.Assets {
		if _, last := span(ph.Prices[asset]); last >= 0 {
			latest[asset] = ph.Prices[asset][last]
		}
	}
	return latest
}
