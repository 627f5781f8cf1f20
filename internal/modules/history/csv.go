// Package history loads daily price tables from CSV files and the SQLite
// price store.
package history

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/frontier/internal/domain"
)

const dateLayout = "2006-01-02"

// ReadCSV parses a wide price table: a header of "date" followed by one
// column per asset, then one row per trading day with ISO dates. Empty
// cells and "NaN" are missing observations.
func ReadCSV(r io.Reader) (*domain.PriceHistory, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty CSV", domain.ErrInsufficientData)
		}
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("%w: CSV header needs a date column and at least one asset", domain.ErrInsufficientData)
	}

	assets := make([]string, len(header)-1)
	for i, name := range header[1:] {
		assets[i] = strings.TrimSpace(name)
	}

	var dates []time.Time
	columns := make([][]float64, len(assets))
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV line %d: %w", line, err)
		}

		date, err := time.Parse(dateLayout, strings.TrimSpace(record[0]))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d has invalid date %q", domain.ErrInvalidPriceHistory, line, record[0])
		}
		dates = append(dates, date)

		for i := range assets {
			price, err := parsePrice(record[i+1])
			if err != nil {
				return nil, fmt.Errorf("%w: line %d, asset %s: %v", domain.ErrInvalidPriceHistory, line, assets[i], err)
			}
			columns[i] = append(columns[i], price)
		}
	}

	prices := make(map[string][]float64, len(assets))
	for i, asset := range assets {
		if _, dup := prices[asset]; dup {
			return nil, fmt.Errorf("%w: duplicate asset %s", domain.ErrInvalidPriceHistory, asset)
		}
		prices[asset] = columns[i]
	}

	return domain.NewPriceHistory(dates, assets, prices)
}

func parsePrice(cell string) (float64, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" || strings.EqualFold(cell, "nan") {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(cell, 64)
}
