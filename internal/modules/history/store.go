package history

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/frontier/internal/database"
	"github.com/aristath/frontier/internal/domain"
	"github.com/aristath/frontier/internal/utils"
)

// DailyPrice is one stored close. AdjustedClose falls back to Close when nil.
type DailyPrice struct {
	Date          time.Time
	Close         float64
	AdjustedClose *float64
}

// Store reads daily prices from the daily_prices table
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

// NewStore creates a new price store
func NewStore(db *database.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("component", "history_store").Logger(),
	}
}

// EnsureSchema creates the daily_prices table if it does not exist
func (s *Store) EnsureSchema() error {
	return s.db.Migrate()
}

// Seed inserts or replaces daily prices for symbol in a single transaction
func (s *Store) Seed(ctx context.Context, symbol string, prices []DailyPrice) error {
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO daily_prices (symbol, date, close, adjusted_close)
			VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, p := range prices {
			adjusted := sql.NullFloat64{}
			if p.AdjustedClose != nil {
				adjusted = sql.NullFloat64{Float64: *p.AdjustedClose, Valid: true}
			}
			if _, err := stmt.ExecContext(ctx, symbol, dayUnix(p.Date), p.Close, adjusted); err != nil {
				return fmt.Errorf("failed to insert daily price for %s on %s: %w", symbol, p.Date.Format(dateLayout), err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Debug().
		Str("symbol", symbol).
		Int("count", len(prices)).
		Msg("Seeded daily prices")
	return nil
}

// Symbols lists every symbol with stored prices
func (s *Store) Symbols(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT symbol FROM daily_prices ORDER BY symbol")
	if err != nil {
		return nil, fmt.Errorf("failed to query symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, symbol)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating symbols: %w", err)
	}
	return symbols, nil
}

// LoadPriceHistory builds a price table for symbols, in the given order,
// from start onward (a zero start loads everything). Rows are aligned on the
// union of trading dates. A symbol missing a date inside its own history
// carries its previous close forward; dates before its first or after its
// last observation stay missing.
func (s *Store) LoadPriceHistory(ctx context.Context, symbols []string, start time.Time) (*domain.PriceHistory, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: no symbols requested", domain.ErrInsufficientData)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(symbols)), ",")
	query := `
		SELECT symbol, date, COALESCE(adjusted_close, close)
		FROM daily_prices
		WHERE symbol IN (` + placeholders + `) AND date >= ?
		ORDER BY date
	`
	args := make([]interface{}, 0, len(symbols)+1)
	for _, symbol := range symbols {
		args = append(args, symbol)
	}
	var startUnix int64
	if !start.IsZero() {
		startUnix = dayUnix(start)
	}
	args = append(args, startUnix)

	done := utils.MeasureDBQuery("load_price_history", s.log)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily prices: %w", err)
	}
	defer rows.Close()

	observed := make(map[string]map[int64]float64, len(symbols))
	dateSet := make(map[int64]bool)
	var count int64
	for rows.Next() {
		var symbol string
		var date int64
		var price float64
		if err := rows.Scan(&symbol, &date, &price); err != nil {
			return nil, fmt.Errorf("failed to scan daily price: %w", err)
		}
		if observed[symbol] == nil {
			observed[symbol] = make(map[int64]float64)
		}
		observed[symbol][date] = price
		dateSet[date] = true
		count++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily prices: %w", err)
	}
	done(count)

	for _, symbol := range symbols {
		if len(observed[symbol]) == 0 {
			return nil, fmt.Errorf("%w: no price history for symbol %s", domain.ErrInsufficientData, symbol)
		}
	}

	unixDates := make([]int64, 0, len(dateSet))
	for d := range dateSet {
		unixDates = append(unixDates, d)
	}
	sort.Slice(unixDates, func(i, j int) bool { return unixDates[i] < unixDates[j] })

	dates := make([]time.Time, len(unixDates))
	for i, d := range unixDates {
		dates[i] = time.Unix(d, 0).UTC()
	}

	prices := make(map[string][]float64, len(symbols))
	filled := 0
	for _, symbol := range symbols {
		prices[symbol], filled = alignSeries(observed[symbol], unixDates, filled)
	}
	if filled > 0 {
		s.log.Debug().Int("filled", filled).Msg("Carried prices forward over missing dates")
	}

	return domain.NewPriceHistory(dates, symbols, prices)
}

// alignSeries lays obs out on dates, carrying the last close over interior
// gaps. filled is incremented by the number of carried values.
func alignSeries(obs map[int64]float64, dates []int64, filled int) ([]float64, int) {
	series := make([]float64, len(dates))
	first, last := -1, -1
	for i, d := range dates {
		if _, ok := obs[d]; ok {
			if first < 0 {
				first = i
			}
			last = i
		}
	}

	prev := math.NaN()
	for i, d := range dates {
		p, ok := obs[d]
		switch {
		case ok:
			prev = p
			series[i] = p
		case i > first && i < last:
			series[i] = prev
			filled++
		default:
			series[i] = math.NaN()
		}
	}
	return series, filled
}

// dayUnix is the unix time of d's calendar day at UTC midnight.
func dayUnix(d time.Time) int64 {
	y, m, day := d.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC).Unix()
}
