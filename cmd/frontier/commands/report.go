package commands

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/aristath/frontier/internal/modules/optimization"
)

func currencyFor(code string) (*money.Currency, error) {
	cur := money.GetCurrency(strings.ToUpper(code))
	if cur == nil {
		return nil, fmt.Errorf("unknown currency: %s", code)
	}
	return cur, nil
}

// formatMoney renders a cash amount in the currency's own notation, rounded
// to its minor unit.
func formatMoney(amount float64, cur *money.Currency) string {
	minor := decimal.NewFromFloat(amount).Shift(int32(cur.Fraction)).Round(0)
	return cur.Formatter().Format(minor.IntPart())
}

func printPerformance(w io.Writer, title string, p optimization.Performance) {
	fmt.Fprintf(w, "%s:\n", title)
	fmt.Fprintf(w, "  Expected annual return: %.1f%%\n", p.ExpectedReturn*100)
	fmt.Fprintf(w, "  Annual variance: %.4f\n", p.Variance)
	fmt.Fprintf(w, "  Annual volatility: %.1f%%\n", p.Volatility*100)
	fmt.Fprintf(w, "  Sharpe Ratio: %.2f\n", p.SharpeRatio)
}

func printCovariance(w io.Writer, c optimization.CovarianceMatrix) {
	fmt.Fprintln(w, "\nAnnualized covariance:")
	fmt.Fprintf(w, "  %-8s", "")
	for _, asset := range c.Assets {
		fmt.Fprintf(w, " %10s", asset)
	}
	fmt.Fprintln(w)
	for i, asset := range c.Assets {
		fmt.Fprintf(w, "  %-8s", asset)
		for j := range c.Assets {
			fmt.Fprintf(w, " %10.6f", c.At(i, j))
		}
		fmt.Fprintln(w)
	}
}

func printReport(w io.Writer, r *optimization.Result, currencyCode string) error {
	cur, err := currencyFor(currencyCode)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Run %s: %s over %d assets, %d observations\n\n",
		r.RunID, r.Objective, len(r.Assets), r.Observations)

	fmt.Fprintln(w, "Expected annual returns:")
	for _, asset := range r.Assets {
		fmt.Fprintf(w, "  %-8s %8.1f%%", asset, r.ExpectedReturns[asset]*100)
		if variance, ok := r.Covariance.Variance(asset); ok {
			fmt.Fprintf(w, "  (volatility %.1f%%)", math.Sqrt(variance)*100)
		}
		fmt.Fprintln(w)
	}

	printCovariance(w, r.Covariance)
	if len(r.HighCorrelations) > 0 {
		fmt.Fprintln(w, "\nHighly correlated pairs:")
		for _, pair := range r.HighCorrelations {
			fmt.Fprintf(w, "  %s / %s: %.2f\n", pair.Asset1, pair.Asset2, pair.Correlation)
		}
	}

	fmt.Fprintln(w, "\nCleaned weights:")
	for _, asset := range r.CleanedWeights.Assets() {
		fmt.Fprintf(w, "  %-8s %.4f\n", asset, r.CleanedWeights[asset])
	}

	fmt.Fprintln(w)
	printPerformance(w, "Optimized portfolio", r.Performance)
	if r.Baseline != nil {
		fmt.Fprintln(w)
		printPerformance(w, "Equal-weight portfolio", *r.Baseline)
	}

	fmt.Fprintf(w, "\nDiscrete allocation (budget %s):\n", formatMoney(r.Budget, cur))
	for _, asset := range r.Allocation.Assets() {
		shares := r.Allocation.Shares[asset]
		price := r.LatestPrices[asset]
		fmt.Fprintf(w, "  %-8s %6d shares @ %s = %s\n",
			asset, shares, formatMoney(price, cur), formatMoney(price*float64(shares), cur))
	}

	if len(r.SectorExposure) > 0 {
		fmt.Fprintln(w, "\nSector exposure:")
		for _, g := range r.SectorExposure {
			fmt.Fprintf(w, "  %-12s target %5.1f%%  held %5.1f%%  (%s)\n",
				g.Name, g.TargetPct*100, g.CurrentPct*100, formatMoney(g.CurrentValue, cur))
		}
	}

	fmt.Fprintf(w, "\nFunds remaining: %s\n", formatMoney(r.Allocation.Leftover, cur))
	return nil
}
