package commands

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/Rhymond/go-money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/frontier/internal/modules/optimization"
)

// trendCSV rises in A and falls in B with uneven steps.
const trendCSV = `date,A,B
2024-01-02,100,50
2024-01-03,108,46
2024-01-04,119,44
2024-01-05,121,40.5
`

// constantReturnsCSV has returns that never change, so its covariance is zero.
const constantReturnsCSV = `date,A,B
2024-01-02,100,50
2024-01-03,110,45
2024-01-04,121,40.5
`

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prices.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("FRONTIER_DATA_DIR", t.TempDir())
	t.Setenv("OPTIMIZER_SYMBOLS", "")

	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestOptimize_CSVReport(t *testing.T) {
	out, err := execute(t, "optimize", "--csv", writeCSV(t, trendCSV), "--budget", "1000", "--gamma", "0.1")
	require.NoError(t, err)

	assert.Contains(t, out, "Expected annual returns:")
	assert.Contains(t, out, "(volatility ")
	assert.Contains(t, out, "Annualized covariance:")
	assert.Contains(t, out, "Annual variance:")
	assert.Contains(t, out, "Cleaned weights:")
	assert.Contains(t, out, "Optimized portfolio:")
	assert.Contains(t, out, "Equal-weight portfolio:")
	assert.Contains(t, out, "Sharpe Ratio:")
	assert.Contains(t, out, "Discrete allocation (budget $1,000.00):")
	assert.Contains(t, out, "8 shares @ $121.00 = $968.00")
	assert.Contains(t, out, "Funds remaining: $32.00")
}

func TestOptimize_JSON(t *testing.T) {
	out, err := execute(t, "optimize", "--csv", writeCSV(t, trendCSV), "--budget", "1000", "--json")
	require.NoError(t, err)

	var result optimization.Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "max_sharpe", result.Objective)
	assert.Equal(t, int64(8), result.Allocation.Shares["A"])
	assert.Equal(t, int64(0), result.Allocation.Shares["B"])
	assert.InDelta(t, 32.0, result.Allocation.Leftover, 1e-9)
}

func TestOptimize_Sectors(t *testing.T) {
	out, err := execute(t, "optimize", "--csv", writeCSV(t, trendCSV), "--budget", "1000",
		"--sector", "A=Growth,B=Value", "--json")
	require.NoError(t, err)

	var result optimization.Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Len(t, result.SectorExposure, 2)
	assert.Equal(t, "Growth", result.SectorExposure[0].Name)
	assert.InDelta(t, 968.0, result.SectorExposure[0].CurrentValue, 1e-9)
	assert.Equal(t, "Value", result.SectorExposure[1].Name)
}

func TestSeedThenOptimizeFromDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	out, err := execute(t, "seed", "--csv", writeCSV(t, trendCSV), "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Seeded 8 prices for 2 symbols")

	for name, args := range map[string][]string{
		"named symbols":  {"--symbols", "a,b"},
		"stored symbols": nil,
	} {
		t.Run(name, func(t *testing.T) {
			cmdArgs := append([]string{"optimize", "--db", dbPath, "--budget", "1000", "--json"}, args...)
			out, err := execute(t, cmdArgs...)
			require.NoError(t, err)

			var result optimization.Result
			require.NoError(t, json.Unmarshal([]byte(out), &result))
			assert.Equal(t, []string{"A", "B"}, result.Assets)
			assert.Equal(t, int64(8), result.Allocation.Shares["A"])
			assert.InDelta(t, 32.0, result.Allocation.Leftover, 1e-9)
		})
	}
}

func TestOptimize_Errors(t *testing.T) {
	csvPath := writeCSV(t, trendCSV)
	flatPath := writeCSV(t, constantReturnsCSV)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"no input", []string{"optimize"}, "either --csv or --symbols is required"},
		{"unknown objective", []string{"optimize", "--csv", csvPath, "--objective", "max_alpha"}, "unknown objective"},
		{"unknown currency", []string{"optimize", "--csv", csvPath, "--currency", "ZZZ"}, "unknown currency"},
		{"missing file", []string{"optimize", "--csv", filepath.Join(t.TempDir(), "none.csv")}, "failed to open price file"},
		{"missing database", []string{"optimize", "--symbols", "A", "--db", filepath.Join(t.TempDir(), "none.db")}, "not found"},
		{"bad start", []string{"optimize", "--symbols", "A", "--start", "yesterday"}, "invalid --start"},
		{"bad sector bound", []string{"optimize", "--csv", csvPath, "--sector-upper", "Tech=lots"}, "invalid --sector-upper"},
		{"zero covariance", []string{"optimize", "--csv", flatPath}, "division by zero"},
		{"zero covariance with regularization", []string{"optimize", "--csv", flatPath, "--gamma", "0.1"}, "division by zero"},
		{"seed without csv", []string{"seed"}, "required flag"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFormatMoney(t *testing.T) {
	usd, err := currencyFor("usd")
	require.NoError(t, err)

	assert.Equal(t, "$1,234.50", formatMoney(1234.5, usd))
	assert.Equal(t, "$0.00", formatMoney(0, usd))
	assert.Equal(t, "$32.01", formatMoney(32.005, usd))

	jpy, err := currencyFor(money.JPY)
	require.NoError(t, err)
	assert.Equal(t, 0, jpy.Fraction)
}
