package history

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/frontier/internal/domain"
)

const pricesCSV = `date,AAPL,MSFT
2024-01-02,185.64,370.87
2024-01-03,184.25,370.60
2024-01-04,181.91,
`

func TestReadCSV(t *testing.T) {
	table, err := ReadCSV(strings.NewReader(pricesCSV))
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL", "MSFT"}, table.Assets)
	require.Len(t, table.Dates, 3)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), table.Dates[0])
	assert.Equal(t, []float64{185.64, 184.25, 181.91}, table.Prices["AAPL"])
	assert.True(t, math.IsNaN(table.Prices["MSFT"][2]))
	assert.Equal(t, domain.LatestPrices{"AAPL": 181.91, "MSFT": 370.60}, table.LatestPrices())
}

func TestReadCSV_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"empty", "", domain.ErrInsufficientData},
		{"header only date", "date\n2024-01-02\n", domain.ErrInsufficientData},
		{"single asset", "date,A\n2024-01-02,1\n2024-01-03,2\n", domain.ErrInsufficientData},
		{"bad date", "date,A,B\n02/01/2024,1,2\n", domain.ErrInvalidPriceHistory},
		{"bad price", "date,A,B\n2024-01-02,abc,2\n", domain.ErrInvalidPriceHistory},
		{"duplicate asset", "date,A,A\n2024-01-02,1,2\n2024-01-03,1,2\n", domain.ErrInvalidPriceHistory},
		{"unsorted dates", "date,A,B\n2024-01-03,1,2\n2024-01-02,1,2\n", domain.ErrInvalidPriceHistory},
		{"interior gap", "date,A,B\n2024-01-02,1,2\n2024-01-03,,2\n2024-01-04,1,2\n", domain.ErrInvalidPriceHistory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestReadCSV_RaggedRow(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("date,A,B\n2024-01-02,1\n"))
	assert.Error(t, err)
}
