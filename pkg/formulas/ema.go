package formulas

import (
	"math"

	"github.com/markcheno/go-talib"
)

// CalculateEMA returns the last value of the exponential moving average of
// data with the given span (multiplier 2 / (span + 1)). The average is seeded
// with the simple mean of the first span values; when data is shorter than the
// span the plain mean of data is returned instead.
func CalculateEMA(data []float64, span int) float64 {
	if len(data) == 0 {
		return 0
	}
	if span <= 1 {
		return data[len(data)-1]
	}
	if len(data) < span {
		return Mean(data)
	}

	ema := talib.Ema(data, span)
	if len(ema) > 0 {
		last := ema[len(ema)-1]
		if !math.IsNaN(last) && !math.IsInf(last, 0) {
			return last
		}
	}

	return Mean(data[len(data)-span:])
}
