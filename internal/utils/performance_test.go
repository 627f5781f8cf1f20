package utils

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestOperationTimer_LogsOperation(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.DebugLevel)

	OperationTimer("optimize", log)()

	assert.Contains(t, buf.String(), `"operation":"optimize"`)
	assert.Contains(t, buf.String(), `"level":"debug"`)
	assert.Contains(t, buf.String(), "Timed operation completed")
}

func TestMeasureDBQuery_LogsRows(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.DebugLevel)

	MeasureDBQuery("load_prices", log)(42)

	assert.Contains(t, buf.String(), `"query":"load_prices"`)
	assert.Contains(t, buf.String(), `"rows":42`)
}

func TestStopwatch_WarnsAboveThreshold(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.InfoLevel)

	stop := stopwatch(log, "query", "slow_scan", time.Nanosecond)
	time.Sleep(time.Millisecond)
	stop(nil)

	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), "Slow query detected")
	assert.Contains(t, buf.String(), `"query":"slow_scan"`)
}

func TestOperationTimer_QuietAtInfo(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.InfoLevel)

	OperationTimer("fast", log)()

	assert.Empty(t, buf.String())
}
