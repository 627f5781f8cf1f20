package utils

import (
	"time"

	"github.com/rs/zerolog"
)

// Durations above these are logged as warnings.
const (
	SlowOperationThreshold = 30 * time.Second
	SlowQueryThreshold     = 5 * time.Second
)

// OperationTimer returns a func that logs how long the operation took
// since OperationTimer was called:
//
//	defer utils.OperationTimer("optimizer_run", log)()
func OperationTimer(operation string, log zerolog.Logger) func() {
	stop := stopwatch(log, "operation", operation, SlowOperationThreshold)
	return func() { stop(nil) }
}

// MeasureDBQuery is OperationTimer for queries; the returned func takes the
// number of rows read.
func MeasureDBQuery(queryName string, log zerolog.Logger) func(rows int64) {
	stop := stopwatch(log, "query", queryName, SlowQueryThreshold)
	return func(rows int64) {
		stop(func(e *zerolog.Event) { e.Int64("rows", rows) })
	}
}

func stopwatch(log zerolog.Logger, key, name string, threshold time.Duration) func(fields func(*zerolog.Event)) {
	start := time.Now()

	return func(fields func(*zerolog.Event)) {
		duration := time.Since(start)

		event := log.Debug()
		msg := "Timed " + key + " completed"
		if duration > threshold {
			event = log.Warn()
			msg = "Slow " + key + " detected"
		}

		event = event.Str(key, name).Dur("duration_ms", duration)
		if fields != nil {
			fields(event)
		}
		event.Msg(msg)
	}
}
