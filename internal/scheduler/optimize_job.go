package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/frontier/internal/modules/optimization"
)

// OptimizeJobName is the registered name of the scheduled optimization
const OptimizeJobName = "optimize_portfolio"

// Optimizer runs the optimization pipeline
type Optimizer interface {
	Run(ctx context.Context, req optimization.Request) (*optimization.Result, error)
}

// OptimizeJobConfig holds configuration for the optimize job
type OptimizeJobConfig struct {
	Log       zerolog.Logger
	Optimizer Optimizer
	Symbols   []string
	Start     time.Time
	Timeout   time.Duration // Zero means 5 minutes
}

// OptimizeJob reruns the pipeline over the stored price history of a fixed
// symbol universe. Results are cached by the optimizer service.
type OptimizeJob struct {
	log       zerolog.Logger
	optimizer Optimizer
	symbols   []string
	start     time.Time
	timeout   time.Duration
}

// NewOptimizeJob creates a new optimize job
func NewOptimizeJob(cfg OptimizeJobConfig) *OptimizeJob {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return &OptimizeJob{
		log:       cfg.Log.With().Str("job", OptimizeJobName).Logger(),
		optimizer: cfg.Optimizer,
		symbols:   cfg.Symbols,
		start:     cfg.Start,
		timeout:   timeout,
	}
}

// Name returns the job name
func (j *OptimizeJob) Name() string {
	return OptimizeJobName
}

// Run executes the optimization
func (j *OptimizeJob) Run() error {
	if j.optimizer == nil {
		return fmt.Errorf("optimizer service not available")
	}
	if len(j.symbols) == 0 {
		return fmt.Errorf("no symbols configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	result, err := j.optimizer.Run(ctx, optimization.Request{
		Symbols: j.symbols,
		Start:   j.start,
	})
	if err != nil {
		return fmt.Errorf("scheduled optimization failed: %w", err)
	}

	j.log.Info().
		Str("run_id", result.RunID).
		Int("assets", len(result.Assets)).
		Int("positions", len(result.Allocation.Assets())).
		Float64("sharpe_ratio", result.Performance.SharpeRatio).
		Msg("Scheduled optimization complete")

	return nil
}
