package di

import (
	"github.com/rs/zerolog"

	"github.com/aristath/frontier/internal/config"
	"github.com/aristath/frontier/internal/scheduler"
)

// RegisterJobs creates the scheduler and registers the scheduled
// optimization when a symbol universe is configured
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) error {
	container.Scheduler = scheduler.New(log)

	if len(cfg.Optimizer.Symbols) == 0 {
		log.Info().Msg("OPTIMIZER_SYMBOLS not set, scheduled optimization disabled")
		return nil
	}

	job := scheduler.NewOptimizeJob(scheduler.OptimizeJobConfig{
		Log:       log,
		Optimizer: container.OptimizerService,
		Symbols:   cfg.Optimizer.Symbols,
		Start:     cfg.Optimizer.Start,
	})
	return container.Scheduler.AddJob(cfg.Optimizer.Schedule, job)
}
