package di

import (
	"github.com/rs/zerolog"

	"github.com/aristath/frontier/internal/config"
	"github.com/aristath/frontier/internal/modules/history"
	"github.com/aristath/frontier/internal/modules/optimization"
)

// InitializeServices creates the price store and the optimizer service
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) {
	container.HistoryStore = history.NewStore(container.HistoryDB, log)
	container.OptimizerService = optimization.NewService(cfg.OptimizerSettings(), container.HistoryStore, log)
}
