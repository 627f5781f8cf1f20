// Package di provides dependency injection wiring and initialization.
package di

import (
	"github.com/aristath/frontier/internal/database"
	"github.com/aristath/frontier/internal/modules/history"
	"github.com/aristath/frontier/internal/modules/optimization"
	"github.com/aristath/frontier/internal/scheduler"
)

// Container holds all wired dependencies
type Container struct {
	HistoryDB        *database.DB
	HistoryStore     *history.Store
	OptimizerService *optimization.Service
	Scheduler        *scheduler.Scheduler
}

// Close releases the database connection
func (c *Container) Close() error {
	if c.HistoryDB == nil {
		return nil
	}
	return c.HistoryDB.Close()
}
