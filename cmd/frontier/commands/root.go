// Package commands implements the frontier CLI.
package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aristath/frontier/internal/config"
	"github.com/aristath/frontier/pkg/logger"
)

const dateLayout = "2006-01-02"

// rootOptions are the global flags shared by every command
type rootOptions struct {
	verbose bool
}

// setup loads configuration and builds a logger writing to the command's
// stderr so reports on stdout stay clean.
func (o *rootOptions) setup(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	level := cfg.LogLevel
	if o.verbose {
		level = "debug"
	}
	log := logger.New(logger.Config{
		Level:  level,
		Pretty: true,
		Output: cmd.ErrOrStderr(),
	})
	return cfg, log, nil
}

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "frontier",
		Short: "Mean-variance portfolio optimizer",
		Long: `frontier estimates expected returns and covariance from daily prices,
solves for the optimal long-only portfolio and converts it into whole
shares under a cash budget.

Examples:
  frontier optimize --csv prices.csv --budget 15000
  frontier seed --csv prices.csv --db data/history.db
  frontier optimize --db data/history.db --symbols MSFT,AMZN --start 2013-01-01`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(newOptimizeCmd(opts))
	cmd.AddCommand(newSeedCmd(opts))

	return cmd
}

// Execute runs the root command, cancelling on SIGINT or SIGTERM
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}
