package commands

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/aristath/frontier/internal/database"
	"github.com/aristath/frontier/internal/modules/history"
)

type seedOptions struct {
	csvPath string
	dbPath  string
}

func newSeedCmd(root *rootOptions) *cobra.Command {
	opts := &seedOptions{}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a price CSV into the price history database",
		Long: `Seed writes every observation of a price CSV into the daily_prices
table, replacing rows that already exist for the same symbol and date.
Column headers are used as symbols.

Example:
  frontier seed --csv prices.csv --db data/history.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.csvPath, "csv", "", "CSV file with a date column and one close column per asset")
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "price history database (default HISTORY_DB_PATH)")
	_ = cmd.MarkFlagRequired("csv")

	return cmd
}

func runSeed(cmd *cobra.Command, root *rootOptions, opts *seedOptions) error {
	cfg, log, err := root.setup(cmd)
	if err != nil {
		return err
	}

	table, err := readCSVFile(opts.csvPath)
	if err != nil {
		return err
	}

	db, err := openHistoryDB(opts.dbPath, cfg, database.ProfileStandard)
	if err != nil {
		return err
	}
	defer db.Close()

	store := history.NewStore(db, log)
	if err := store.EnsureSchema(); err != nil {
		return err
	}

	total := 0
	for _, asset := range table.Assets {
		var prices []history.DailyPrice
		for i, p := range table.Prices[asset] {
			if math.IsNaN(p) {
				continue
			}
			prices = append(prices, history.DailyPrice{Date: table.Dates[i], Close: p})
		}
		if err := store.Seed(cmd.Context(), asset, prices); err != nil {
			return err
		}
		total += len(prices)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d prices for %d symbols into %s\n", total, len(table.Assets), db.Path())
	return nil
}
