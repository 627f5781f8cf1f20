package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/frontier/internal/config"
	"github.com/aristath/frontier/internal/database"
	"github.com/aristath/frontier/internal/domain"
	"github.com/aristath/frontier/internal/modules/history"
	"github.com/aristath/frontier/internal/modules/optimization"
	"github.com/aristath/frontier/internal/utils"
)

var errNoInput = errors.New("either --csv or --symbols is required")

type optimizeOptions struct {
	csvPath       string
	dbPath        string
	symbols       string
	start         string
	budget        float64
	objective     string
	target        float64
	gamma         float64
	riskFreeRate  float64
	returnsMethod string
	riskModel     string
	sectors       map[string]string
	sectorUpper   map[string]string
	currency      string
	jsonOutput    bool
}

func newOptimizeCmd(root *rootOptions) *cobra.Command {
	opts := &optimizeOptions{}

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Run the optimization pipeline once",
		Long: `Optimize reads daily prices from a CSV file (--csv) or from the price
history database (--symbols, optionally --db and --start). Without symbols
it uses every symbol stored in the database. It computes the optimal
portfolio and prints expected returns, weights, performance and a
whole-share allocation.

Unset parameters fall back to the environment configuration.

Example:
  frontier optimize --csv prices.csv --budget 15000
  frontier optimize --symbols MSFT,AMZN,NAT --objective min_volatility
  frontier optimize --db history.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOptimize(cmd, root, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.csvPath, "csv", "", "CSV file with a date column and one close column per asset")
	flags.StringVar(&opts.dbPath, "db", "", "price history database (default HISTORY_DB_PATH)")
	flags.StringVar(&opts.symbols, "symbols", "", "comma-separated symbols to load from the database (default OPTIMIZER_SYMBOLS)")
	flags.StringVar(&opts.start, "start", "", "first date to load from the database (YYYY-MM-DD)")
	flags.Float64Var(&opts.budget, "budget", 0, "cash to allocate (default DEFAULT_BUDGET)")
	flags.StringVar(&opts.objective, "objective", string(optimization.KindMaxSharpe),
		"max_sharpe, min_volatility, efficient_return, efficient_risk or max_quadratic_utility")
	flags.Float64Var(&opts.target, "target", 0, "target return, target volatility or risk aversion for the objective")
	flags.Float64Var(&opts.gamma, "gamma", 0, "L2 regularization strength")
	flags.Float64Var(&opts.riskFreeRate, "risk-free-rate", 0, "annual risk-free rate (default RISK_FREE_RATE)")
	flags.StringVar(&opts.returnsMethod, "returns-method", "", "mean_historical, compounded_historical, ema_historical or capm")
	flags.StringVar(&opts.riskModel, "risk-model", "", "sample_cov, ledoit_wolf or exp_cov")
	flags.StringToStringVar(&opts.sectors, "sector", nil, "asset to sector mapping, e.g. MSFT=Tech,AMZN=Retail")
	flags.StringToStringVar(&opts.sectorUpper, "sector-upper", nil, "maximum total weight per sector, e.g. Tech=0.4")
	flags.StringVar(&opts.currency, "currency", "USD", "ISO 4217 currency used to print cash amounts")
	flags.BoolVar(&opts.jsonOutput, "json", false, "print the full result as JSON")

	return cmd
}

func runOptimize(cmd *cobra.Command, root *rootOptions, opts *optimizeOptions) error {
	if _, err := currencyFor(opts.currency); err != nil {
		return err
	}

	cfg, log, err := root.setup(cmd)
	if err != nil {
		return err
	}

	req, err := opts.request(cmd)
	if err != nil {
		return err
	}

	var source optimization.PriceSource
	if req.Prices == nil {
		if len(req.Symbols) == 0 {
			req.Symbols = cfg.Optimizer.Symbols
		}
		if req.Start.IsZero() {
			req.Start = cfg.Optimizer.Start
		}

		db, err := openHistoryDB(opts.dbPath, cfg, database.ProfileReadOnly)
		if err != nil {
			if len(req.Symbols) == 0 {
				return errNoInput
			}
			return err
		}
		defer db.Close()
		store := history.NewStore(db, log)

		// Without explicit symbols, optimize everything the database holds.
		if len(req.Symbols) == 0 {
			if req.Symbols, err = store.Symbols(cmd.Context()); err != nil {
				return err
			}
			if len(req.Symbols) == 0 {
				return errNoInput
			}
		}
		source = store
	}

	service := optimization.NewService(cfg.OptimizerSettings(), source, log)
	result, err := service.Run(cmd.Context(), req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return printReport(out, result, opts.currency)
}

// request turns the flags into a pipeline request. Only flags the user set
// override the configured defaults.
func (o *optimizeOptions) request(cmd *cobra.Command) (optimization.Request, error) {
	var req optimization.Request
	flags := cmd.Flags()

	objective, err := optimization.ParseObjective(o.objective, o.target)
	if err != nil {
		return req, err
	}
	req.Objective = objective

	if o.returnsMethod != "" {
		if req.ReturnsMethod, err = optimization.ParseReturnsMethod(o.returnsMethod); err != nil {
			return req, err
		}
	}
	if o.riskModel != "" {
		if req.RiskModel, err = optimization.ParseRiskModel(o.riskModel); err != nil {
			return req, err
		}
	}
	if flags.Changed("budget") {
		req.Budget = &o.budget
	}
	if flags.Changed("gamma") {
		req.Gamma = &o.gamma
	}
	if flags.Changed("risk-free-rate") {
		req.RiskFreeRate = &o.riskFreeRate
	}

	if len(o.sectors) > 0 || len(o.sectorUpper) > 0 {
		sector, err := o.sectorConstraint()
		if err != nil {
			return req, err
		}
		req.Sectors = []optimization.SectorConstraint{sector}
	}

	if o.csvPath != "" {
		table, err := readCSVFile(o.csvPath)
		if err != nil {
			return req, err
		}
		req.Prices = table
		return req, nil
	}

	req.Symbols = utils.ParseSymbols(o.symbols)
	if o.start != "" {
		start, err := time.Parse(dateLayout, o.start)
		if err != nil {
			return req, fmt.Errorf("invalid --start %q: %w", o.start, err)
		}
		req.Start = start
	}
	return req, nil
}

func (o *optimizeOptions) sectorConstraint() (optimization.SectorConstraint, error) {
	sc := optimization.SectorConstraint{
		SectorMapper: make(map[string]string, len(o.sectors)),
		SectorUpper:  make(map[string]float64, len(o.sectorUpper)),
	}
	for asset, sector := range o.sectors {
		sc.SectorMapper[asset] = sector
	}
	for sector, raw := range o.sectorUpper {
		upper, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return sc, fmt.Errorf("invalid --sector-upper for %s: %w", sector, err)
		}
		sc.SectorUpper[sector] = upper
	}
	return sc, nil
}

func openHistoryDB(path string, cfg *config.Config, profile database.DatabaseProfile) (*database.DB, error) {
	if path == "" {
		path = cfg.HistoryDBPath
	}
	if profile == database.ProfileReadOnly {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("price history database not found: %w", err)
		}
	}
	return database.New(database.Config{
		Path:    path,
		Profile: profile,
		Name:    "history",
	})
}

func readCSVFile(path string) (*domain.PriceHistory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open price file: %w", err)
	}
	defer f.Close()
	return history.ReadCSV(f)
}
