package optimization

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/frontier/internal/domain"
	"github.com/aristath/frontier/internal/modules/allocation"
	"github.com/aristath/frontier/internal/utils"
)

// DefaultBudget is the cash allocated when a request names none.
const DefaultBudget = 15000.0

// Settings are the pipeline defaults applied to requests that leave a
// parameter unset.
type Settings struct {
	RiskFreeRate    float64       `json:"risk_free_rate"`
	PeriodsPerYear  int           `json:"periods_per_year"`
	WeightCutoff    float64       `json:"weight_cutoff"`
	WeightPrecision int           `json:"weight_precision"`
	Bounds          Bounds        `json:"bounds"`
	ReturnsMethod   ReturnsMethod `json:"returns_method"`
	RiskModel       RiskModel     `json:"risk_model"`
	Budget          float64       `json:"budget"`
	Gamma           float64       `json:"gamma"`
}

// DefaultSettings returns the stock pipeline configuration.
func DefaultSettings() Settings {
	return Settings{
		RiskFreeRate:    DefaultRiskFreeRate,
		PeriodsPerYear:  DefaultTradingPeriodsPerYear,
		WeightCutoff:    DefaultWeightCutoff,
		WeightPrecision: DefaultWeightPrecision,
		Bounds:          DefaultBounds(),
		ReturnsMethod:   MeanHistorical,
		RiskModel:       SampleCovariance,
		Budget:          DefaultBudget,
	}
}

// PriceSource loads adjusted close history for a set of symbols.
type PriceSource interface {
	LoadPriceHistory(ctx context.Context, symbols []string, start time.Time) (*domain.PriceHistory, error)
}

// Request describes one pipeline run. Prices takes precedence over Symbols;
// nil and empty fields fall back to the service settings.
type Request struct {
	Prices        *domain.PriceHistory
	Symbols       []string
	Start         time.Time
	Budget        *float64
	Objective     Objective
	Bounds        *Bounds
	RiskFreeRate  *float64
	ReturnsMethod ReturnsMethod
	RiskModel     RiskModel
	Gamma         *float64
	Sectors       []SectorConstraint
	LatestPrices  domain.LatestPrices
}

// Result is the output of a successful pipeline run.
type Result struct {
	RunID              string                `json:"run_id"`
	CreatedAt          time.Time             `json:"created_at"`
	Objective          string                `json:"objective"`
	Assets             []string              `json:"assets"`
	Observations       int                   `json:"observations"`
	ExpectedReturns    ExpectedReturns       `json:"expected_returns"`
	Covariance         CovarianceMatrix      `json:"covariance"`
	CovarianceRepaired bool                  `json:"covariance_repaired"`
	HighCorrelations   []CorrelationPair     `json:"high_correlations"`
	RawWeights         Weights               `json:"raw_weights"`
	CleanedWeights     Weights               `json:"cleaned_weights"`
	Performance        Performance           `json:"performance"`
	Baseline           *Performance          `json:"baseline,omitempty"`
	LatestPrices       domain.LatestPrices   `json:"latest_prices"`
	Budget             float64               `json:"budget"`
	Allocation         allocation.Allocation `json:"allocation"`
	Solver             SolveStats            `json:"solver"`

	SectorExposure []allocation.GroupAllocation `json:"sector_exposure,omitempty"`
}

// Service runs the estimate, optimize, clean and allocate pipeline.
type Service struct {
	settings Settings
	source   PriceSource
	log      zerolog.Logger

	mu   sync.RWMutex
	last *Result
}

// NewService creates a pipeline service. source may be nil when every request
// carries its own prices.
func NewService(settings Settings, source PriceSource, log zerolog.Logger) *Service {
	return &Service{
		settings: settings,
		source:   source,
		log:      log.With().Str("service", "optimizer").Logger(),
	}
}

// Settings returns the defaults the service applies.
func (s *Service) Settings() Settings {
	return s.settings
}

// LastResult returns the most recent successful result, or nil.
func (s *Service) LastResult() *Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Run executes the full pipeline. On error no partial result is returned.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	defer utils.OperationTimer("optimizer_run", s.log)()

	table, err := s.loadPrices(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rf := s.settings.RiskFreeRate
	if req.RiskFreeRate != nil {
		rf = *req.RiskFreeRate
	}
	budget := s.settings.Budget
	if req.Budget != nil {
		budget = *req.Budget
	}
	gamma := s.settings.Gamma
	if req.Gamma != nil {
		gamma = *req.Gamma
	}
	bounds := s.settings.Bounds
	if req.Bounds != nil {
		bounds = *req.Bounds
	}
	method := s.settings.ReturnsMethod
	if req.ReturnsMethod != "" {
		method = req.ReturnsMethod
	}
	model := s.settings.RiskModel
	if req.RiskModel != "" {
		model = req.RiskModel
	}
	objective := req.Objective
	if objective.Kind == "" {
		objective = MaxSharpe()
	}

	runID := uuid.New().String()
	log := s.log.With().
		Str("run_id", runID).
		Str("objective", objective.String()).
		Int("assets", len(table.Assets)).
		Int("observations", table.Len()).
		Logger()
	log.Info().Msg("Starting optimization")

	estimator, err := EstimatorFor(method, rf)
	if err != nil {
		return nil, err
	}
	mu, err := EstimateExpectedReturns(table, estimator, s.settings.PeriodsPerYear)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate expected returns: %w", err)
	}
	sigma, err := ComputeRiskModel(table, model, s.settings.PeriodsPerYear)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate covariance: %w", err)
	}
	if sigma.Repaired {
		log.Warn().Msg("Covariance matrix was not positive semi-definite and has been repaired")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	optimizer := NewMVOptimizer(WithL2Regularization(gamma), WithSectorConstraints(req.Sectors...))
	raw, stats, err := optimizer.Solve(mu, sigma, objective, bounds, rf)
	if err != nil {
		return nil, fmt.Errorf("optimization failed: %w", err)
	}
	log.Debug().
		Int("assets_with_bounds", stats.Constraints.AssetsWithBounds).
		Int("sector_constraints", stats.Constraints.SectorConstraints).
		Float64("total_min_weight", stats.Constraints.TotalMinWeight).
		Float64("total_max_weight", stats.Constraints.TotalMaxWeight).
		Int("solves", stats.Solves).
		Int("iterations", stats.Iterations).
		Msg("Optimizer constraints and solver work")
	if stats.Inaccurate {
		log.Warn().
			Int("iterations", stats.Iterations).
			Float64("primal_residual", stats.PrimalResidual).
			Float64("dual_residual", stats.DualResidual).
			Msg("Solver hit its iteration limit; weights are within a relaxed tolerance")
	}
	performance, err := PortfolioPerformance(raw, mu, sigma, rf)
	if err != nil {
		return nil, err
	}
	cleaned := CleanWeights(raw, s.settings.WeightCutoff, s.settings.WeightPrecision)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	latest := req.LatestPrices
	if latest == nil {
		latest = table.LatestPrices()
	}
	alloc, err := allocation.Allocate(cleaned, latest, budget)
	if err != nil {
		return nil, fmt.Errorf("allocation failed: %w", err)
	}

	result := &Result{
		RunID:              runID,
		CreatedAt:          time.Now().UTC(),
		Objective:          objective.String(),
		Assets:             table.Assets,
		Observations:       table.Len(),
		ExpectedReturns:    mu,
		Covariance:         sigma,
		CovarianceRepaired: sigma.Repaired,
		HighCorrelations:   HighCorrelations(sigma, HighCorrelationThreshold),
		RawWeights:         raw,
		CleanedWeights:     cleaned,
		Performance:        performance,
		LatestPrices:       latest,
		Budget:             budget,
		Allocation:         alloc,
		Solver:             stats,
	}
	if baseline, err := PortfolioPerformance(EqualWeights(table.Assets), mu, sigma, rf); err == nil {
		result.Baseline = &baseline
	}
	if len(req.Sectors) > 0 {
		result.SectorExposure = allocation.SectorExposure(alloc, latest, cleaned, sectorMapper(req.Sectors))
	}

	log.Info().
		Float64("expected_return", performance.ExpectedReturn).
		Float64("volatility", performance.Volatility).
		Float64("sharpe_ratio", performance.SharpeRatio).
		Float64("leftover", alloc.Leftover).
		Msg("Optimization complete")

	s.mu.Lock()
	s.last = result
	s.mu.Unlock()

	return result, nil
}

func (s *Service) loadPrices(ctx context.Context, req Request) (*domain.PriceHistory, error) {
	if req.Prices != nil {
		if err := req.Prices.Validate(); err != nil {
			return nil, err
		}
		return req.Prices, nil
	}
	if len(req.Symbols) == 0 {
		return nil, fmt.Errorf("%w: request has neither prices nor symbols", domain.ErrInsufficientData)
	}
	if s.source == nil {
		return nil, fmt.Errorf("no price source configured for symbols %v", req.Symbols)
	}
	table, err := s.source.LoadPriceHistory(ctx, req.Symbols, req.Start)
	if err != nil {
		return nil, fmt.Errorf("failed to load price history: %w", err)
	}
	return table, nil
}

// sectorMapper merges the asset to sector maps of several constraints. The
// first constraint to name an asset wins.
func sectorMapper(constraints []SectorConstraint) map[string]string {
	mapper := make(map[string]string)
	for _, c := range constraints {
		for asset, sector := range c.SectorMapper {
			if _, ok := mapper[asset]; !ok {
				mapper[asset] = sector
			}
		}
	}
	return mapper
}
