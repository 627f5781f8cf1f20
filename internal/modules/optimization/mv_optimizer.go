package optimization

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/frontier/internal/domain"
)

const (
	zeroVarianceTolerance = 1e-16
	frontierBisections    = 60
)

// MVOptimizer performs mean-variance portfolio optimization.
type MVOptimizer struct {
	gamma    float64
	sectors  []SectorConstraint
	settings qpSettings
}

// Option configures an MVOptimizer.
type Option func(*MVOptimizer)

// WithL2Regularization adds gamma·‖w‖² to the variance term, pushing weights
// toward each other and keeping the problem strictly convex.
func WithL2Regularization(gamma float64) Option {
	return func(mvo *MVOptimizer) {
		mvo.gamma = gamma
	}
}

// WithSectorConstraints adds sector weight limits to every solve.
func WithSectorConstraints(constraints ...SectorConstraint) Option {
	return func(mvo *MVOptimizer) {
		mvo.sectors = append(mvo.sectors, constraints...)
	}
}

// withSolverSettings overrides the QP solver settings.
func withSolverSettings(settings qpSettings) Option {
	return func(mvo *MVOptimizer) {
		mvo.settings = settings
	}
}

// NewMVOptimizer creates a new mean-variance optimizer.
func NewMVOptimizer(opts ...Option) *MVOptimizer {
	mvo := &MVOptimizer{settings: defaultQPSettings()}
	for _, opt := range opts {
		opt(mvo)
	}
	return mvo
}

// linearRow is one extra constraint lo ≤ coefᵗw ≤ hi.
type linearRow struct {
	coef   []float64
	lo, hi float64
}

// SolveStats reports the quadratic programs solved for one Optimize call.
// Residuals are the largest seen across solves.
type SolveStats struct {
	Solves         int                `json:"solves"`
	Iterations     int                `json:"iterations"`
	PrimalResidual float64            `json:"primal_residual"`
	DualResidual   float64            `json:"dual_residual"`
	Inaccurate     bool               `json:"inaccurate"`
	Constraints    ConstraintsSummary `json:"constraints"`
}

func (s *SolveStats) record(sol qpSolution) {
	s.Solves++
	s.Iterations += sol.Iterations
	s.PrimalResidual = math.Max(s.PrimalResidual, sol.PrimalResidual)
	s.DualResidual = math.Max(s.DualResidual, sol.DualResidual)
	s.Inaccurate = s.Inaccurate || sol.Inaccurate
}

// problem is one validated optimization instance in asset order.
type problem struct {
	assets []string
	mu     []float64
	risk   *mat.SymDense // Σ
	sigma  *mat.SymDense // Σ + γI
	cons   Constraints
	rf     float64
	stats  *SolveStats
}

// Optimize solves the mean-variance problem selected by objective over the
// assets of sigma. The returned weights sum to 1 and respect bounds and
// sector constraints.
//
// Every objective shares the constraint set
//   - Σw = 1
//   - lower_i ≤ w_i ≤ upper_i
//   - sector_lower ≤ Σ(w in sector) ≤ sector_upper
//
// and is solved as a convex quadratic program. The L2 term shapes the
// solution but does not count as risk: a zero covariance matrix or a zero
// variance optimum fails with ErrDivisionByZero whatever gamma is.
func (mvo *MVOptimizer) Optimize(
	mu ExpectedReturns,
	sigma CovarianceMatrix,
	objective Objective,
	bounds Bounds,
	riskFreeRate float64,
) (Weights, error) {
	weights, _, err := mvo.Solve(mu, sigma, objective, bounds, riskFreeRate)
	return weights, err
}

// Solve is Optimize that also reports solver statistics.
func (mvo *MVOptimizer) Solve(
	mu ExpectedReturns,
	sigma CovarianceMatrix,
	objective Objective,
	bounds Bounds,
	riskFreeRate float64,
) (Weights, SolveStats, error) {
	var stats SolveStats
	if err := objective.Validate(); err != nil {
		return nil, stats, err
	}
	if math.IsNaN(riskFreeRate) || math.IsInf(riskFreeRate, 0) {
		return nil, stats, fmt.Errorf("risk-free rate must be finite, got %v", riskFreeRate)
	}
	if mvo.gamma < 0 || math.IsNaN(mvo.gamma) || math.IsInf(mvo.gamma, 0) {
		return nil, stats, fmt.Errorf("L2 regularization gamma must be a non-negative number, got %v", mvo.gamma)
	}

	p, err := mvo.newProblem(mu, sigma, bounds, riskFreeRate)
	if err != nil {
		return nil, stats, err
	}
	stats.Constraints = p.cons.Summary()
	p.stats = &stats

	if maxAbs(p.risk) <= zeroVarianceTolerance {
		return nil, stats, fmt.Errorf("%w: covariance matrix is zero", domain.ErrDivisionByZero)
	}

	var w []float64
	switch objective.Kind {
	case KindMaxSharpe:
		w, err = mvo.optimizeMaxSharpe(p)
	case KindMinVolatility:
		w, err = mvo.optimizeMinVolatility(p)
	case KindTargetReturn:
		w, err = mvo.optimizeEfficientReturn(p, objective.Target)
	case KindTargetRisk:
		w, err = mvo.optimizeEfficientRisk(p, objective.Target)
	case KindMaxQuadraticUtility:
		w, err = mvo.optimizeQuadraticUtility(p, objective.Target)
	default:
		return nil, stats, fmt.Errorf("unknown objective: %s", objective.Kind)
	}
	if err != nil {
		return nil, stats, err
	}

	if variance := quadForm(p.risk, w); variance <= zeroVarianceTolerance {
		return nil, stats, fmt.Errorf("%w: optimal portfolio has zero variance", domain.ErrDivisionByZero)
	}

	weights := make(Weights, len(p.assets))
	for i, asset := range p.assets {
		weights[asset] = w[i]
	}
	return weights, stats, nil
}

func (mvo *MVOptimizer) newProblem(mu ExpectedReturns, sigma CovarianceMatrix, bounds Bounds, rf float64) (problem, error) {
	n := len(sigma.Assets)
	if n == 0 {
		return problem{}, fmt.Errorf("%w: no assets provided", domain.ErrDimensionMismatch)
	}
	if err := validateCovariance(sigma); err != nil {
		return problem{}, err
	}
	if len(mu) != n {
		return problem{}, fmt.Errorf("%w: %d expected returns for %d assets", domain.ErrDimensionMismatch, len(mu), n)
	}

	// Convert expected returns to vector (ordered by the covariance assets)
	muVec := make([]float64, n)
	for i, asset := range sigma.Assets {
		ret, ok := mu[asset]
		if !ok {
			return problem{}, fmt.Errorf("%w: missing expected return for asset %s", domain.ErrDimensionMismatch, asset)
		}
		if math.IsNaN(ret) || math.IsInf(ret, 0) {
			return problem{}, fmt.Errorf("%w: expected return for asset %s is not finite", domain.ErrInsufficientData, asset)
		}
		muVec[i] = ret
	}

	cons, err := BuildConstraints(sigma.Assets, bounds, mvo.sectors)
	if err != nil {
		return problem{}, err
	}

	reg := sigma.Dense()
	for i := 0; i < n; i++ {
		reg.SetSym(i, i, reg.At(i, i)+mvo.gamma)
	}

	return problem{assets: sigma.Assets, mu: muVec, risk: sigma.Dense(), sigma: reg, cons: cons, rf: rf}, nil
}

// optimizeMinVolatility minimizes w'Σw.
func (mvo *MVOptimizer) optimizeMinVolatility(p problem) ([]float64, error) {
	return mvo.solveWeights(p, scaled(p.sigma, 2), make([]float64, len(p.mu)), nil)
}

// optimizeQuadraticUtility maximizes μ'w - δ/2 w'Σw.
func (mvo *MVOptimizer) optimizeQuadraticUtility(p problem, delta float64) ([]float64, error) {
	q := make([]float64, len(p.mu))
	for i, m := range p.mu {
		q[i] = -m
	}
	return mvo.solveWeights(p, scaled(p.sigma, delta), q, nil)
}

// optimizeEfficientReturn minimizes w'Σw subject to μ'w ≥ target.
func (mvo *MVOptimizer) optimizeEfficientReturn(p problem, target float64) ([]float64, error) {
	if best := p.cons.maxAttainableReturn(p.mu); target > best+feasibilityTolerance {
		return nil, fmt.Errorf("%w: target return %.4f exceeds the maximum attainable return %.4f", domain.ErrInfeasible, target, best)
	}
	row := linearRow{coef: p.mu, lo: target, hi: math.Inf(1)}
	return mvo.solveWeights(p, scaled(p.sigma, 2), make([]float64, len(p.mu)), []linearRow{row})
}

// optimizeEfficientRisk maximizes μ'w subject to sqrt(w'Σw) ≤ target by
// bisecting the required return along the frontier.
func (mvo *MVOptimizer) optimizeEfficientRisk(p problem, target float64) ([]float64, error) {
	best, err := mvo.optimizeMinVolatility(p)
	if err != nil {
		return nil, err
	}
	if vol := math.Sqrt(quadForm(p.sigma, best)); vol > target+feasibilityTolerance {
		return nil, fmt.Errorf("%w: target volatility %.4f is below the minimum volatility %.4f", domain.ErrInfeasible, target, vol)
	}

	lo := dot(p.mu, best)
	hi := p.cons.maxAttainableReturn(p.mu)
	for i := 0; i < frontierBisections && hi-lo > 1e-10; i++ {
		mid := (lo + hi) / 2
		if i == 0 {
			mid = hi
		}
		w, err := mvo.optimizeEfficientReturn(p, mid)
		switch {
		case errors.Is(err, domain.ErrInfeasible):
			hi = mid
		case err != nil:
			return nil, err
		case math.Sqrt(quadForm(p.sigma, w)) <= target:
			lo, best = mid, w
			if i == 0 {
				return best, nil
			}
		default:
			hi = mid
		}
	}

	return best, nil
}

// optimizeMaxSharpe maximizes (μ'w - r_f) / sqrt(w'Σw). With y = κw it
// becomes the convex problem
//
//	min y'Σy  s.t. (μ - r_f)'y = 1, Σy = κ, lower·κ ≤ y ≤ upper·κ, κ ≥ 0
//
// and the weights are recovered as y / κ.
func (mvo *MVOptimizer) optimizeMaxSharpe(p problem) ([]float64, error) {
	if best := p.cons.maxAttainableReturn(p.mu); best <= p.rf {
		return nil, fmt.Errorf("%w: no portfolio has an expected return above the risk-free rate %.4f", domain.ErrInfeasible, p.rf)
	}

	n := len(p.mu)
	dim := n + 1
	P := mat.NewSymDense(dim, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			P.SetSym(i, j, 2*p.sigma.At(i, j))
		}
	}

	var rows []linearRow
	excess := make([]float64, dim)
	budget := make([]float64, dim)
	for i := 0; i < n; i++ {
		excess[i] = p.mu[i] - p.rf
		budget[i] = 1
	}
	budget[n] = -1
	rows = append(rows,
		linearRow{coef: excess, lo: 1, hi: 1},
		linearRow{coef: budget, lo: 0, hi: 0},
	)
	for i := 0; i < n; i++ {
		lower := make([]float64, dim)
		lower[i], lower[n] = 1, -p.cons.MinWeights[i]
		upper := make([]float64, dim)
		upper[i], upper[n] = 1, -p.cons.MaxWeights[i]
		rows = append(rows,
			linearRow{coef: lower, lo: 0, hi: math.Inf(1)},
			linearRow{coef: upper, lo: math.Inf(-1), hi: 0},
		)
	}
	kappa := make([]float64, dim)
	kappa[n] = 1
	rows = append(rows, linearRow{coef: kappa, lo: 0, hi: math.Inf(1)})

	for _, sb := range p.cons.Sectors {
		if !math.IsInf(sb.Lower, -1) {
			rows = append(rows, linearRow{coef: sectorRow(sb, dim, sb.Lower), lo: 0, hi: math.Inf(1)})
		}
		if !math.IsInf(sb.Upper, 1) {
			rows = append(rows, linearRow{coef: sectorRow(sb, dim, sb.Upper), lo: math.Inf(-1), hi: 0})
		}
	}

	sol, err := solveQP(buildQP(P, make([]float64, dim), rows), mvo.settings)
	if err != nil {
		return nil, fmt.Errorf("max sharpe: %w", err)
	}
	p.stats.record(sol)

	k := sol.X[n]
	if k <= 0 || math.IsNaN(k) {
		return nil, fmt.Errorf("%w: max sharpe scaling factor %v is not positive", domain.ErrNotConverged, k)
	}
	w := make([]float64, n)
	for i := 0; i < n; i++ {
		w[i] = sol.X[i] / k
	}
	return p.cons.project(w), nil
}

// sectorRow builds Σ_{i in sector} y_i - limit·κ.
func sectorRow(sb sectorBound, dim int, limit float64) []float64 {
	coef := make([]float64, dim)
	for _, i := range sb.Members {
		coef[i] = 1
	}
	coef[dim-1] = -limit
	return coef
}

// solveWeights solves min ½w'Pw + q'w over the shared constraint set plus
// extra rows, then projects onto the bounded simplex.
func (mvo *MVOptimizer) solveWeights(p problem, P *mat.SymDense, q []float64, extra []linearRow) ([]float64, error) {
	n := len(p.mu)
	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1
	}

	rows := []linearRow{{coef: ones, lo: 1, hi: 1}}
	for i := 0; i < n; i++ {
		unit := make([]float64, n)
		unit[i] = 1
		rows = append(rows, linearRow{coef: unit, lo: p.cons.MinWeights[i], hi: p.cons.MaxWeights[i]})
	}
	for _, sb := range p.cons.Sectors {
		coef := make([]float64, n)
		for _, i := range sb.Members {
			coef[i] = 1
		}
		rows = append(rows, linearRow{coef: coef, lo: sb.Lower, hi: sb.Upper})
	}
	rows = append(rows, extra...)

	sol, err := solveQP(buildQP(P, q, rows), mvo.settings)
	if err != nil {
		return nil, err
	}
	p.stats.record(sol)
	return p.cons.project(sol.X), nil
}

func buildQP(P *mat.SymDense, q []float64, rows []linearRow) qpProblem {
	dim := len(q)
	A := mat.NewDense(len(rows), dim, nil)
	l := make([]float64, len(rows))
	u := make([]float64, len(rows))
	for k, row := range rows {
		A.SetRow(k, row.coef)
		l[k] = row.lo
		u[k] = row.hi
	}
	return qpProblem{P: P, q: q, A: A, l: l, u: u}
}

func scaled(sigma *mat.SymDense, factor float64) *mat.SymDense {
	var out mat.SymDense
	out.ScaleSym(factor, sigma)
	return &out
}

func quadForm(sigma *mat.SymDense, w []float64) float64 {
	v := mat.NewVecDense(len(w), w)
	return mat.Inner(v, sigma, v)
}

func maxAbs(sigma *mat.SymDense) float64 {
	n := sigma.SymmetricDim()
	largest := 0.0
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			largest = math.Max(largest, math.Abs(sigma.At(i, j)))
		}
	}
	return largest
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
