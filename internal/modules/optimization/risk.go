package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/frontier/internal/domain"
	"github.com/aristath/frontier/pkg/formulas"
)

// Constants for risk model configuration
const (
	HighCorrelationThreshold = 0.80 // 80% correlation is considered "high"
	DefaultCovarianceSpan    = 180  // span of the exponentially weighted covariance
	psdTolerance             = 1e-10
)

// RiskModel selects the covariance estimator.
type RiskModel string

const (
	// SampleCovariance is the plain pairwise sample covariance.
	SampleCovariance RiskModel = "sample_cov"
	// LedoitWolf shrinks the sample covariance toward constant correlation.
	LedoitWolf RiskModel = "ledoit_wolf"
	// ExponentialCovariance weights recent observations more heavily.
	ExponentialCovariance RiskModel = "exp_cov"
)

// ParseRiskModel maps a configuration name to a risk model. An empty name
// selects the sample covariance.
func ParseRiskModel(name string) (RiskModel, error) {
	switch RiskModel(name) {
	case "":
		return SampleCovariance, nil
	case SampleCovariance, LedoitWolf, ExponentialCovariance:
		return RiskModel(name), nil
	default:
		return "", fmt.Errorf("unknown risk model: %s", name)
	}
}

// CovarianceMatrix is an annualized covariance matrix indexed by Assets.
type CovarianceMatrix struct {
	Assets []string    `json:"assets"`
	Matrix [][]float64 `json:"matrix"`
	// Repaired is set when the estimate was not positive semidefinite and
	// negative eigenvalues were clipped.
	Repaired bool `json:"repaired"`
}

// NewCovarianceMatrix wraps a dense matrix. The data is not copied.
func NewCovarianceMatrix(assets []string, matrix [][]float64) CovarianceMatrix {
	return CovarianceMatrix{Assets: assets, Matrix: matrix}
}

// Size returns the number of assets.
func (c CovarianceMatrix) Size() int {
	return len(c.Assets)
}

// At returns the covariance between assets i and j.
func (c CovarianceMatrix) At(i, j int) float64 {
	return c.Matrix[i][j]
}

// Variance returns the variance of asset, or false when it is unknown.
func (c CovarianceMatrix) Variance(asset string) (float64, bool) {
	for i, a := range c.Assets {
		if a == asset {
			return c.Matrix[i][i], true
		}
	}
	return 0, false
}

// Dense returns the matrix as a gonum symmetric matrix, using the upper triangle.
func (c CovarianceMatrix) Dense() *mat.SymDense {
	n := len(c.Matrix)
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, c.Matrix[i][j])
		}
	}
	return sym
}

// CorrelationPair is a pair of assets whose correlation exceeds a threshold.
type CorrelationPair struct {
	Asset1      string  `json:"asset1"`
	Asset2      string  `json:"asset2"`
	Correlation float64 `json:"correlation"`
}

// ComputeCovariance returns the annualized sample covariance of the table's
// returns over pairwise-complete observations. periodsPerYear <= 0 selects 252.
func ComputeCovariance(table *domain.PriceHistory, periodsPerYear int) (CovarianceMatrix, error) {
	return ComputeRiskModel(table, SampleCovariance, periodsPerYear)
}

// ComputeRiskModel estimates the annualized covariance with the chosen model.
// A non positive semidefinite estimate is repaired by spectral clipping.
func ComputeRiskModel(table *domain.PriceHistory, model RiskModel, periodsPerYear int) (CovarianceMatrix, error) {
	rm, err := ComputeReturns(table)
	if err != nil {
		return CovarianceMatrix{}, err
	}

	var cov [][]float64
	switch model {
	case "", SampleCovariance:
		cov, err = calculateSampleCovariance(rm)
	case LedoitWolf:
		cov, err = calculateCovarianceLedoitWolf(rm)
	case ExponentialCovariance:
		cov, err = calculateExponentialCovariance(rm, DefaultCovarianceSpan)
	default:
		return CovarianceMatrix{}, fmt.Errorf("unknown risk model: %s", model)
	}
	if err != nil {
		return CovarianceMatrix{}, err
	}

	periods := float64(periodsOrDefault(periodsPerYear))
	for i := range cov {
		for j := range cov[i] {
			cov[i][j] *= periods
		}
	}

	result := CovarianceMatrix{Assets: rm.Assets, Matrix: cov}
	if !isPositiveSemidefinite(cov) {
		fixed, err := fixNonPositiveSemidefinite(cov)
		if err != nil {
			return CovarianceMatrix{}, err
		}
		result.Matrix = fixed
		result.Repaired = true
	}

	return result, nil
}

// calculateSampleCovariance calculates the sample covariance matrix from returns.
// Each pair uses only the periods where both assets have a return.
func calculateSampleCovariance(rm ReturnMatrix) ([][]float64, error) {
	n := len(rm.Assets)
	if n == 0 {
		return nil, fmt.Errorf("%w: no assets provided", domain.ErrInsufficientData)
	}

	covMatrix := make([][]float64, n)
	for i := range covMatrix {
		covMatrix[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			colI, colJ := formulas.PairwiseComplete(rm.Returns[rm.Assets[i]], rm.Returns[rm.Assets[j]])
			if len(colI) < 2 {
				return nil, fmt.Errorf("%w: assets %s and %s share %d returns, need at least 2",
					domain.ErrInsufficientData, rm.Assets[i], rm.Assets[j], len(colI))
			}

			// Sample covariance, N-1 denominator
			cov := stat.Covariance(colI, colJ, nil)
			covMatrix[i][j] = cov
			if i != j {
				covMatrix[j][i] = cov // Symmetry
			}
		}
	}

	return covMatrix, nil
}

// applyLedoitWolfShrinkage shrinks a sample covariance matrix towards a
// constant correlation target to improve estimation quality with limited data.
//
// Reference: Ledoit, O., & Wolf, M. (2004). "A well-conditioned estimator for large-dimensional covariance matrices"
func applyLedoitWolfShrinkage(sampleCov [][]float64) ([][]float64, error) {
	n := len(sampleCov)
	if n == 0 {
		return nil, fmt.Errorf("empty covariance matrix")
	}
	if n == 1 {
		return [][]float64{{sampleCov[0][0]}}, nil
	}

	// Target: average correlation applied to each pair of volatilities
	stdDevs := make([]float64, n)
	for i := 0; i < n; i++ {
		stdDevs[i] = math.Sqrt(math.Max(sampleCov[i][i], 0))
	}

	var avgCorr float64
	pairs := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if stdDevs[i] > 0 && stdDevs[j] > 0 {
				avgCorr += sampleCov[i][j] / (stdDevs[i] * stdDevs[j])
				pairs++
			}
		}
	}
	if pairs > 0 {
		avgCorr /= float64(pairs)
	}

	target := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		target.SetSym(i, i, sampleCov[i][i])
		for j := i + 1; j < n; j++ {
			target.SetSym(i, j, avgCorr*stdDevs[i]*stdDevs[j])
		}
	}

	// Simplified intensity: dispersion of the sample entries against their
	// distance from the target, capped at 50%.
	shrinkage := 0.2
	var sumSqDiff, sumSample, sumSqSample float64
	count := float64(n * n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			diff := sampleCov[i][j] - target.At(i, j)
			sumSqDiff += diff * diff
			sumSample += sampleCov[i][j]
			sumSqSample += sampleCov[i][j] * sampleCov[i][j]
		}
	}
	meanSqDiff := sumSqDiff / count
	meanSample := sumSample / count
	varSample := sumSqSample/count - meanSample*meanSample
	if varSample > 0 && meanSqDiff > 0 {
		shrinkage = math.Min(0.5, math.Max(0.0, varSample/(varSample+meanSqDiff)))
	}

	// Σ_shrunk = (1-δ) * Σ_sample + δ * Σ_target
	shrunk := make([][]float64, n)
	for i := 0; i < n; i++ {
		shrunk[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			shrunk[i][j] = (1-shrinkage)*sampleCov[i][j] + shrinkage*target.At(i, j)
		}
	}

	return shrunk, nil
}

// calculateCovarianceLedoitWolf calculates the covariance matrix with Ledoit-Wolf shrinkage.
func calculateCovarianceLedoitWolf(rm ReturnMatrix) ([][]float64, error) {
	sampleCov, err := calculateSampleCovariance(rm)
	if err != nil {
		return nil, err
	}

	shrunkCov, err := applyLedoitWolfShrinkage(sampleCov)
	if err != nil {
		return nil, fmt.Errorf("failed to apply Ledoit-Wolf shrinkage: %w", err)
	}

	return shrunkCov, nil
}

// exponentialWeights returns normalized observation weights (oldest -> newest)
// decaying with smoothing factor 2/(span+1).
func exponentialWeights(count, span int) []float64 {
	alpha := 2.0 / (float64(span) + 1.0)
	weights := make([]float64, count)
	sum := 0.0
	for i := 0; i < count; i++ {
		age := float64(count - 1 - i) // 0 for newest
		weights[i] = math.Pow(1-alpha, age)
		sum += weights[i]
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights
}

// calculateExponentialCovariance computes an exponentially weighted covariance
// per asset pair over their common periods. Uses the effective-sample
// correction: denom = 1 - sum(w^2).
func calculateExponentialCovariance(rm ReturnMatrix, span int) ([][]float64, error) {
	n := len(rm.Assets)
	if n == 0 {
		return nil, fmt.Errorf("%w: no assets provided", domain.ErrInsufficientData)
	}

	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			ri, rj := formulas.PairwiseComplete(rm.Returns[rm.Assets[i]], rm.Returns[rm.Assets[j]])
			if len(ri) < 2 {
				return nil, fmt.Errorf("%w: assets %s and %s share %d returns, need at least 2",
					domain.ErrInsufficientData, rm.Assets[i], rm.Assets[j], len(ri))
			}
			val, err := weightedCovariance(ri, rj, exponentialWeights(len(ri), span))
			if err != nil {
				return nil, fmt.Errorf("assets %s and %s: %w", rm.Assets[i], rm.Assets[j], err)
			}
			cov[i][j] = val
			cov[j][i] = val
		}
	}

	return cov, nil
}

func weightedCovariance(x, y, weights []float64) (float64, error) {
	var muX, muY, sumW2 float64
	for k, w := range weights {
		muX += w * x[k]
		muY += w * y[k]
		sumW2 += w * w
	}
	denom := 1.0 - sumW2
	if denom <= 0 {
		return 0, fmt.Errorf("%w: invalid effective-sample denominator %v", domain.ErrInsufficientData, denom)
	}

	s := 0.0
	for k, w := range weights {
		s += w * (x[k] - muX) * (y[k] - muY)
	}
	return s / denom, nil
}

// HighCorrelations extracts pairs whose absolute correlation is at least threshold.
func HighCorrelations(cov CovarianceMatrix, threshold float64) []CorrelationPair {
	correlations := make([]CorrelationPair, 0)
	n := cov.Size()

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			vi, vj := cov.At(i, i), cov.At(j, j)
			if vi <= 0 || vj <= 0 {
				continue
			}
			correlation := cov.At(i, j) / math.Sqrt(vi*vj)
			if math.Abs(correlation) >= threshold {
				correlations = append(correlations, CorrelationPair{
					Asset1:      cov.Assets[i],
					Asset2:      cov.Assets[j],
					Correlation: correlation,
				})
			}
		}
	}

	return correlations
}

// validateCovariance checks that sigma is usable by the optimizer.
func validateCovariance(sigma CovarianceMatrix) error {
	n := len(sigma.Assets)
	if len(sigma.Matrix) != n {
		return fmt.Errorf("%w: covariance matrix size %d doesn't match asset count %d", domain.ErrDimensionMismatch, len(sigma.Matrix), n)
	}
	for i := range sigma.Matrix {
		if len(sigma.Matrix[i]) != n {
			return fmt.Errorf("%w: covariance matrix row %d has size %d, expected %d", domain.ErrDimensionMismatch, i, len(sigma.Matrix[i]), n)
		}
	}

	scale := 1.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := sigma.Matrix[i][j]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: entry (%s, %s) is not finite", domain.ErrIllConditionedCovariance, sigma.Assets[i], sigma.Assets[j])
			}
			scale = math.Max(scale, math.Abs(v))
		}
	}

	for i := 0; i < n; i++ {
		if sigma.Matrix[i][i] < 0 {
			return fmt.Errorf("%w: negative variance for %s", domain.ErrIllConditionedCovariance, sigma.Assets[i])
		}
		for j := i + 1; j < n; j++ {
			if math.Abs(sigma.Matrix[i][j]-sigma.Matrix[j][i]) > 1e-9*scale {
				return fmt.Errorf("%w: not symmetric at (%s, %s)", domain.ErrIllConditionedCovariance, sigma.Assets[i], sigma.Assets[j])
			}
		}
	}

	if !isPositiveSemidefinite(sigma.Matrix) {
		return fmt.Errorf("%w: matrix is not positive semidefinite", domain.ErrIllConditionedCovariance)
	}

	return nil
}

func minEigenvalue(cov [][]float64) (float64, bool) {
	var eig mat.EigenSym
	if !eig.Factorize(CovarianceMatrix{Matrix: cov}.Dense(), false) {
		return 0, false
	}
	values := eig.Values(nil)
	lowest := math.Inf(1)
	for _, v := range values {
		lowest = math.Min(lowest, v)
	}
	return lowest, true
}

func isPositiveSemidefinite(cov [][]float64) bool {
	if len(cov) == 0 {
		return true
	}
	lowest, ok := minEigenvalue(cov)
	if !ok {
		return false
	}
	scale := 1.0
	for i := range cov {
		scale = math.Max(scale, math.Abs(cov[i][i]))
	}
	return lowest >= -psdTolerance*scale
}

// fixNonPositiveSemidefinite clips negative eigenvalues to zero and rebuilds
// the matrix: V diag(max(λ, 0)) Vᵗ.
func fixNonPositiveSemidefinite(cov [][]float64) ([][]float64, error) {
	n := len(cov)
	var eig mat.EigenSym
	if !eig.Factorize(CovarianceMatrix{Matrix: cov}.Dense(), true) {
		return nil, fmt.Errorf("%w: eigendecomposition failed", domain.ErrIllConditionedCovariance)
	}

	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	clipped := mat.NewDiagDense(n, nil)
	for i, v := range values {
		clipped.SetDiag(i, math.Max(v, 0))
	}

	var scaled, rebuilt mat.Dense
	scaled.Mul(&vectors, clipped)
	rebuilt.Mul(&scaled, vectors.T())

	fixed := make([][]float64, n)
	for i := 0; i < n; i++ {
		fixed[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := (rebuilt.At(i, j) + rebuilt.At(j, i)) / 2
			fixed[i][j] = v
			fixed[j][i] = v
		}
	}
	return fixed, nil
}
