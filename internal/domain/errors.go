package domain

import "errors"

// Error kinds surfaced by the optimization pipeline. Callers match them with
// errors.Is; the wrapping message names the offending asset or parameter.
var (
	// ErrInsufficientData means a series or asset pair has too few observations.
	ErrInsufficientData = errors.New("insufficient price data")
	// ErrInvalidPriceHistory means the price table violates its structural invariants.
	ErrInvalidPriceHistory = errors.New("invalid price history")
	// ErrIllConditionedCovariance means the covariance matrix cannot be used for optimization.
	ErrIllConditionedCovariance = errors.New("ill-conditioned covariance matrix")
	// ErrDimensionMismatch means expected returns, covariance and asset list disagree.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrInfeasible means no weight vector satisfies the constraint set.
	ErrInfeasible = errors.New("infeasible optimization problem")
	// ErrDivisionByZero means a zero-volatility portfolio made a ratio undefined.
	ErrDivisionByZero = errors.New("division by zero: portfolio volatility is zero")
	// ErrNotConverged means the solver stopped before reaching its tolerance.
	ErrNotConverged = errors.New("optimizer did not converge")
	// ErrInvalidBudget means the allocation budget is negative or not a number.
	ErrInvalidBudget = errors.New("invalid budget")
	// ErrInvalidWeights means a weight vector cannot be allocated.
	ErrInvalidWeights = errors.New("invalid weights")
	// ErrMissingPrice means a weighted asset has no usable latest price.
	ErrMissingPrice = errors.New("missing latest price")
)

// ErrorKind returns a stable snake_case name for the pipeline error wrapped in
// err, or "internal" when err is not one of them.
func ErrorKind(err error) string {
	kinds := []struct {
		err  error
		name string
	}{
		{ErrInsufficientData, "insufficient_data"},
		{ErrInvalidPriceHistory, "invalid_price_history"},
		{ErrIllConditionedCovariance, "ill_conditioned_covariance"},
		{ErrDimensionMismatch, "dimension_mismatch"},
		{ErrInfeasible, "infeasible"},
		{ErrDivisionByZero, "division_by_zero"},
		{ErrNotConverged, "not_converged"},
		{ErrInvalidBudget, "invalid_budget"},
		{ErrInvalidWeights, "invalid_weights"},
		{ErrMissingPrice, "missing_price"},
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}

// IsPipelineError reports whether err is caused by bad input or an unsolvable
// request rather than an internal fault.
func IsPipelineError(err error) bool {
	return err != nil && ErrorKind(err) != "internal"
}
