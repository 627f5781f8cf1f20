package optimization

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/frontier/internal/domain"
)

func TestSolveQP_EqualityConstrained(t *testing.T) {
	// min ½(x1² + x2²) - x1 - x2  s.t. x1 + x2 = 1
	prob := qpProblem{
		P: mat.NewSymDense(2, []float64{1, 0, 0, 1}),
		q: []float64{-1, -1},
		A: mat.NewDense(1, 2, []float64{1, 1}),
		l: []float64{1},
		u: []float64{1},
	}

	sol, err := solveQP(prob, defaultQPSettings())
	require.NoError(t, err)
	assert.InDelta(t, 0.5, sol.X[0], 1e-6)
	assert.InDelta(t, 0.5, sol.X[1], 1e-6)
}

func TestSolveQP_ActiveBounds(t *testing.T) {
	// min (x1 - 2)² + x2²  s.t. x1 + x2 = 1, 0 ≤ x ≤ 1
	prob := qpProblem{
		P: mat.NewSymDense(2, []float64{2, 0, 0, 2}),
		q: []float64{-4, 0},
		A: mat.NewDense(3, 2, []float64{
			1, 1,
			1, 0,
			0, 1,
		}),
		l: []float64{1, 0, 0},
		u: []float64{1, 1, 1},
	}

	sol, err := solveQP(prob, defaultQPSettings())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sol.X[0], 1e-6)
	assert.InDelta(t, 0.0, sol.X[1], 1e-6)
}

func TestSolveQP_OneSidedRows(t *testing.T) {
	// min x1² + x2²  s.t. x1 + x2 ≥ 2
	prob := qpProblem{
		P: mat.NewSymDense(2, []float64{2, 0, 0, 2}),
		q: []float64{0, 0},
		A: mat.NewDense(1, 2, []float64{1, 1}),
		l: []float64{2},
		u: []float64{math.Inf(1)},
	}

	sol, err := solveQP(prob, defaultQPSettings())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sol.X[0], 1e-6)
	assert.InDelta(t, 1.0, sol.X[1], 1e-6)
}

func TestSolveQP_Infeasible(t *testing.T) {
	prob := qpProblem{
		P: mat.NewSymDense(2, []float64{1, 0, 0, 1}),
		q: []float64{0, 0},
		A: mat.NewDense(3, 2, []float64{
			1, 1,
			1, 0,
			0, 1,
		}),
		l: []float64{1, 0, 0},
		u: []float64{1, 0.3, 0.3},
	}

	settings := defaultQPSettings()
	settings.MaxIter = 5000

	_, err := solveQP(prob, settings)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInfeasible), "got %v", err)
}

func TestSolveQP_Validation(t *testing.T) {
	prob := qpProblem{
		P: mat.NewSymDense(2, nil),
		q: []float64{0},
		A: mat.NewDense(1, 2, []float64{1, 1}),
		l: []float64{0},
		u: []float64{1},
	}
	_, err := solveQP(prob, defaultQPSettings())
	assert.True(t, errors.Is(err, domain.ErrDimensionMismatch))

	prob.q = []float64{0, 0}
	prob.l = []float64{2}
	_, err = solveQP(prob, defaultQPSettings())
	assert.True(t, errors.Is(err, domain.ErrInfeasible))
}
