package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/frontier/internal/domain"
)

// qpProblem is a convex quadratic program in the form
//
//	minimize   ½ xᵗPx + qᵗx
//	subject to l ≤ Ax ≤ u
//
// Equality rows have l == u. Unbounded sides use ±Inf.
type qpProblem struct {
	P *mat.SymDense
	q []float64
	A *mat.Dense
	l []float64
	u []float64
}

// qpSettings tunes the ADMM iteration.
type qpSettings struct {
	Rho        float64
	Sigma      float64
	Alpha      float64
	EpsAbs     float64
	EpsRel     float64
	MaxIter    int
	CheckEvery int
	AdaptEvery int

	// InaccurateScale relaxes the tolerances once MaxIter is reached.
	InaccurateScale float64
}

func defaultQPSettings() qpSettings {
	return qpSettings{
		Rho:        0.1,
		Sigma:      1e-6,
		Alpha:      1.6,
		EpsAbs:     1e-9,
		EpsRel:     1e-9,
		MaxIter:    50000,
		CheckEvery: 10,
		AdaptEvery: 50,

		InaccurateScale: 1e3,
	}
}

type qpSolution struct {
	X              []float64
	Iterations     int
	PrimalResidual float64
	DualResidual   float64
	// Inaccurate is set when the iteration limit was reached with residuals
	// inside a relaxed tolerance.
	Inaccurate bool
}

const (
	rhoMin        = 1e-6
	rhoMax        = 1e6
	rhoEqScale    = 1e3
	infeasibleTol = 1e-5
)

// qpSolver runs the ADMM splitting used by OSQP on small dense problems.
type qpSolver struct {
	prob     qpProblem
	settings qpSettings
	n, m     int
	rho      float64
	rhoVec   []float64
	chol     mat.Cholesky
}

// solveQP solves prob. It returns ErrInfeasible when the iterates cannot
// satisfy the constraints and ErrNotConverged when they do but the optimality
// tolerance was not reached.
func solveQP(prob qpProblem, settings qpSettings) (qpSolution, error) {
	m, cols := prob.A.Dims()
	if prob.P.SymmetricDim() != cols || len(prob.q) != cols || len(prob.l) != m || len(prob.u) != m {
		return qpSolution{}, fmt.Errorf("%w: inconsistent QP dimensions", domain.ErrDimensionMismatch)
	}
	for i := 0; i < m; i++ {
		if prob.l[i] > prob.u[i] {
			return qpSolution{}, fmt.Errorf("%w: constraint %d has lower bound above upper bound", domain.ErrInfeasible, i)
		}
	}

	s := &qpSolver{prob: prob, settings: settings, n: cols, m: m}
	if err := s.setRho(settings.Rho); err != nil {
		return qpSolution{}, err
	}
	return s.run()
}

// setRho assigns per-constraint penalties and refactors the KKT matrix
// P + σI + Aᵗ diag(ρ) A.
func (s *qpSolver) setRho(rho float64) error {
	s.rho = math.Min(math.Max(rho, rhoMin), rhoMax)
	s.rhoVec = make([]float64, s.m)
	for i := 0; i < s.m; i++ {
		lo, hi := s.prob.l[i], s.prob.u[i]
		switch {
		case math.IsInf(lo, -1) && math.IsInf(hi, 1):
			s.rhoVec[i] = rhoMin
		case hi-lo < 1e-12:
			s.rhoVec[i] = rhoEqScale * s.rho
		default:
			s.rhoVec[i] = s.rho
		}
	}

	kkt := mat.NewSymDense(s.n, nil)
	for i := 0; i < s.n; i++ {
		for j := i; j < s.n; j++ {
			v := s.prob.P.At(i, j)
			for k := 0; k < s.m; k++ {
				v += s.prob.A.At(k, i) * s.rhoVec[k] * s.prob.A.At(k, j)
			}
			if i == j {
				v += s.settings.Sigma
			}
			kkt.SetSym(i, j, v)
		}
	}

	if !s.chol.Factorize(kkt) {
		return fmt.Errorf("%w: KKT matrix is not positive definite", domain.ErrIllConditionedCovariance)
	}
	return nil
}

func (s *qpSolver) run() (qpSolution, error) {
	n, m := s.n, s.m
	st := s.settings
	x := make([]float64, n)
	z := make([]float64, m)
	y := make([]float64, m)
	zTilde := make([]float64, m)
	rhs := mat.NewVecDense(n, nil)
	xTilde := mat.NewVecDense(n, nil)

	var prim, dual float64
	for iter := 1; iter <= st.MaxIter; iter++ {
		for i := 0; i < n; i++ {
			v := st.Sigma*x[i] - s.prob.q[i]
			for k := 0; k < m; k++ {
				v += s.prob.A.At(k, i) * (s.rhoVec[k]*z[k] - y[k])
			}
			rhs.SetVec(i, v)
		}
		if err := s.chol.SolveVecTo(xTilde, rhs); err != nil {
			return qpSolution{}, fmt.Errorf("%w: KKT solve failed: %v", domain.ErrNotConverged, err)
		}

		for k := 0; k < m; k++ {
			v := 0.0
			for i := 0; i < n; i++ {
				v += s.prob.A.At(k, i) * xTilde.AtVec(i)
			}
			zTilde[k] = v
		}

		for i := 0; i < n; i++ {
			x[i] = st.Alpha*xTilde.AtVec(i) + (1-st.Alpha)*x[i]
		}
		for k := 0; k < m; k++ {
			relaxed := st.Alpha*zTilde[k] + (1-st.Alpha)*z[k]
			next := clip(relaxed+y[k]/s.rhoVec[k], s.prob.l[k], s.prob.u[k])
			y[k] += s.rhoVec[k] * (relaxed - next)
			z[k] = next
		}

		if iter%st.CheckEvery != 0 && iter != st.MaxIter {
			continue
		}

		r := s.residuals(x, z, y)
		prim, dual = r.prim, r.dual
		if prim <= r.epsPrim && dual <= r.epsDual {
			return qpSolution{X: x, Iterations: iter, PrimalResidual: prim, DualResidual: dual}, nil
		}
		if iter == st.MaxIter {
			if prim <= st.InaccurateScale*r.epsPrim && dual <= st.InaccurateScale*r.epsDual {
				return qpSolution{X: x, Iterations: iter, PrimalResidual: prim, DualResidual: dual, Inaccurate: true}, nil
			}
			break
		}

		if st.AdaptEvery > 0 && iter%st.AdaptEvery == 0 && prim > 0 && dual > 0 {
			ratio := math.Sqrt((prim / math.Max(r.primScale, 1e-30)) / (dual / math.Max(r.dualScale, 1e-30)))
			next := math.Min(math.Max(s.rho*ratio, rhoMin), rhoMax)
			if next > 5*s.rho || next < s.rho/5 {
				if err := s.setRho(next); err != nil {
					return qpSolution{}, err
				}
			}
		}
	}

	if prim > infeasibleTol {
		return qpSolution{}, fmt.Errorf("%w: constraints violated by %.3g after %d iterations", domain.ErrInfeasible, prim, st.MaxIter)
	}
	return qpSolution{}, fmt.Errorf("%w: residuals %.3g/%.3g after %d iterations", domain.ErrNotConverged, prim, dual, st.MaxIter)
}

type qpResiduals struct {
	prim, dual           float64
	epsPrim, epsDual     float64
	primScale, dualScale float64
}

func (s *qpSolver) residuals(x, z, y []float64) qpResiduals {
	n, m := s.n, s.m
	var prim, axNorm, zNorm float64
	for k := 0; k < m; k++ {
		ax := 0.0
		for i := 0; i < n; i++ {
			ax += s.prob.A.At(k, i) * x[i]
		}
		prim = math.Max(prim, math.Abs(ax-z[k]))
		axNorm = math.Max(axNorm, math.Abs(ax))
		zNorm = math.Max(zNorm, math.Abs(z[k]))
	}

	var dual, pxNorm, atyNorm, qNorm float64
	for i := 0; i < n; i++ {
		px := 0.0
		for j := 0; j < n; j++ {
			px += s.prob.P.At(i, j) * x[j]
		}
		aty := 0.0
		for k := 0; k < m; k++ {
			aty += s.prob.A.At(k, i) * y[k]
		}
		dual = math.Max(dual, math.Abs(px+s.prob.q[i]+aty))
		pxNorm = math.Max(pxNorm, math.Abs(px))
		atyNorm = math.Max(atyNorm, math.Abs(aty))
		qNorm = math.Max(qNorm, math.Abs(s.prob.q[i]))
	}

	primScale := math.Max(axNorm, zNorm)
	dualScale := math.Max(pxNorm, math.Max(atyNorm, qNorm))
	return qpResiduals{
		prim:      prim,
		dual:      dual,
		epsPrim:   s.settings.EpsAbs + s.settings.EpsRel*primScale,
		epsDual:   s.settings.EpsAbs + s.settings.EpsRel*dualScale,
		primScale: primScale,
		dualScale: dualScale,
	}
}

func clip(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
