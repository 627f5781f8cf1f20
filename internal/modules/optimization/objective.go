package optimization

import (
	"fmt"
	"math"
)

// ObjectiveKind names an optimization objective.
type ObjectiveKind string

const (
	KindMaxSharpe           ObjectiveKind = "max_sharpe"
	KindMinVolatility       ObjectiveKind = "min_volatility"
	KindTargetReturn        ObjectiveKind = "efficient_return"
	KindTargetRisk          ObjectiveKind = "efficient_risk"
	KindMaxQuadraticUtility ObjectiveKind = "max_quadratic_utility"
)

// DefaultRiskAversion is the δ used by MaxQuadraticUtility when none is given.
const DefaultRiskAversion = 1.0

// Objective is a tagged optimization goal. Target holds the required return
// for efficient_return, the volatility cap for efficient_risk and the risk
// aversion for max_quadratic_utility; it is unused otherwise.
type Objective struct {
	Kind   ObjectiveKind `json:"kind"`
	Target float64       `json:"target,omitempty"`
}

// MaxSharpe maximizes (wᵗμ - rf) / sqrt(wᵗΣw).
func MaxSharpe() Objective { return Objective{Kind: KindMaxSharpe} }

// MinVolatility minimizes wᵗΣw.
func MinVolatility() Objective { return Objective{Kind: KindMinVolatility} }

// TargetReturn minimizes wᵗΣw subject to wᵗμ >= r.
func TargetReturn(r float64) Objective { return Objective{Kind: KindTargetReturn, Target: r} }

// TargetRisk maximizes wᵗμ subject to sqrt(wᵗΣw) <= s.
func TargetRisk(s float64) Objective { return Objective{Kind: KindTargetRisk, Target: s} }

// MaxQuadraticUtility maximizes wᵗμ - δ/2 wᵗΣw.
func MaxQuadraticUtility(delta float64) Objective {
	return Objective{Kind: KindMaxQuadraticUtility, Target: delta}
}

func (o Objective) String() string {
	switch o.Kind {
	case KindTargetReturn, KindTargetRisk, KindMaxQuadraticUtility:
		return fmt.Sprintf("%s(%g)", o.Kind, o.Target)
	default:
		return string(o.Kind)
	}
}

// Validate checks the objective parameter.
func (o Objective) Validate() error {
	if math.IsNaN(o.Target) || math.IsInf(o.Target, 0) {
		return fmt.Errorf("objective %s: target must be finite", o.Kind)
	}
	switch o.Kind {
	case KindMaxSharpe, KindMinVolatility, KindTargetReturn:
		return nil
	case KindTargetRisk:
		if o.Target <= 0 {
			return fmt.Errorf("objective %s: target volatility must be positive, got %g", o.Kind, o.Target)
		}
		return nil
	case KindMaxQuadraticUtility:
		if o.Target <= 0 {
			return fmt.Errorf("objective %s: risk aversion must be positive, got %g", o.Kind, o.Target)
		}
		return nil
	default:
		return fmt.Errorf("unknown objective: %s", o.Kind)
	}
}

// ParseObjective builds an objective from its name and parameter. An empty
// name selects max_sharpe; a zero risk aversion selects the default.
func ParseObjective(kind string, target float64) (Objective, error) {
	var o Objective
	switch ObjectiveKind(kind) {
	case "", KindMaxSharpe:
		o = MaxSharpe()
	case KindMinVolatility:
		o = MinVolatility()
	case KindTargetReturn:
		o = TargetReturn(target)
	case KindTargetRisk:
		o = TargetRisk(target)
	case KindMaxQuadraticUtility:
		if target == 0 {
			target = DefaultRiskAversion
		}
		o = MaxQuadraticUtility(target)
	default:
		return Objective{}, fmt.Errorf("unknown objective: %s", kind)
	}
	return o, o.Validate()
}
