package ad

import "fmt"

// Function lifts an ordinary numeric function plus its derivative rule into
// an operator-tree node. The wrapped apply receives each argument either
// differentiable (Jacobian set) or frozen (Jacobian nil) and must handle
// both; its output is differentiable exactly when at least one input was.
// Non-smooth functions additionally carry a fixed selection rule for the
// Jacobian where the true derivative does not exist (see nonsmooth.go).
//
// Specializing a function per call site, e.g. binding a vector
// dimensionality, is plain closure application; see L2Norm for the pattern.
type Function struct {
	name  string
	apply func(args []Dual) (Dual, error)
}

// NewFunction wraps apply under a diagnostic name.
func NewFunction(name string, apply func(args []Dual) (Dual, error)) *Function {
	if apply == nil {
		panic("ad: NewFunction requires an apply rule")
	}
	return &Function{name: name, apply: apply}
}

func (f *Function) Name() string { return f.name }

// Call builds the FunctionApply node binding f to its symbolic arguments.
func (f *Function) Call(args ...*Operator) *Operator {
	return &Operator{kind: KindFunctionApply, fn: f, children: args, name: f.name}
}

// BroadcastPair stretches a length-1 value against a length-n sibling and
// returns both at the common length. Any other length combination is a
// dimension mismatch; broadcasting never guesses beyond the scalar case.
func BroadcastPair(a, b []float64) ([]float64, []float64, error) {
	switch {
	case len(a) == len(b):
		return a, b, nil
	case len(a) == 1:
		stretched := make([]float64, len(b))
		for i := range stretched {
			stretched[i] = a[0]
		}
		return stretched, b, nil
	case len(b) == 1:
		stretched := make([]float64, len(a))
		for i := range stretched {
			stretched[i] = b[0]
		}
		return a, stretched, nil
	}
	return nil, nil, fmt.Errorf("%w: cannot broadcast lengths %d and %d", ErrDimensionMismatch, len(a), len(b))
}
