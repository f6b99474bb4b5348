package ad

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/notargets/ADKernel/dof"
	"github.com/notargets/ADKernel/grid"
)

// Evaluate walks op bottom-up against the global iterate x, combining child
// results by chain rule. It is stateless and side-effect-free: the same
// tree, state vector and caches produce bit-identical output on every call.
// Errors abort the whole evaluation; a partial Dual is never returned.
func Evaluate(op *Operator, mgr *dof.Manager, x []float64) (Dual, error) {
	if len(x) != mgr.NumDofs() {
		return Dual{}, fmt.Errorf("%w: state vector has length %d, dof layout has %d",
			ErrDimensionMismatch, len(x), mgr.NumDofs())
	}
	if err := mgr.CheckOrdering(); err != nil {
		return Dual{}, err
	}
	return evaluate(op, mgr, x)
}

func evaluate(o *Operator, mgr *dof.Manager, x []float64) (Dual, error) {
	switch o.kind {
	case KindVariable:
		return evaluateVariable(o, mgr, x)

	case KindConstant:
		return Frozen(o.constant), nil

	case KindExternal:
		v, err := o.values.Values()
		if err != nil {
			return Dual{}, fmt.Errorf("external value %q: %w", o.Label(), err)
		}
		return Frozen(v), nil

	case KindMatrixRef:
		return Dual{}, fmt.Errorf("matrix leaf %q cannot be evaluated as a vector; apply it with MatMul", o.Label())

	case KindSum, KindDifference:
		a, err := evaluate(o.children[0], mgr, x)
		if err != nil {
			return Dual{}, err
		}
		b, err := evaluate(o.children[1], mgr, x)
		if err != nil {
			return Dual{}, err
		}
		if a.Len() != b.Len() {
			return Dual{}, fmt.Errorf("%w: %q has %d entries, %q has %d",
				ErrDimensionMismatch, o.children[0].Label(), a.Len(), o.children[1].Label(), b.Len())
		}
		out := Dual{Val: make([]float64, a.Len())}
		copy(out.Val, a.Val)
		sign := 1.0
		if o.kind == KindDifference {
			sign = -1
			floats.Sub(out.Val, b.Val)
		} else {
			floats.Add(out.Val, b.Val)
		}
		switch {
		case a.Jac != nil && b.Jac != nil:
			out.Jac = addCSR(a.Jac, b.Jac, sign)
		case a.Jac != nil:
			out.Jac = a.Jac
		case b.Jac != nil:
			out.Jac = scaleCSR(sign, b.Jac)
		}
		return out, nil

	case KindScalarProduct:
		a, err := evaluate(o.children[0], mgr, x)
		if err != nil {
			return Dual{}, err
		}
		out := Dual{Val: make([]float64, a.Len())}
		copy(out.Val, a.Val)
		floats.Scale(o.scalar, out.Val)
		if a.Jac != nil {
			out.Jac = scaleCSR(o.scalar, a.Jac)
		}
		return out, nil

	case KindMatrixApply:
		m := o.children[0]
		csr, err := m.source.Matrix()
		if err != nil {
			return Dual{}, fmt.Errorf("matrix %q: %w", m.Label(), err)
		}
		a, err := evaluate(o.children[1], mgr, x)
		if err != nil {
			return Dual{}, err
		}
		rows, cols := csr.Dims()
		if cols != a.Len() {
			return Dual{}, fmt.Errorf("%w: matrix %q is %dx%d, operand %q has %d entries",
				ErrDimensionMismatch, m.Label(), rows, cols, o.children[1].Label(), a.Len())
		}
		out := Dual{Val: matVec(csr, a.Val)}
		// A linear map's chain rule is exact: the matrix is constant with
		// respect to the unknowns, so the Jacobian is just M * J.
		if a.Jac != nil {
			out.Jac = mulCSR(csr, a.Jac)
		}
		return out, nil

	case KindFunctionApply:
		args := make([]Dual, len(o.children))
		for i, c := range o.children {
			a, err := evaluate(c, mgr, x)
			if err != nil {
				return Dual{}, err
			}
			args[i] = a
		}
		res, err := o.fn.apply(args)
		if err != nil {
			return Dual{}, fmt.Errorf("function %q: %w", o.fn.Name(), err)
		}
		return res, nil
	}
	return Dual{}, fmt.Errorf("unknown operator kind %d", o.kind)
}

func evaluateVariable(o *Operator, mgr *dof.Manager, x []float64) (Dual, error) {
	blocks := mgr.VariableBlocks(o.variable)
	if o.entities != nil {
		keep := make(map[grid.Entity]bool, len(o.entities))
		for _, e := range o.entities {
			keep[e] = true
		}
		filtered := blocks[:0:0]
		for _, b := range blocks {
			if keep[b.Entity] {
				filtered = append(filtered, b)
				delete(keep, b.Entity)
			}
		}
		for e := range keep {
			return Dual{}, fmt.Errorf("%w: variable %q is not registered on %s",
				grid.ErrMissingValue, o.variable, e.Name())
		}
		blocks = filtered
	}
	if len(blocks) == 0 {
		return Dual{}, fmt.Errorf("%w: variable %q has no registered dofs", grid.ErrMissingValue, o.variable)
	}

	total := 0
	for _, b := range blocks {
		total += b.Length
	}

	if o.previous {
		val := make([]float64, 0, total)
		for _, b := range blocks {
			v, err := mgr.ValueSlice(o.variable, b.Entity, true)
			if err != nil {
				return Dual{}, err
			}
			val = append(val, v...)
		}
		return Frozen(val), nil
	}

	val := make([]float64, 0, total)
	cols := make([]int, 0, total)
	for _, b := range blocks {
		val = append(val, x[b.Offset:b.Offset+b.Length]...)
		for c := b.Offset; c < b.Offset+b.Length; c++ {
			cols = append(cols, c)
		}
	}
	return Dual{Val: val, Jac: identityRestriction(mgr.NumDofs(), cols)}, nil
}
