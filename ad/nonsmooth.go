package ad

import (
	"fmt"
	"math"
)

// Non-smooth building blocks. Each carries an explicit selection rule for
// the Jacobian at points where the true derivative is undefined, and the
// rule is a fixed contract: reproducibility of Newton iterations depends on
// never re-deciding these choices.

// Maximum is the elementwise maximum of two operands. The Jacobian row of
// each output entry is taken entirely from whichever operand attains the
// maximum there; at exact ties the SECOND operand's row wins. The tie-break
// is pinned by regression test and must not be "fixed".
var Maximum = NewFunction("maximum", applyMaximum)

// AbsVal is the elementwise absolute value. The Jacobian row is the input
// row scaled by sign(v); at v == 0 the sign is taken as zero, so the row is
// dropped.
var AbsVal = NewFunction("abs", applyAbs)

// L2Norm returns the elementwise Euclidean norm function for vectors of
// numComponents components per cell: input length k*numComponents, output
// length k. At a zero vector the Jacobian row is zero. The component count
// is bound at specialization, so one call site's norm never leaks its
// dimensionality into another's.
func L2Norm(numComponents int) *Function {
	if numComponents <= 0 {
		panic(fmt.Sprintf("ad: L2Norm needs a positive component count, got %d", numComponents))
	}
	name := fmt.Sprintf("l2norm[%d]", numComponents)
	return NewFunction(name, func(args []Dual) (Dual, error) {
		return applyL2Norm(numComponents, args)
	})
}

func applyMaximum(args []Dual) (Dual, error) {
	if len(args) != 2 {
		return Dual{}, fmt.Errorf("maximum takes 2 arguments, got %d", len(args))
	}
	a, b := args[0], args[1]
	av, bv, err := BroadcastPair(a.Val, b.Val)
	if err != nil {
		return Dual{}, err
	}
	n := len(av)

	val := make([]float64, n)
	pickB := make([]bool, n)
	for i := range val {
		// >= : ties select the second operand.
		if bv[i] >= av[i] {
			val[i] = bv[i]
			pickB[i] = true
		} else {
			val[i] = av[i]
		}
	}

	if a.Jac == nil && b.Jac == nil {
		return Frozen(val), nil
	}

	cols, err := commonCols(a, b)
	if err != nil {
		return Dual{}, err
	}

	var aRows, bRows [][]colVal
	if a.Jac != nil {
		aRows = rowEntries(a.Jac)
	}
	if b.Jac != nil {
		bRows = rowEntries(b.Jac)
	}

	var ts []triplet
	for i := 0; i < n; i++ {
		var src [][]colVal
		var origLen int
		if pickB[i] {
			src, origLen = bRows, len(b.Val)
		} else {
			src, origLen = aRows, len(a.Val)
		}
		if src == nil {
			continue // frozen operand selected: zero row
		}
		row := i
		if origLen == 1 {
			row = 0 // scalar operand broadcast against a vector sibling
		}
		for _, e := range src[row] {
			ts = append(ts, triplet{i, e.col, e.val})
		}
	}
	return Dual{Val: val, Jac: csrFromTriplets(n, cols, ts)}, nil
}

func applyAbs(args []Dual) (Dual, error) {
	if len(args) != 1 {
		return Dual{}, fmt.Errorf("abs takes 1 argument, got %d", len(args))
	}
	a := args[0]
	val := make([]float64, a.Len())
	for i, v := range a.Val {
		val[i] = math.Abs(v)
	}
	if a.Jac == nil {
		return Frozen(val), nil
	}
	_, cols := a.Jac.Dims()
	var ts []triplet
	a.Jac.DoNonZero(func(i, j int, v float64) {
		switch {
		case a.Val[i] > 0:
			ts = append(ts, triplet{i, j, v})
		case a.Val[i] < 0:
			ts = append(ts, triplet{i, j, -v})
			// sign(0) == 0: the row vanishes
		}
	})
	return Dual{Val: val, Jac: csrFromTriplets(a.Len(), cols, ts)}, nil
}

func applyL2Norm(nc int, args []Dual) (Dual, error) {
	if len(args) != 1 {
		return Dual{}, fmt.Errorf("l2norm takes 1 argument, got %d", len(args))
	}
	a := args[0]
	if a.Len()%nc != 0 {
		return Dual{}, fmt.Errorf("%w: %d entries do not hold vectors of %d components",
			ErrDimensionMismatch, a.Len(), nc)
	}
	k := a.Len() / nc

	val := make([]float64, k)
	for i := 0; i < k; i++ {
		s := 0.0
		for c := 0; c < nc; c++ {
			x := a.Val[i*nc+c]
			s += x * x
		}
		val[i] = math.Sqrt(s)
	}

	if a.Jac == nil {
		return Frozen(val), nil
	}

	// d|x|/dx_c = x_c / |x|, assembled as a k x (k*nc) gradient matrix and
	// chained onto the operand's Jacobian. Zero vectors get zero rows.
	var ts []triplet
	for i := 0; i < k; i++ {
		if val[i] == 0 {
			continue
		}
		for c := 0; c < nc; c++ {
			x := a.Val[i*nc+c]
			if x != 0 {
				ts = append(ts, triplet{i, i*nc + c, x / val[i]})
			}
		}
	}
	grad := csrFromTriplets(k, a.Len(), ts)
	return Dual{Val: val, Jac: mulCSR(grad, a.Jac)}, nil
}

// commonCols returns the shared global column count of the non-nil
// Jacobians of a and b.
func commonCols(a, b Dual) (int, error) {
	switch {
	case a.Jac != nil && b.Jac != nil:
		_, ca := a.Jac.Dims()
		_, cb := b.Jac.Dims()
		if ca != cb {
			return 0, fmt.Errorf("%w: Jacobians span %d and %d columns", ErrDimensionMismatch, ca, cb)
		}
		return ca, nil
	case a.Jac != nil:
		_, c := a.Jac.Dims()
		return c, nil
	default:
		_, c := b.Jac.Dims()
		return c, nil
	}
}
