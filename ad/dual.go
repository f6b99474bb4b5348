package ad

import "github.com/james-bowman/sparse"

// Dual is the value/Jacobian pair an Operator evaluates to. The Jacobian's
// column space is always the full global unknown vector. A nil Jacobian
// tags the value as frozen: a constant, a cached matrix product, or a
// previous-time-step quantity that the unknowns cannot move. The two cases
// are handled exhaustively everywhere; there is no runtime type sniffing.
type Dual struct {
	Val []float64
	Jac *sparse.CSR // nil when frozen
}

// Frozen wraps a plain value with an implicit zero Jacobian.
func Frozen(v []float64) Dual { return Dual{Val: v} }

// Differentiable reports whether the unknowns can move this value.
func (d Dual) Differentiable() bool { return d.Jac != nil }

// Len returns the number of entries in the value vector.
func (d Dual) Len() int { return len(d.Val) }
