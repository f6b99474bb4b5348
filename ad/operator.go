// Package ad is the symbolic core of the engine: an immutable operator tree
// describing a residual computation, and the evaluation pass that walks it
// bottom-up producing a value and a global sparse Jacobian by chain rule.
// Trees are recipes, not results: building one touches no numeric data, and
// the same tree can be evaluated any number of times.
package ad

import (
	"errors"
	"fmt"

	"github.com/james-bowman/sparse"

	"github.com/notargets/ADKernel/grid"
)

// ErrDimensionMismatch reports incompatible operand shapes in a sum,
// difference or matrix application. It always names both operands.
var ErrDimensionMismatch = errors.New("operand dimension mismatch")

// Kind tags an Operator node.
type Kind uint8

const (
	KindVariable Kind = iota
	KindMatrixRef
	KindConstant
	KindExternal
	KindSum
	KindDifference
	KindScalarProduct
	KindMatrixApply
	KindFunctionApply
)

func (k Kind) String() string {
	switch k {
	case KindVariable:
		return "variable"
	case KindMatrixRef:
		return "matrix"
	case KindConstant:
		return "constant"
	case KindExternal:
		return "external"
	case KindSum:
		return "sum"
	case KindDifference:
		return "difference"
	case KindScalarProduct:
		return "scalar product"
	case KindMatrixApply:
		return "matrix apply"
	case KindFunctionApply:
		return "function apply"
	}
	return "unknown"
}

// MatrixSource yields the numeric matrix behind a matrix leaf at evaluation
// time. Grid operators hold their matrix directly; discretization references
// read the owning entity's cache.
type MatrixSource interface {
	Name() string
	Matrix() (*sparse.CSR, error)
}

// ValueSource yields an externally maintained frozen value at evaluation
// time, e.g. boundary values set under a parameter keyword.
type ValueSource interface {
	Name() string
	Values() ([]float64, error)
}

// Discretizer is an external discretization routine. Discretize computes the
// routine's named matrices for one entity and stores them in the entity's
// cache under keys built with MatrixKey. Repeated calls must overwrite, not
// accumulate, so discretization stays idempotent.
type Discretizer interface {
	Keyword() string
	Discretize(e grid.Entity) error
}

// MatrixKey is the cache key a Discretizer stores matrix under.
func MatrixKey(keyword, matrix string) string {
	return keyword + "_" + matrix
}

// Operator is one immutable node of an expression tree. Construct trees with
// the combinators below; nodes are never mutated after construction and may
// be shared between trees.
type Operator struct {
	kind     Kind
	name     string // optional, diagnostics only
	children []*Operator

	// KindVariable
	variable string
	entities []grid.Entity // nil means every entity the variable is registered on
	previous bool          // previous time step; evaluates frozen

	// KindConstant
	constant []float64

	// KindScalarProduct
	scalar float64

	// KindMatrixRef
	source     MatrixSource
	disc       Discretizer // non-nil only for discretization references
	discEntity grid.Entity

	// KindExternal
	values ValueSource

	// KindFunctionApply
	fn *Function
}

// Var references a merged variable across every entity it is registered on,
// at the current iterate.
func Var(name string) *Operator {
	return &Operator{kind: KindVariable, variable: name, name: name}
}

// VarOn restricts a variable reference to the given entities.
func VarOn(name string, entities ...grid.Entity) *Operator {
	return &Operator{kind: KindVariable, variable: name, entities: entities, name: name}
}

// PrevVar references a variable's previous-time-step values. It evaluates
// frozen: the current unknowns cannot move it.
func PrevVar(name string) *Operator {
	return &Operator{kind: KindVariable, variable: name, previous: true, name: name + "(prev)"}
}

// PrevVarOn is PrevVar restricted to the given entities.
func PrevVarOn(name string, entities ...grid.Entity) *Operator {
	return &Operator{kind: KindVariable, variable: name, entities: entities, previous: true, name: name + "(prev)"}
}

// Constant wraps a fixed value vector. A length-1 constant broadcasts inside
// function application but nowhere else.
func Constant(name string, v []float64) *Operator {
	return &Operator{kind: KindConstant, constant: v, name: name}
}

// Scalar is a length-1 constant.
func Scalar(name string, s float64) *Operator {
	return Constant(name, []float64{s})
}

// Matrix wraps a MatrixSource as a frozen matrix leaf, usable only as the
// left operand of MatMul.
func Matrix(src MatrixSource) *Operator {
	return &Operator{kind: KindMatrixRef, source: src, name: src.Name()}
}

// DiscretizationMatrix references the named matrix a Discretizer caches on
// entity. The discretize pass finds these leaves, runs each (discretizer,
// entity) pair once, and evaluation then reads the cache.
func DiscretizationMatrix(disc Discretizer, e grid.Entity, matrix string) *Operator {
	name := fmt.Sprintf("%s on %s", MatrixKey(disc.Keyword(), matrix), e.Name())
	return &Operator{
		kind:       KindMatrixRef,
		source:     cacheSource{entity: e, key: MatrixKey(disc.Keyword(), matrix), name: name},
		disc:       disc,
		discEntity: e,
		name:       name,
	}
}

type cacheSource struct {
	entity grid.Entity
	key    string
	name   string
}

func (c cacheSource) Name() string { return c.name }

func (c cacheSource) Matrix() (*sparse.CSR, error) {
	m, err := c.entity.State().Matrix(c.key)
	if err != nil {
		return nil, fmt.Errorf("on %s (discretize not run?): %w", c.entity.Name(), err)
	}
	return m, nil
}

// External wraps an externally maintained value as a frozen leaf.
func External(src ValueSource) *Operator {
	return &Operator{kind: KindExternal, values: src, name: src.Name()}
}

// Add returns a + b.
func Add(a, b *Operator) *Operator {
	return &Operator{kind: KindSum, children: []*Operator{a, b}}
}

// Sub returns a - b.
func Sub(a, b *Operator) *Operator {
	return &Operator{kind: KindDifference, children: []*Operator{a, b}}
}

// Scale returns s * a for a plain scalar s.
func Scale(s float64, a *Operator) *Operator {
	return &Operator{kind: KindScalarProduct, scalar: s, children: []*Operator{a}}
}

// MatMul applies a matrix leaf to an operand. m must come from Matrix or
// DiscretizationMatrix; anything else is a tree-construction error and
// panics immediately rather than surfacing later as a numeric failure.
func MatMul(m, a *Operator) *Operator {
	if m.kind != KindMatrixRef {
		panic(fmt.Sprintf("ad: MatMul left operand must be a matrix leaf, got %s %q", m.kind, m.Label()))
	}
	return &Operator{kind: KindMatrixApply, children: []*Operator{m, a}}
}

// Named attaches a diagnostic name, returning the same node for chaining.
// Names appear only in error messages.
func (o *Operator) Named(name string) *Operator {
	o.name = name
	return o
}

// Label is the node's diagnostic name, falling back to its kind.
func (o *Operator) Label() string {
	if o.name != "" {
		return o.name
	}
	return o.kind.String()
}

// Kind returns the node tag.
func (o *Operator) Kind() Kind { return o.kind }

// Walk visits o and every descendant depth-first in construction order.
func (o *Operator) Walk(fn func(*Operator)) {
	fn(o)
	for _, c := range o.children {
		c.Walk(fn)
	}
}

// DiscretizationRef reports the (discretizer, entity) pair behind a
// discretization-matrix leaf, if o is one.
func (o *Operator) DiscretizationRef() (Discretizer, grid.Entity, bool) {
	if o.kind == KindMatrixRef && o.disc != nil {
		return o.disc, o.discEntity, true
	}
	return nil, nil, false
}

// VariableRef reports the referenced variable name and entity restriction if
// o is a variable leaf.
func (o *Operator) VariableRef() (name string, entities []grid.Entity, ok bool) {
	if o.kind != KindVariable {
		return "", nil, false
	}
	return o.variable, o.entities, true
}
