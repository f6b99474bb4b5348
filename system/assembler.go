// Package system ties equations to the degree-of-freedom layout and turns
// them into a linear system. An Assembler holds named residual equations,
// runs every discretization they reference exactly once, and stacks their
// evaluated Jacobian blocks into the Newton matrix.
package system

import (
	"errors"
	"fmt"

	"github.com/james-bowman/sparse"

	"github.com/notargets/ADKernel/ad"
	"github.com/notargets/ADKernel/dof"
	"github.com/notargets/ADKernel/grid"
)

// ErrUnassembledEquation marks an equation that references a variable with
// no registered degrees of freedom, so its rows cannot be placed.
var ErrUnassembledEquation = errors.New("equation references unregistered variable")

type equation struct {
	name        string
	op          *ad.Operator
	entities    []grid.Entity
	rowsPerCell int
}

func (e equation) numRows() int {
	n := 0
	for _, ent := range e.entities {
		n += ent.NumCells() * e.rowsPerCell
	}
	return n
}

// Assembler collects named equations and assembles their Jacobian and
// residual against a fixed DOF layout. Row order is first-registration
// order of the equation names; re-setting a name replaces the equation but
// keeps its position, so the system block structure stays stable while a
// model is refined.
type Assembler struct {
	mgr   *dof.Manager
	order []string
	eqs   map[string]equation
}

func NewAssembler(mgr *dof.Manager) *Assembler {
	return &Assembler{
		mgr: mgr,
		eqs: make(map[string]equation),
	}
}

// SetEquation registers op as the residual named name, contributing
// rowsPerCell rows for each cell of each listed entity.
func (a *Assembler) SetEquation(name string, op *ad.Operator, entities []grid.Entity, rowsPerCell int) {
	if rowsPerCell < 1 {
		panic(fmt.Sprintf("system: equation %q has rowsPerCell %d", name, rowsPerCell))
	}
	if _, ok := a.eqs[name]; !ok {
		a.order = append(a.order, name)
	}
	a.eqs[name] = equation{name: name, op: op, entities: entities, rowsPerCell: rowsPerCell}
}

// EquationNames lists the equations in row order.
func (a *Assembler) EquationNames() []string {
	return append([]string(nil), a.order...)
}

// NumRows is the total row count of the assembled system.
func (a *Assembler) NumRows() int {
	n := 0
	for _, name := range a.order {
		n += a.eqs[name].numRows()
	}
	return n
}

// Discretize runs every discretization referenced by any equation, once per
// (discretizer, entity) pair even when several equations share it.
func (a *Assembler) Discretize() error {
	type pair struct {
		keyword  string
		entityID int
	}
	done := make(map[pair]bool)
	for _, name := range a.order {
		var err error
		a.eqs[name].op.Walk(func(o *ad.Operator) {
			if err != nil {
				return
			}
			disc, e, ok := o.DiscretizationRef()
			if !ok {
				return
			}
			k := pair{keyword: disc.Keyword(), entityID: e.ID()}
			if done[k] {
				return
			}
			done[k] = true
			if derr := disc.Discretize(e); derr != nil {
				err = fmt.Errorf("equation %q: %w", name, derr)
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// checkRegistered verifies every variable leaf of eq resolves to registered
// degrees of freedom.
func (a *Assembler) checkRegistered(eq equation) error {
	var err error
	eq.op.Walk(func(o *ad.Operator) {
		if err != nil {
			return
		}
		name, entities, ok := o.VariableRef()
		if !ok {
			return
		}
		if len(entities) == 0 {
			if len(a.mgr.VariableBlocks(name)) == 0 {
				err = fmt.Errorf("%w: %q in equation %q", ErrUnassembledEquation, name, eq.name)
			}
			return
		}
		for _, e := range entities {
			if _, ok := a.mgr.Block(name, e); !ok {
				err = fmt.Errorf("%w: %q on %s in equation %q",
					ErrUnassembledEquation, name, e.Name(), eq.name)
			}
		}
	})
	return err
}

// Assemble evaluates every equation at x and returns the Newton system
// J dx = b with b the negated residual. The first call freezes the DOF
// layout. Equations whose residual carries no Jacobian contribute zero rows
// to J, so purely frozen constraints still occupy their block.
func (a *Assembler) Assemble(x []float64) (*sparse.CSR, []float64, error) {
	if err := a.mgr.CheckOrdering(); err != nil {
		return nil, nil, err
	}
	if len(x) != a.mgr.NumDofs() {
		return nil, nil, fmt.Errorf("%w: state has %d entries, layout has %d dofs",
			ad.ErrDimensionMismatch, len(x), a.mgr.NumDofs())
	}
	cols := a.mgr.NumDofs()

	blocks := make([]*sparse.CSR, 0, len(a.order))
	b := make([]float64, 0, a.NumRows())
	for _, name := range a.order {
		eq := a.eqs[name]
		if err := a.checkRegistered(eq); err != nil {
			return nil, nil, err
		}
		res, err := ad.Evaluate(eq.op, a.mgr, x)
		if err != nil {
			return nil, nil, fmt.Errorf("equation %q: %w", name, err)
		}
		if want := eq.numRows(); res.Len() != want {
			return nil, nil, fmt.Errorf("%w: equation %q yields %d rows, declared %d",
				ad.ErrDimensionMismatch, name, res.Len(), want)
		}
		for _, v := range res.Val {
			b = append(b, -v)
		}
		if res.Differentiable() {
			blocks = append(blocks, res.Jac)
		} else {
			blocks = append(blocks, ad.ZeroMatrix(res.Len(), cols))
		}
	}

	a.mgr.Freeze()
	return ad.VStack(cols, blocks), b, nil
}

// Distribute adds the solved increment onto the stored entity states.
func (a *Assembler) Distribute(increment []float64) error {
	return a.mgr.Distribute(increment)
}
