// Package dof assigns every (variable, entity) pair a contiguous block of
// the global unknown vector and is the single source of truth for that
// layout. The block table partitions [0, NumDofs()) exactly once; nothing
// else in the engine is allowed to invent global indices.
package dof

import (
	"errors"
	"fmt"

	"github.com/notargets/ADKernel/grid"
)

var (
	// ErrDuplicateRegistration reports a second Register call for the same
	// (variable, entity) pair.
	ErrDuplicateRegistration = errors.New("duplicate dof registration")

	// ErrInconsistentOrdering reports that the grid's entity enumeration
	// changed after layout bookkeeping was built on it, or that registration
	// was attempted after the layout was frozen by assembly. Both invalidate
	// reproducibility and are fatal.
	ErrInconsistentOrdering = errors.New("inconsistent entity ordering")
)

// Block is one contiguous index range of the global vector, owned by one
// variable on one entity.
type Block struct {
	Variable string
	Entity   grid.Entity
	Offset   int
	Length   int
	PerCell  int // dofs per cell (mortar cell for interfaces)
}

// Manager owns the global DOF layout. Build the grid completely before
// constructing a Manager; the entity order observed at construction is
// snapshotted and enforced from then on.
type Manager struct {
	grid  *grid.MixedDimGrid
	order []grid.Entity // entity order snapshot, identity-compared

	blocks []Block // ordered by offset
	index  map[blockKey]int
	total  int

	frozen bool // set at first assembly; layout may not change afterwards
}

type blockKey struct {
	variable string
	entity   int
}

func NewManager(g *grid.MixedDimGrid) *Manager {
	return &Manager{
		grid:  g,
		order: g.Entities(),
		index: make(map[blockKey]int),
	}
}

// Register assigns variable the next free contiguous range on each of the
// given entities, walking them in entity-registration order regardless of
// the order of the argument slice. Each entity receives perCell dofs per
// cell. A merged variable's per-entity ranges are therefore exactly the
// concatenation of its entities in grid order.
func (m *Manager) Register(variable string, entities []grid.Entity, perCell int) error {
	if m.frozen {
		return fmt.Errorf("%w: cannot register %q after assembly froze the layout",
			ErrInconsistentOrdering, variable)
	}
	if perCell <= 0 {
		return fmt.Errorf("variable %q needs a positive block size, got %d", variable, perCell)
	}
	if err := m.CheckOrdering(); err != nil {
		return err
	}

	// Identity-keyed so an entity from a foreign grid can never alias one of
	// ours through a coincidental ID.
	requested := make(map[grid.Entity]bool, len(entities))
	for _, e := range entities {
		requested[e] = true
	}
	if len(requested) != len(entities) {
		return fmt.Errorf("%w: variable %q lists an entity twice", ErrDuplicateRegistration, variable)
	}

	// Walk the snapshot so block order follows entity order, then check
	// every requested entity was found in it.
	found := 0
	for _, e := range m.order {
		if !requested[e] {
			continue
		}
		found++
		key := blockKey{variable, e.ID()}
		if _, exists := m.index[key]; exists {
			return fmt.Errorf("%w: %q on %s", ErrDuplicateRegistration, variable, e.Name())
		}
		length := perCell * e.NumCells()
		m.index[key] = len(m.blocks)
		m.blocks = append(m.blocks, Block{
			Variable: variable,
			Entity:   e,
			Offset:   m.total,
			Length:   length,
			PerCell:  perCell,
		})
		m.total += length
	}
	if found != len(entities) {
		return fmt.Errorf("%w: variable %q references an entity outside the grid snapshot",
			ErrInconsistentOrdering, variable)
	}
	return nil
}

// NumDofs returns the size of the global unknown vector.
func (m *Manager) NumDofs() int { return m.total }

// Layout returns a copy of all blocks ordered by offset. Partial layouts
// (before every variable is registered) are legal.
func (m *Manager) Layout() []Block {
	out := make([]Block, len(m.blocks))
	copy(out, m.blocks)
	return out
}

// Block looks up the range of variable on e.
func (m *Manager) Block(variable string, e grid.Entity) (Block, bool) {
	i, ok := m.index[blockKey{variable, e.ID()}]
	if !ok {
		return Block{}, false
	}
	return m.blocks[i], true
}

// VariableBlocks returns all blocks of one merged variable, in entity order.
func (m *Manager) VariableBlocks(variable string) []Block {
	var out []Block
	for _, b := range m.blocks {
		if b.Variable == variable {
			out = append(out, b)
		}
	}
	return out
}

// ValueSlice returns the stored values of variable on e, at the current
// iterate or the previous time step.
func (m *Manager) ValueSlice(variable string, e grid.Entity, previous bool) ([]float64, error) {
	b, ok := m.Block(variable, e)
	if !ok {
		return nil, fmt.Errorf("%w: variable %q is not registered on %s",
			grid.ErrMissingValue, variable, e.Name())
	}
	var v []float64
	var err error
	if previous {
		v, err = e.State().PreviousValues(variable)
	} else {
		v, err = e.State().Values(variable)
	}
	if err != nil {
		return nil, fmt.Errorf("on %s: %w", e.Name(), err)
	}
	if len(v) != b.Length {
		return nil, fmt.Errorf("variable %q on %s stores %d values, layout expects %d",
			variable, e.Name(), len(v), b.Length)
	}
	return v, nil
}

// GlobalVector gathers the stored per-entity values of every registered
// block into one vector laid out per the block table.
func (m *Manager) GlobalVector(previous bool) ([]float64, error) {
	x := make([]float64, m.total)
	for _, b := range m.blocks {
		v, err := m.ValueSlice(b.Variable, b.Entity, previous)
		if err != nil {
			return nil, err
		}
		copy(x[b.Offset:b.Offset+b.Length], v)
	}
	return x, nil
}

// Distribute adds a solved increment into the per-entity stores. The update
// is strictly additive: the solution of the linearized system is a
// correction to existing state, never a replacement.
func (m *Manager) Distribute(increment []float64) error {
	if len(increment) != m.total {
		return fmt.Errorf("increment has length %d, layout has %d dofs", len(increment), m.total)
	}
	if err := m.CheckOrdering(); err != nil {
		return err
	}
	for _, b := range m.blocks {
		if err := b.Entity.State().AddValues(b.Variable, increment[b.Offset:b.Offset+b.Length]); err != nil {
			return fmt.Errorf("distributing to %s: %w", b.Entity.Name(), err)
		}
	}
	return nil
}

// Freeze marks the layout immutable. The assembler calls this the first
// time it assembles against the layout.
func (m *Manager) Freeze() { m.frozen = true }

// Frozen reports whether assembly has locked the layout.
func (m *Manager) Frozen() bool { return m.frozen }

// CheckOrdering verifies the grid still enumerates exactly the entities, in
// exactly the order, seen when the Manager was built. Any drift is rejected
// rather than tolerated: a reordered grid silently scrambles every block.
func (m *Manager) CheckOrdering() error {
	current := m.grid.Entities()
	if len(current) != len(m.order) {
		return fmt.Errorf("%w: grid has %d entities, layout snapshot has %d",
			ErrInconsistentOrdering, len(current), len(m.order))
	}
	for i := range current {
		if current[i] != m.order[i] {
			return fmt.Errorf("%w: entity %d is now %s, snapshot has %s",
				ErrInconsistentOrdering, i, current[i].Name(), m.order[i].Name())
		}
	}
	return nil
}
