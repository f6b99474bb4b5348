// Package grid holds the mixed-dimensional grid contract consumed by the AD
// engine: subdomains, mortar interfaces, their per-entity state stores, and
// the ordered registry that fixes entity enumeration for the lifetime of a
// simulation. Geometry and fracture-intersection computation live outside;
// this package only carries the topology the engine needs.
package grid

// MixedDimGrid is the ordered registry of all entities. Insertion order is
// identity-defining: the DOF layout, grid operators and assembly all depend
// on Entities() returning the same sequence for the whole simulation, so
// entities can only be appended and only before any bookkeeping is built on
// top of the grid.
type MixedDimGrid struct {
	subdomains []*Subdomain
	interfaces []*Interface
	nextID     int
}

func NewMixedDimGrid() *MixedDimGrid {
	return &MixedDimGrid{}
}

// AddSubdomain registers sd and assigns its ID. A subdomain can belong to
// one grid only.
func (g *MixedDimGrid) AddSubdomain(sd *Subdomain) *Subdomain {
	if sd.id >= 0 {
		panic("grid: subdomain already belongs to a grid")
	}
	sd.id = g.nextID
	g.nextID++
	g.subdomains = append(g.subdomains, sd)
	return sd
}

// AddInterface registers intf and assigns its ID. Both coupled subdomains
// must already be part of this grid.
func (g *MixedDimGrid) AddInterface(intf *Interface) *Interface {
	if intf.id >= 0 {
		panic("grid: interface already belongs to a grid")
	}
	if intf.primary.id < 0 || intf.secondary.id < 0 {
		panic("grid: interface references subdomains not in this grid")
	}
	intf.id = g.nextID
	g.nextID++
	g.interfaces = append(g.interfaces, intf)
	return intf
}

func (g *MixedDimGrid) Subdomains() []*Subdomain { return g.subdomains }
func (g *MixedDimGrid) Interfaces() []*Interface { return g.interfaces }

// Entities enumerates subdomains first, then interfaces, each in insertion
// order. This is the canonical ordering everything downstream keys on.
func (g *MixedDimGrid) Entities() []Entity {
	out := make([]Entity, 0, len(g.subdomains)+len(g.interfaces))
	for _, sd := range g.subdomains {
		out = append(out, sd)
	}
	for _, intf := range g.interfaces {
		out = append(out, intf)
	}
	return out
}

func (g *MixedDimGrid) NumEntities() int {
	return len(g.subdomains) + len(g.interfaces)
}
