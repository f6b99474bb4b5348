package grid

import (
	"fmt"

	"github.com/james-bowman/sparse"
)

// Entity is one node of the mixed-dimensional grid: either a subdomain of
// fixed topological dimension or a mortar interface connecting two
// subdomains one dimension apart. Entities are created by the external mesh
// layer, handed to a MixedDimGrid once, and never mutated afterwards; only
// their State store changes during a simulation.
type Entity interface {
	ID() int
	Dim() int
	// NumCells returns the number of cells for a subdomain and the number
	// of mortar cells for an interface.
	NumCells() int
	Name() string
	State() *State
}

// Subdomain is a grid of fixed dimension representing the host domain, a
// fracture, or a fracture intersection.
type Subdomain struct {
	id  int // assigned by MixedDimGrid.AddSubdomain
	dim int

	numCells int
	numFaces int

	// cellFaces is the signed cell-face incidence, NumCells x NumFaces.
	// Entry (c, f) is +1 when the normal of face f points out of cell c and
	// -1 when it points in. It doubles as the discrete divergence.
	cellFaces *sparse.CSR

	state *State
}

// NewSubdomain wraps externally generated topology. cellFaces must be
// numCells x numFaces; the constructor panics on a mismatch since that is a
// mesh-layer programming error, not a runtime condition.
func NewSubdomain(dim, numCells, numFaces int, cellFaces *sparse.CSR) *Subdomain {
	r, c := cellFaces.Dims()
	if r != numCells || c != numFaces {
		panic(fmt.Sprintf("grid: cellFaces is %dx%d, want %dx%d", r, c, numCells, numFaces))
	}
	return &Subdomain{
		id:        -1,
		dim:       dim,
		numCells:  numCells,
		numFaces:  numFaces,
		cellFaces: cellFaces,
		state:     NewState(),
	}
}

func (s *Subdomain) ID() int       { return s.id }
func (s *Subdomain) Dim() int      { return s.dim }
func (s *Subdomain) NumCells() int { return s.numCells }
func (s *Subdomain) NumFaces() int { return s.numFaces }
func (s *Subdomain) State() *State { return s.state }

// CellFaces returns the signed incidence matrix. Callers must not modify it.
func (s *Subdomain) CellFaces() *sparse.CSR { return s.cellFaces }

func (s *Subdomain) Name() string {
	return fmt.Sprintf("subdomain-%d (dim %d, %d cells)", s.id, s.dim, s.numCells)
}

// FaceCells lists, per face, the adjacent cells with the incidence sign.
// Interior faces have two entries, boundary faces one.
func (s *Subdomain) FaceCells() [][]FaceCell {
	out := make([][]FaceCell, s.numFaces)
	s.cellFaces.DoNonZero(func(c, f int, v float64) {
		out[f] = append(out[f], FaceCell{Cell: c, Sign: v})
	})
	return out
}

// FaceCell is one cell adjacent to a face, with the orientation sign of the
// face normal relative to that cell.
type FaceCell struct {
	Cell int
	Sign float64
}

// Interface is the mortar entity coupling two subdomains exactly one
// dimension apart. Each mortar cell is glued to one face of the primary
// (higher-dimensional) subdomain and one cell of the secondary
// (lower-dimensional) subdomain.
type Interface struct {
	id  int
	dim int

	numMortarCells int

	primary   *Subdomain
	secondary *Subdomain

	primaryFaces   []int     // [mortar cell] -> face index on primary
	secondaryCells []int     // [mortar cell] -> cell index on secondary
	weights        []float64 // [mortar cell] mortar cell measures (areas/volumes)

	state *State
}

// NewInterface builds a mortar interface from the glue maps produced by the
// external fracture-intersection computation. The primary must be exactly one
// dimension above the secondary.
func NewInterface(primary, secondary *Subdomain, primaryFaces, secondaryCells []int, weights []float64) (*Interface, error) {
	if primary.Dim() != secondary.Dim()+1 {
		return nil, fmt.Errorf("grid: interface requires codimension 1, got primary dim %d, secondary dim %d",
			primary.Dim(), secondary.Dim())
	}
	n := len(primaryFaces)
	if len(secondaryCells) != n {
		return nil, fmt.Errorf("grid: glue maps disagree: %d primary faces, %d secondary cells",
			n, len(secondaryCells))
	}
	if weights == nil {
		weights = make([]float64, n)
		for i := range weights {
			weights[i] = 1
		}
	} else if len(weights) != n {
		return nil, fmt.Errorf("grid: %d mortar weights for %d mortar cells", len(weights), n)
	}
	for i, f := range primaryFaces {
		if f < 0 || f >= primary.NumFaces() {
			return nil, fmt.Errorf("grid: mortar cell %d glued to face %d, primary has %d faces",
				i, f, primary.NumFaces())
		}
	}
	for i, c := range secondaryCells {
		if c < 0 || c >= secondary.NumCells() {
			return nil, fmt.Errorf("grid: mortar cell %d glued to cell %d, secondary has %d cells",
				i, c, secondary.NumCells())
		}
	}
	return &Interface{
		id:             -1,
		dim:            secondary.Dim(),
		numMortarCells: n,
		primary:        primary,
		secondary:      secondary,
		primaryFaces:   primaryFaces,
		secondaryCells: secondaryCells,
		weights:        weights,
		state:          NewState(),
	}, nil
}

func (i *Interface) ID() int                  { return i.id }
func (i *Interface) Dim() int                 { return i.dim }
func (i *Interface) NumCells() int            { return i.numMortarCells }
func (i *Interface) State() *State            { return i.state }
func (i *Interface) Primary() *Subdomain      { return i.primary }
func (i *Interface) Secondary() *Subdomain    { return i.secondary }
func (i *Interface) PrimaryFaces() []int      { return i.primaryFaces }
func (i *Interface) SecondaryCells() []int    { return i.secondaryCells }
func (i *Interface) MortarWeights() []float64 { return i.weights }

func (i *Interface) Name() string {
	return fmt.Sprintf("interface-%d (dim %d, %d mortar cells)", i.id, i.dim, i.numMortarCells)
}
