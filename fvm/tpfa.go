// Package fvm holds finite-volume discretizations. They run once per entity
// before assembly, write their matrices into the entity's keyword-namespaced
// cache, and are referenced from equations through discretization-matrix
// leaves.
package fvm

import (
	"fmt"

	"github.com/james-bowman/sparse"

	"github.com/notargets/ADKernel/ad"
	"github.com/notargets/ADKernel/grid"
)

// Parameter array names TPFA reads from its keyword namespace.
const (
	ParamTransmissibility = "transmissibility"
	ParamDirichletFaces   = "dirichlet_faces"
	ParamBoundaryValues   = "bc_values"
)

// Matrix names TPFA caches, addressed via ad.MatrixKey with the keyword.
const (
	MatrixFlux      = "flux"
	MatrixBoundFlux = "bound_flux"
)

// TPFA is the two-point flux approximation for cell-centered scalar
// problems. For a subdomain it turns per-face transmissibilities into a
// faces x cells "flux" matrix mapping cell potentials to face fluxes, plus a
// faces x faces "bound_flux" matrix mapping boundary values to their flux
// contribution, so that the discrete flux is
//
//	q = flux * p + bound_flux * bc_values.
//
// Interior face f between cells i and j with signs s_i = -s_j gives
// q_f = T_f (p_i - p_j) oriented along the face normal. Boundary faces are
// Dirichlet when flagged in "dirichlet_faces" and Neumann otherwise; a
// Neumann bc_value is the prescribed flux itself.
type TPFA struct {
	keyword string
}

func NewTPFA(keyword string) *TPFA {
	return &TPFA{keyword: keyword}
}

func (t *TPFA) Keyword() string { return t.keyword }

// FluxMatrix is the discretization-matrix leaf for the "flux" matrix on sd.
func (t *TPFA) FluxMatrix(sd *grid.Subdomain) *ad.Operator {
	return ad.DiscretizationMatrix(t, sd, MatrixFlux)
}

// BoundFluxMatrix is the leaf for the "bound_flux" matrix on sd.
func (t *TPFA) BoundFluxMatrix(sd *grid.Subdomain) *ad.Operator {
	return ad.DiscretizationMatrix(t, sd, MatrixBoundFlux)
}

// Discretize computes both matrices for sd and replaces any cached copies,
// keeping repeated runs idempotent.
func (t *TPFA) Discretize(e grid.Entity) error {
	sd, ok := e.(*grid.Subdomain)
	if !ok {
		return fmt.Errorf("tpfa %q: %s is not a subdomain", t.keyword, e.Name())
	}
	params := sd.State().Parameters(t.keyword)

	trans, err := params.Array(ParamTransmissibility)
	if err != nil {
		return fmt.Errorf("tpfa %q on %s: %w", t.keyword, sd.Name(), err)
	}
	if len(trans) != sd.NumFaces() {
		return fmt.Errorf("tpfa %q on %s: %d transmissibilities for %d faces",
			t.keyword, sd.Name(), len(trans), sd.NumFaces())
	}

	dirichlet := make([]bool, sd.NumFaces())
	if mask, err := params.Array(ParamDirichletFaces); err == nil {
		if len(mask) != sd.NumFaces() {
			return fmt.Errorf("tpfa %q on %s: dirichlet mask has %d entries for %d faces",
				t.keyword, sd.Name(), len(mask), sd.NumFaces())
		}
		for f, v := range mask {
			dirichlet[f] = v != 0
		}
	}

	flux := sparse.NewDOK(sd.NumFaces(), sd.NumCells())
	boundFlux := sparse.NewDOK(sd.NumFaces(), sd.NumFaces())
	for f, adj := range sd.FaceCells() {
		switch len(adj) {
		case 2:
			// Flux positive along the normal: out of the cell whose sign
			// is +1, into the one whose sign is -1.
			for _, fc := range adj {
				flux.Set(f, fc.Cell, fc.Sign*trans[f])
			}
		case 1:
			fc := adj[0]
			if dirichlet[f] {
				flux.Set(f, fc.Cell, fc.Sign*trans[f])
				boundFlux.Set(f, f, -fc.Sign*trans[f])
			} else {
				// Neumann: the boundary value is the flux.
				boundFlux.Set(f, f, 1)
			}
		default:
			return fmt.Errorf("tpfa %q on %s: face %d has %d adjacent cells",
				t.keyword, sd.Name(), f, len(adj))
		}
	}

	sd.State().SetMatrix(ad.MatrixKey(t.keyword, MatrixFlux), flux.ToCSR())
	sd.State().SetMatrix(ad.MatrixKey(t.keyword, MatrixBoundFlux), boundFlux.ToCSR())
	return nil
}
