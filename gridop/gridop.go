// Package gridop provides the constant linear maps between DOF spaces that
// equations are built from: the discrete divergence of a subdomain,
// keyword-namespaced boundary-value access, and the projections coupling a
// subdomain to its mortar interfaces. All of them are built once from grid
// topology and never change across Newton iterations.
package gridop

import (
	"fmt"

	"github.com/james-bowman/sparse"

	"github.com/notargets/ADKernel/ad"
	"github.com/notargets/ADKernel/grid"
)

type staticSource struct {
	name string
	m    *sparse.CSR
}

func (s staticSource) Name() string                 { return s.name }
func (s staticSource) Matrix() (*sparse.CSR, error) { return s.m, nil }

// StaticMatrix wraps a prebuilt constant matrix as a matrix-leaf source.
func StaticMatrix(name string, m *sparse.CSR) ad.MatrixSource {
	return staticSource{name: name, m: m}
}

// Divergence is the signed face-to-cell map of sd: applied to a face flux
// vector it yields the net outflow per cell. It is exactly the subdomain's
// signed incidence matrix, so building it costs nothing.
func Divergence(sd *grid.Subdomain) *ad.Operator {
	return ad.Matrix(StaticMatrix(fmt.Sprintf("div on %s", sd.Name()), sd.CellFaces()))
}

type boundarySource struct {
	keyword string
	sd      *grid.Subdomain
}

func (b boundarySource) Name() string {
	return fmt.Sprintf("%s boundary values on %s", b.keyword, b.sd.Name())
}

func (b boundarySource) Values() ([]float64, error) {
	v, err := b.sd.State().Parameters(b.keyword).Array("bc_values")
	if err != nil {
		return nil, err
	}
	if len(v) != b.sd.NumFaces() {
		return nil, fmt.Errorf("%s: %d boundary values for %d faces", b.Name(), len(v), b.sd.NumFaces())
	}
	return v, nil
}

// BoundaryValues reads the externally set per-face boundary values stored
// under keyword's parameter namespace. The leaf is frozen, and the keyword
// keeps one physics' boundary data invisible to every other.
func BoundaryValues(keyword string, sd *grid.Subdomain) *ad.Operator {
	return ad.External(boundarySource{keyword: keyword, sd: sd})
}

// MortarProjections holds the eight constant projections between an
// interface's mortar cells and the two subdomains it couples. The Int
// flavors move extensive quantities (fluxes) by plain summation; the Avg
// flavors move intensive quantities (pressures) with rows normalized by
// mortar weights. Matrices are built once at construction.
type MortarProjections struct {
	intf *grid.Interface

	mortarToPrimaryInt *sparse.CSR // primary faces  x mortar cells
	mortarToPrimaryAvg *sparse.CSR
	primaryToMortarInt *sparse.CSR // mortar cells x primary faces
	primaryToMortarAvg *sparse.CSR

	mortarToSecondaryInt *sparse.CSR // secondary cells x mortar cells
	mortarToSecondaryAvg *sparse.CSR
	secondaryToMortarInt *sparse.CSR // mortar cells x secondary cells
	secondaryToMortarAvg *sparse.CSR
}

func NewMortarProjections(intf *grid.Interface) *MortarProjections {
	nm := intf.NumCells()
	w := intf.MortarWeights()

	p := &MortarProjections{intf: intf}
	p.mortarToPrimaryInt, p.mortarToPrimaryAvg, p.primaryToMortarInt, p.primaryToMortarAvg =
		buildSideProjections(intf.Primary().NumFaces(), nm, intf.PrimaryFaces(), w)
	p.mortarToSecondaryInt, p.mortarToSecondaryAvg, p.secondaryToMortarInt, p.secondaryToMortarAvg =
		buildSideProjections(intf.Secondary().NumCells(), nm, intf.SecondaryCells(), w)
	return p
}

// buildSideProjections assembles the four maps for one side of the
// interface, where glue[m] is the target index (face or cell) of mortar
// cell m and n is the number of targets.
func buildSideProjections(n, nm int, glue []int, w []float64) (fromInt, fromAvg, toInt, toAvg *sparse.CSR) {
	weightSum := make([]float64, n)
	for m, tgt := range glue {
		weightSum[tgt] += w[m]
	}

	fromIntDOK := sparse.NewDOK(n, nm)
	fromAvgDOK := sparse.NewDOK(n, nm)
	toIntDOK := sparse.NewDOK(nm, n)
	toAvgDOK := sparse.NewDOK(nm, n)
	for m, tgt := range glue {
		fromIntDOK.Set(tgt, m, 1)
		fromAvgDOK.Set(tgt, m, w[m]/weightSum[tgt])
		toIntDOK.Set(m, tgt, w[m])
		toAvgDOK.Set(m, tgt, 1)
	}
	return fromIntDOK.ToCSR(), fromAvgDOK.ToCSR(), toIntDOK.ToCSR(), toAvgDOK.ToCSR()
}

func (p *MortarProjections) leaf(flavor string, m *sparse.CSR) *ad.Operator {
	return ad.Matrix(StaticMatrix(fmt.Sprintf("%s on %s", flavor, p.intf.Name()), m))
}

// MortarToPrimaryInt sums mortar quantities onto primary faces.
func (p *MortarProjections) MortarToPrimaryInt() *ad.Operator {
	return p.leaf("mortar->primary (int)", p.mortarToPrimaryInt)
}

// MortarToPrimaryAvg averages mortar quantities onto primary faces.
func (p *MortarProjections) MortarToPrimaryAvg() *ad.Operator {
	return p.leaf("mortar->primary (avg)", p.mortarToPrimaryAvg)
}

// PrimaryToMortarInt carries integrated primary face quantities to mortar cells.
func (p *MortarProjections) PrimaryToMortarInt() *ad.Operator {
	return p.leaf("primary->mortar (int)", p.primaryToMortarInt)
}

// PrimaryToMortarAvg carries primary face values to mortar cells unchanged.
func (p *MortarProjections) PrimaryToMortarAvg() *ad.Operator {
	return p.leaf("primary->mortar (avg)", p.primaryToMortarAvg)
}

// MortarToSecondaryInt sums mortar quantities into secondary cells.
func (p *MortarProjections) MortarToSecondaryInt() *ad.Operator {
	return p.leaf("mortar->secondary (int)", p.mortarToSecondaryInt)
}

// MortarToSecondaryAvg averages mortar quantities onto secondary cells.
func (p *MortarProjections) MortarToSecondaryAvg() *ad.Operator {
	return p.leaf("mortar->secondary (avg)", p.mortarToSecondaryAvg)
}

// SecondaryToMortarInt carries integrated secondary cell quantities to mortar cells.
func (p *MortarProjections) SecondaryToMortarInt() *ad.Operator {
	return p.leaf("secondary->mortar (int)", p.secondaryToMortarInt)
}

// SecondaryToMortarAvg carries secondary cell values to mortar cells unchanged.
func (p *MortarProjections) SecondaryToMortarAvg() *ad.Operator {
	return p.leaf("secondary->mortar (avg)", p.secondaryToMortarAvg)
}
