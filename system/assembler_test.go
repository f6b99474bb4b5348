package system

import (
	"testing"

	"github.com/james-bowman/sparse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/ADKernel/ad"
	"github.com/notargets/ADKernel/dof"
	"github.com/notargets/ADKernel/grid"
	"github.com/notargets/ADKernel/gridop"
)

func chainSubdomain(dim, n int) *grid.Subdomain {
	dok := sparse.NewDOK(n, n+1)
	for c := 0; c < n; c++ {
		dok.Set(c, c, -1)
		dok.Set(c, c+1, 1)
	}
	return grid.NewSubdomain(dim, n, n+1, dok.ToCSR())
}

type fixture struct {
	g        *grid.MixedDimGrid
	matrix   *grid.Subdomain
	fracture *grid.Subdomain
	intf     *grid.Interface
	mgr      *dof.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	g := grid.NewMixedDimGrid()
	matrix := chainSubdomain(2, 3)
	fracture := chainSubdomain(1, 2)
	g.AddSubdomain(matrix)
	g.AddSubdomain(fracture)
	intf, err := grid.NewInterface(matrix, fracture, []int{1, 2}, []int{0, 1}, nil)
	require.NoError(t, err)
	g.AddInterface(intf)

	mgr := dof.NewManager(g)
	require.NoError(t, mgr.Register("pressure", []grid.Entity{matrix, fracture}, 1))
	require.NoError(t, mgr.Register("flux", []grid.Entity{intf}, 1))
	return &fixture{g: g, matrix: matrix, fracture: fracture, intf: intf, mgr: mgr}
}

func TestAssemble_TwoSubdomainsOneMortar(t *testing.T) {
	f := newFixture(t)
	proj := gridop.NewMortarProjections(f.intf)

	a := NewAssembler(f.mgr)
	// Matrix mass balance: divergence of the mortar flux summed onto faces.
	a.SetEquation("matrix flow",
		ad.MatMul(gridop.Divergence(f.matrix),
			ad.MatMul(proj.MortarToPrimaryInt(), ad.Var("flux"))),
		[]grid.Entity{f.matrix}, 1)
	// Fracture pressure pinned to 1.
	a.SetEquation("fracture flow",
		ad.Sub(ad.VarOn("pressure", f.fracture), ad.Constant("pinned", []float64{1, 1})),
		[]grid.Entity{f.fracture}, 1)
	// Interface law: flux equals the projected fracture pressure.
	a.SetEquation("interface flux",
		ad.Sub(ad.Var("flux"),
			ad.MatMul(proj.SecondaryToMortarAvg(), ad.VarOn("pressure", f.fracture))),
		[]grid.Entity{f.intf}, 1)

	x := []float64{1, 2, 3, 4, 5, 6, 7}
	J, b, err := a.Assemble(x)
	require.NoError(t, err)

	r, c := J.Dims()
	assert.Equal(t, 7, r)
	assert.Equal(t, 7, c)

	// Mortar fluxes (6,7) land on matrix faces 1 and 2; divergence per
	// cell gives residual (6, 1, -7). Fracture rows are p - 1, interface
	// rows are flux minus the glued fracture pressure.
	assert.Equal(t, []float64{-6, -1, 7, -3, -4, -2, -2}, b)

	// Matrix flow rows depend on the mortar flux only.
	assert.Equal(t, 1.0, J.At(0, 5))
	assert.Equal(t, -1.0, J.At(1, 5))
	assert.Equal(t, 1.0, J.At(1, 6))
	assert.Equal(t, -1.0, J.At(2, 6))
	// Fracture rows are the identity on fracture pressure.
	assert.Equal(t, 1.0, J.At(3, 3))
	assert.Equal(t, 1.0, J.At(4, 4))
	assert.Equal(t, 0.0, J.At(3, 4))
	// Interface rows couple flux and fracture pressure.
	assert.Equal(t, 1.0, J.At(5, 5))
	assert.Equal(t, -1.0, J.At(5, 3))
	assert.Equal(t, 1.0, J.At(6, 6))
	assert.Equal(t, -1.0, J.At(6, 4))

	assert.True(t, f.mgr.Frozen())
}

func TestAssemble_FrozenEquationOccupiesRows(t *testing.T) {
	f := newFixture(t)
	a := NewAssembler(f.mgr)
	a.SetEquation("constraint", ad.Constant("gap", []float64{0.5, -0.5}),
		[]grid.Entity{f.fracture}, 1)
	a.SetEquation("pressure", ad.VarOn("pressure", f.matrix),
		[]grid.Entity{f.matrix}, 1)

	x := []float64{1, 2, 3, 4, 5, 6, 7}
	J, b, err := a.Assemble(x)
	require.NoError(t, err)

	r, _ := J.Dims()
	assert.Equal(t, 5, r)
	assert.Equal(t, []float64{-0.5, 0.5, -1, -2, -3}, b)
	// The frozen block's rows are present but empty.
	for j := 0; j < 7; j++ {
		assert.Equal(t, 0.0, J.At(0, j))
		assert.Equal(t, 0.0, J.At(1, j))
	}
	assert.Equal(t, 1.0, J.At(2, 0))
}

func TestSetEquation_ReplacementKeepsPosition(t *testing.T) {
	f := newFixture(t)
	a := NewAssembler(f.mgr)
	a.SetEquation("first", ad.VarOn("pressure", f.matrix), []grid.Entity{f.matrix}, 1)
	a.SetEquation("second", ad.VarOn("pressure", f.fracture), []grid.Entity{f.fracture}, 1)
	a.SetEquation("first", ad.Scale(2, ad.VarOn("pressure", f.matrix)), []grid.Entity{f.matrix}, 1)

	assert.Equal(t, []string{"first", "second"}, a.EquationNames())

	x := []float64{1, 2, 3, 4, 5, 6, 7}
	_, b, err := a.Assemble(x)
	require.NoError(t, err)
	assert.Equal(t, []float64{-2, -4, -6, -4, -5}, b)
}

func TestAssemble_UnregisteredVariable(t *testing.T) {
	f := newFixture(t)
	a := NewAssembler(f.mgr)
	a.SetEquation("transport", ad.VarOn("concentration", f.matrix),
		[]grid.Entity{f.matrix}, 1)

	_, _, err := a.Assemble(make([]float64, f.mgr.NumDofs()))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnassembledEquation)
	assert.Contains(t, err.Error(), "concentration")
}

func TestAssemble_RowCountMismatch(t *testing.T) {
	f := newFixture(t)
	a := NewAssembler(f.mgr)
	// Declared over the matrix (3 rows) but evaluates to 2.
	a.SetEquation("bad", ad.VarOn("pressure", f.fracture), []grid.Entity{f.matrix}, 1)

	_, _, err := a.Assemble(make([]float64, f.mgr.NumDofs()))
	assert.ErrorIs(t, err, ad.ErrDimensionMismatch)
}

func TestAssemble_StateLengthChecked(t *testing.T) {
	f := newFixture(t)
	a := NewAssembler(f.mgr)
	a.SetEquation("pressure", ad.VarOn("pressure", f.matrix), []grid.Entity{f.matrix}, 1)

	_, _, err := a.Assemble(make([]float64, 3))
	assert.ErrorIs(t, err, ad.ErrDimensionMismatch)
}

func TestAssemble_FreezesLayout(t *testing.T) {
	f := newFixture(t)
	a := NewAssembler(f.mgr)
	a.SetEquation("pressure", ad.VarOn("pressure", f.matrix), []grid.Entity{f.matrix}, 1)

	_, _, err := a.Assemble(make([]float64, f.mgr.NumDofs()))
	require.NoError(t, err)
	assert.True(t, f.mgr.Frozen())
	assert.ErrorIs(t, f.mgr.Register("late", []grid.Entity{f.fracture}, 1),
		dof.ErrInconsistentOrdering)
}

type countingDisc struct {
	keyword string
	calls   *int
}

func (d countingDisc) Keyword() string { return d.keyword }

func (d countingDisc) Discretize(e grid.Entity) error {
	*d.calls++
	sd := e.(*grid.Subdomain)
	dok := sparse.NewDOK(sd.NumCells(), sd.NumCells())
	for c := 0; c < sd.NumCells(); c++ {
		dok.Set(c, c, 1)
	}
	sd.State().SetMatrix(ad.MatrixKey(d.keyword, "mass"), dok.ToCSR())
	return nil
}

func TestDiscretize_RunsEachPairOnce(t *testing.T) {
	f := newFixture(t)
	calls := 0
	disc := countingDisc{keyword: "flow", calls: &calls}

	a := NewAssembler(f.mgr)
	mass := func() *ad.Operator {
		return ad.MatMul(ad.DiscretizationMatrix(disc, f.matrix, "mass"),
			ad.VarOn("pressure", f.matrix))
	}
	// Two equations share the same (discretizer, entity) pair.
	a.SetEquation("one", mass(), []grid.Entity{f.matrix}, 1)
	a.SetEquation("two", ad.Scale(2, mass()), []grid.Entity{f.matrix}, 1)

	require.NoError(t, a.Discretize())
	assert.Equal(t, 1, calls)

	x := []float64{1, 2, 3, 4, 5, 6, 7}
	_, b, err := a.Assemble(x)
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, -2, -3, -2, -4, -6}, b)
}

func TestDistribute_AddsIncrement(t *testing.T) {
	f := newFixture(t)
	f.matrix.State().SetValues("pressure", []float64{1, 2, 3})
	f.fracture.State().SetValues("pressure", []float64{4, 5})
	f.intf.State().SetValues("flux", []float64{6, 7})

	a := NewAssembler(f.mgr)
	a.SetEquation("pressure", ad.Var("pressure"), []grid.Entity{f.matrix, f.fracture}, 1)
	_, _, err := a.Assemble(make([]float64, f.mgr.NumDofs()))
	require.NoError(t, err)

	require.NoError(t, a.Distribute([]float64{1, 1, 1, 10, 10, -1, -1}))
	got, err := f.mgr.GlobalVector(false)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3, 4, 14, 15, 5, 6}, got)
}
