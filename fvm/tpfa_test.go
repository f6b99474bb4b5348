package fvm

import (
	"testing"

	"github.com/james-bowman/sparse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/ADKernel/ad"
	"github.com/notargets/ADKernel/dof"
	"github.com/notargets/ADKernel/grid"
)

func newManagerWithPressure(t *testing.T, g *grid.MixedDimGrid, sd *grid.Subdomain) *dof.Manager {
	t.Helper()
	mgr := dof.NewManager(g)
	require.NoError(t, mgr.Register("pressure", []grid.Entity{sd}, 1))
	return mgr
}

func chainSubdomain(dim, n int) *grid.Subdomain {
	dok := sparse.NewDOK(n, n+1)
	for c := 0; c < n; c++ {
		dok.Set(c, c, -1)
		dok.Set(c, c+1, 1)
	}
	return grid.NewSubdomain(dim, n, n+1, dok.ToCSR())
}

func denseOf(t *testing.T, m *sparse.CSR) [][]float64 {
	t.Helper()
	r, c := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = make([]float64, c)
		for j := 0; j < c; j++ {
			out[i][j] = m.At(i, j)
		}
	}
	return out
}

func TestDiscretize_ChainFluxMatrix(t *testing.T) {
	sd := chainSubdomain(1, 3)
	p := sd.State().Parameters("flow")
	p.SetArray(ParamTransmissibility, []float64{2, 1, 1, 3})
	p.SetArray(ParamDirichletFaces, []float64{1, 0, 0, 0})

	tpfa := NewTPFA("flow")
	require.NoError(t, tpfa.Discretize(sd))

	flux, err := sd.State().Matrix(ad.MatrixKey("flow", MatrixFlux))
	require.NoError(t, err)
	// Face 0 is Dirichlet with sign -1, faces 1 and 2 interior, face 3
	// Neumann so its row is empty.
	assert.Equal(t, [][]float64{
		{-2, 0, 0},
		{1, -1, 0},
		{0, 1, -1},
		{0, 0, 0},
	}, denseOf(t, flux))

	boundFlux, err := sd.State().Matrix(ad.MatrixKey("flow", MatrixBoundFlux))
	require.NoError(t, err)
	assert.Equal(t, [][]float64{
		{2, 0, 0, 0},
		{0, 0, 0, 0},
		{0, 0, 0, 0},
		{0, 0, 0, 1},
	}, denseOf(t, boundFlux))
}

func TestDiscretize_Idempotent(t *testing.T) {
	sd := chainSubdomain(1, 2)
	p := sd.State().Parameters("flow")
	p.SetArray(ParamTransmissibility, []float64{1, 1, 1})
	p.SetArray(ParamDirichletFaces, []float64{1, 0, 1})

	tpfa := NewTPFA("flow")
	require.NoError(t, tpfa.Discretize(sd))
	first, err := sd.State().Matrix(ad.MatrixKey("flow", MatrixFlux))
	require.NoError(t, err)
	want := denseOf(t, first)

	require.NoError(t, tpfa.Discretize(sd))
	second, err := sd.State().Matrix(ad.MatrixKey("flow", MatrixFlux))
	require.NoError(t, err)
	assert.Equal(t, want, denseOf(t, second))
	assert.Equal(t, first.NNZ(), second.NNZ())
}

func TestDiscretize_MissingTransmissibility(t *testing.T) {
	sd := chainSubdomain(1, 2)
	err := NewTPFA("flow").Discretize(sd)
	assert.ErrorIs(t, err, grid.ErrMissingValue)
}

func TestDiscretize_LengthChecks(t *testing.T) {
	t.Run("transmissibility", func(t *testing.T) {
		sd := chainSubdomain(1, 2)
		sd.State().Parameters("flow").SetArray(ParamTransmissibility, []float64{1})
		err := NewTPFA("flow").Discretize(sd)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 transmissibilities for 3 faces")
	})
	t.Run("dirichlet mask", func(t *testing.T) {
		sd := chainSubdomain(1, 2)
		p := sd.State().Parameters("flow")
		p.SetArray(ParamTransmissibility, []float64{1, 1, 1})
		p.SetArray(ParamDirichletFaces, []float64{1})
		err := NewTPFA("flow").Discretize(sd)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "dirichlet mask has 1 entries for 3 faces")
	})
}

func TestDiscretize_RejectsInterface(t *testing.T) {
	matrix := chainSubdomain(2, 3)
	fracture := chainSubdomain(1, 2)
	intf, err := grid.NewInterface(matrix, fracture, []int{1, 2}, []int{0, 1}, nil)
	require.NoError(t, err)

	err = NewTPFA("flow").Discretize(intf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a subdomain")
}

func TestFluxMatrix_EvaluatesThroughCache(t *testing.T) {
	g := grid.NewMixedDimGrid()
	sd := chainSubdomain(1, 3)
	g.AddSubdomain(sd)

	p := sd.State().Parameters("flow")
	p.SetArray(ParamTransmissibility, []float64{2, 1, 1, 3})
	p.SetArray(ParamDirichletFaces, []float64{1, 0, 0, 0})
	p.SetArray(ParamBoundaryValues, []float64{5, 0, 0, -1})

	tpfa := NewTPFA("flow")
	require.NoError(t, tpfa.Discretize(sd))

	mgr := newManagerWithPressure(t, g, sd)
	x := []float64{4, 3, 1}
	op := ad.MatMul(tpfa.FluxMatrix(sd), ad.Var("pressure"))
	res, err := ad.Evaluate(op, mgr, x)
	require.NoError(t, err)
	// face 0: -2*4, face 1: 4-3, face 2: 3-1, face 3: Neumann zero.
	assert.Equal(t, []float64{-8, 1, 2, 0}, res.Val)
	require.True(t, res.Differentiable())
	assert.Equal(t, -2.0, res.Jac.At(0, 0))
	assert.Equal(t, 1.0, res.Jac.At(1, 0))
	assert.Equal(t, -1.0, res.Jac.At(1, 1))
}

func TestFluxMatrix_WithoutDiscretizeFails(t *testing.T) {
	g := grid.NewMixedDimGrid()
	sd := chainSubdomain(1, 3)
	g.AddSubdomain(sd)
	mgr := newManagerWithPressure(t, g, sd)

	op := ad.MatMul(NewTPFA("flow").FluxMatrix(sd), ad.Var("pressure"))
	_, err := ad.Evaluate(op, mgr, make([]float64, mgr.NumDofs()))
	assert.ErrorIs(t, err, grid.ErrMissingValue)
}
