package ad

import (
	"sort"

	"github.com/james-bowman/sparse"
)

// Jacobian arithmetic is confined to this file. Everything is built on
// deterministic triplet assembly so that repeated evaluation of the same
// tree against the same state is bit-identical: triplets are sorted and
// merged before CSR construction, never accumulated in map order.

type triplet struct {
	r, c int
	v    float64
}

// csrFromTriplets assembles rows x cols from possibly duplicated,
// possibly unsorted triplets. Duplicates sum. Explicit zeros are kept out.
func csrFromTriplets(rows, cols int, ts []triplet) *sparse.CSR {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].r != ts[j].r {
			return ts[i].r < ts[j].r
		}
		return ts[i].c < ts[j].c
	})

	ia := make([]int, rows+1)
	ja := make([]int, 0, len(ts))
	data := make([]float64, 0, len(ts))

	row := 0
	for i := 0; i < len(ts); {
		j := i + 1
		v := ts[i].v
		for j < len(ts) && ts[j].r == ts[i].r && ts[j].c == ts[i].c {
			v += ts[j].v
			j++
		}
		if v != 0 {
			for row < ts[i].r {
				row++
				ia[row] = len(ja)
			}
			ja = append(ja, ts[i].c)
			data = append(data, v)
		}
		i = j
	}
	for row < rows {
		row++
		ia[row] = len(ja)
	}
	return sparse.NewCSR(rows, cols, ia, ja, data)
}

func collectTriplets(m *sparse.CSR, scale float64, into []triplet) []triplet {
	m.DoNonZero(func(i, j int, v float64) {
		into = append(into, triplet{i, j, scale * v})
	})
	return into
}

// addCSR returns a + sb*b.
func addCSR(a, b *sparse.CSR, sb float64) *sparse.CSR {
	rows, cols := a.Dims()
	ts := make([]triplet, 0, a.NNZ()+b.NNZ())
	ts = collectTriplets(a, 1, ts)
	ts = collectTriplets(b, sb, ts)
	return csrFromTriplets(rows, cols, ts)
}

func scaleCSR(s float64, a *sparse.CSR) *sparse.CSR {
	rows, cols := a.Dims()
	return csrFromTriplets(rows, cols, collectTriplets(a, s, nil))
}

func mulCSR(a, b *sparse.CSR) *sparse.CSR {
	var c sparse.CSR
	c.Mul(a, b)
	return &c
}

func matVec(m *sparse.CSR, v []float64) []float64 {
	rows, _ := m.Dims()
	out := make([]float64, rows)
	m.DoNonZero(func(i, j int, val float64) {
		out[i] += val * v[j]
	})
	return out
}

// identityRestriction builds the len(cols) x totalCols matrix with a unit
// entry per row at the given global column. This is the Jacobian of a
// variable leaf: the identity restricted to the variable's index range.
func identityRestriction(totalCols int, cols []int) *sparse.CSR {
	ia := make([]int, len(cols)+1)
	data := make([]float64, len(cols))
	ja := make([]int, len(cols))
	for i, c := range cols {
		ia[i+1] = i + 1
		ja[i] = c
		data[i] = 1
	}
	return sparse.NewCSR(len(cols), totalCols, ia, ja, data)
}

// rowEntries splits m into per-row (column, value) lists for row surgery in
// the non-smooth selection rules.
func rowEntries(m *sparse.CSR) [][]colVal {
	rows, _ := m.Dims()
	out := make([][]colVal, rows)
	m.DoNonZero(func(i, j int, v float64) {
		out[i] = append(out[i], colVal{j, v})
	})
	return out
}

type colVal struct {
	col int
	val float64
}

// VStack stacks row blocks that share the global column space into one
// matrix. Row order follows block order. Used by assembly to stack equation
// Jacobians.
func VStack(cols int, blocks []*sparse.CSR) *sparse.CSR {
	total := 0
	nnz := 0
	for _, b := range blocks {
		r, _ := b.Dims()
		total += r
		nnz += b.NNZ()
	}
	ts := make([]triplet, 0, nnz)
	offset := 0
	for _, b := range blocks {
		r, _ := b.Dims()
		b.DoNonZero(func(i, j int, v float64) {
			ts = append(ts, triplet{offset + i, j, v})
		})
		offset += r
	}
	return csrFromTriplets(total, cols, ts)
}

// ZeroMatrix is the all-zero rows x cols matrix, used for the Jacobian of a
// fully frozen equation block.
func ZeroMatrix(rows, cols int) *sparse.CSR {
	return csrFromTriplets(rows, cols, nil)
}
