package linear

import (
	"fmt"

	"github.com/hupe1980/isamgo/ordering"
	"gonum.org/v1/gonum/mat"
)

// JacobianFactor is the linear factor ½‖A·δ − b‖² with A partitioned into
// column blocks, one per variable index. Rows are assumed pre-whitened by the
// producing nonlinear factor.
type JacobianFactor struct {
	indices []int
	dims    []int
	a       *mat.Dense
	b       *mat.VecDense
}

// NewJacobianFactor builds a factor from the block column layout described by
// indices and dims. a must have sum(dims) columns and as many rows as b.
func NewJacobianFactor(indices, dims []int, a *mat.Dense, b *mat.VecDense) *JacobianFactor {
	if len(indices) != len(dims) {
		panic("linear: indices/dims length mismatch")
	}
	rows, cols := a.Dims()
	total := 0
	for _, d := range dims {
		total += d
	}
	if cols != total {
		panic(fmt.Sprintf("linear: jacobian has %d columns, blocks describe %d", cols, total))
	}
	if rows != b.Len() {
		panic("linear: jacobian rows and rhs length differ")
	}
	return &JacobianFactor{
		indices: append([]int(nil), indices...),
		dims:    append([]int(nil), dims...),
		a:       a,
		b:       b,
	}
}

// Indices implements GaussianFactor.
func (f *JacobianFactor) Indices() []int { return f.indices }

// Dims implements GaussianFactor.
func (f *JacobianFactor) Dims() []int { return f.dims }

// Rows returns the measurement row count.
func (f *JacobianFactor) Rows() int { r, _ := f.a.Dims(); return r }

// A returns the stacked coefficient matrix.
func (f *JacobianFactor) A() *mat.Dense { return f.a }

// B returns the right-hand side.
func (f *JacobianFactor) B() *mat.VecDense { return f.b }

// ColOffset returns the first column of the block at position pos.
func (f *JacobianFactor) ColOffset(pos int) int {
	off := 0
	for i := 0; i < pos; i++ {
		off += f.dims[i]
	}
	return off
}

// PermuteIndices implements GaussianFactor.
func (f *JacobianFactor) PermuteIndices(p ordering.Permutation) {
	for i, v := range f.indices {
		f.indices[i] = p[v]
	}
}

// CloneFactor implements GaussianFactor.
func (f *JacobianFactor) CloneFactor() GaussianFactor {
	return &JacobianFactor{
		indices: append([]int(nil), f.indices...),
		dims:    append([]int(nil), f.dims...),
		a:       mat.DenseCopyOf(f.a),
		b:       mat.VecDenseCopyOf(f.b),
	}
}
