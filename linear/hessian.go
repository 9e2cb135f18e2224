package linear

import (
	"github.com/hupe1980/isamgo/ordering"
	"gonum.org/v1/gonum/mat"
)

// HessianFactor is an information form linear factor ½δᵀHδ − gᵀδ over block
// partitioned variable indices. The Cholesky elimination path caches subtree
// marginals in this form.
type HessianFactor struct {
	indices []int
	dims    []int
	info    *mat.Dense // symmetric, sum(dims) square
	g       *mat.VecDense
}

// NewHessianFactor builds an information factor; info must be a symmetric
// sum(dims) square matrix and g its matching linear term.
func NewHessianFactor(indices, dims []int, info *mat.Dense, g *mat.VecDense) *HessianFactor {
	if len(indices) != len(dims) {
		panic("linear: indices/dims length mismatch")
	}
	total := 0
	for _, d := range dims {
		total += d
	}
	r, c := info.Dims()
	if r != total || c != total || g.Len() != total {
		panic("linear: information matrix shape mismatch")
	}
	return &HessianFactor{
		indices: append([]int(nil), indices...),
		dims:    append([]int(nil), dims...),
		info:    info,
		g:       g,
	}
}

// Indices implements GaussianFactor.
func (f *HessianFactor) Indices() []int { return f.indices }

// Dims implements GaussianFactor.
func (f *HessianFactor) Dims() []int { return f.dims }

// Info returns the information matrix.
func (f *HessianFactor) Info() *mat.Dense { return f.info }

// G returns the linear term.
func (f *HessianFactor) G() *mat.VecDense { return f.g }

// ColOffset returns the first row/column of the block at position pos.
func (f *HessianFactor) ColOffset(pos int) int {
	off := 0
	for i := 0; i < pos; i++ {
		off += f.dims[i]
	}
	return off
}

// PermuteIndices implements GaussianFactor.
func (f *HessianFactor) PermuteIndices(p ordering.Permutation) {
	for i, v := range f.indices {
		f.indices[i] = p[v]
	}
}

// CloneFactor implements GaussianFactor.
func (f *HessianFactor) CloneFactor() GaussianFactor {
	return &HessianFactor{
		indices: append([]int(nil), f.indices...),
		dims:    append([]int(nil), f.dims...),
		info:    mat.DenseCopyOf(f.info),
		g:       mat.VecDenseCopyOf(f.g),
	}
}
