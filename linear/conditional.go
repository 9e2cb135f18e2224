package linear

import (
	"github.com/hupe1980/isamgo/ordering"
	"gonum.org/v1/gonum/mat"
)

// GaussianConditional is the density P(x_f | x_s) in the square-root form
// R·δ_f + S·δ_s = d, with R upper triangular over the single frontal
// variable and S partitioned into one block per separator variable.
type GaussianConditional struct {
	frontal int
	dim     int
	parents []int
	pdims   []int
	r       *mat.Dense // dim x dim, upper triangular
	s       *mat.Dense // dim x sum(pdims); nil when there are no parents
	d       *mat.VecDense

	// Gradient contribution, computed once on first use. R, S and d never
	// change after construction, so the cache stays valid across permutes.
	gradFrontal []float64
	gradParents [][]float64
}

// NewGaussianConditional assembles a conditional. s may be nil iff parents is
// empty.
func NewGaussianConditional(frontal, dim int, parents, pdims []int, r, s *mat.Dense, d *mat.VecDense) *GaussianConditional {
	return &GaussianConditional{
		frontal: frontal,
		dim:     dim,
		parents: append([]int(nil), parents...),
		pdims:   append([]int(nil), pdims...),
		r:       r,
		s:       s,
		d:       d,
	}
}

// Frontal returns the eliminated variable's index.
func (c *GaussianConditional) Frontal() int { return c.frontal }

// Dim returns the frontal variable's local dimension.
func (c *GaussianConditional) Dim() int { return c.dim }

// Parents returns the separator indices in stored block order.
func (c *GaussianConditional) Parents() []int { return c.parents }

// ParentDims returns the separator block dimensions.
func (c *GaussianConditional) ParentDims() []int { return c.pdims }

// R returns the square-root information block of the frontal variable.
func (c *GaussianConditional) R() *mat.Dense { return c.r }

// S returns the separator coefficient blocks, or nil.
func (c *GaussianConditional) S() *mat.Dense { return c.s }

// D returns the right-hand side.
func (c *GaussianConditional) D() *mat.VecDense { return c.d }

// Solve computes δ_f = R⁻¹(d − S·δ_s), reading separator deltas from delta.
func (c *GaussianConditional) Solve(delta View) []float64 {
	rhs := make([]float64, c.dim)
	for i := range rhs {
		rhs[i] = c.d.AtVec(i)
	}
	col := 0
	for pi, p := range c.parents {
		dp := delta.At(p)
		for j := 0; j < c.pdims[pi]; j++ {
			x := dp[j]
			if x != 0 {
				for i := 0; i < c.dim; i++ {
					rhs[i] -= c.s.At(i, col+j) * x
				}
			}
		}
		col += c.pdims[pi]
	}
	backSolveUpper(c.r, rhs)
	return rhs
}

// Apply returns [R S]·δ, the conditional's rows applied to a delta view.
func (c *GaussianConditional) Apply(delta View) []float64 {
	out := make([]float64, c.dim)
	df := delta.At(c.frontal)
	for i := 0; i < c.dim; i++ {
		for j := 0; j < c.dim; j++ {
			out[i] += c.r.At(i, j) * df[j]
		}
	}
	col := 0
	for pi, p := range c.parents {
		dp := delta.At(p)
		for j := 0; j < c.pdims[pi]; j++ {
			x := dp[j]
			if x != 0 {
				for i := 0; i < c.dim; i++ {
					out[i] += c.s.At(i, col+j) * x
				}
			}
		}
		col += c.pdims[pi]
	}
	return out
}

// ErrorAt returns ½‖Rδ_f + Sδ_s − d‖² for the given delta view.
func (c *GaussianConditional) ErrorAt(delta View) float64 {
	v := c.Apply(delta)
	e := 0.0
	for i, x := range v {
		r := x - c.d.AtVec(i)
		e += r * r
	}
	return 0.5 * e
}

// GradientContribution returns the conditional's contribution to the whole
// graph gradient at the zero delta: −Rᵀd for the frontal block and −Sᵀd per
// separator block, aligned with Frontal and Parents. The blocks are cached
// on the conditional; callers must not modify them.
func (c *GaussianConditional) GradientContribution() (frontal []float64, parents [][]float64) {
	if c.gradFrontal != nil {
		return c.gradFrontal, c.gradParents
	}
	frontal = make([]float64, c.dim)
	for j := 0; j < c.dim; j++ {
		s := 0.0
		for i := 0; i < c.dim; i++ {
			s += c.r.At(i, j) * c.d.AtVec(i)
		}
		frontal[j] = -s
	}
	parents = make([][]float64, len(c.parents))
	col := 0
	for pi := range c.parents {
		pg := make([]float64, c.pdims[pi])
		for j := 0; j < c.pdims[pi]; j++ {
			s := 0.0
			for i := 0; i < c.dim; i++ {
				s += c.s.At(i, col+j) * c.d.AtVec(i)
			}
			pg[j] = -s
		}
		parents[pi] = pg
		col += c.pdims[pi]
	}
	c.gradFrontal, c.gradParents = frontal, parents
	return frontal, parents
}

// PermuteIndices relabels the frontal and separator indices through p.
func (c *GaussianConditional) PermuteIndices(p ordering.Permutation) {
	c.frontal = p[c.frontal]
	for i, v := range c.parents {
		c.parents[i] = p[v]
	}
}

// Clone returns an independent deep copy.
func (c *GaussianConditional) Clone() *GaussianConditional {
	var s *mat.Dense
	if c.s != nil {
		s = mat.DenseCopyOf(c.s)
	}
	return &GaussianConditional{
		frontal: c.frontal,
		dim:     c.dim,
		parents: append([]int(nil), c.parents...),
		pdims:   append([]int(nil), c.pdims...),
		r:       mat.DenseCopyOf(c.r),
		s:       s,
		d:       mat.VecDenseCopyOf(c.d),
	}
}

// backSolveUpper solves R·x = rhs in place for upper triangular R.
func backSolveUpper(r *mat.Dense, rhs []float64) {
	n := len(rhs)
	for i := n - 1; i >= 0; i-- {
		s := rhs[i]
		for j := i + 1; j < n; j++ {
			s -= r.At(i, j) * rhs[j]
		}
		rhs[i] = s / r.At(i, i)
	}
}

// forwardSolveLower solves Rᵀ·x = rhs in place, reading R as upper triangular.
func forwardSolveLower(r *mat.Dense, rhs []float64) {
	n := len(rhs)
	for i := 0; i < n; i++ {
		s := rhs[i]
		for j := 0; j < i; j++ {
			s -= r.At(j, i) * rhs[j]
		}
		rhs[i] = s / r.At(i, i)
	}
}
