package linear

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gonum.org/v1/gonum/mat"

	"github.com/hupe1980/isamgo/ordering"
)

// twoVarChain builds the scalar system
//
//	x0 = 1        (prior)
//	x1 - x0 = 2   (odometry)
//
// whose exact solution is x0 = 1, x1 = 3.
func twoVarChain() []GaussianFactor {
	prior := NewJacobianFactor(
		[]int{0}, []int{1},
		mat.NewDense(1, 1, []float64{1}),
		mat.NewVecDense(1, []float64{1}),
	)
	between := NewJacobianFactor(
		[]int{0, 1}, []int{1, 1},
		mat.NewDense(1, 2, []float64{-1, 1}),
		mat.NewVecDense(1, []float64{2}),
	)
	return []GaussianFactor{prior, between}
}

// solveElimination back-substitutes the conditionals in reverse elimination
// order, assuming variables are labeled 0..n-1.
func solveElimination(t *testing.T, elim *Elimination) *VectorValues {
	t.Helper()

	dims := make(map[int]int)
	for _, c := range elim.Conditionals {
		dims[c.Frontal()] = c.Dim()
	}
	out := NewVectorValues()
	for v := 0; v < len(dims); v++ {
		out.Append(dims[v])
	}
	for k := len(elim.Conditionals) - 1; k >= 0; k-- {
		c := elim.Conditionals[k]
		out.Set(c.Frontal(), c.Solve(out))
	}
	return out
}

func TestEliminateScalarChain(t *testing.T) {
	for _, method := range []Method{Cholesky, QR} {
		t.Run(method.String(), func(t *testing.T) {
			elim, err := Eliminate(twoVarChain(), []int{0, 1}, method)
			require.NoError(t, err)
			require.Len(t, elim.Conditionals, 2)

			out := solveElimination(t, elim)
			assert.InDelta(t, 1.0, out.At(0)[0], 1e-9)
			assert.InDelta(t, 3.0, out.At(1)[0], 1e-9)

			// Eliminating x0 leaves a unit-information marginal on x1.
			assert.NotNil(t, elim.Remainders[0])
			assert.Nil(t, elim.Remainders[1])
		})
	}
}

func TestEliminateMethodsAgree(t *testing.T) {
	build := func() []GaussianFactor {
		f0 := NewJacobianFactor(
			[]int{0}, []int{2},
			mat.NewDense(2, 2, []float64{
				2, 0.1,
				0, 1.5,
			}),
			mat.NewVecDense(2, []float64{0.3, -0.2}),
		)
		f1 := NewJacobianFactor(
			[]int{0, 1}, []int{2, 1},
			mat.NewDense(2, 3, []float64{
				-1, 0, 1,
				0, -1, 0.5,
			}),
			mat.NewVecDense(2, []float64{1.0, 0.25}),
		)
		f2 := NewJacobianFactor(
			[]int{1, 2}, []int{1, 2},
			mat.NewDense(2, 3, []float64{
				-2, 1, 0,
				1, 0, 1,
			}),
			mat.NewVecDense(2, []float64{0.5, -0.75}),
		)
		return []GaussianFactor{f0, f1, f2}
	}

	chol, err := Eliminate(build(), []int{0, 1, 2}, Cholesky)
	require.NoError(t, err)
	qr, err := Eliminate(build(), []int{0, 1, 2}, QR)
	require.NoError(t, err)

	outChol := solveElimination(t, chol)
	outQR := solveElimination(t, qr)
	for v := 0; v < 3; v++ {
		require.Equal(t, outChol.Dim(v), outQR.Dim(v))
		for j := 0; j < outChol.Dim(v); j++ {
			assert.InDelta(t, outChol.At(v)[j], outQR.At(v)[j], 1e-8)
		}
	}
}

func TestEliminateGradientMatchesNormalEquations(t *testing.T) {
	factors := twoVarChain()
	elim, err := Eliminate(twoVarChain(), []int{0, 1}, Cholesky)
	require.NoError(t, err)

	// The gradient at zero of the square-root form must equal -A'b of the
	// stacked Jacobian system.
	grad := make([]float64, 2)
	for _, c := range elim.Conditionals {
		fg, pgs := c.GradientContribution()
		grad[c.Frontal()] += fg[0]
		for pi, p := range c.Parents() {
			grad[p] += pgs[pi][0]
		}
	}

	expected := make([]float64, 2)
	for _, f := range factors {
		jf := f.(*JacobianFactor)
		for bi, v := range jf.Indices() {
			col := jf.ColOffset(bi)
			for r := 0; r < jf.Rows(); r++ {
				expected[v] -= jf.A().At(r, col) * jf.B().AtVec(r)
			}
		}
	}

	for v := range expected {
		assert.InDelta(t, expected[v], grad[v], 1e-9)
	}
}

func TestGradientContributionStable(t *testing.T) {
	elim, err := Eliminate(twoVarChain(), []int{0, 1}, Cholesky)
	require.NoError(t, err)
	c := elim.Conditionals[0]

	fg1, pgs1 := c.GradientContribution()
	fg2, pgs2 := c.GradientContribution()

	// Repeated calls hand back the cached blocks instead of recomputing.
	assert.Same(t, &fg1[0], &fg2[0])
	assert.Equal(t, fg1, fg2)
	assert.Equal(t, pgs1, pgs2)

	// Relabeling leaves the block values alone, so the cache survives it.
	c.PermuteIndices(ordering.Permutation{1, 0})
	fg3, _ := c.GradientContribution()
	assert.Equal(t, fg1, fg3)
}

func TestEliminateIndeterminate(t *testing.T) {
	prior := NewJacobianFactor(
		[]int{0}, []int{1},
		mat.NewDense(1, 1, []float64{1}),
		mat.NewVecDense(1, []float64{1}),
	)

	for _, method := range []Method{Cholesky, QR} {
		t.Run(method.String(), func(t *testing.T) {
			_, err := Eliminate([]GaussianFactor{prior}, []int{0, 1}, method)
			require.Error(t, err)

			var ind *ErrIndeterminateSystem
			require.ErrorAs(t, err, &ind)
			assert.Equal(t, 1, ind.Variable)
		})
	}
}

func TestEliminateZeroInformation(t *testing.T) {
	flat := NewJacobianFactor(
		[]int{0}, []int{1},
		mat.NewDense(1, 1, []float64{0}),
		mat.NewVecDense(1, []float64{0}),
	)

	for _, method := range []Method{Cholesky, QR} {
		t.Run(method.String(), func(t *testing.T) {
			_, err := Eliminate([]GaussianFactor{flat}, []int{0}, method)

			var ind *ErrIndeterminateSystem
			require.ErrorAs(t, err, &ind)
			assert.Equal(t, 0, ind.Variable)
		})
	}
}

func TestConditionalErrorAt(t *testing.T) {
	elim, err := Eliminate(twoVarChain(), []int{0, 1}, Cholesky)
	require.NoError(t, err)

	out := solveElimination(t, elim)
	// At the exact solution every conditional's residual vanishes.
	for _, c := range elim.Conditionals {
		assert.InDelta(t, 0.0, c.ErrorAt(out), 1e-12)
	}
}

func TestPermuteIndicesRelabelOnly(t *testing.T) {
	between := NewJacobianFactor(
		[]int{0, 1}, []int{1, 1},
		mat.NewDense(1, 2, []float64{-1, 1}),
		mat.NewVecDense(1, []float64{2}),
	)
	a00 := between.A().At(0, 0)

	between.PermuteIndices(ordering.Permutation{3, 2, 0, 1})

	// Labels change, block layout does not.
	assert.Equal(t, []int{3, 2}, between.Indices())
	assert.Equal(t, a00, between.A().At(0, 0))
}

func TestMethodString(t *testing.T) {
	assert.Equal(t, "Cholesky", Cholesky.String())
	assert.Equal(t, "QR", QR.String())
}
