package testutil

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/isamgo/core"
	"github.com/hupe1980/isamgo/linear"
	"github.com/hupe1980/isamgo/nonlinear"
	"github.com/hupe1980/isamgo/ordering"
)

// checkJacobian compares each column of the linearized system against a
// finite difference of the whitened residual (recovered as -b).
func checkJacobian(t *testing.T, f nonlinear.Factor, values *nonlinear.Values, ord *ordering.Ordering) {
	t.Helper()

	const eps = 1e-7
	base, err := f.Linearize(values, ord)
	require.NoError(t, err)

	for bi, key := range f.Keys() {
		v, _ := values.At(key)
		for j := 0; j < v.Dim(); j++ {
			delta := make([]float64, v.Dim())
			delta[j] = eps

			perturbed := values.Clone()
			perturbed.Insert(key, v.Retract(delta))
			jf, err := f.Linearize(perturbed, ord)
			require.NoError(t, err)

			col := base.ColOffset(bi) + j
			for r := 0; r < base.Rows(); r++ {
				numeric := (base.B().AtVec(r) - jf.B().AtVec(r)) / eps
				assert.InDelta(t, base.A().At(r, col), numeric, 1e-5,
					"key %s row %d col %d", key, r, j)
			}
		}
	}
}

func testOrdering(keys ...core.Key) *ordering.Ordering {
	ord := ordering.New()
	for _, k := range keys {
		ord.Extend(k)
	}
	return ord
}

func TestPriorFactorJacobian(t *testing.T) {
	x0 := core.Symbol('x', 0)
	values := nonlinear.NewValues()
	values.Insert(x0, NewPose2(0.3, -0.2, 0.4))

	f := NewPriorFactor(x0, NewPose2(0.1, 0.1, 0.1), OdoNoise())
	checkJacobian(t, f, values, testOrdering(x0))
}

func TestBetweenFactorJacobian(t *testing.T) {
	x0, x1 := core.Symbol('x', 0), core.Symbol('x', 1)
	values := nonlinear.NewValues()
	values.Insert(x0, NewPose2(0.5, 0.2, 0.3))
	values.Insert(x1, NewPose2(1.6, 0.1, 0.5))

	f := NewBetweenFactor(x0, x1, NewPose2(1, 0, 0.2), OdoNoise())
	checkJacobian(t, f, values, testOrdering(x0, x1))
}

func TestUnaryFactorJacobian(t *testing.T) {
	x0 := core.Symbol('x', 0)
	values := nonlinear.NewValues()
	values.Insert(x0, NewPose2(0.4, -0.3, 0.7))

	f := NewUnaryFactor(x0, 0.5, -0.25, NewDiagonal(0.1, 0.1))
	checkJacobian(t, f, values, testOrdering(x0))
}

func TestBearingRangeFactorJacobian(t *testing.T) {
	x0, l0 := core.Symbol('x', 0), core.Symbol('l', 100)
	values := nonlinear.NewValues()
	values.Insert(x0, NewPose2(0.1, 0.2, 0.3))
	values.Insert(l0, NewPoint2(3.0, 2.0))

	f := NewBearingRangeFactor(x0, l0, 0.25, 3.2, BRNoise())
	checkJacobian(t, f, values, testOrdering(x0, l0))
}

func TestBetweenFactorResidualZero(t *testing.T) {
	x0, x1 := core.Symbol('x', 0), core.Symbol('x', 1)
	values := nonlinear.NewValues()
	values.Insert(x0, NewPose2(1, 2, math.Pi/3))

	// Place x1 exactly one measured step from x0.
	c, s := math.Cos(math.Pi/3), math.Sin(math.Pi/3)
	meas := NewPose2(1, 0.5, 0.1)
	values.Insert(x1, NewPose2(1+c*1-s*0.5, 2+s*1+c*0.5, math.Pi/3+0.1))

	f := NewBetweenFactor(x0, x1, meas, OdoNoise())
	assert.InDelta(t, 0.0, f.Error(values), 1e-12)
}

func TestBearingRangeFactorResidual(t *testing.T) {
	x0, l0 := core.Symbol('x', 0), core.Symbol('l', 100)
	values := nonlinear.NewValues()
	values.Insert(x0, NewPose2(0, 0, 0))
	values.Insert(l0, NewPoint2(5/math.Sqrt2, 5/math.Sqrt2))

	f := NewBearingRangeFactor(x0, l0, math.Pi/4, 5, BRNoise())
	assert.InDelta(t, 0.0, f.Error(values), 1e-12)
}

func TestWrapAngle(t *testing.T) {
	assert.InDelta(t, -math.Pi/2, WrapAngle(3*math.Pi/2), 1e-12)
	assert.InDelta(t, math.Pi, WrapAngle(math.Pi), 1e-12)
	assert.InDelta(t, math.Pi, WrapAngle(-math.Pi), 1e-12)
	assert.InDelta(t, 0.25, WrapAngle(0.25+2*math.Pi), 1e-12)
}

func TestSlamlikeScenarioShape(t *testing.T) {
	steps := SlamlikeScenario()
	require.Len(t, steps, 12)

	total := 0
	vars := 0
	for _, step := range steps {
		total += len(step.Factors)
		vars += len(step.Values)
	}
	// 1 prior + 11 odometry + 4 bearing-range.
	assert.Equal(t, 16, total)
	// 12 poses + 2 landmarks.
	assert.Equal(t, 14, vars)
}

func TestLinearizedFactorShape(t *testing.T) {
	x0 := core.Symbol('x', 0)
	values := nonlinear.NewValues()
	values.Insert(x0, NewPose2(0, 0, 0))

	f := NewPriorFactor(x0, NewPose2(0, 0, 0), OdoNoise())
	jf, err := f.Linearize(values, testOrdering(x0))
	require.NoError(t, err)

	var _ linear.GaussianFactor = jf
	assert.Equal(t, []int{0}, jf.Indices())
	assert.Equal(t, 3, jf.Rows())
	// Whitening scales the identity rows by 1/sigma.
	assert.InDelta(t, 10.0, jf.A().At(0, 0), 1e-12)
	assert.InDelta(t, 100/math.Pi, jf.A().At(2, 2), 1e-9)
}
