package isamgo

import (
	"bytes"
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/isamgo/core"
	"github.com/hupe1980/isamgo/linear"
	"github.com/hupe1980/isamgo/nonlinear"
	"github.com/hupe1980/isamgo/testutil"
)

func xk(i uint64) core.Key { return core.Symbol('x', i) }
func lk(i uint64) core.Key { return core.Symbol('l', i) }

// accumulator mirrors the incremental updates into one flat problem so a
// batch solve can serve as ground truth.
type accumulator struct {
	factors []nonlinear.Factor
	init    *nonlinear.Values
}

func newAccumulator() *accumulator {
	return &accumulator{init: nonlinear.NewValues()}
}

func (a *accumulator) add(step testutil.Step) {
	a.factors = append(a.factors, step.Factors...)
	for k, v := range step.Values {
		a.init.Insert(k, v)
	}
}

// batchEstimate solves the whole accumulated system in one shot, at the same
// linearization point and with the same variable ordering the smoother uses.
func batchEstimate(t *testing.T, isam *ISAM, factors []nonlinear.Factor, init *nonlinear.Values) *nonlinear.Values {
	t.Helper()

	ord := isam.GetOrdering()
	gfs := make([]linear.GaussianFactor, 0, len(factors))
	for _, f := range factors {
		jf, err := f.Linearize(init, ord)
		require.NoError(t, err)
		gfs = append(gfs, jf)
	}

	order := make([]int, ord.Len())
	for v := range order {
		order[v] = v
	}
	elim, err := linear.Eliminate(gfs, order, linear.Cholesky)
	require.NoError(t, err)

	delta := linear.NewVectorValues()
	for v := 0; v < ord.Len(); v++ {
		val, ok := init.At(ord.KeyAt(v))
		require.True(t, ok)
		delta.Append(val.Dim())
	}
	for k := len(elim.Conditionals) - 1; k >= 0; k-- {
		c := elim.Conditionals[k]
		delta.Set(c.Frontal(), c.Solve(delta))
	}
	return init.Retract(delta, ord)
}

func assertEstimatesMatch(t *testing.T, got, want *nonlinear.Values, tol float64) {
	t.Helper()

	require.Equal(t, want.Len(), got.Len())
	for _, k := range want.Keys() {
		wv, _ := want.At(k)
		gv, ok := got.At(k)
		require.True(t, ok, "missing estimate for %s", k)
		switch w := wv.(type) {
		case testutil.Pose2:
			g, ok := gv.(testutil.Pose2)
			require.True(t, ok)
			assert.InDelta(t, w.X, g.X, tol, "%s x", k)
			assert.InDelta(t, w.Y, g.Y, tol, "%s y", k)
			assert.InDelta(t, 0, testutil.WrapAngle(g.Theta-w.Theta), tol, "%s theta", k)
		case testutil.Point2:
			g, ok := gv.(testutil.Point2)
			require.True(t, ok)
			assert.InDelta(t, w.X, g.X, tol, "%s x", k)
			assert.InDelta(t, w.Y, g.Y, tol, "%s y", k)
		default:
			t.Fatalf("unexpected value type %T", wv)
		}
	}
}

func checkConsistent(t *testing.T, isam *ISAM, acc *accumulator, tol float64) {
	t.Helper()

	want := batchEstimate(t, isam, acc.factors, acc.init)
	assertEstimatesMatch(t, isam.CalculateEstimate(), want, tol)
}

func TestUpdateSlamlike(t *testing.T) {
	tests := []struct {
		name      string
		opts      []Option
		everyStep bool
	}{
		{
			name:      "gauss-newton cholesky",
			opts:      []Option{WithGaussNewton(0.001), WithRelinearizeEvery(0)},
			everyStep: true,
		},
		{
			name:      "gauss-newton qr",
			opts:      []Option{WithGaussNewton(0.001), WithRelinearizeEvery(0), WithEliminationMethod(linear.QR)},
			everyStep: true,
		},
		{
			name: "dogleg cholesky",
			opts: []Option{WithDogleg(1.0), WithRelinearizeEvery(0)},
		},
		{
			name: "dogleg qr",
			opts: []Option{WithDogleg(1.0), WithRelinearizeEvery(0), WithEliminationMethod(linear.QR)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isam := New(tt.opts...)
			acc := newAccumulator()

			for _, step := range testutil.SlamlikeScenario() {
				acc.add(step)
				res, err := isam.Update(context.Background(), step.Factors, step.Values, nil, nil)
				require.NoError(t, err)
				require.Len(t, res.FactorIndices, len(step.Factors))
				if tt.everyStep {
					checkConsistent(t, isam, acc, 1e-3)
				}
			}

			checkConsistent(t, isam, acc, 1e-3)
			assert.Equal(t, 14, isam.GetOrdering().Len())
			assert.Greater(t, isam.Nodes(), 0)

			est := isam.CalculateEstimate()
			assert.Less(t, isam.Error(est), isam.Error(acc.init))
		})
	}
}

func TestUpdateExtendsDeltaContainers(t *testing.T) {
	ctx := context.Background()
	isam := New(WithDogleg(1.0), WithRelinearizeEvery(0))

	for _, step := range testutil.SlamlikeScenario() {
		_, err := isam.Update(ctx, step.Factors, step.Values, nil, nil)
		require.NoError(t, err)

		// Every new variable extends all three containers in lockstep.
		n := isam.GetOrdering().Len()
		require.Equal(t, n, isam.delta.Len())
		require.Equal(t, n, isam.deltaNewton.Len())
		require.Equal(t, n, isam.deltaDescent.Len())
		for v := 0; v < n; v++ {
			require.Equal(t, isam.delta.Dim(v), isam.deltaNewton.Dim(v), "variable %d", v)
			require.Equal(t, isam.delta.Dim(v), isam.deltaDescent.Dim(v), "variable %d", v)
		}
	}

	// The descent container holds the last steepest descent step, which
	// points against the gradient.
	g := isam.GradientAtZero()
	dot := 0.0
	for v := 0; v < g.Len(); v++ {
		us, gs := isam.deltaDescent.At(v), g.At(v)
		for j := range us {
			dot += us[j] * gs[j]
		}
	}
	assert.Less(t, dot, 0.0)

	clone := isam.Clone()
	require.Equal(t, isam.deltaDescent.Len(), clone.deltaDescent.Len())
}

func TestUpdateRemoveFactor(t *testing.T) {
	ctx := context.Background()
	isam := New(WithGaussNewton(0.001), WithRelinearizeEvery(0))
	acc := newAccumulator()

	steps := testutil.SlamlikeScenario()
	var lastRes *UpdateResult
	for _, step := range steps {
		acc.add(step)
		res, err := isam.Update(ctx, step.Factors, step.Values, nil, nil)
		require.NoError(t, err)
		lastRes = res
	}

	// Drop the second sighting of the first landmark again.
	removed := lastRes.FactorIndices[1]
	assert.Equal(t, 14, removed)
	_, err := isam.Update(ctx, nil, nil, []int{removed}, nil)
	require.NoError(t, err)

	kept := &accumulator{init: acc.init}
	for i, f := range acc.factors {
		if i != removed {
			kept.factors = append(kept.factors, f)
		}
	}
	checkConsistent(t, isam, kept, 1e-3)
}

func TestUpdateSwapFactor(t *testing.T) {
	ctx := context.Background()
	isam := New(WithGaussNewton(0.001), WithRelinearizeEvery(0))
	acc := newAccumulator()

	for _, step := range testutil.SlamlikeScenario() {
		acc.add(step)
		_, err := isam.Update(ctx, step.Factors, step.Values, nil, nil)
		require.NoError(t, err)
	}

	// Replace the second sighting of the first landmark with a longer range
	// measurement in a single update.
	swapIdx := len(acc.factors) - 2
	replacement := testutil.NewBearingRangeFactor(xk(10), lk(100), math.Pi/4+math.Pi/16, 5.0, testutil.BRNoise())
	res, err := isam.Update(ctx, []nonlinear.Factor{replacement}, nil, []int{swapIdx}, nil)
	require.NoError(t, err)
	require.Len(t, res.FactorIndices, 1)

	swapped := &accumulator{init: acc.init}
	for i, f := range acc.factors {
		if i != swapIdx {
			swapped.factors = append(swapped.factors, f)
		}
	}
	swapped.factors = append(swapped.factors, replacement)
	checkConsistent(t, isam, swapped, 1e-3)
}

func TestUpdateConstrainedOrdering(t *testing.T) {
	ctx := context.Background()
	isam := New(WithGaussNewton(0.001), WithRelinearizeEvery(0))
	acc := newAccumulator()

	constrained := map[core.Key]int{xk(3): 1, xk(4): 2}
	for si, step := range testutil.SlamlikeScenario() {
		acc.add(step)
		var ck map[core.Key]int
		if si >= 4 {
			ck = constrained
		}
		_, err := isam.Update(ctx, step.Factors, step.Values, nil, ck)
		require.NoError(t, err)
	}

	// The pinned poses stay at the top of the elimination order.
	ord := isam.GetOrdering()
	i3, ok := ord.IndexOf(xk(3))
	require.True(t, ok)
	i4, ok := ord.IndexOf(xk(4))
	require.True(t, ok)
	assert.Equal(t, 12, i3)
	assert.Equal(t, 13, i4)

	checkConsistent(t, isam, acc, 1e-3)
}

func TestUpdateRelinearization(t *testing.T) {
	ctx := context.Background()
	isam := New(
		WithGaussNewton(1e-9),
		WithRelinearizeEvery(1),
		WithRelinearizeThreshold(0.001),
	)

	prior := testutil.NewDiagonal(0.3, 0.3, 0.1)
	odo := testutil.NewDiagonal(0.2, 0.2, 0.1)
	gps := testutil.NewDiagonal(0.1, 0.1)

	factors := []nonlinear.Factor{
		testutil.NewPriorFactor(xk(0), testutil.NewPose2(0, 0, 0), prior),
		testutil.NewBetweenFactor(xk(0), xk(1), testutil.NewPose2(2, 0, 0), odo),
		testutil.NewBetweenFactor(xk(1), xk(2), testutil.NewPose2(2, 0, 0), odo),
		testutil.NewUnaryFactor(xk(0), 0, 0, gps),
		testutil.NewUnaryFactor(xk(1), 2, 0, gps),
		testutil.NewUnaryFactor(xk(2), 4, 0, gps),
	}
	values := map[core.Key]nonlinear.Value{
		xk(0): testutil.NewPose2(0.5, 0.0, 0.2),
		xk(1): testutil.NewPose2(2.3, 0.1, -0.2),
		xk(2): testutil.NewPose2(4.1, 0.1, 0.1),
	}

	_, err := isam.Update(ctx, factors, values, nil, nil)
	require.NoError(t, err)

	// Empty updates drive fluid relinearization until the deltas settle.
	relinearized := 0
	for k := 0; k < 5; k++ {
		res, err := isam.Update(ctx, nil, nil, nil, nil)
		require.NoError(t, err)
		relinearized += res.Relinearized
	}
	assert.Greater(t, relinearized, 0)

	truth := []testutil.Pose2{
		testutil.NewPose2(0, 0, 0),
		testutil.NewPose2(2, 0, 0),
		testutil.NewPose2(4, 0, 0),
	}
	for i, want := range truth {
		got, err := isam.CalculateEstimateKey(xk(uint64(i)))
		require.NoError(t, err)
		pose, ok := got.(testutil.Pose2)
		require.True(t, ok)
		assert.InDelta(t, want.X, pose.X, 1e-4)
		assert.InDelta(t, want.Y, pose.Y, 1e-4)
		assert.InDelta(t, 0, testutil.WrapAngle(pose.Theta-want.Theta), 1e-4)
	}
}

func TestRelinearizationNoPropagation(t *testing.T) {
	ctx := context.Background()

	run := func(extra ...Option) (int, *ISAM) {
		opts := append([]Option{
			WithGaussNewton(0.001),
			WithRelinearizeEvery(1),
			WithRelinearizeThreshold(1.0),
		}, extra...)
		isam := New(opts...)
		total := 0
		for _, step := range testutil.SlamlikeScenario() {
			res, err := isam.Update(ctx, step.Factors, step.Values, nil, nil)
			require.NoError(t, err)
			total += res.Relinearized
		}
		return total, isam
	}

	offTotal, off := run(WithWildfirePropagation(false))
	onTotal, _ := run()

	// Without propagation only the variables past the threshold are folded:
	// the badly initialized pose 6 and the two landmark guesses.
	assert.Equal(t, 3, offTotal)
	assert.GreaterOrEqual(t, onTotal, offTotal)

	// Well-initialized variables keep their original linearization point.
	lp0, err := off.GetLinearizationPoint(xk(0))
	require.NoError(t, err)
	assert.Equal(t, testutil.NewPose2(0.01, 0.01, 0.01), lp0)

	lp6, err := off.GetLinearizationPoint(xk(6))
	require.NoError(t, err)
	assert.NotEqual(t, testutil.NewPose2(1.01, 0.01, 0.01), lp6)
}

func TestGradientAtZero(t *testing.T) {
	ctx := context.Background()
	isam := New(WithGaussNewton(0.001), WithRelinearizeEvery(0))
	acc := newAccumulator()

	for _, step := range testutil.SlamlikeScenario() {
		acc.add(step)
		_, err := isam.Update(ctx, step.Factors, step.Values, nil, nil)
		require.NoError(t, err)
	}

	// With relinearization off the tree factorizes the same linear system as
	// a fresh batch linearization, so the gradients must agree.
	ord := isam.GetOrdering()
	want := linear.NewVectorValues()
	for v := 0; v < ord.Len(); v++ {
		val, ok := acc.init.At(ord.KeyAt(v))
		require.True(t, ok)
		want.Append(val.Dim())
	}
	for _, f := range acc.factors {
		jf, err := f.Linearize(acc.init, ord)
		require.NoError(t, err)
		for pi, v := range jf.Indices() {
			off := jf.ColOffset(pi)
			dst := want.At(v)
			for j := 0; j < jf.Dims()[pi]; j++ {
				s := 0.0
				for r := 0; r < jf.Rows(); r++ {
					s += jf.A().At(r, off+j) * jf.B().AtVec(r)
				}
				dst[j] -= s
			}
		}
	}

	got := isam.GradientAtZero()
	require.Equal(t, want.Len(), got.Len())
	for v := 0; v < want.Len(); v++ {
		for j, w := range want.At(v) {
			assert.InDelta(t, w, got.At(v)[j], 1e-6, "variable %d component %d", v, j)
		}
	}
}

func TestCloneIndependent(t *testing.T) {
	ctx := context.Background()
	isam := New(WithGaussNewton(0.001), WithRelinearizeEvery(0))

	for _, step := range testutil.SlamlikeScenario() {
		_, err := isam.Update(ctx, step.Factors, step.Values, nil, nil)
		require.NoError(t, err)
	}

	before := isam.CalculateEstimate()
	clone := isam.Clone()

	// Pull the original's last pose away; the clone must not follow.
	pin := testutil.NewPriorFactor(xk(11), testutil.NewPose2(20, 20, 0), testutil.OdoNoise())
	_, err := isam.Update(ctx, []nonlinear.Factor{pin}, nil, nil, nil)
	require.NoError(t, err)

	assertEstimatesMatch(t, clone.CalculateEstimate(), before, 1e-12)

	moved, err := isam.CalculateEstimateKey(xk(11))
	require.NoError(t, err)
	kept, err := clone.CalculateEstimateKey(xk(11))
	require.NoError(t, err)
	assert.Greater(t, math.Abs(moved.(testutil.Pose2).X-kept.(testutil.Pose2).X), 1.0)
}

func TestUpdateIndeterminateRecovery(t *testing.T) {
	ctx := context.Background()
	isam := New()

	between := testutil.NewBetweenFactor(xk(0), xk(1), testutil.NewPose2(1, 0, 0), testutil.OdoNoise())
	values := map[core.Key]nonlinear.Value{
		xk(0): testutil.NewPose2(0.1, -0.05, 0),
		xk(1): testutil.NewPose2(1.2, 0.1, 0),
	}

	// A lone relative constraint leaves the gauge free.
	_, err := isam.Update(ctx, []nonlinear.Factor{between}, values, nil, nil)
	var indet *ErrIndeterminateSystem
	require.ErrorAs(t, err, &indet)

	// Anchoring one pose makes the next update succeed, re-absorbing the
	// detached region.
	prior := testutil.NewPriorFactor(xk(0), testutil.NewPose2(0, 0, 0), testutil.OdoNoise())
	_, err = isam.Update(ctx, []nonlinear.Factor{prior}, nil, nil, nil)
	require.NoError(t, err)

	p0, err := isam.CalculateEstimateKey(xk(0))
	require.NoError(t, err)
	p1, err := isam.CalculateEstimateKey(xk(1))
	require.NoError(t, err)
	assert.InDelta(t, 0, p0.(testutil.Pose2).X, 1e-6)
	assert.InDelta(t, 0, p0.(testutil.Pose2).Y, 1e-6)
	assert.InDelta(t, 1, p1.(testutil.Pose2).X, 1e-6)
	assert.InDelta(t, 0, p1.(testutil.Pose2).Y, 1e-6)
}

func TestUpdateFailureKeepsFactorIndices(t *testing.T) {
	ctx := context.Background()
	isam := New()

	between := testutil.NewBetweenFactor(xk(0), xk(1), testutil.NewPose2(1, 0, 0), testutil.OdoNoise())
	values := map[core.Key]nonlinear.Value{
		xk(0): testutil.NewPose2(0.1, -0.05, 0),
		xk(1): testutil.NewPose2(1.2, 0.1, 0),
	}

	res, err := isam.Update(ctx, []nonlinear.Factor{between}, values, nil, nil)
	var indet *ErrIndeterminateSystem
	require.ErrorAs(t, err, &indet)

	// The failed update still reports the slot of the factor it absorbed, so
	// the caller can take the factor back out.
	require.NotNil(t, res)
	require.Len(t, res.FactorIndices, 1)

	priors := []nonlinear.Factor{
		testutil.NewPriorFactor(xk(0), testutil.NewPose2(0, 0, 0), testutil.OdoNoise()),
		testutil.NewPriorFactor(xk(1), testutil.NewPose2(1, 0, 0), testutil.OdoNoise()),
	}
	_, err = isam.Update(ctx, priors, nil, []int{res.FactorIndices[0]}, nil)
	require.NoError(t, err)

	// With the gauge-free constraint gone, only the priors remain.
	p0, err := isam.CalculateEstimateKey(xk(0))
	require.NoError(t, err)
	p1, err := isam.CalculateEstimateKey(xk(1))
	require.NoError(t, err)
	assert.InDelta(t, 0, p0.(testutil.Pose2).X, 1e-6)
	assert.InDelta(t, 0, p0.(testutil.Pose2).Y, 1e-6)
	assert.InDelta(t, 1, p1.(testutil.Pose2).X, 1e-6)
	assert.InDelta(t, 0, p1.(testutil.Pose2).Y, 1e-6)
}

func TestUpdateErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown key", func(t *testing.T) {
		isam := New()
		_, err := isam.CalculateEstimateKey(xk(0))
		assert.ErrorIs(t, err, ErrUnknownKey)
		_, err = isam.GetLinearizationPoint(xk(0))
		assert.ErrorIs(t, err, ErrUnknownKey)
	})

	t.Run("duplicate value", func(t *testing.T) {
		isam := New()
		prior := testutil.NewPriorFactor(xk(0), testutil.NewPose2(0, 0, 0), testutil.OdoNoise())
		_, err := isam.Update(ctx, []nonlinear.Factor{prior}, map[core.Key]nonlinear.Value{
			xk(0): testutil.NewPose2(0, 0, 0),
		}, nil, nil)
		require.NoError(t, err)

		_, err = isam.Update(ctx, nil, map[core.Key]nonlinear.Value{
			xk(0): testutil.NewPose2(1, 1, 0),
		}, nil, nil)
		assert.ErrorIs(t, err, ErrKeyExists)
	})

	t.Run("missing initial value", func(t *testing.T) {
		isam := New()
		between := testutil.NewBetweenFactor(xk(0), xk(1), testutil.NewPose2(1, 0, 0), testutil.OdoNoise())
		_, err := isam.Update(ctx, []nonlinear.Factor{between}, map[core.Key]nonlinear.Value{
			xk(0): testutil.NewPose2(0, 0, 0),
		}, nil, nil)
		var lin *ErrLinearization
		require.ErrorAs(t, err, &lin)
		assert.Equal(t, xk(1), lin.Key)
	})

	t.Run("invalid removal", func(t *testing.T) {
		isam := New()
		_, err := isam.Update(ctx, nil, nil, []int{3}, nil)
		var rem *ErrInvalidRemoval
		require.ErrorAs(t, err, &rem)
		assert.Equal(t, 3, rem.Index)
	})
}

func TestSnapshotRoundtrip(t *testing.T) {
	ctx := context.Background()
	isam := New(WithGaussNewton(0.001), WithRelinearizeEvery(0))

	for _, step := range testutil.SlamlikeScenario() {
		_, err := isam.Update(ctx, step.Factors, step.Values, nil, nil)
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	require.NoError(t, isam.SaveSnapshot(ctx, &buf))

	loaded, err := LoadSnapshot(ctx, &buf, WithGaussNewton(0.001), WithRelinearizeEvery(0))
	require.NoError(t, err)

	// Loading refactorizes from scratch; estimates agree up to the lazy
	// back-substitution cutoff of the original.
	assertEstimatesMatch(t, loaded.CalculateEstimate(), isam.CalculateEstimate(), 1e-3)
	assert.Greater(t, loaded.Nodes(), 0)

	// The loaded smoother keeps working.
	pin := testutil.NewPriorFactor(xk(11), testutil.NewPose2(7, 0, 0), testutil.OdoNoise())
	_, err = loaded.Update(ctx, []nonlinear.Factor{pin}, nil, nil, nil)
	require.NoError(t, err)
	_, err = loaded.CalculateEstimateKey(xk(11))
	require.NoError(t, err)
}

func TestDeltaAccessor(t *testing.T) {
	ctx := context.Background()
	isam := New(WithRelinearizeEvery(0))

	for _, step := range testutil.SlamlikeScenario() {
		_, err := isam.Update(ctx, step.Factors, step.Values, nil, nil)
		require.NoError(t, err)
	}

	delta := isam.Delta()
	require.Equal(t, 14, delta.Len())

	// Pose 6 was initialized far from where the odometry chain puts it.
	v, ok := isam.GetOrdering().IndexOf(xk(6))
	require.True(t, ok)
	assert.Greater(t, math.Abs(delta.At(v)[0]), 1.0)
}

func TestMetricsAndLogging(t *testing.T) {
	ctx := context.Background()
	collector := &BasicMetricsCollector{}
	isam := New(
		WithRelinearizeEvery(0),
		WithMetricsCollector(collector),
		WithLogger(NoopLogger()),
	)

	for _, step := range testutil.SlamlikeScenario() {
		_, err := isam.Update(ctx, step.Factors, step.Values, nil, nil)
		require.NoError(t, err)
	}

	stats := collector.GetStats()
	assert.Equal(t, int64(12), stats.UpdateCount)
	assert.Equal(t, int64(0), stats.UpdateErrors)
	assert.Greater(t, stats.ReeliminatedTotal, int64(0))
}
