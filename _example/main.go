package main

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/hupe1980/isamgo"
	"github.com/hupe1980/isamgo/core"
	"github.com/hupe1980/isamgo/nonlinear"
	"github.com/hupe1980/isamgo/testutil"
)

func main() {
	ctx := context.Background()

	isam := isamgo.New(
		isamgo.WithGaussNewton(0.001),
		isamgo.WithRelinearizeEvery(1),
	)

	x := func(i uint64) core.Key { return core.Symbol('x', i) }
	l := func(i uint64) core.Key { return core.Symbol('l', i) }

	odo := testutil.NewDiagonal(0.1, 0.1, math.Pi/100)
	br := testutil.NewDiagonal(math.Pi/100, 0.1)

	// Anchor the first pose.
	_, err := isam.Update(ctx,
		[]nonlinear.Factor{testutil.NewPriorFactor(x(0), testutil.NewPose2(0, 0, 0), odo)},
		map[core.Key]nonlinear.Value{x(0): testutil.NewPose2(0, 0, 0)},
		nil, nil)
	if err != nil {
		log.Fatal(err)
	}

	// Drive forward one unit per step, spotting a landmark from pose 2.
	for i := uint64(0); i < 5; i++ {
		factors := []nonlinear.Factor{
			testutil.NewBetweenFactor(x(i), x(i+1), testutil.NewPose2(1, 0, 0), odo),
		}
		values := map[core.Key]nonlinear.Value{
			x(i + 1): testutil.NewPose2(float64(i+1)+0.1, -0.05, 0),
		}
		if i == 2 {
			factors = append(factors, testutil.NewBearingRangeFactor(x(2), l(0), math.Pi/4, 3, br))
			values[l(0)] = testutil.NewPoint2(2+3/math.Sqrt2, 3/math.Sqrt2)
		}

		res, err := isam.Update(ctx, factors, values, nil, nil)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("step %d: relinearized=%d reeliminated=%d cliques=%d\n",
			i+1, res.Relinearized, res.Reeliminated, isam.Nodes())
	}

	est := isam.CalculateEstimate()
	for i := uint64(0); i <= 5; i++ {
		v, _ := est.At(x(i))
		p := v.(testutil.Pose2)
		fmt.Printf("x%d: (%.3f, %.3f, %.3f)\n", i, p.X, p.Y, p.Theta)
	}
	if v, ok := est.At(l(0)); ok {
		p := v.(testutil.Point2)
		fmt.Printf("l0: (%.3f, %.3f)\n", p.X, p.Y)
	}
}
