// Package isamgo is an incremental smoother for nonlinear least-squares
// problems expressed as factor graphs. Instead of re-solving the whole
// problem on every new measurement, it maintains a clique tree of the
// square-root factorization and re-eliminates only the part of the system
// the new measurements touch, folding linearization-point updates in
// on the fly.
//
// Basic usage:
//
//	isam := isamgo.New()
//
//	values := map[core.Key]nonlinear.Value{
//		core.Symbol('x', 0): testutil.Pose2{},
//	}
//	factors := []nonlinear.Factor{
//		testutil.NewPriorFactor(core.Symbol('x', 0), testutil.Pose2{}, priorNoise),
//	}
//	if _, err := isam.Update(ctx, factors, values, nil, nil); err != nil {
//		log.Fatal(err)
//	}
//
//	estimate := isam.CalculateEstimate()
//
// Each Update call absorbs new factors and variables, decides which
// variables drifted far enough to be relinearized, rebuilds the affected
// top of the clique tree and refreshes the solution by partial
// back-substitution. Gauss-Newton steps are the default; a dogleg trust
// region can be selected with WithDogleg for problems where full steps
// overshoot.
package isamgo
