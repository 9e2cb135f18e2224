// Package testutil provides testing utilities for isamgo.
//
// This package is intended for use in tests and benchmarks only.
// It provides a minimal planar robot domain: SE(2) poses, 2D landmarks,
// diagonal noise models and the usual measurement factors (priors,
// odometry, GPS-like position fixes and bearing-range observations),
// plus a canonical trajectory scenario for end-to-end tests.
//
// # Values and Factors
//
//	prior := testutil.NewPriorFactor(core.Symbol('x', 0), testutil.NewPose2(0, 0, 0), noise)
//	odo := testutil.NewBetweenFactor(x0, x1, testutil.NewPose2(2, 0, 0), noise)
//
// # Scenario
//
//	steps := testutil.SlamlikeScenario()
//	for _, step := range steps {
//	    isam.Update(ctx, step.Factors, step.Values, nil, nil)
//	}
package testutil
