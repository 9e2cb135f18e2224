package testutil

import (
	"math"

	"github.com/hupe1980/isamgo/core"
	"github.com/hupe1980/isamgo/nonlinear"
)

// Step is one batch of an incremental scenario: the factors and initial
// values fed to a single update call.
type Step struct {
	Factors []nonlinear.Factor
	Values  map[core.Key]nonlinear.Value
}

// OdoNoise is the odometry and prior noise of the canonical scenario.
func OdoNoise() *Diagonal { return NewDiagonal(0.1, 0.1, math.Pi/100) }

// BRNoise is the bearing-range noise of the canonical scenario.
func BRNoise() *Diagonal { return NewDiagonal(math.Pi/100, 0.1) }

// SlamlikeScenario builds a 12-pose trajectory with two landmarks observed
// twice: a prior on the first pose, unit forward odometry between
// consecutive poses, and bearing-range sightings of both landmarks from
// poses 5 and 10. Initial values are deliberately perturbed so the solver
// has work to do.
func SlamlikeScenario() []Step {
	odo := OdoNoise()
	br := BRNoise()
	x := func(i uint64) core.Key { return core.Symbol('x', i) }
	l := func(i uint64) core.Key { return core.Symbol('l', i) }

	var steps []Step

	steps = append(steps, Step{
		Factors: []nonlinear.Factor{
			NewPriorFactor(x(0), NewPose2(0, 0, 0), odo),
		},
		Values: map[core.Key]nonlinear.Value{
			x(0): NewPose2(0.01, 0.01, 0.01),
		},
	})

	for i := uint64(0); i < 5; i++ {
		steps = append(steps, Step{
			Factors: []nonlinear.Factor{
				NewBetweenFactor(x(i), x(i+1), NewPose2(1, 0, 0), odo),
			},
			Values: map[core.Key]nonlinear.Value{
				x(i + 1): NewPose2(float64(i+1)+0.1, -0.1, 0.01),
			},
		})
	}

	// First landmark sightings, with a badly initialized pose 6.
	steps = append(steps, Step{
		Factors: []nonlinear.Factor{
			NewBetweenFactor(x(5), x(6), NewPose2(1, 0, 0), odo),
			NewBearingRangeFactor(x(5), l(100), math.Pi/4, 5, br),
			NewBearingRangeFactor(x(5), l(101), -math.Pi/4, 5, br),
		},
		Values: map[core.Key]nonlinear.Value{
			x(6):   NewPose2(1.01, 0.01, 0.01),
			l(100): NewPoint2(5/math.Sqrt2, 5/math.Sqrt2),
			l(101): NewPoint2(5/math.Sqrt2, -5/math.Sqrt2),
		},
	})

	for i := uint64(6); i < 10; i++ {
		steps = append(steps, Step{
			Factors: []nonlinear.Factor{
				NewBetweenFactor(x(i), x(i+1), NewPose2(1, 0, 0), odo),
			},
			Values: map[core.Key]nonlinear.Value{
				x(i + 1): NewPose2(float64(i+1)+0.1, -0.1, 0.01),
			},
		})
	}

	// Second sightings of both landmarks from pose 10.
	steps = append(steps, Step{
		Factors: []nonlinear.Factor{
			NewBetweenFactor(x(10), x(11), NewPose2(1, 0, 0), odo),
			NewBearingRangeFactor(x(10), l(100), math.Pi/4+math.Pi/16, 4.5, br),
			NewBearingRangeFactor(x(10), l(101), -math.Pi/4+math.Pi/16, 4.5, br),
		},
		Values: map[core.Key]nonlinear.Value{
			x(11): NewPose2(6.9, 0.1, 0.01),
		},
	})

	return steps
}
