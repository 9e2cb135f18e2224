package isamgo

import (
	"math"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/isamgo/linear"
)

// doglegWildfire bounds the propagation threshold for the Newton step used
// inside the trust region. Kept tight so the blended step stays accurate.
const doglegWildfire = 1e-5

// updateDogleg refreshes the solution with a dogleg trust-region step: the
// full Newton step when it fits inside the radius, the clipped steepest
// descent step when even that leaves the region, and the blend of the two
// otherwise. The radius adapts to how well the linear model predicted the
// actual error change, and a step that increases the error is rejected
// outright. Returns the number of cliques recomputed for the Newton step.
func (i *ISAM) updateDogleg(replaced *roaring.Bitmap) int {
	count := i.tree.OptimizeWildfire(i.deltaNewton, replaced, doglegWildfire)
	n := i.deltaNewton.Len()
	if n == 0 {
		return count
	}

	g := i.gradientAtZero()
	gg := linear.SqNorm(g)

	candidate := linear.NewVectorValues()
	for v := 0; v < n; v++ {
		candidate.Append(i.deltaNewton.Dim(v))
	}

	if gg < 1e-300 {
		// Flat gradient, nothing to move.
		for v := 0; v < n; v++ {
			copy(candidate.At(v), i.deltaNewton.At(v))
		}
		i.adaptRadius(candidate, false)
		return count
	}

	// Steepest descent minimizer: -(gᵀg / gᵀHg) g, with gᵀHg accumulated
	// from the square-root rows. The step lives in deltaDescent so it grows
	// and permutes with the other containers between updates.
	ghg := 0.0
	i.tree.VisitConditionals(func(c *linear.GaussianConditional) {
		row := c.Apply(g)
		for _, x := range row {
			ghg += x * x
		}
	})
	if ghg < 1e-300 {
		ghg = 1e-300
	}
	alpha := gg / ghg
	for v := 0; v < n; v++ {
		dst, src := i.deltaDescent.At(v), g.At(v)
		for j := range dst {
			dst[j] = -alpha * src[j]
		}
	}
	normSD := alpha * math.Sqrt(gg)
	normGN := math.Sqrt(sqNormPermuted(i.deltaNewton))

	switch {
	case normGN <= i.doglegRadius:
		for v := 0; v < n; v++ {
			copy(candidate.At(v), i.deltaNewton.At(v))
		}
	case normSD >= i.doglegRadius:
		scale := i.doglegRadius / normSD
		for v := 0; v < n; v++ {
			dst, src := candidate.At(v), i.deltaDescent.At(v)
			for j := range dst {
				dst[j] = scale * src[j]
			}
		}
	default:
		// Walk from the descent point toward the Newton point until the
		// segment crosses the trust region boundary.
		tau := segmentBoundary(i.deltaDescent, i.deltaNewton, i.doglegRadius)
		for v := 0; v < n; v++ {
			dst, us, ns := candidate.At(v), i.deltaDescent.At(v), i.deltaNewton.At(v)
			for j := range dst {
				dst[j] = us[j] + tau*(ns[j]-us[j])
			}
		}
	}

	atBoundary := normGN > i.doglegRadius
	i.adaptRadius(candidate, atBoundary)
	return count
}

// segmentBoundary solves ‖u + τ(δn − u)‖ = Δ for τ ∈ [0, 1], where u is the
// steepest descent step.
func segmentBoundary(descent, deltaNewton *linear.Permuted, radius float64) float64 {
	// Quadratic aτ² + 2bτ + c = 0 with v = δn − u.
	a, b, c := 0.0, 0.0, 0.0
	for idx := 0; idx < deltaNewton.Len(); idx++ {
		us, ns := descent.At(idx), deltaNewton.At(idx)
		for j := range us {
			u := us[j]
			v := ns[j] - u
			a += v * v
			b += u * v
			c += u * u
		}
	}
	c -= radius * radius
	if a < 1e-300 {
		return 0
	}
	disc := b*b - a*c
	if disc < 0 {
		disc = 0
	}
	tau := (-b + math.Sqrt(disc)) / a
	if tau < 0 {
		tau = 0
	} else if tau > 1 {
		tau = 1
	}
	return tau
}

// adaptRadius evaluates the candidate step against the linear model, grows
// or shrinks the trust region and installs the step unless it made things
// worse.
func (i *ISAM) adaptRadius(candidate *linear.VectorValues, atBoundary bool) {
	oldErr := i.graph.Error(i.theta)
	newErr := i.graph.Error(i.theta.Retract(candidate, i.ordering))

	predicted := 0.0
	i.tree.VisitConditionals(func(c *linear.GaussianConditional) {
		d := c.D()
		for j := 0; j < d.Len(); j++ {
			predicted += 0.5 * d.AtVec(j) * d.AtVec(j)
		}
		row := c.Apply(candidate)
		for j := range row {
			r := row[j] - d.AtVec(j)
			predicted -= 0.5 * r * r
		}
	})

	actual := oldErr - newErr
	rho := 1.0
	if predicted > 1e-300 {
		rho = actual / predicted
	} else if actual <= 0 {
		rho = -1
	}

	switch {
	case rho > 0.75:
		if atBoundary {
			i.doglegRadius *= 2
		}
	case rho < 0.25:
		i.doglegRadius *= 0.5
	}

	if rho > 0 {
		i.installDelta(candidate)
	}
}

// installDelta copies a logical-order step into the solution delta.
func (i *ISAM) installDelta(candidate *linear.VectorValues) {
	for v := 0; v < candidate.Len(); v++ {
		i.delta.Set(v, candidate.At(v))
	}
}

func sqNormPermuted(p *linear.Permuted) float64 {
	total := 0.0
	for v := 0; v < p.Len(); v++ {
		for _, x := range p.At(v) {
			total += x * x
		}
	}
	return total
}
