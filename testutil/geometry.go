package testutil

import (
	"encoding/gob"
	"math"

	"github.com/hupe1980/isamgo/nonlinear"
)

func init() {
	gob.Register(Pose2{})
	gob.Register(Point2{})
	gob.Register(&PriorFactor{})
	gob.Register(&BetweenFactor{})
	gob.Register(&UnaryFactor{})
	gob.Register(&BearingRangeFactor{})
}

// Pose2 is a planar robot pose (x, y, heading). The tangent space is the
// plain (dx, dy, dtheta) increment with the heading wrapped to (-pi, pi].
type Pose2 struct {
	X, Y, Theta float64
}

// NewPose2 creates a pose.
func NewPose2(x, y, theta float64) Pose2 {
	return Pose2{X: x, Y: y, Theta: theta}
}

// Dim implements nonlinear.Value.
func (p Pose2) Dim() int { return 3 }

// Retract implements nonlinear.Value.
func (p Pose2) Retract(delta []float64) nonlinear.Value {
	return Pose2{
		X:     p.X + delta[0],
		Y:     p.Y + delta[1],
		Theta: WrapAngle(p.Theta + delta[2]),
	}
}

// Point2 is a planar landmark position.
type Point2 struct {
	X, Y float64
}

// NewPoint2 creates a point.
func NewPoint2(x, y float64) Point2 {
	return Point2{X: x, Y: y}
}

// Dim implements nonlinear.Value.
func (p Point2) Dim() int { return 2 }

// Retract implements nonlinear.Value.
func (p Point2) Retract(delta []float64) nonlinear.Value {
	return Point2{X: p.X + delta[0], Y: p.Y + delta[1]}
}

// WrapAngle normalizes an angle to (-pi, pi].
func WrapAngle(theta float64) float64 {
	for theta > math.Pi {
		theta -= 2 * math.Pi
	}
	for theta <= -math.Pi {
		theta += 2 * math.Pi
	}
	return theta
}

// Between returns the relative pose from a to b expressed in a's frame.
func Between(a, b Pose2) Pose2 {
	dx, dy := b.X-a.X, b.Y-a.Y
	c, s := math.Cos(a.Theta), math.Sin(a.Theta)
	return Pose2{
		X:     c*dx + s*dy,
		Y:     -s*dx + c*dy,
		Theta: WrapAngle(b.Theta - a.Theta),
	}
}

// Diagonal is a diagonal Gaussian noise model with per-row sigmas.
type Diagonal struct {
	Sigmas []float64
}

// NewDiagonal creates a noise model from standard deviations.
func NewDiagonal(sigmas ...float64) *Diagonal {
	return &Diagonal{Sigmas: append([]float64(nil), sigmas...)}
}

// WhitenInPlace scales each row of the system by its inverse sigma.
func (d *Diagonal) WhitenInPlace(rows [][]float64, resid []float64) {
	for i, s := range d.Sigmas {
		inv := 1.0 / s
		for j := range rows[i] {
			rows[i][j] *= inv
		}
		resid[i] *= inv
	}
}

// SqError returns the whitened squared error ½‖r/σ‖².
func (d *Diagonal) SqError(resid []float64) float64 {
	total := 0.0
	for i, s := range d.Sigmas {
		w := resid[i] / s
		total += w * w
	}
	return 0.5 * total
}
