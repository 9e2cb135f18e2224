package nonlinear

import (
	"github.com/hupe1980/isamgo/core"
	"github.com/hupe1980/isamgo/linear"
	"github.com/hupe1980/isamgo/ordering"
)

// Factor is a nonlinear measurement constraint over one or more variables.
//
// Linearize evaluates the factor at the given point and returns the whitened
// Jacobian system A·δ = b, with variable blocks resolved to indices through
// ord. Error returns the factor's contribution ½‖whitened residual‖² at the
// point.
type Factor interface {
	Keys() []core.Key
	Linearize(values *Values, ord *ordering.Ordering) (*linear.JacobianFactor, error)
	Error(values *Values) float64
}
