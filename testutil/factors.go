package testutil

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/hupe1980/isamgo/core"
	"github.com/hupe1980/isamgo/linear"
	"github.com/hupe1980/isamgo/nonlinear"
	"github.com/hupe1980/isamgo/ordering"
)

// assemble whitens the rows and packs them into a Jacobian factor with
// b set to the negated residual.
func assemble(indices, dims []int, rows [][]float64, resid []float64, noise *Diagonal) *linear.JacobianFactor {
	noise.WhitenInPlace(rows, resid)
	total := 0
	for _, d := range dims {
		total += d
	}
	a := mat.NewDense(len(rows), total, nil)
	b := mat.NewVecDense(len(rows), nil)
	for i, row := range rows {
		for j, v := range row {
			a.Set(i, j, v)
		}
		b.SetVec(i, -resid[i])
	}
	return linear.NewJacobianFactor(indices, dims, a, b)
}

func poseAt(values *nonlinear.Values, key core.Key) (Pose2, error) {
	v, ok := values.At(key)
	if !ok {
		return Pose2{}, fmt.Errorf("no value for %s", key)
	}
	p, ok := v.(Pose2)
	if !ok {
		return Pose2{}, fmt.Errorf("variable %s is not a Pose2", key)
	}
	return p, nil
}

func pointAt(values *nonlinear.Values, key core.Key) (Point2, error) {
	v, ok := values.At(key)
	if !ok {
		return Point2{}, fmt.Errorf("no value for %s", key)
	}
	p, ok := v.(Point2)
	if !ok {
		return Point2{}, fmt.Errorf("variable %s is not a Point2", key)
	}
	return p, nil
}

// PriorFactor anchors a pose to a fixed value.
type PriorFactor struct {
	Key   core.Key
	Prior Pose2
	Noise *Diagonal
}

// NewPriorFactor creates a pose prior.
func NewPriorFactor(key core.Key, prior Pose2, noise *Diagonal) *PriorFactor {
	return &PriorFactor{Key: key, Prior: prior, Noise: noise}
}

// Keys implements nonlinear.Factor.
func (f *PriorFactor) Keys() []core.Key { return []core.Key{f.Key} }

func (f *PriorFactor) residual(values *nonlinear.Values) ([]float64, error) {
	p, err := poseAt(values, f.Key)
	if err != nil {
		return nil, err
	}
	return []float64{
		p.X - f.Prior.X,
		p.Y - f.Prior.Y,
		WrapAngle(p.Theta - f.Prior.Theta),
	}, nil
}

// Linearize implements nonlinear.Factor.
func (f *PriorFactor) Linearize(values *nonlinear.Values, ord *ordering.Ordering) (*linear.JacobianFactor, error) {
	resid, err := f.residual(values)
	if err != nil {
		return nil, err
	}
	idx, ok := ord.IndexOf(f.Key)
	if !ok {
		return nil, fmt.Errorf("variable %s not in ordering", f.Key)
	}
	rows := [][]float64{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}
	return assemble([]int{idx}, []int{3}, rows, resid, f.Noise), nil
}

// Error implements nonlinear.Factor.
func (f *PriorFactor) Error(values *nonlinear.Values) float64 {
	resid, err := f.residual(values)
	if err != nil {
		return math.Inf(1)
	}
	return f.Noise.SqError(resid)
}

// BetweenFactor constrains the relative pose between two poses.
type BetweenFactor struct {
	Key1, Key2 core.Key
	Measured   Pose2
	Noise      *Diagonal
}

// NewBetweenFactor creates an odometry-style constraint: Measured is the
// pose of Key2 expressed in Key1's frame.
func NewBetweenFactor(key1, key2 core.Key, measured Pose2, noise *Diagonal) *BetweenFactor {
	return &BetweenFactor{Key1: key1, Key2: key2, Measured: measured, Noise: noise}
}

// Keys implements nonlinear.Factor.
func (f *BetweenFactor) Keys() []core.Key { return []core.Key{f.Key1, f.Key2} }

func (f *BetweenFactor) residual(values *nonlinear.Values) (resid []float64, h Pose2, p1 Pose2, err error) {
	p1, err = poseAt(values, f.Key1)
	if err != nil {
		return nil, Pose2{}, Pose2{}, err
	}
	p2, err := poseAt(values, f.Key2)
	if err != nil {
		return nil, Pose2{}, Pose2{}, err
	}
	h = Between(p1, p2)
	resid = []float64{
		h.X - f.Measured.X,
		h.Y - f.Measured.Y,
		WrapAngle(h.Theta - f.Measured.Theta),
	}
	return resid, h, p1, nil
}

// Linearize implements nonlinear.Factor.
func (f *BetweenFactor) Linearize(values *nonlinear.Values, ord *ordering.Ordering) (*linear.JacobianFactor, error) {
	resid, h, p1, err := f.residual(values)
	if err != nil {
		return nil, err
	}
	i1, ok := ord.IndexOf(f.Key1)
	if !ok {
		return nil, fmt.Errorf("variable %s not in ordering", f.Key1)
	}
	i2, ok := ord.IndexOf(f.Key2)
	if !ok {
		return nil, fmt.Errorf("variable %s not in ordering", f.Key2)
	}
	c, s := math.Cos(p1.Theta), math.Sin(p1.Theta)
	rows := [][]float64{
		{-c, -s, h.Y, c, s, 0},
		{s, -c, -h.X, -s, c, 0},
		{0, 0, -1, 0, 0, 1},
	}
	return assemble([]int{i1, i2}, []int{3, 3}, rows, resid, f.Noise), nil
}

// Error implements nonlinear.Factor.
func (f *BetweenFactor) Error(values *nonlinear.Values) float64 {
	resid, _, _, err := f.residual(values)
	if err != nil {
		return math.Inf(1)
	}
	return f.Noise.SqError(resid)
}

// UnaryFactor is a GPS-like direct observation of a pose's position.
type UnaryFactor struct {
	Key   core.Key
	MX    float64
	MY    float64
	Noise *Diagonal
}

// NewUnaryFactor creates a position measurement on a pose.
func NewUnaryFactor(key core.Key, mx, my float64, noise *Diagonal) *UnaryFactor {
	return &UnaryFactor{Key: key, MX: mx, MY: my, Noise: noise}
}

// Keys implements nonlinear.Factor.
func (f *UnaryFactor) Keys() []core.Key { return []core.Key{f.Key} }

func (f *UnaryFactor) residual(values *nonlinear.Values) ([]float64, error) {
	p, err := poseAt(values, f.Key)
	if err != nil {
		return nil, err
	}
	return []float64{p.X - f.MX, p.Y - f.MY}, nil
}

// Linearize implements nonlinear.Factor.
func (f *UnaryFactor) Linearize(values *nonlinear.Values, ord *ordering.Ordering) (*linear.JacobianFactor, error) {
	resid, err := f.residual(values)
	if err != nil {
		return nil, err
	}
	idx, ok := ord.IndexOf(f.Key)
	if !ok {
		return nil, fmt.Errorf("variable %s not in ordering", f.Key)
	}
	rows := [][]float64{
		{1, 0, 0},
		{0, 1, 0},
	}
	return assemble([]int{idx}, []int{3}, rows, resid, f.Noise), nil
}

// Error implements nonlinear.Factor.
func (f *UnaryFactor) Error(values *nonlinear.Values) float64 {
	resid, err := f.residual(values)
	if err != nil {
		return math.Inf(1)
	}
	return f.Noise.SqError(resid)
}

// BearingRangeFactor observes a landmark from a pose as a relative bearing
// and a range.
type BearingRangeFactor struct {
	PoseKey  core.Key
	PointKey core.Key
	Bearing  float64
	Range    float64
	Noise    *Diagonal
}

// NewBearingRangeFactor creates a bearing-range observation. bearing is
// relative to the pose heading.
func NewBearingRangeFactor(poseKey, pointKey core.Key, bearing, rng float64, noise *Diagonal) *BearingRangeFactor {
	return &BearingRangeFactor{PoseKey: poseKey, PointKey: pointKey, Bearing: bearing, Range: rng, Noise: noise}
}

// Keys implements nonlinear.Factor.
func (f *BearingRangeFactor) Keys() []core.Key { return []core.Key{f.PoseKey, f.PointKey} }

func (f *BearingRangeFactor) predict(values *nonlinear.Values) (qx, qy, r float64, pose Pose2, err error) {
	pose, err = poseAt(values, f.PoseKey)
	if err != nil {
		return 0, 0, 0, Pose2{}, err
	}
	pt, err := pointAt(values, f.PointKey)
	if err != nil {
		return 0, 0, 0, Pose2{}, err
	}
	qx, qy = pt.X-pose.X, pt.Y-pose.Y
	r = math.Hypot(qx, qy)
	return qx, qy, r, pose, nil
}

func (f *BearingRangeFactor) residual(values *nonlinear.Values) ([]float64, error) {
	qx, qy, r, pose, err := f.predict(values)
	if err != nil {
		return nil, err
	}
	bearing := WrapAngle(math.Atan2(qy, qx) - pose.Theta)
	return []float64{
		WrapAngle(bearing - f.Bearing),
		r - f.Range,
	}, nil
}

// Linearize implements nonlinear.Factor.
func (f *BearingRangeFactor) Linearize(values *nonlinear.Values, ord *ordering.Ordering) (*linear.JacobianFactor, error) {
	resid, err := f.residual(values)
	if err != nil {
		return nil, err
	}
	qx, qy, r, _, err := f.predict(values)
	if err != nil {
		return nil, err
	}
	if r < 1e-12 {
		return nil, fmt.Errorf("degenerate bearing-range at %s", f.PoseKey)
	}
	ip, ok := ord.IndexOf(f.PoseKey)
	if !ok {
		return nil, fmt.Errorf("variable %s not in ordering", f.PoseKey)
	}
	il, ok := ord.IndexOf(f.PointKey)
	if !ok {
		return nil, fmt.Errorf("variable %s not in ordering", f.PointKey)
	}
	d2 := r * r
	rows := [][]float64{
		{qy / d2, -qx / d2, -1, -qy / d2, qx / d2},
		{-qx / r, -qy / r, 0, qx / r, qy / r},
	}
	return assemble([]int{ip, il}, []int{3, 2}, rows, resid, f.Noise), nil
}

// Error implements nonlinear.Factor.
func (f *BearingRangeFactor) Error(values *nonlinear.Values) float64 {
	resid, err := f.residual(values)
	if err != nil {
		return math.Inf(1)
	}
	return f.Noise.SqError(resid)
}
