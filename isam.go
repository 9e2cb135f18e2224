package isamgo

import (
	"sync"

	"github.com/hupe1980/isamgo/bayestree"
	"github.com/hupe1980/isamgo/core"
	"github.com/hupe1980/isamgo/linear"
	"github.com/hupe1980/isamgo/nonlinear"
	"github.com/hupe1980/isamgo/ordering"
)

// ISAM is an incremental nonlinear smoother. It owns the factor graph, the
// linearization point, the clique tree of the current factorization and the
// solution delta, and refreshes all of them in place on every Update.
//
// All methods are safe for concurrent use, but updates are serialized.
type ISAM struct {
	mu   sync.Mutex
	opts options

	ordering *ordering.Ordering
	theta    *nonlinear.Values
	graph    *nonlinear.Graph
	varIndex map[core.Key][]int
	tree     *bayestree.Tree

	// The accepted solution delta plus the dogleg scratch steps: the
	// propagated Newton step and the scaled steepest descent step. All
	// three grow and permute together with the ordering.
	delta        *linear.Permuted
	deltaNewton  *linear.Permuted
	deltaDescent *linear.Permuted

	updateCount  int
	doglegRadius float64

	// Affected region of a failed elimination, folded back into the next
	// update so the caller can retry with additional constraints.
	pendingVars    []int
	pendingOrphans []bayestree.CliqueID
	pendingValid   bool
}

// New creates an empty smoother.
func New(optFns ...Option) *ISAM {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ISAM{
		opts:         opts,
		ordering:     ordering.New(),
		theta:        nonlinear.NewValues(),
		graph:        nonlinear.NewGraph(),
		varIndex:     make(map[core.Key][]int),
		tree:         bayestree.New(),
		delta:        linear.NewPermuted(linear.NewVectorValues()),
		deltaNewton:  linear.NewPermuted(linear.NewVectorValues()),
		deltaDescent: linear.NewPermuted(linear.NewVectorValues()),
		doglegRadius: opts.doglegRadius,
	}
}

// CalculateEstimate returns the current best estimate of all variables,
// the linearization point moved by the current delta. The stored state is
// not modified.
func (i *ISAM) CalculateEstimate() *nonlinear.Values {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.theta.Retract(i.delta, i.ordering)
}

// CalculateEstimateKey returns the current best estimate of one variable.
func (i *ISAM) CalculateEstimateKey(key core.Key) (nonlinear.Value, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	idx, ok := i.ordering.IndexOf(key)
	if !ok {
		return nil, ErrUnknownKey
	}
	v, _ := i.theta.RetractKey(key, i.delta.At(idx))
	return v, nil
}

// GetLinearizationPoint returns the linearization point of one variable.
func (i *ISAM) GetLinearizationPoint(key core.Key) (nonlinear.Value, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	v, ok := i.theta.At(key)
	if !ok {
		return nil, ErrUnknownKey
	}
	return v, nil
}

// GetOrdering returns a copy of the current variable ordering.
func (i *ISAM) GetOrdering() *ordering.Ordering {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.ordering.Clone()
}

// Delta returns a copy of the current solution delta in variable order.
func (i *ISAM) Delta() *linear.VectorValues {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := linear.NewVectorValues()
	for v := 0; v < i.delta.Len(); v++ {
		out.Append(i.delta.Dim(v))
		out.Set(v, i.delta.At(v))
	}
	return out
}

// GetFactorsUnsafe returns the live factors. The returned slice aliases
// internal state and must not be modified.
func (i *ISAM) GetFactorsUnsafe() []nonlinear.Factor {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := make([]nonlinear.Factor, 0, i.graph.Len())
	for s := 0; s < i.graph.Slots(); s++ {
		if f := i.graph.At(s); f != nil {
			out = append(out, f)
		}
	}
	return out
}

// Nodes returns the number of cliques in the tree.
func (i *ISAM) Nodes() int {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.tree.Len()
}

// Tree exposes the clique tree for inspection.
func (i *ISAM) Tree() *bayestree.Tree {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.tree
}

// Error returns the total factor graph error at the given values.
func (i *ISAM) Error(values *nonlinear.Values) float64 {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.graph.Error(values)
}

// GradientAtZero returns the gradient of the linearized system at delta
// zero, one block per variable in the current ordering.
func (i *ISAM) GradientAtZero() *linear.VectorValues {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.gradientAtZero()
}

func (i *ISAM) gradientAtZero() *linear.VectorValues {
	g := linear.NewVectorValues()
	for v := 0; v < i.delta.Len(); v++ {
		g.Append(i.delta.Dim(v))
	}
	i.tree.VisitConditionals(func(c *linear.GaussianConditional) {
		fg, pgs := c.GradientContribution()
		dst := g.At(c.Frontal())
		for j := range fg {
			dst[j] += fg[j]
		}
		for pi, p := range c.Parents() {
			dst := g.At(p)
			for j := range pgs[pi] {
				dst[j] += pgs[pi][j]
			}
		}
	})
	return g
}

// Clone returns an independent deep copy of the smoother.
func (i *ISAM) Clone() *ISAM {
	i.mu.Lock()
	defer i.mu.Unlock()

	return &ISAM{
		opts:           i.opts,
		ordering:       i.ordering.Clone(),
		theta:          i.theta.Clone(),
		graph:          i.graph.Clone(),
		varIndex:       cloneVarIndex(i.varIndex),
		tree:           i.tree.Clone(),
		delta:          i.delta.Clone(),
		deltaNewton:    i.deltaNewton.Clone(),
		deltaDescent:   i.deltaDescent.Clone(),
		updateCount:    i.updateCount,
		doglegRadius:   i.doglegRadius,
		pendingVars:    append([]int(nil), i.pendingVars...),
		pendingOrphans: append([]bayestree.CliqueID(nil), i.pendingOrphans...),
		pendingValid:   i.pendingValid,
	}
}

func cloneVarIndex(m map[core.Key][]int) map[core.Key][]int {
	out := make(map[core.Key][]int, len(m))
	for k, v := range m {
		out[k] = append([]int(nil), v...)
	}
	return out
}
