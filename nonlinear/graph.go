// Package nonlinear holds the nonlinear side of the smoother: manifold
// values, measurement factors and the factor graph that linearizes them.
package nonlinear

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/isamgo/linear"
	"github.com/hupe1980/isamgo/ordering"
)

// Graph is a factor graph with stable slot indices: removing a factor leaves
// a vacant slot, and new factors always append, so a slot index identifies
// the same factor for the lifetime of the graph.
type Graph struct {
	slots []Factor
	count int
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{}
}

// NewGraphFromSlots restores a graph from a raw slot slice, nil entries
// marking vacancies. Used when loading persisted state.
func NewGraphFromSlots(slots []Factor) *Graph {
	g := &Graph{slots: append([]Factor(nil), slots...)}
	for _, f := range g.slots {
		if f != nil {
			g.count++
		}
	}
	return g
}

// Add appends f and returns its slot index.
func (g *Graph) Add(f Factor) int {
	g.slots = append(g.slots, f)
	g.count++
	return len(g.slots) - 1
}

// Remove vacates the slot at index.
func (g *Graph) Remove(index int) error {
	if index < 0 || index >= len(g.slots) || g.slots[index] == nil {
		return &ErrInvalidRemoval{Index: index}
	}
	g.slots[index] = nil
	g.count--
	return nil
}

// At returns the factor at the given slot, or nil for vacant slots.
func (g *Graph) At(index int) Factor {
	if index < 0 || index >= len(g.slots) {
		return nil
	}
	return g.slots[index]
}

// Len returns the number of occupied slots.
func (g *Graph) Len() int { return g.count }

// Slots returns the slot count including vacancies.
func (g *Graph) Slots() int { return len(g.slots) }

// Clone returns a copy sharing the (immutable) factors.
func (g *Graph) Clone() *Graph {
	return &Graph{slots: append([]Factor(nil), g.slots...), count: g.count}
}

// Error sums every factor's error at the given point.
func (g *Graph) Error(values *Values) float64 {
	total := 0.0
	for _, f := range g.slots {
		if f != nil {
			total += f.Error(values)
		}
	}
	return total
}

// Linearize evaluates the factors at the given slots and returns their
// Jacobian systems aligned to indices. Work is spread over workers
// goroutines (0 means GOMAXPROCS). Missing variable values are detected up
// front so the returned error names the offending key.
func (g *Graph) Linearize(ctx context.Context, indices []int, values *Values, ord *ordering.Ordering, workers int) ([]linear.GaussianFactor, error) {
	for _, idx := range indices {
		f := g.At(idx)
		if f == nil {
			continue
		}
		for _, k := range f.Keys() {
			if !values.Has(k) {
				return nil, &ErrLinearization{Key: k}
			}
		}
	}

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	out := make([]linear.GaussianFactor, len(indices))
	eg, _ := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i, idx := range indices {
		f := g.At(idx)
		if f == nil {
			continue
		}
		eg.Go(func() error {
			jf, err := f.Linearize(values, ord)
			if err != nil {
				return err
			}
			out[i] = jf
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
