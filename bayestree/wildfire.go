package bayestree

import (
	"math"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/isamgo/linear"
)

// OptimizeWildfire back-substitutes only where it matters: a clique is
// recomputed when one of its frontals was replaced in this update or when a
// separator variable's delta moved by more than threshold, and recursion
// stops at the first untouched clique on each branch. Returns the number of
// cliques recomputed.
func (t *Tree) OptimizeWildfire(delta *linear.Permuted, replaced *roaring.Bitmap, threshold float64) int {
	changed := roaring.New()
	count := 0

	var visit func(id CliqueID)
	visit = func(id CliqueID) {
		n := &t.nodes[id]
		recompute := false
		for _, c := range n.conditionals {
			if replaced.Contains(uint32(c.Frontal())) {
				recompute = true
				break
			}
		}
		if !recompute {
			for _, s := range t.Separator(id) {
				if changed.Contains(uint32(s)) {
					recompute = true
					break
				}
			}
		}
		if !recompute {
			return
		}
		count++

		// Later frontals only depend on the separator, earlier ones on the
		// later ones as well, so solve back to front.
		for i := len(n.conditionals) - 1; i >= 0; i-- {
			c := n.conditionals[i]
			x := c.Solve(delta)
			old := delta.At(c.Frontal())
			diff := 0.0
			for j := range x {
				if d := math.Abs(x[j] - old[j]); d > diff {
					diff = d
				}
			}
			if diff > threshold {
				changed.Add(uint32(c.Frontal()))
			}
			delta.Set(c.Frontal(), x)
		}
		for _, ch := range n.children {
			visit(ch)
		}
	}
	for _, r := range t.roots {
		visit(r)
	}
	return count
}

// SolveFull recomputes every delta in the tree regardless of thresholds.
func (t *Tree) SolveFull(delta *linear.Permuted) {
	var visit func(id CliqueID)
	visit = func(id CliqueID) {
		n := &t.nodes[id]
		for i := len(n.conditionals) - 1; i >= 0; i-- {
			c := n.conditionals[i]
			delta.Set(c.Frontal(), c.Solve(delta))
		}
		for _, ch := range n.children {
			visit(ch)
		}
	}
	for _, r := range t.roots {
		visit(r)
	}
}
