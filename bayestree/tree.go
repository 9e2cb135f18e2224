// Package bayestree maintains the clique tree of a square-root factorization
// and the incremental operations on it: inserting newly eliminated fragments,
// detaching and reattaching subtrees, and partial back-substitution.
package bayestree

import (
	"fmt"

	"github.com/hupe1980/isamgo/linear"
	"github.com/hupe1980/isamgo/ordering"
)

// CliqueID is a stable handle into the tree's clique arena.
type CliqueID int32

// InvalidClique is the zero parent of root cliques.
const InvalidClique CliqueID = -1

// clique groups consecutive conditionals whose structure interlocks. The
// conditionals are stored in elimination order, so the last one's parents
// are the clique separator. cached holds the marginal on that separator
// produced when the clique was eliminated.
type clique struct {
	conditionals []*linear.GaussianConditional
	cached       linear.GaussianFactor
	parent       CliqueID
	children     []CliqueID
	live         bool
}

// Tree is a forest of cliques backed by a flat arena with a freelist, so
// clique handles stay valid across unrelated removals.
type Tree struct {
	nodes []clique
	free  []CliqueID
	roots []CliqueID
	index map[int]CliqueID // variable -> clique holding it as a frontal
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{index: make(map[int]CliqueID)}
}

func (t *Tree) alloc() CliqueID {
	if n := len(t.free); n > 0 {
		id := t.free[n-1]
		t.free = t.free[:n-1]
		t.nodes[id] = clique{parent: InvalidClique, live: true}
		return id
	}
	t.nodes = append(t.nodes, clique{parent: InvalidClique, live: true})
	return CliqueID(len(t.nodes) - 1)
}

func (t *Tree) release(id CliqueID) {
	t.nodes[id] = clique{}
	t.free = append(t.free, id)
}

// Valid reports whether the handle refers to a live clique.
func (t *Tree) Valid(id CliqueID) bool {
	return id >= 0 && int(id) < len(t.nodes) && t.nodes[id].live
}

// Len returns the number of live cliques.
func (t *Tree) Len() int {
	return len(t.nodes) - len(t.free)
}

// Roots returns the root cliques of the forest.
func (t *Tree) Roots() []CliqueID {
	return append([]CliqueID(nil), t.roots...)
}

// Parent returns the parent handle, or InvalidClique for roots.
func (t *Tree) Parent(id CliqueID) CliqueID { return t.nodes[id].parent }

// Children returns the child handles of a clique.
func (t *Tree) Children(id CliqueID) []CliqueID {
	return append([]CliqueID(nil), t.nodes[id].children...)
}

// Conditionals returns the clique's conditionals in elimination order.
func (t *Tree) Conditionals(id CliqueID) []*linear.GaussianConditional {
	return t.nodes[id].conditionals
}

// Cached returns the separator marginal recorded when the clique was built.
func (t *Tree) Cached(id CliqueID) linear.GaussianFactor {
	return t.nodes[id].cached
}

// Frontals returns the clique's frontal variables in elimination order.
func (t *Tree) Frontals(id CliqueID) []int {
	conds := t.nodes[id].conditionals
	out := make([]int, len(conds))
	for i, c := range conds {
		out[i] = c.Frontal()
	}
	return out
}

// Separator returns the clique's separator variables, the parents of its
// last conditional.
func (t *Tree) Separator(id CliqueID) []int {
	conds := t.nodes[id].conditionals
	if len(conds) == 0 {
		return nil
	}
	return conds[len(conds)-1].Parents()
}

// CliqueOf returns the clique holding v as a frontal variable.
func (t *Tree) CliqueOf(v int) (CliqueID, bool) {
	id, ok := t.index[v]
	return id, ok
}

// Walk visits every live clique top-down, parents before children.
func (t *Tree) Walk(fn func(id CliqueID) bool) {
	stack := append([]CliqueID(nil), t.roots...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(id) {
			continue
		}
		stack = append(stack, t.nodes[id].children...)
	}
}

// VisitConditionals calls fn on every conditional in the forest.
func (t *Tree) VisitConditionals(fn func(c *linear.GaussianConditional)) {
	t.Walk(func(id CliqueID) bool {
		for _, c := range t.nodes[id].conditionals {
			fn(c)
		}
		return true
	})
}

// Permute relabels every variable v occurring in the tree to relabel[v].
// Only labels change, the clique structure and block layout stay put.
func (t *Tree) Permute(relabel ordering.Permutation) {
	next := make(map[int]CliqueID, len(t.index))
	for v, id := range t.index {
		next[relabel[v]] = id
	}
	t.index = next
	seen := make(map[linear.GaussianFactor]bool)
	t.Walk(func(id CliqueID) bool {
		n := &t.nodes[id]
		for _, c := range n.conditionals {
			c.PermuteIndices(relabel)
		}
		if n.cached != nil && !seen[n.cached] {
			seen[n.cached] = true
			n.cached.PermuteIndices(relabel)
		}
		return true
	})
}

// Clone returns a deep copy of the tree.
func (t *Tree) Clone() *Tree {
	c := &Tree{
		nodes: make([]clique, len(t.nodes)),
		free:  append([]CliqueID(nil), t.free...),
		roots: append([]CliqueID(nil), t.roots...),
		index: make(map[int]CliqueID, len(t.index)),
	}
	for i := range t.nodes {
		n := t.nodes[i]
		if !n.live {
			continue
		}
		cn := clique{
			parent:   n.parent,
			children: append([]CliqueID(nil), n.children...),
			live:     true,
		}
		cn.conditionals = make([]*linear.GaussianConditional, len(n.conditionals))
		for j, cond := range n.conditionals {
			cn.conditionals[j] = cond.Clone()
		}
		if n.cached != nil {
			cn.cached = n.cached.CloneFactor()
		}
		c.nodes[i] = cn
	}
	for v, id := range t.index {
		c.index[v] = id
	}
	return c
}

// String renders the forest for debugging.
func (t *Tree) String() string {
	out := ""
	var dump func(id CliqueID, depth int)
	dump = func(id CliqueID, depth int) {
		for i := 0; i < depth; i++ {
			out += "  "
		}
		out += fmt.Sprintf("clique %d: frontals %v separator %v\n", id, t.Frontals(id), t.Separator(id))
		for _, ch := range t.nodes[id].children {
			dump(ch, depth+1)
		}
	}
	for _, r := range t.roots {
		dump(r, 0)
	}
	return out
}

func (t *Tree) removeRoot(id CliqueID) {
	for i, r := range t.roots {
		if r == id {
			t.roots = append(t.roots[:i], t.roots[i+1:]...)
			return
		}
	}
}

func (t *Tree) removeChild(parent, child CliqueID) {
	ch := t.nodes[parent].children
	for i, c := range ch {
		if c == child {
			t.nodes[parent].children = append(ch[:i], ch[i+1:]...)
			return
		}
	}
}
