package bayestree

import (
	"fmt"

	"github.com/hupe1980/isamgo/linear"
)

// BuildFragment inserts the conditionals of a fresh elimination into the
// tree, grouping them into cliques. Conditionals are processed in reverse
// elimination order so every parent variable already has a clique when its
// child arrives. A conditional is merged into the clique of its first parent
// when its parents exactly cover that clique's trailing frontals plus
// separator, otherwise it starts a child clique. Newly created cliques pick
// up the separator marginal their last frontal produced.
//
// Returns the handles of the cliques it created.
func (t *Tree) BuildFragment(elim *linear.Elimination) ([]CliqueID, error) {
	pos := make(map[int]int, len(elim.Order))
	for i, v := range elim.Order {
		pos[v] = i
	}

	var created []CliqueID
	for k := len(elim.Conditionals) - 1; k >= 0; k-- {
		cond := elim.Conditionals[k]
		parents := cond.Parents()

		if len(parents) == 0 {
			id := t.alloc()
			t.nodes[id].conditionals = []*linear.GaussianConditional{cond}
			t.nodes[id].cached = elim.Remainders[k]
			t.roots = append(t.roots, id)
			t.index[cond.Frontal()] = id
			created = append(created, id)
			continue
		}

		s0 := parents[0]
		for _, p := range parents[1:] {
			if pos[p] < pos[s0] {
				s0 = p
			}
		}
		pid, ok := t.index[s0]
		if !ok {
			return nil, fmt.Errorf("bayestree: parent variable %d has no clique", s0)
		}

		if t.mergeable(pid, s0, parents) {
			t.nodes[pid].conditionals = append([]*linear.GaussianConditional{cond}, t.nodes[pid].conditionals...)
			t.index[cond.Frontal()] = pid
			continue
		}

		id := t.alloc()
		t.nodes[id].conditionals = []*linear.GaussianConditional{cond}
		t.nodes[id].cached = elim.Remainders[k]
		t.nodes[id].parent = pid
		t.nodes[pid].children = append(t.nodes[pid].children, id)
		t.index[cond.Frontal()] = id
		created = append(created, id)
	}
	return created, nil
}

// mergeable reports whether a conditional whose first parent is s0 can join
// clique pid: its parents must be exactly pid's frontals from s0 onward plus
// pid's separator.
func (t *Tree) mergeable(pid CliqueID, s0 int, parents []int) bool {
	want := make(map[int]bool, len(parents))
	for _, p := range parents {
		want[p] = true
	}
	n := 0
	tail := false
	for _, f := range t.Frontals(pid) {
		if f == s0 {
			tail = true
		}
		if tail {
			if !want[f] {
				return false
			}
			n++
		}
	}
	for _, s := range t.Separator(pid) {
		if !want[s] {
			return false
		}
		n++
	}
	return n == len(parents)
}
