package bayestree

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
)

// FindAffected collects the cliques containing any of the given variables as
// a frontal, together with all their ancestors up to the roots. Variables
// not yet in the tree are skipped.
func (t *Tree) FindAffected(vars []int) map[CliqueID]bool {
	affected := make(map[CliqueID]bool)
	for _, v := range vars {
		id, ok := t.index[v]
		if !ok {
			continue
		}
		for id != InvalidClique && !affected[id] {
			affected[id] = true
			id = t.nodes[id].parent
		}
	}
	return affected
}

// RemoveTop detaches and releases the given top-closed clique set. It
// returns the removed cliques' frontal variables in ascending order and the
// orphaned subtrees, which are promoted to roots until AttachOrphans hooks
// them back under the rebuilt top.
func (t *Tree) RemoveTop(cliques map[CliqueID]bool) (vars []int, orphans []CliqueID) {
	for id := range cliques {
		n := &t.nodes[id]
		for _, c := range n.conditionals {
			vars = append(vars, c.Frontal())
			delete(t.index, c.Frontal())
		}
		if n.parent == InvalidClique {
			t.removeRoot(id)
		} else if !cliques[n.parent] {
			t.removeChild(n.parent, id)
		}
		for _, ch := range n.children {
			if cliques[ch] {
				continue
			}
			t.nodes[ch].parent = InvalidClique
			t.roots = append(t.roots, ch)
			orphans = append(orphans, ch)
		}
		t.release(id)
	}
	sort.Ints(vars)
	return vars, orphans
}

// AttachOrphans hooks each orphan back under the clique holding its last
// separator variable. Orphans whose separator vanished stay roots.
func (t *Tree) AttachOrphans(orphans []CliqueID) {
	for _, id := range orphans {
		sep := t.Separator(id)
		if len(sep) == 0 {
			continue
		}
		last := sep[0]
		for _, s := range sep[1:] {
			if s > last {
				last = s
			}
		}
		pid, ok := t.index[last]
		if !ok {
			continue
		}
		t.removeRoot(id)
		t.nodes[id].parent = pid
		t.nodes[pid].children = append(t.nodes[pid].children, id)
	}
}

// FindAll expands marked to a set closed under clique membership: whenever a
// clique touches a marked variable through a frontal or its separator, all
// of its frontals are marked too, repeated until nothing new turns up.
func (t *Tree) FindAll(marked *roaring.Bitmap) {
	for {
		grew := false
		t.Walk(func(id CliqueID) bool {
			n := &t.nodes[id]
			hit := false
			for _, c := range n.conditionals {
				if marked.Contains(uint32(c.Frontal())) {
					hit = true
					break
				}
			}
			if !hit {
				for _, s := range t.Separator(id) {
					if marked.Contains(uint32(s)) {
						hit = true
						break
					}
				}
			}
			if hit {
				for _, c := range n.conditionals {
					if marked.CheckedAdd(uint32(c.Frontal())) {
						grew = true
					}
				}
			}
			return true
		})
		if !grew {
			return
		}
	}
}
