// Package ordering maintains the bidirectional mapping between variable keys
// and elimination indices, the permutations that relabel those indices, and
// the fill-reducing strategies that choose elimination orders.
package ordering

import (
	"github.com/hupe1980/isamgo/core"
)

// Ordering is a total order over all live keys, represented both as
// key to index and index to key. Indices are append-only: new keys receive
// new trailing indices, and reorderings are expressed as permutations rather
// than index reuse.
type Ordering struct {
	keyToIndex map[core.Key]int
	indexToKey []core.Key
}

// New returns an empty ordering.
func New() *Ordering {
	return &Ordering{keyToIndex: make(map[core.Key]int)}
}

// Len returns the number of live variables.
func (o *Ordering) Len() int { return len(o.indexToKey) }

// Contains reports whether key is live.
func (o *Ordering) Contains(key core.Key) bool {
	_, ok := o.keyToIndex[key]
	return ok
}

// IndexOf returns the current index of key.
func (o *Ordering) IndexOf(key core.Key) (int, bool) {
	i, ok := o.keyToIndex[key]
	return i, ok
}

// KeyAt returns the key currently labeled with index i.
func (o *Ordering) KeyAt(i int) core.Key { return o.indexToKey[i] }

// Extend appends key with the next trailing index and returns that index.
func (o *Ordering) Extend(key core.Key) int {
	if _, ok := o.keyToIndex[key]; ok {
		panic("ordering: key already present: " + key.String())
	}
	i := len(o.indexToKey)
	o.indexToKey = append(o.indexToKey, key)
	o.keyToIndex[key] = i
	return i
}

// Permute relabels every key's index through p.
func (o *Ordering) Permute(p Permutation) {
	if len(p) != len(o.indexToKey) {
		panic("ordering: permutation length mismatch")
	}
	relabeled := make([]core.Key, len(o.indexToKey))
	for old, key := range o.indexToKey {
		relabeled[p[old]] = key
		o.keyToIndex[key] = p[old]
	}
	o.indexToKey = relabeled
}

// Clone returns an independent deep copy.
func (o *Ordering) Clone() *Ordering {
	c := &Ordering{
		keyToIndex: make(map[core.Key]int, len(o.keyToIndex)),
		indexToKey: append([]core.Key(nil), o.indexToKey...),
	}
	for k, v := range o.keyToIndex {
		c.keyToIndex[k] = v
	}
	return c
}

// Keys returns the keys in index order.
func (o *Ordering) Keys() []core.Key {
	return append([]core.Key(nil), o.indexToKey...)
}
