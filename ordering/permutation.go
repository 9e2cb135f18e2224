package ordering

import "fmt"

// Permutation relabels variable indices: a variable currently at index i
// moves to index p[i]. A permutation is always a bijection over the current
// variable count.
type Permutation []int

// Identity returns the identity permutation over n indices.
func Identity(n int) Permutation {
	p := make(Permutation, n)
	for i := range p {
		p[i] = i
	}
	return p
}

// Valid reports whether p is a bijection over [0, len(p)).
func (p Permutation) Valid() bool {
	seen := make([]bool, len(p))
	for _, v := range p {
		if v < 0 || v >= len(p) || seen[v] {
			return false
		}
		seen[v] = true
	}
	return true
}

// Inverse returns the permutation q with q[p[i]] = i.
func (p Permutation) Inverse() Permutation {
	q := make(Permutation, len(p))
	for i, v := range p {
		q[v] = i
	}
	return q
}

// Compose returns the permutation that applies older first and then p, so
// that (p.Compose(older))[i] == p[older[i]]. Both must have equal length.
func (p Permutation) Compose(older Permutation) Permutation {
	if len(p) != len(older) {
		panic(fmt.Sprintf("ordering: compose length mismatch %d != %d", len(p), len(older)))
	}
	q := make(Permutation, len(p))
	for i, v := range older {
		q[i] = p[v]
	}
	return q
}

// Extended returns p extended by the identity to n indices.
func (p Permutation) Extended(n int) Permutation {
	if n < len(p) {
		panic("ordering: cannot shrink a permutation")
	}
	q := make(Permutation, n)
	copy(q, p)
	for i := len(p); i < n; i++ {
		q[i] = i
	}
	return q
}
