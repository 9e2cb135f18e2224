// Package linear implements the Gaussian layer of the smoother: index
// addressed delta containers, Jacobian and information form linear factors,
// Gaussian conditionals, and the elimination engine that factorizes a linear
// subgraph into conditionals plus separator marginals.
package linear

import (
	"math"

	"github.com/hupe1980/isamgo/ordering"
)

// View is read access to an index-addressed collection of local vectors.
type View interface {
	Len() int
	At(i int) []float64
}

// VectorValues maps variable indices to update vectors of each variable's
// local dimension. Storage is dense and append-only.
type VectorValues struct {
	vecs [][]float64
}

// NewVectorValues returns an empty container.
func NewVectorValues() *VectorValues { return &VectorValues{} }

// Len returns the number of variables.
func (v *VectorValues) Len() int { return len(v.vecs) }

// Append adds a zero vector of the given dimension and returns its index.
func (v *VectorValues) Append(dim int) int {
	v.vecs = append(v.vecs, make([]float64, dim))
	return len(v.vecs) - 1
}

// At returns the vector stored at index i. The slice aliases internal storage.
func (v *VectorValues) At(i int) []float64 { return v.vecs[i] }

// Dim returns the local dimension at index i.
func (v *VectorValues) Dim(i int) int { return len(v.vecs[i]) }

// Set overwrites the vector at index i.
func (v *VectorValues) Set(i int, vals []float64) {
	copy(v.vecs[i], vals)
}

// SetZero zeroes the vector at index i.
func (v *VectorValues) SetZero(i int) {
	for j := range v.vecs[i] {
		v.vecs[i][j] = 0
	}
}

// Zero zeroes every vector.
func (v *VectorValues) Zero() {
	for i := range v.vecs {
		v.SetZero(i)
	}
}

// InfNorm returns the infinity norm of the vector at index i.
func (v *VectorValues) InfNorm(i int) float64 {
	m := 0.0
	for _, x := range v.vecs[i] {
		if a := math.Abs(x); a > m {
			m = a
		}
	}
	return m
}

// Clone returns an independent deep copy.
func (v *VectorValues) Clone() *VectorValues {
	c := &VectorValues{vecs: make([][]float64, len(v.vecs))}
	for i, vec := range v.vecs {
		c.vecs[i] = append([]float64(nil), vec...)
	}
	return c
}

// SqNorm returns the squared two-norm over all entries of a view.
func SqNorm(a View) float64 {
	s := 0.0
	for i := 0; i < a.Len(); i++ {
		for _, x := range a.At(i) {
			s += x * x
		}
	}
	return s
}

// Dot returns the inner product of two identically shaped views.
func Dot(a, b View) float64 {
	s := 0.0
	for i := 0; i < a.Len(); i++ {
		av, bv := a.At(i), b.At(i)
		for j := range av {
			s += av[j] * bv[j]
		}
	}
	return s
}

// Permuted presents a VectorValues through a logical index to physical slot
// indirection, so reorderings relabel without moving storage. Composing a new
// relabeling preserves every previously established logical to slot mapping.
type Permuted struct {
	values *VectorValues
	slots  ordering.Permutation
}

// NewPermuted wraps values with the identity indirection.
func NewPermuted(values *VectorValues) *Permuted {
	return &Permuted{values: values, slots: ordering.Identity(values.Len())}
}

// Len returns the number of variables.
func (p *Permuted) Len() int { return len(p.slots) }

// At returns the vector at logical index i.
func (p *Permuted) At(i int) []float64 { return p.values.At(p.slots[i]) }

// Dim returns the local dimension at logical index i.
func (p *Permuted) Dim(i int) int { return p.values.Dim(p.slots[i]) }

// Set overwrites the vector at logical index i.
func (p *Permuted) Set(i int, vals []float64) { p.values.Set(p.slots[i], vals) }

// SetZero zeroes the vector at logical index i.
func (p *Permuted) SetZero(i int) { p.values.SetZero(p.slots[i]) }

// InfNorm returns the infinity norm at logical index i.
func (p *Permuted) InfNorm(i int) float64 { return p.values.InfNorm(p.slots[i]) }

// Append adds a zero vector; the new variable's logical index equals its
// physical slot.
func (p *Permuted) Append(dim int) int {
	slot := p.values.Append(dim)
	p.slots = append(p.slots, slot)
	return len(p.slots) - 1
}

// Permute composes a relabeling into the indirection: the variable at logical
// index i is addressed as relabel[i] afterwards. Physical slots do not move.
func (p *Permuted) Permute(relabel ordering.Permutation) {
	if len(relabel) != len(p.slots) {
		panic("linear: permutation length mismatch")
	}
	next := make(ordering.Permutation, len(p.slots))
	for old, slot := range p.slots {
		next[relabel[old]] = slot
	}
	p.slots = next
}

// Slots returns a copy of the logical to physical mapping.
func (p *Permuted) Slots() ordering.Permutation {
	return append(ordering.Permutation(nil), p.slots...)
}

// Clone returns an independent deep copy.
func (p *Permuted) Clone() *Permuted {
	return &Permuted{
		values: p.values.Clone(),
		slots:  append(ordering.Permutation(nil), p.slots...),
	}
}
