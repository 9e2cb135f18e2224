package linear

import "github.com/hupe1980/isamgo/ordering"

// GaussianFactor is a linear factor over variable indices, either in Jacobian
// or information form. Factors are transient within one update, except for
// the separator marginals cached inside Bayes tree cliques, which persist and
// must therefore support relabeling and deep copies.
type GaussianFactor interface {
	// Indices returns the variable indices touched, in stored block order.
	Indices() []int

	// Dims returns the local dimension of each block, aligned with Indices.
	Dims() []int

	// PermuteIndices relabels every stored index in place through p. Block
	// order and contents are untouched; only the labels change.
	PermuteIndices(p ordering.Permutation)

	// CloneFactor returns an independent deep copy.
	CloneFactor() GaussianFactor
}
