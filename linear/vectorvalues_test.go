package linear

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/isamgo/ordering"
)

func TestPermutedRelabelKeepsStorage(t *testing.T) {
	vv := NewVectorValues()
	vv.Append(3)
	vv.Append(2)
	vv.Set(0, []float64{.1, .2, .3})
	vv.Set(1, []float64{.4, .5})

	p := NewPermuted(vv)
	p.Permute(ordering.Permutation{1, 0})

	// Logical 0 now addresses the 2-vector, logical 1 the 3-vector.
	assert.Equal(t, []float64{.4, .5}, p.At(0))
	assert.Equal(t, []float64{.1, .2, .3}, p.At(1))
	// Physical storage did not move.
	assert.Equal(t, []float64{.1, .2, .3}, vv.At(0))
}

func TestPermutedAppendAfterRelabel(t *testing.T) {
	vv := NewVectorValues()
	vv.Append(3)
	vv.Append(2)
	vv.Set(0, []float64{.1, .2, .3})
	vv.Set(1, []float64{.4, .5})

	p := NewPermuted(vv)
	p.Permute(ordering.Permutation{1, 0})

	// A new variable always comes in at the end with a zero block and an
	// identity slot.
	idx := p.Append(3)
	require.Equal(t, 2, idx)
	assert.Equal(t, []float64{0, 0, 0}, p.At(2))
	assert.Equal(t, ordering.Permutation{1, 0, 2}, p.Slots())

	// Established logical views survive the extension.
	assert.Equal(t, []float64{.4, .5}, p.At(0))
	assert.Equal(t, []float64{.1, .2, .3}, p.At(1))
}

func TestPermutedComposedRelabel(t *testing.T) {
	vv := NewVectorValues()
	for i := 0; i < 3; i++ {
		vv.Append(1)
		vv.Set(i, []float64{float64(i)})
	}
	p := NewPermuted(vv)

	p.Permute(ordering.Permutation{2, 0, 1})
	p.Permute(ordering.Permutation{2, 0, 1})

	// After both relabelings, original variable v sits at the composed
	// label.
	assert.Equal(t, []float64{0}, p.At(1))
	assert.Equal(t, []float64{1}, p.At(2))
	assert.Equal(t, []float64{2}, p.At(0))
}

func TestPermutedCloneIndependent(t *testing.T) {
	vv := NewVectorValues()
	vv.Append(2)
	vv.Set(0, []float64{1, 2})

	p := NewPermuted(vv)
	c := p.Clone()
	c.Set(0, []float64{9, 9})

	assert.Equal(t, []float64{1, 2}, p.At(0))
	assert.Equal(t, []float64{9, 9}, c.At(0))
}

func TestVectorValuesNorms(t *testing.T) {
	vv := NewVectorValues()
	vv.Append(2)
	vv.Set(0, []float64{3, -4})

	assert.InDelta(t, 4.0, vv.InfNorm(0), 1e-12)
	assert.InDelta(t, 25.0, SqNorm(vv), 1e-12)

	other := NewVectorValues()
	other.Append(2)
	other.Set(0, []float64{1, 1})
	assert.InDelta(t, -1.0, Dot(vv, other), 1e-12)
}
