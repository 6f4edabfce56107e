package window

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferEvictsOldest(t *testing.T) {
	b := New(3)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		b.Push(v)
	}
	require.Equal(t, 3, b.Len())
	assert.Equal(t, []float64{3, 4, 5}, b.Values())
	assert.InDelta(t, 4.0, b.Mean(), 1e-12)

	last, ok := b.Last()
	assert.True(t, ok)
	assert.Equal(t, 5.0, last)
}

func TestBufferMeanDependsOnlyOnLastC(t *testing.T) {
	a := NewFromSeed(4, 100, -50, 7, 9, 1, 2, 3, 4)
	b := NewFromSeed(4, 1, 2, 3, 4)
	assert.Equal(t, b.Values(), a.Values())
	assert.InDelta(t, b.Mean(), a.Mean(), 1e-12)
}

func TestBufferConvergesToConstant(t *testing.T) {
	b := NewFromSeed(10, 30, 0, 12, 8)
	for i := 0; i < b.Cap(); i++ {
		b.Push(2.5)
	}
	assert.InDelta(t, 2.5, b.Mean(), 1e-12)
}

func TestBufferEmpty(t *testing.T) {
	b := New(0)
	assert.Equal(t, 1, b.Cap())
	assert.Zero(t, b.Mean())
	_, ok := b.Last()
	assert.False(t, ok)

	// Values is a copy.
	b.Push(1)
	v := b.Values()
	v[0] = 99
	assert.Equal(t, []float64{1}, b.Values())
}
