// Package window provides the fixed-capacity sliding buffer used to smooth
// per-step counts into short-horizon rates.
package window

import (
	"slices"

	"gonum.org/v1/gonum/stat"
)

// Buffer is a FIFO of at most Cap samples. Pushing past capacity evicts the
// oldest sample. Push is the only mutator.
type Buffer struct {
	capacity int
	samples  []float64
}

// New returns an empty buffer. A capacity below 1 is treated as 1.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		capacity: capacity,
		samples:  make([]float64, 0, capacity),
	}
}

// NewFromSeed returns a buffer pre-filled by pushing seed in order, so only
// the last capacity values survive.
func NewFromSeed(capacity int, seed ...float64) *Buffer {
	b := New(capacity)
	for _, v := range seed {
		b.Push(v)
	}
	return b
}

// Push appends v, evicting the oldest sample when full.
func (b *Buffer) Push(v float64) {
	if len(b.samples) == b.capacity {
		copy(b.samples, b.samples[1:])
		b.samples = b.samples[:len(b.samples)-1]
	}
	b.samples = append(b.samples, v)
}

// Mean returns the arithmetic mean of the held samples, or 0 when empty.
func (b *Buffer) Mean() float64 {
	if len(b.samples) == 0 {
		return 0
	}
	return stat.Mean(b.samples, nil)
}

// Last returns the most recent sample and whether one exists.
func (b *Buffer) Last() (float64, bool) {
	if len(b.samples) == 0 {
		return 0, false
	}
	return b.samples[len(b.samples)-1], true
}

func (b *Buffer) Len() int { return len(b.samples) }
func (b *Buffer) Cap() int { return b.capacity }

// Values returns a copy of the samples, oldest first.
func (b *Buffer) Values() []float64 {
	return slices.Clone(b.samples)
}
