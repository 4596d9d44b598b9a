// Package dsp holds the effect stages the channel strips and the stem
// separator are built from, plus the node arena that wires them together.
//
// Every stage processes a stereo Block in place. Stages keep their own
// per-channel state and are not safe for concurrent use; the engine
// serialises rendering behind its mutex and offline renders build their
// own stages.
package dsp

import "github.com/satindergrewal/duet/internal/audio"

// Block is one slice of stereo audio. Time is the engine sample index of the
// first frame, which lets sources schedule against a shared clock.
type Block struct {
	Time  int64
	Left  []float64
	Right []float64
}

// Stage is an in-place audio processor.
type Stage interface {
	Process(b *Block)
}

// StageFunc adapts a function to Stage.
type StageFunc func(b *Block)

func (f StageFunc) Process(b *Block) { f(b) }

// NewBlock allocates a silent block of n frames.
func NewBlock(n int) *Block {
	return &Block{Left: make([]float64, n), Right: make([]float64, n)}
}

// Len returns the number of frames.
func (b *Block) Len() int {
	return len(b.Left)
}

// Clear zeroes both channels.
func (b *Block) Clear() {
	clear(b.Left)
	clear(b.Right)
}

// Add mixes o into b.
func (b *Block) Add(o *Block) {
	for i := range b.Left {
		b.Left[i] += o.Left[i]
		b.Right[i] += o.Right[i]
	}
}

// CopyFrom overwrites b with o.
func (b *Block) CopyFrom(o *Block) {
	b.Time = o.Time
	copy(b.Left, o.Left)
	copy(b.Right, o.Right)
}

// Clone returns a deep copy.
func (b *Block) Clone() *Block {
	c := NewBlock(b.Len())
	c.CopyFrom(b)
	return c
}

// Peak returns the largest absolute sample across both channels.
func (b *Block) Peak() float64 {
	var p float64
	for i := range b.Left {
		p = max(p, abs(b.Left[i]), abs(b.Right[i]))
	}
	return p
}

// Interleaved16 quantizes the block to interleaved stereo int16 with clipping.
func (b *Block) Interleaved16(dst []int16) []int16 {
	n := b.Len()
	if cap(dst) < n*2 {
		dst = make([]int16, n*2)
	}
	dst = dst[:n*2]
	for i := 0; i < n; i++ {
		dst[i*2] = audio.FloatToInt16(b.Left[i])
		dst[i*2+1] = audio.FloatToInt16(b.Right[i])
	}
	return dst
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
