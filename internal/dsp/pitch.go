package dsp

import "math"

// PitchShifter transposes by sweeping two crossfaded read heads across a
// short delay window. At zero semitones it passes audio through untouched.
type PitchShifter struct {
	window     float64 // samples
	sampleRate float64
	semitones  float64
	step       float64 // phase increment per sample
	phase      float64
	lines      [2]delayLine
}

// NewPitchShifter creates a shifter with a window of windowSize seconds.
func NewPitchShifter(windowSize, sampleRate float64) *PitchShifter {
	n := int(windowSize*sampleRate) + 2
	return &PitchShifter{
		window:     windowSize * sampleRate,
		sampleRate: sampleRate,
		lines:      [2]delayLine{newDelayLine(n), newDelayLine(n)},
	}
}

// Semitones returns the current transposition.
func (p *PitchShifter) Semitones() float64 { return p.semitones }

// SetSemitones changes the transposition immediately.
func (p *PitchShifter) SetSemitones(st float64) {
	p.semitones = st
	ratio := math.Pow(2, st/12)
	// the read heads move through the window at (1 - ratio) window lengths
	// per window duration
	p.step = (1 - ratio) / p.window
}

func (p *PitchShifter) Process(b *Block) {
	for i := range b.Left {
		p.lines[0].write(b.Left[i])
		p.lines[1].write(b.Right[i])
		if p.semitones == 0 {
			continue
		}

		p.phase += p.step
		p.phase -= math.Floor(p.phase)
		a := p.phase
		c := a + 0.5
		if c >= 1 {
			c -= 1
		}
		ga, gc := math.Sin(math.Pi*a), math.Sin(math.Pi*c)
		da, dc := a*p.window, c*p.window

		b.Left[i] = ga*p.lines[0].read(da) + gc*p.lines[0].read(dc)
		b.Right[i] = ga*p.lines[1].read(da) + gc*p.lines[1].read(dc)
	}
}
