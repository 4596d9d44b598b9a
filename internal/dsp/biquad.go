package dsp

import (
	"fmt"
	"math"
)

// FilterType selects a biquad response.
type FilterType int

const (
	Lowpass FilterType = iota
	Highpass
	Bandpass
	Lowshelf
	Highshelf
	Peaking
)

func (t FilterType) String() string {
	switch t {
	case Lowpass:
		return "lowpass"
	case Highpass:
		return "highpass"
	case Bandpass:
		return "bandpass"
	case Lowshelf:
		return "lowshelf"
	case Highshelf:
		return "highshelf"
	case Peaking:
		return "peaking"
	}
	return fmt.Sprintf("FilterType(%d)", int(t))
}

// ButterworthQ gives a maximally flat two-pole section.
const ButterworthQ = math.Sqrt2 / 2

// Biquad is a second order IIR section with coefficients from the RBJ audio
// EQ cookbook. It keeps separate state for the left and right channels.
type Biquad struct {
	b0, b1, b2, a1, a2 float64

	x1, x2, y1, y2 [2]float64
}

// Design recomputes the coefficients. State is kept so a moving cutoff
// doesn't click.
func (q *Biquad) Design(t FilterType, freq, sampleRate, Q, gainDB float64) {
	nyquist := sampleRate / 2
	freq = math.Min(math.Max(freq, 1), nyquist*0.999)
	if Q <= 0 {
		Q = ButterworthQ
	}
	w0 := 2 * math.Pi * freq / sampleRate
	cosw, sinw := math.Cos(w0), math.Sin(w0)
	alpha := sinw / (2 * Q)
	A := math.Pow(10, gainDB/40)

	var b0, b1, b2, a0, a1, a2 float64
	switch t {
	case Lowpass:
		b0 = (1 - cosw) / 2
		b1 = 1 - cosw
		b2 = (1 - cosw) / 2
		a0, a1, a2 = 1+alpha, -2*cosw, 1-alpha
	case Highpass:
		b0 = (1 + cosw) / 2
		b1 = -(1 + cosw)
		b2 = (1 + cosw) / 2
		a0, a1, a2 = 1+alpha, -2*cosw, 1-alpha
	case Bandpass:
		b0, b1, b2 = alpha, 0, -alpha
		a0, a1, a2 = 1+alpha, -2*cosw, 1-alpha
	case Peaking:
		b0, b1, b2 = 1+alpha*A, -2*cosw, 1-alpha*A
		a0, a1, a2 = 1+alpha/A, -2*cosw, 1-alpha/A
	case Lowshelf, Highshelf:
		// shelf slope 1
		sa := 2 * math.Sqrt(A) * (sinw / 2 * math.Sqrt2)
		if t == Lowshelf {
			b0 = A * ((A + 1) - (A-1)*cosw + sa)
			b1 = 2 * A * ((A - 1) - (A+1)*cosw)
			b2 = A * ((A + 1) - (A-1)*cosw - sa)
			a0 = (A + 1) + (A-1)*cosw + sa
			a1 = -2 * ((A - 1) + (A+1)*cosw)
			a2 = (A + 1) + (A-1)*cosw - sa
		} else {
			b0 = A * ((A + 1) + (A-1)*cosw + sa)
			b1 = -2 * A * ((A - 1) + (A+1)*cosw)
			b2 = A * ((A + 1) + (A-1)*cosw - sa)
			a0 = (A + 1) - (A-1)*cosw + sa
			a1 = 2 * ((A - 1) - (A+1)*cosw)
			a2 = (A + 1) - (A-1)*cosw - sa
		}
	}
	q.b0, q.b1, q.b2 = b0/a0, b1/a0, b2/a0
	q.a1, q.a2 = a1/a0, a2/a0
}

// Tick filters one sample on channel ch (0 or 1).
func (q *Biquad) Tick(ch int, x float64) float64 {
	y := q.b0*x + q.b1*q.x1[ch] + q.b2*q.x2[ch] - q.a1*q.y1[ch] - q.a2*q.y2[ch]
	q.x2[ch], q.x1[ch] = q.x1[ch], x
	q.y2[ch], q.y1[ch] = q.y1[ch], y
	return y
}

// Reset clears the delay state.
func (q *Biquad) Reset() {
	q.x1, q.x2, q.y1, q.y2 = [2]float64{}, [2]float64{}, [2]float64{}, [2]float64{}
}

// Magnitude returns the linear gain of the section at freq.
func (q *Biquad) Magnitude(freq, sampleRate float64) float64 {
	w := 2 * math.Pi * freq / sampleRate
	// evaluate H(e^jw) with z^-1 = e^-jw
	c1, s1 := math.Cos(w), -math.Sin(w)
	c2, s2 := math.Cos(2*w), -math.Sin(2*w)
	nr := q.b0 + q.b1*c1 + q.b2*c2
	ni := q.b1*s1 + q.b2*s2
	dr := 1 + q.a1*c1 + q.a2*c2
	di := q.a1*s1 + q.a2*s2
	return math.Sqrt((nr*nr + ni*ni) / (dr*dr + di*di))
}

// Stages returns the number of cascaded biquads for a rolloff in dB/octave.
// Supported rolloffs are -12, -24, -48 and -96.
func Stages(rolloff int) (int, error) {
	switch rolloff {
	case -12:
		return 1, nil
	case -24:
		return 2, nil
	case -48:
		return 4, nil
	case -96:
		return 8, nil
	}
	return 0, fmt.Errorf("unsupported rolloff %d dB/oct", rolloff)
}

// Filter is a cascade of identical biquads with a ramped gain, used for
// steep crossovers and for the shelving and peaking bands of the strips.
type Filter struct {
	typ        FilterType
	freq       float64
	q          float64
	sampleRate float64
	gain       *Param

	stages   []Biquad
	designed float64 // gain the coefficients were computed for
}

// NewFilter creates a filter. An unsupported rolloff falls back to -12.
func NewFilter(t FilterType, freq float64, rolloff int, sampleRate float64) *Filter {
	n, err := Stages(rolloff)
	if err != nil {
		n = 1
	}
	f := &Filter{
		typ:        t,
		freq:       freq,
		q:          ButterworthQ,
		sampleRate: sampleRate,
		gain:       NewParam(0),
		stages:     make([]Biquad, n),
	}
	f.redesign()
	return f
}

// Type returns the filter response.
func (f *Filter) Type() FilterType { return f.typ }

// Frequency returns the cutoff or center frequency in Hz.
func (f *Filter) Frequency() float64 { return f.freq }

// SetFrequency moves the cutoff immediately.
func (f *Filter) SetFrequency(hz float64) {
	if hz == f.freq {
		return
	}
	f.freq = hz
	f.redesign()
}

// SetQ changes the resonance of every section.
func (f *Filter) SetQ(q float64) {
	f.q = q
	f.redesign()
}

// Gain is the shelf or peak gain in dB. Pass filters ignore it.
func (f *Filter) Gain() *Param { return f.gain }

func (f *Filter) redesign() {
	f.designed = f.gain.Value()
	for i := range f.stages {
		f.stages[i].Design(f.typ, f.freq, f.sampleRate, f.q, f.designed)
	}
}

// Tick filters one sample through the whole cascade.
func (f *Filter) Tick(ch int, x float64) float64 {
	for i := range f.stages {
		x = f.stages[i].Tick(ch, x)
	}
	return x
}

// Process filters the block. Gain ramps are applied at block granularity.
func (f *Filter) Process(b *Block) {
	if g := f.gain.Advance(b.Len()); g != f.designed {
		f.redesign()
	}
	for i := range b.Left {
		b.Left[i] = f.Tick(0, b.Left[i])
		b.Right[i] = f.Tick(1, b.Right[i])
	}
}

// Magnitude returns the linear gain of the cascade at freq.
func (f *Filter) Magnitude(freq float64) float64 {
	m := 1.0
	for i := range f.stages {
		m *= f.stages[i].Magnitude(freq, f.sampleRate)
	}
	return m
}

// Reset clears all section state.
func (f *Filter) Reset() {
	for i := range f.stages {
		f.stages[i].Reset()
	}
}
