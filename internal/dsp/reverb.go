package dsp

import "math"

// Freeverb tunings at 44.1 kHz.
var (
	combTuning    = []int{1116, 1188, 1277, 1356, 1422, 1491, 1557, 1617}
	allpassTuning = []int{556, 441, 341, 225}
)

const (
	stereoSpread = 23
	reverbInput  = 0.015
	reverbDamp   = 0.2
)

type comb struct {
	buf      []float64
	pos      int
	feedback float64
	store    float64
}

func (c *comb) tick(x float64) float64 {
	y := c.buf[c.pos]
	c.store = y*(1-reverbDamp) + c.store*reverbDamp
	c.buf[c.pos] = x + c.store*c.feedback
	if c.pos++; c.pos == len(c.buf) {
		c.pos = 0
	}
	return y
}

type allpass struct {
	buf []float64
	pos int
}

func (a *allpass) tick(x float64) float64 {
	b := a.buf[a.pos]
	a.buf[a.pos] = x + b*0.5
	if a.pos++; a.pos == len(a.buf) {
		a.pos = 0
	}
	return b - x
}

// Reverb is a Schroeder style comb and allpass network with a pre-delay.
type Reverb struct {
	Wet *Param

	preDelay  float64
	pre       [2]delayLine
	combs     [2][]comb
	allpasses [2][]allpass
}

// NewReverb creates a reverb whose tail decays 60 dB over decay seconds.
func NewReverb(decay, preDelay, sampleRate float64) *Reverb {
	r := &Reverb{
		Wet:      NewParam(0),
		preDelay: preDelay * sampleRate,
	}
	scale := sampleRate / 44100
	for ch := 0; ch < 2; ch++ {
		spread := ch * stereoSpread
		r.pre[ch] = newDelayLine(int(r.preDelay) + 2)
		for _, n := range combTuning {
			size := int(float64(n+spread) * scale)
			r.combs[ch] = append(r.combs[ch], comb{
				buf:      make([]float64, size),
				feedback: math.Pow(10, -3*float64(size)/sampleRate/decay),
			})
		}
		for _, n := range allpassTuning {
			r.allpasses[ch] = append(r.allpasses[ch], allpass{
				buf: make([]float64, int(float64(n+spread)*scale)),
			})
		}
	}
	return r
}

func (r *Reverb) Process(b *Block) {
	for i := range b.Left {
		wet := r.Wet.Next()
		b.Left[i] = r.tick(0, b.Left[i], wet)
		b.Right[i] = r.tick(1, b.Right[i], wet)
	}
}

func (r *Reverb) tick(ch int, x, wet float64) float64 {
	line := &r.pre[ch]
	in := x
	if r.preDelay >= 1 {
		in = line.read(r.preDelay)
		line.write(x)
	}
	in *= reverbInput

	var out float64
	for i := range r.combs[ch] {
		out += r.combs[ch][i].tick(in)
	}
	for i := range r.allpasses[ch] {
		out = r.allpasses[ch][i].tick(out)
	}
	return x*(1-wet) + out*wet
}
