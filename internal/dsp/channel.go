package dsp

import "math"

// Channel applies volume in dB followed by a stereo panner.
type Channel struct {
	Volume *Param // dB
	Pan    *Param // -1 left .. 1 right
}

// NewChannel creates a channel at volumeDB, centered.
func NewChannel(volumeDB float64) *Channel {
	return &Channel{Volume: NewParam(volumeDB), Pan: NewParam(0)}
}

func (c *Channel) Process(b *Block) {
	for i := range b.Left {
		g := dbToGain(c.Volume.Next())
		l, r := Pan(b.Left[i]*g, b.Right[i]*g, c.Pan.Next())
		b.Left[i], b.Right[i] = l, r
	}
}

// Pan positions a stereo pair. At the extremes one side is folded into the
// other with equal power, and at zero the pair is unchanged.
func Pan(l, r, pan float64) (float64, float64) {
	pan = math.Max(-1, math.Min(1, pan))
	if pan <= 0 {
		x := (pan + 1) * math.Pi / 2
		return l + r*math.Cos(x), r * math.Sin(x)
	}
	x := pan * math.Pi / 2
	return l * math.Cos(x), r + l*math.Sin(x)
}

// Gain multiplies the signal by a ramped linear factor.
type Gain struct {
	Gain *Param
}

// NewGain creates a gain stage.
func NewGain(g float64) *Gain {
	return &Gain{Gain: NewParam(g)}
}

func (g *Gain) Process(b *Block) {
	for i := range b.Left {
		v := g.Gain.Next()
		b.Left[i] *= v
		b.Right[i] *= v
	}
}

// MidSideMode selects which component MidSide extracts.
type MidSideMode int

const (
	// Mid writes (L+R)/2 to both channels.
	Mid MidSideMode = iota
	// Side writes L-R to both channels.
	Side
)

// MidSide folds a stereo block to its mid or side component on both channels.
type MidSide struct {
	Mode MidSideMode
}

func (m MidSide) Process(b *Block) {
	for i := range b.Left {
		var v float64
		if m.Mode == Mid {
			v = 0.5 * (b.Left[i] + b.Right[i])
		} else {
			v = b.Left[i] - b.Right[i]
		}
		b.Left[i], b.Right[i] = v, v
	}
}

// Chain runs stages in order.
type Chain []Stage

func (c Chain) Process(b *Block) {
	for _, s := range c {
		s.Process(b)
	}
}
