package dsp

import "math"

const minLevel = 1e-9

func dbToGain(db float64) float64 {
	return math.Pow(10, db/20)
}

func gainToDB(g float64) float64 {
	return 20 * math.Log10(math.Max(g, minLevel))
}

// DBToGain converts decibels to a linear factor.
func DBToGain(db float64) float64 { return dbToGain(db) }

// GainToDB converts a linear factor to decibels.
func GainToDB(g float64) float64 { return gainToDB(g) }

func timeCoef(seconds, sampleRate float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return math.Exp(-1 / (seconds * sampleRate))
}

// Compressor is a stereo-linked peak compressor with a hard knee. The
// envelope follows gain reduction in dB with separate attack and release.
type Compressor struct {
	Threshold *Param // dB
	Ratio     *Param

	attack  float64
	release float64
	env     float64 // current reduction in dB
}

// NewCompressor creates a compressor. attack and release are in seconds.
func NewCompressor(thresholdDB, ratio, attack, release, sampleRate float64) *Compressor {
	return &Compressor{
		Threshold: NewParam(thresholdDB),
		Ratio:     NewParam(ratio),
		attack:    timeCoef(attack, sampleRate),
		release:   timeCoef(release, sampleRate),
	}
}

// NewLimiter creates a brick-wall style limiter at thresholdDB.
func NewLimiter(thresholdDB, sampleRate float64) *Compressor {
	return NewCompressor(thresholdDB, 20, 0.003, 0.01, sampleRate)
}

// Reduction returns the current gain reduction in dB.
func (c *Compressor) Reduction() float64 { return c.env }

// gain advances parameters one sample and returns the linear gain for a
// detector level.
func (c *Compressor) gain(peak float64) float64 {
	thr := c.Threshold.Next()
	ratio := math.Max(c.Ratio.Next(), 1)

	var want float64
	if over := gainToDB(peak) - thr; over > 0 {
		want = over * (1 - 1/ratio)
	}
	coef := c.release
	if want > c.env {
		coef = c.attack
	}
	c.env = coef*c.env + (1-coef)*want
	return dbToGain(-c.env)
}

func (c *Compressor) Process(b *Block) {
	for i := range b.Left {
		g := c.gain(max(abs(b.Left[i]), abs(b.Right[i])))
		b.Left[i] *= g
		b.Right[i] *= g
	}
}

// MultibandCompressor compresses low, mid and high bands independently.
type MultibandCompressor struct {
	split *Split

	Low  *Compressor
	Mid  *Compressor
	High *Compressor
}

// NewMultibandCompressor creates a compressor with neutral bands crossing
// over at lowFreq and highFreq.
func NewMultibandCompressor(lowFreq, highFreq, attack, release, sampleRate float64) *MultibandCompressor {
	return &MultibandCompressor{
		split: NewSplit(lowFreq, highFreq, sampleRate),
		Low:   NewCompressor(0, 1, attack, release, sampleRate),
		Mid:   NewCompressor(0, 1, attack, release, sampleRate),
		High:  NewCompressor(0, 1, attack, release, sampleRate),
	}
}

// Split exposes the crossover.
func (m *MultibandCompressor) Split() *Split { return m.split }

func (m *MultibandCompressor) Process(b *Block) {
	for i := range b.Left {
		lL, mL, hL := m.split.Tick(0, b.Left[i])
		lR, mR, hR := m.split.Tick(1, b.Right[i])
		gl := m.Low.gain(max(abs(lL), abs(lR)))
		gm := m.Mid.gain(max(abs(mL), abs(mR)))
		gh := m.High.gain(max(abs(hL), abs(hR)))
		b.Left[i] = lL*gl + mL*gm + hL*gh
		b.Right[i] = lR*gl + mR*gm + hR*gh
	}
}

// Gate silences the signal while a smoothed level follower sits below the
// threshold.
type Gate struct {
	threshold float64 // linear
	follow    float64
	ramp      float64
	env       float64
	gain      float64
}

// NewGate creates a gate. smoothing is the follower time constant in seconds.
func NewGate(thresholdDB, smoothing, sampleRate float64) *Gate {
	return &Gate{
		threshold: dbToGain(thresholdDB),
		follow:    timeCoef(smoothing, sampleRate),
		ramp:      timeCoef(0.001, sampleRate),
	}
}

// Open reports whether the gate is currently passing signal.
func (g *Gate) Open() bool { return g.env > g.threshold }

func (g *Gate) Process(b *Block) {
	for i := range b.Left {
		level := max(abs(b.Left[i]), abs(b.Right[i]))
		g.env = g.follow*g.env + (1-g.follow)*level
		want := 0.0
		if g.env > g.threshold {
			want = 1
		}
		g.gain = g.ramp*g.gain + (1-g.ramp)*want
		b.Left[i] *= g.gain
		b.Right[i] *= g.gain
	}
}
