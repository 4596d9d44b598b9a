package dsp

// Split divides a signal into low, mid and high bands with fourth order
// Linkwitz-Riley crossovers. The low band runs through the high crossover's
// allpass so the three bands sum back to a flat magnitude response.
type Split struct {
	low     *Filter
	rest    *Filter
	mid     *Filter
	high    *Filter
	alignLo *Filter
	alignHi *Filter
}

// NewSplit creates a three-way split at lowFreq and highFreq.
func NewSplit(lowFreq, highFreq, sampleRate float64) *Split {
	return &Split{
		low:     NewFilter(Lowpass, lowFreq, -24, sampleRate),
		rest:    NewFilter(Highpass, lowFreq, -24, sampleRate),
		mid:     NewFilter(Lowpass, highFreq, -24, sampleRate),
		high:    NewFilter(Highpass, highFreq, -24, sampleRate),
		alignLo: NewFilter(Lowpass, highFreq, -24, sampleRate),
		alignHi: NewFilter(Highpass, highFreq, -24, sampleRate),
	}
}

// SetLowFrequency moves the low/mid crossover.
func (s *Split) SetLowFrequency(hz float64) {
	s.low.SetFrequency(hz)
	s.rest.SetFrequency(hz)
}

// SetHighFrequency moves the mid/high crossover.
func (s *Split) SetHighFrequency(hz float64) {
	s.mid.SetFrequency(hz)
	s.high.SetFrequency(hz)
	s.alignLo.SetFrequency(hz)
	s.alignHi.SetFrequency(hz)
}

// LowFrequency returns the low/mid crossover in Hz.
func (s *Split) LowFrequency() float64 { return s.low.Frequency() }

// HighFrequency returns the mid/high crossover in Hz.
func (s *Split) HighFrequency() float64 { return s.high.Frequency() }

// Tick splits one sample of channel ch.
func (s *Split) Tick(ch int, x float64) (lo, mid, hi float64) {
	lo = s.low.Tick(ch, x)
	lo = s.alignLo.Tick(ch, lo) + s.alignHi.Tick(ch, lo)
	rest := s.rest.Tick(ch, x)
	mid = s.mid.Tick(ch, rest)
	hi = s.high.Tick(ch, rest)
	return lo, mid, hi
}

// EQ3 is a three band equalizer with per-band gain in dB.
type EQ3 struct {
	split *Split

	Low  *Param
	Mid  *Param
	High *Param
}

// NewEQ3 creates a flat equalizer crossing over at 400 Hz and 2500 Hz.
func NewEQ3(sampleRate float64) *EQ3 {
	return &EQ3{
		split: NewSplit(400, 2500, sampleRate),
		Low:   NewParam(0),
		Mid:   NewParam(0),
		High:  NewParam(0),
	}
}

// Split exposes the crossover.
func (e *EQ3) Split() *Split { return e.split }

func (e *EQ3) Process(b *Block) {
	for i := range b.Left {
		gl := dbToGain(e.Low.Next())
		gm := dbToGain(e.Mid.Next())
		gh := dbToGain(e.High.Next())

		lo, mid, hi := e.split.Tick(0, b.Left[i])
		b.Left[i] = lo*gl + mid*gm + hi*gh
		lo, mid, hi = e.split.Tick(1, b.Right[i])
		b.Right[i] = lo*gl + mid*gm + hi*gh
	}
}
