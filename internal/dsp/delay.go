package dsp

// delayLine is a fractional delay ring buffer for one channel.
type delayLine struct {
	buf []float64
	pos int
}

func newDelayLine(n int) delayLine {
	return delayLine{buf: make([]float64, max(n, 2))}
}

func (d *delayLine) write(x float64) {
	d.buf[d.pos] = x
	d.pos++
	if d.pos == len(d.buf) {
		d.pos = 0
	}
}

// read returns the sample written delay samples ago, interpolating linearly
// between neighbours. delay is clamped to the line length.
func (d *delayLine) read(delay float64) float64 {
	n := len(d.buf)
	if delay < 1 {
		delay = 1
	} else if delay > float64(n-1) {
		delay = float64(n - 1)
	}
	whole := int(delay)
	frac := delay - float64(whole)
	i0 := d.pos - whole
	if i0 < 0 {
		i0 += n
	}
	i1 := i0 - 1
	if i1 < 0 {
		i1 += n
	}
	return d.buf[i0]*(1-frac) + d.buf[i1]*frac
}

// FeedbackDelay is an echo whose output feeds back into its input.
type FeedbackDelay struct {
	Wet *Param

	delay    float64 // samples
	feedback float64
	lines    [2]delayLine
}

// NewFeedbackDelay creates an echo of delay seconds.
func NewFeedbackDelay(delay, feedback, sampleRate float64) *FeedbackDelay {
	n := int(delay*sampleRate) + 2
	return &FeedbackDelay{
		Wet:      NewParam(0),
		delay:    delay * sampleRate,
		feedback: feedback,
		lines:    [2]delayLine{newDelayLine(n), newDelayLine(n)},
	}
}

func (d *FeedbackDelay) Process(b *Block) {
	for i := range b.Left {
		wet := d.Wet.Next()
		b.Left[i] = d.tick(0, b.Left[i], wet)
		b.Right[i] = d.tick(1, b.Right[i], wet)
	}
}

func (d *FeedbackDelay) tick(ch int, x, wet float64) float64 {
	line := &d.lines[ch]
	y := line.read(d.delay)
	line.write(x + y*d.feedback)
	return x*(1-wet) + y*wet
}
