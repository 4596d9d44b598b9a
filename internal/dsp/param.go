package dsp

// Param is a ramped parameter. A new Set cancels whatever ramp is in flight
// and starts a fresh linear ramp from the current value, so the most recent
// target always wins. Setting the target it is already heading to is a no-op.
type Param struct {
	current   float64
	target    float64
	remaining int // samples until target
}

// NewParam creates a parameter resting at v.
func NewParam(v float64) *Param {
	return &Param{current: v, target: v}
}

// Set ramps to v over rampSamples. rampSamples <= 0 jumps immediately.
func (p *Param) Set(v float64, rampSamples int) {
	if v == p.target {
		return
	}
	p.target = v
	if rampSamples <= 0 {
		p.current = v
		p.remaining = 0
		return
	}
	p.remaining = rampSamples
}

// Jump sets the value with no ramp, cancelling any ramp in flight.
func (p *Param) Jump(v float64) {
	p.current = v
	p.target = v
	p.remaining = 0
}

// Value returns the current value without advancing.
func (p *Param) Value() float64 {
	return p.current
}

// Target returns the value being ramped to.
func (p *Param) Target() float64 {
	return p.target
}

// Remaining returns the number of samples left in the ramp.
func (p *Param) Remaining() int {
	return p.remaining
}

// Ramping reports whether a ramp is in flight.
func (p *Param) Ramping() bool {
	return p.remaining > 0
}

// Next advances one sample and returns the new value.
func (p *Param) Next() float64 {
	if p.remaining > 0 {
		p.current += (p.target - p.current) / float64(p.remaining)
		p.remaining--
		if p.remaining == 0 {
			p.current = p.target
		}
	}
	return p.current
}

// Advance moves n samples forward and returns the value reached.
func (p *Param) Advance(n int) float64 {
	if p.remaining == 0 || n <= 0 {
		return p.current
	}
	if n >= p.remaining {
		p.current = p.target
		p.remaining = 0
		return p.current
	}
	p.current += (p.target - p.current) * float64(n) / float64(p.remaining)
	p.remaining -= n
	return p.current
}
