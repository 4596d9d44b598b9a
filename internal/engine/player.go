package engine

import (
	"time"

	"github.com/satindergrewal/duet/internal/audio"
	"github.com/satindergrewal/duet/internal/dsp"
)

// Player reads a buffer into the graph on the engine clock. It is scheduled
// with an engine sample at which it reaches a given source position, and
// resamples from the buffer's native rate by linear interpolation.
type Player struct {
	buf  *audio.Buffer
	rate float64
	step float64 // source frames per engine frame at rate 1

	started bool
	startAt int64   // engine sample
	from    float64 // source frame at startAt
}

// NewPlayer creates an empty player.
func NewPlayer() *Player {
	return &Player{rate: 1}
}

// Load swaps the buffer and stops playback.
func (p *Player) Load(b *audio.Buffer) {
	p.buf = b
	p.started = false
	p.step = 0
	if b != nil && b.SampleRate > 0 {
		p.step = float64(b.SampleRate) / audio.SampleRate
	}
}

// Loaded reports whether a non-empty buffer is present.
func (p *Player) Loaded() bool {
	return p.buf.Frames() > 0
}

// Duration returns the buffer length.
func (p *Player) Duration() time.Duration {
	return p.buf.Duration()
}

// Start schedules playback so that at engine sample at the player sits at
// offset into the buffer.
func (p *Player) Start(at int64, offset time.Duration) {
	if !p.Loaded() {
		return
	}
	p.started = true
	p.startAt = at
	p.from = offset.Seconds() * float64(p.buf.SampleRate)
}

// Stop halts playback.
func (p *Player) Stop() {
	p.started = false
}

// Started reports whether the player is scheduled or running.
func (p *Player) Started() bool {
	return p.started
}

// Rate returns the playback rate.
func (p *Player) Rate() float64 { return p.rate }

// SetRate changes speed without a jump in position.
func (p *Player) SetRate(r float64, now int64) {
	if r == p.rate {
		return
	}
	if p.started && now > p.startAt {
		p.from = p.frameAt(now)
		p.startAt = now
	}
	p.rate = r
}

func (p *Player) frameAt(t int64) float64 {
	if t < p.startAt {
		return p.from
	}
	return p.from + float64(t-p.startAt)*p.step*p.rate
}

// Position returns the buffer position at engine sample now.
func (p *Player) Position(now int64) time.Duration {
	if !p.started {
		return 0
	}
	return time.Duration(p.frameAt(now) / float64(p.buf.SampleRate) * float64(time.Second))
}

// Ended reports whether a started player has run off the end of its buffer.
func (p *Player) Ended(now int64) bool {
	return p.started && p.frameAt(now) >= float64(p.buf.Frames())
}

func (p *Player) Process(b *dsp.Block) {
	if !p.started {
		return
	}
	frames := p.buf.Frames()
	for i := range b.Left {
		t := b.Time + int64(i)
		if t < p.startAt {
			continue
		}
		pos := p.frameAt(t)
		i0 := int(pos)
		if i0 >= frames {
			break
		}
		if i0+1 >= frames {
			b.Left[i] = float64(p.buf.Sample(0, i0))
			b.Right[i] = float64(p.buf.Sample(1, i0))
			continue
		}
		frac := pos - float64(i0)
		l0, l1 := float64(p.buf.Sample(0, i0)), float64(p.buf.Sample(0, i0+1))
		r0, r1 := float64(p.buf.Sample(1, i0)), float64(p.buf.Sample(1, i0+1))
		b.Left[i] = l0 + (l1-l0)*frac
		b.Right[i] = r0 + (r1-r0)*frac
	}
}
