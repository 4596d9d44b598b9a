package engine

import (
	"github.com/satindergrewal/duet/internal/audio"
	"github.com/satindergrewal/duet/internal/dsp"
)

const (
	deEsserRatio   = 6
	deEsserLowFreq = 200
	bassShelfFreq  = 200
)

// ChannelStrip is the signal path of one track, from its player to the
// master bus.
type ChannelStrip struct {
	Kind   Kind
	Player *Player

	EQ      *dsp.EQ3
	Channel *dsp.Channel

	// instrumental only
	Bass *dsp.Filter

	// vocal only
	DeEsser *dsp.MultibandCompressor
	Pitch   *dsp.PitchShifter
	Reverb  *dsp.Reverb
	Delay   *dsp.FeedbackDelay

	settings Settings
	track    *Track
	nodes    []dsp.NodeID
}

// NewChannelStrip builds the stage chain for kind at default settings.
func NewChannelStrip(kind Kind) *ChannelStrip {
	const sr = audio.SampleRate
	d := DefaultSettings()
	s := &ChannelStrip{
		Kind:     kind,
		Player:   NewPlayer(),
		EQ:       dsp.NewEQ3(sr),
		Channel:  dsp.NewChannel(d.Volume),
		settings: d,
	}
	if kind == Instrumental {
		s.Bass = dsp.NewFilter(dsp.Lowshelf, bassShelfFreq, -12, sr)
		return s
	}
	s.DeEsser = dsp.NewMultibandCompressor(deEsserLowFreq, d.DeEsserFreq, 0.005, 0.05, sr)
	s.DeEsser.High.Threshold.Jump(d.DeEsserThresh)
	s.DeEsser.High.Ratio.Jump(deEsserRatio)
	s.Pitch = dsp.NewPitchShifter(0.1, sr)
	s.Reverb = dsp.NewReverb(2.5, 0.1, sr)
	s.Delay = dsp.NewFeedbackDelay(0.25, 0.5, sr)
	return s
}

// Stages returns the processing order after the player.
func (s *ChannelStrip) Stages() []dsp.Stage {
	if s.Kind == Instrumental {
		return []dsp.Stage{s.Bass, s.EQ, s.Channel}
	}
	return []dsp.Stage{s.EQ, s.DeEsser, s.Pitch, s.Reverb, s.Delay, s.Channel}
}

// connect adds the strip to g and routes its last stage into bus.
func (s *ChannelStrip) connect(g *dsp.Graph, bus dsp.NodeID) error {
	s.nodes = append(s.nodes[:0], g.Add(string(s.Kind)+"/player", s.Player))
	for _, st := range s.Stages() {
		s.nodes = append(s.nodes, g.Add(string(s.Kind), st))
	}
	s.nodes = append(s.nodes, bus)
	return g.Chain(s.nodes...)
}

// output is the node holding the strip's post-fader signal.
func (s *ChannelStrip) output() dsp.NodeID {
	return s.nodes[len(s.nodes)-2]
}

// Settings returns the last applied settings.
func (s *ChannelStrip) Settings() Settings {
	return s.settings
}

// Track returns the loaded track, or nil.
func (s *ChannelStrip) Track() *Track {
	return s.track
}

func (s *ChannelStrip) load(t *Track) {
	s.track = t
	if t == nil {
		s.Player.Load(nil)
		return
	}
	s.Player.Load(t.Buffer)
}

// ApplySettings ramps every parameter towards st over ramp samples. Each
// parameter is handled on its own, and re-applying identical settings leaves
// in-flight ramps untouched. Speed, pitch and the de-esser crossover move
// immediately.
func (s *ChannelStrip) ApplySettings(st Settings, ramp int, now int64) {
	st = st.Clamp()
	s.settings = st

	s.Channel.Volume.Set(st.Volume, ramp)
	s.Channel.Pan.Set(st.Pan, ramp)
	s.EQ.High.Set(st.EQHigh, ramp)
	s.EQ.Mid.Set(st.EQMid, ramp)
	s.EQ.Low.Set(st.EQLow, ramp)
	s.Player.SetRate(st.Speed, now)

	if s.Kind == Instrumental {
		s.Bass.Gain().Set(st.BassBoost, ramp)
		return
	}

	if st.EnableDynamics {
		s.DeEsser.Split().SetHighFrequency(st.DeEsserFreq)
		s.DeEsser.High.Threshold.Set(st.DeEsserThresh, ramp)
		s.DeEsser.High.Ratio.Set(deEsserRatio, ramp)
	} else {
		s.DeEsser.High.Threshold.Set(0, ramp)
		s.DeEsser.High.Ratio.Set(1, ramp)
	}
	s.Reverb.Wet.Set(st.Reverb, ramp)
	s.Delay.Wet.Set(st.Delay, ramp)
	if st.Pitch != s.Pitch.Semitones() {
		s.Pitch.SetSemitones(st.Pitch)
	}
}
