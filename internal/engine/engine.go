// Package engine owns the live mixing state: two channel strips feeding a
// limited master bus, and the scheduler that keeps the vocal aligned with
// the instrumental under an adjustable offset.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/satindergrewal/duet/internal/audio"
	"github.com/satindergrewal/duet/internal/capture"
	"github.com/satindergrewal/duet/internal/dsp"
	apperrors "github.com/satindergrewal/duet/internal/errors"
)

// State is the transport state.
type State int

const (
	Idle State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Tap receives every master block after the limiter. Taps run on the render
// path and must not block for long.
type Tap interface {
	WriteBlock(b *dsp.Block)
}

// Options configures an Engine.
type Options struct {
	Lookahead  time.Duration      // delay before a scheduled start, default 100ms
	Ramp       time.Duration      // parameter ramp time, default 100ms
	Microphone capture.Microphone // nil means no input device
}

// Engine is the mixing session. All mutation and rendering is serialised by
// one mutex, so it can be driven from HTTP handlers and the render loop at
// the same time.
type Engine struct {
	mu sync.Mutex

	graph   *dsp.Graph
	strips  map[Kind]*ChannelStrip
	limiter *dsp.Compressor
	master  dsp.NodeID
	out     *dsp.Block
	taps    []Tap

	lookahead int64 // samples
	ramp      int   // samples
	mic       capture.Microphone

	now    int64 // engine clock, samples rendered
	state  State
	offset time.Duration
	cursor time.Duration // transport position while not playing

	// while playing, the timeline reads anchorTime at engine sample anchorAt
	anchorAt   int64
	anchorTime time.Duration

	recorder *capture.MicRecorder
	grown    time.Duration // duration extension while recording

	frameCh chan []int16
}

// New builds the engine graph.
func New(opts Options) *Engine {
	if opts.Lookahead <= 0 {
		opts.Lookahead = 100 * time.Millisecond
	}
	if opts.Ramp < 0 {
		opts.Ramp = 0
	} else if opts.Ramp == 0 {
		opts.Ramp = 100 * time.Millisecond
	}

	e := &Engine{
		graph:     dsp.NewGraph(audio.BlockSize),
		strips:    make(map[Kind]*ChannelStrip),
		limiter:   dsp.NewLimiter(-1, audio.SampleRate),
		lookahead: toSamples(opts.Lookahead),
		ramp:      int(toSamples(opts.Ramp)),
		mic:       opts.Microphone,
		frameCh:   make(chan []int16, 100),
	}
	e.master = e.graph.Add("master", e.limiter)
	for _, k := range Kinds {
		s := NewChannelStrip(k)
		if err := s.connect(e.graph, e.master); err != nil {
			panic(err) // static topology
		}
		e.strips[k] = s
	}
	e.out = dsp.NewBlock(audio.BlockSize)
	return e
}

// MaxOffset bounds the vocal offset in either direction.
const MaxOffset = 24 * time.Hour

// toSamples and toDuration split whole seconds from the remainder so the
// products stay inside int64 for any clock a Duration can hold.
func toSamples(d time.Duration) int64 {
	sec, rem := int64(d/time.Second), int64(d%time.Second)
	return sec*audio.SampleRate + rem*audio.SampleRate/int64(time.Second)
}

func toDuration(samples int64) time.Duration {
	sec, rem := samples/audio.SampleRate, samples%audio.SampleRate
	return time.Duration(sec)*time.Second + time.Duration(rem*int64(time.Second)/audio.SampleRate)
}

// --- Tracks ---

// LoadTrack decodes data and installs it on the strip for kind. Decoding
// happens outside the engine lock; on failure the engine is left untouched.
func (e *Engine) LoadTrack(ctx context.Context, kind Kind, name string, data []byte) (*Track, error) {
	buf, err := audio.Decode(ctx, data)
	if err != nil {
		var de *apperrors.DecodeError
		if errors.As(err, &de) && de.Name == "" {
			de.Name = name
		}
		return nil, err
	}
	if buf.Frames() == 0 {
		return nil, apperrors.NewDecodeError(name, apperrors.ErrUnsupportedFormat)
	}
	t := NewTrack(name, kind, buf)
	e.SetTrack(t)
	return t, nil
}

// LoadResult is the outcome of an asynchronous load.
type LoadResult struct {
	Track *Track
	Err   error
}

// LoadTrackAsync starts decoding in the background. The returned channel
// yields exactly one result. Until it does, the strip keeps its old track.
func (e *Engine) LoadTrackAsync(ctx context.Context, kind Kind, name string, data []byte) <-chan LoadResult {
	ch := make(chan LoadResult, 1)
	go func() {
		t, err := e.LoadTrack(ctx, kind, name, data)
		ch <- LoadResult{Track: t, Err: err}
	}()
	return ch
}

// SetTrack installs an already decoded track. If the transport is playing,
// the new track joins in sync after the lookahead.
func (e *Engine) SetTrack(t *Track) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.strips[t.Kind]
	s.load(t)
	s.Player.SetRate(s.settings.Speed, e.now)
	if e.state == Playing {
		at := e.now + e.lookahead
		e.startStrip(t.Kind, at, e.timeAt(at))
	}
	log.Printf("Loaded %s track: %s (%.2fs, %d Hz, %d ch)",
		t.Kind, t.Name, t.Buffer.Seconds(), t.Buffer.SampleRate, t.Buffer.NumChannels())
}

// UnloadTrack removes the track from kind's strip.
func (e *Engine) UnloadTrack(kind Kind) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strips[kind].load(nil)
}

// Track returns the track loaded on kind, or nil.
func (e *Engine) Track(kind Kind) *Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.strips[kind].track
}

// --- Settings ---

// ApplySettings updates kind's strip. Playback is never interrupted.
func (e *Engine) ApplySettings(kind Kind, st Settings) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strips[kind].ApplySettings(st, e.ramp, e.now)
}

// Settings returns the settings last applied to kind.
func (e *Engine) Settings(kind Kind) Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.strips[kind].settings
}

// --- Transport ---

// Play starts both tracks from the given timeline position after the
// lookahead. The vocal reads from from-offset; when that is negative it
// waits silently until its start comes round.
func (e *Engine) Play(from time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.play(from)
}

func (e *Engine) play(from time.Duration) {
	from = max(from, 0)
	at := e.now + e.lookahead
	e.state = Playing
	e.anchorAt = at
	e.anchorTime = from
	for _, k := range Kinds {
		e.startStrip(k, at, from)
	}
}

// startStrip schedules kind's player so that at engine sample at the
// timeline reads t.
func (e *Engine) startStrip(kind Kind, at int64, t time.Duration) {
	p := e.strips[kind].Player
	if !p.Loaded() {
		return
	}
	if kind == Instrumental {
		p.Start(at, t)
		return
	}
	seek := t - e.offset
	if seek >= 0 {
		p.Start(at, seek)
		return
	}
	p.Start(at+toSamples(-seek), 0)
}

// Resume plays from the current position, looping back to the start when
// the transport sits at the end.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resume()
}

func (e *Engine) resume() {
	from := e.cursor
	if d := e.duration(); d > 0 && from >= d {
		from = 0
	}
	e.play(from)
}

// Toggle pauses when playing and resumes otherwise.
func (e *Engine) Toggle() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Playing {
		e.pause()
	} else {
		e.resume()
	}
	return e.state
}

// Pause halts both tracks and keeps the position.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pause()
}

func (e *Engine) pause() {
	if e.state != Playing {
		return
	}
	e.cursor = e.currentTime()
	e.halt()
	e.state = Paused
}

// Stop halts both tracks and rewinds to zero.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stop()
}

func (e *Engine) stop() {
	e.halt()
	e.cursor = 0
	e.state = Idle
}

func (e *Engine) halt() {
	for _, s := range e.strips {
		s.Player.Stop()
	}
}

// Seek moves the transport. While playing both tracks are re-anchored
// immediately; a vocal that lands before its start waits for it.
func (e *Engine) Seek(t time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seek(t)
}

func (e *Engine) seek(t time.Duration) {
	t = max(t, 0)
	if e.state != Playing {
		e.cursor = t
		return
	}
	e.anchorAt = e.now
	e.anchorTime = t
	for _, k := range Kinds {
		e.startStrip(k, e.now, t)
	}
}

// SetOffset shifts the vocal relative to the instrumental. Positive values
// delay the vocal. While playing, both tracks restart from the current
// position so the new offset applies to both at once.
func (e *Engine) SetOffset(o time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.offset = max(-MaxOffset, min(o, MaxOffset))
	if e.state == Playing {
		t := e.currentTime()
		e.halt()
		e.play(t)
	}
}

// Offset returns the vocal offset.
func (e *Engine) Offset() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offset
}

// State returns the transport state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// CurrentTime returns the timeline position.
func (e *Engine) CurrentTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentTime()
}

func (e *Engine) currentTime() time.Duration {
	if e.state != Playing {
		return e.cursor
	}
	return e.timeAt(e.now)
}

// timeAt maps an engine sample to the timeline while playing.
func (e *Engine) timeAt(sample int64) time.Duration {
	if sample <= e.anchorAt {
		return e.anchorTime
	}
	return e.anchorTime + toDuration(sample-e.anchorAt)
}

// VocalPosition returns where the vocal sits on its own timeline, which is
// the transport position minus the offset, floored at zero.
func (e *Engine) VocalPosition() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return max(0, e.currentTime()-e.offset)
}

// InstrumentalPosition returns the instrumental's position.
func (e *Engine) InstrumentalPosition() time.Duration {
	return e.CurrentTime()
}

// Duration returns the longer of the two tracks, ignoring the offset. While
// recording it grows with the transport.
func (e *Engine) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration()
}

func (e *Engine) duration() time.Duration {
	d := max(e.strips[Instrumental].track.Duration(), e.strips[Vocal].track.Duration())
	return max(d, e.grown)
}

// Clock returns how much audio the engine has rendered.
func (e *Engine) Clock() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return toDuration(e.now)
}

// Reset stops playback, drops both tracks and restores default settings.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stop()
	e.offset = 0
	for _, s := range e.strips {
		s.load(nil)
		s.ApplySettings(DefaultSettings(), e.ramp, e.now)
	}
	log.Println("Session reset")
}

// --- Capture ---

// AddTap starts delivering master blocks to t.
func (e *Engine) AddTap(t Tap) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.taps = append(e.taps, t)
}

// RemoveTap stops delivering to t.
func (e *Engine) RemoveTap(t Tap) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, x := range e.taps {
		if x == t {
			e.taps = append(e.taps[:i], e.taps[i+1:]...)
			return
		}
	}
}

// StartCapture rewinds, attaches t and starts playback from zero in one
// step, so the capture and the transport share the same start instant. It
// returns the engine clock at the start and the project duration.
func (e *Engine) StartCapture(t Tap) (start, duration time.Duration, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	duration = e.duration()
	if duration <= 0 {
		return 0, 0, apperrors.ErrNoTracks
	}
	e.stop()
	e.taps = append(e.taps, t)
	e.play(0)
	return toDuration(e.now), duration, nil
}

// StartMicCapture opens the microphone, starts recording and plays the
// project from the current position so the take lines up with it.
func (e *Engine) StartMicCapture(ctx context.Context) error {
	e.mu.Lock()
	if e.recorder != nil {
		e.mu.Unlock()
		return apperrors.ErrAlreadyRecording
	}
	mic := e.mic
	e.mu.Unlock()

	if mic == nil {
		return apperrors.NewPermissionError("microphone", errors.New("no input device"))
	}
	rec := capture.NewMicRecorder(mic)
	if err := rec.Start(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.recorder != nil {
		rec.Stop()
		return apperrors.ErrAlreadyRecording
	}
	e.recorder = rec
	e.grown = 0
	e.play(e.currentTime())
	log.Println("Microphone capture started")
	return nil
}

// StopMicCapture stops the transport and the recording, and installs the
// take as the new vocal track.
func (e *Engine) StopMicCapture() (*Track, error) {
	e.mu.Lock()
	rec := e.recorder
	if rec == nil {
		e.mu.Unlock()
		return nil, apperrors.ErrNotRecording
	}
	e.recorder = nil
	e.grown = 0
	e.stop()
	e.mu.Unlock()

	buf, err := rec.Stop()
	if err != nil {
		return nil, err
	}
	t := NewTrack("Recorded Vocal "+time.Now().Format("15:04:05"), Vocal, buf)
	e.SetTrack(t)
	return t, nil
}

// Recording reports whether the microphone is being captured.
func (e *Engine) Recording() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recorder != nil
}

// --- Rendering ---

// Render produces the next master block and advances the engine clock. The
// returned block is a copy owned by the caller.
func (e *Engine) Render() *dsp.Block {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.graph.Render(e.now)
	e.out.CopyFrom(e.graph.Output(e.master))
	for _, t := range e.taps {
		t.WriteBlock(e.out)
	}
	e.now += int64(e.out.Len())

	if e.state == Playing {
		t := e.currentTime()
		if e.recorder != nil {
			e.grown = max(e.grown, t)
		} else if d := e.duration(); d > 0 && t >= d {
			e.halt()
			e.cursor = d
			e.state = Paused
			log.Printf("Reached end of project at %.2fs", d.Seconds())
		}
	}
	return e.out.Clone()
}

// Levels returns the peak of each strip's output on the last render.
func (e *Engine) Levels() map[Kind]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	lv := make(map[Kind]float64, len(e.strips))
	for k, s := range e.strips {
		lv[k] = e.graph.Output(s.output()).Peak()
	}
	return lv
}

// Status is a snapshot for the API.
type Status struct {
	State         State               `json:"state"`
	CurrentTime   float64             `json:"currentTime"`
	Duration      float64             `json:"duration"`
	Offset        float64             `json:"offset"`
	VocalPosition float64             `json:"vocalPosition"`
	Recording     bool                `json:"recording"`
	Tracks        map[Kind]*TrackInfo `json:"tracks"`
	Settings      map[Kind]Settings   `json:"settings"`
	Levels        map[Kind]float64    `json:"levels"`
}

// Status returns a consistent snapshot of the session.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.currentTime()
	st := Status{
		State:         e.state,
		CurrentTime:   t.Seconds(),
		Duration:      e.duration().Seconds(),
		Offset:        e.offset.Seconds(),
		VocalPosition: max(0, t-e.offset).Seconds(),
		Recording:     e.recorder != nil,
		Tracks:        make(map[Kind]*TrackInfo),
		Settings:      make(map[Kind]Settings),
		Levels:        make(map[Kind]float64),
	}
	for k, s := range e.strips {
		st.Settings[k] = s.settings
		st.Levels[k] = round3(e.graph.Output(s.output()).Peak())
		if s.track != nil {
			info := s.track.Info()
			st.Tracks[k] = &info
		}
	}
	return st
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
