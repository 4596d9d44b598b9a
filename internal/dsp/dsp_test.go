package dsp

import (
	"errors"
	"math"
	"testing"
)

func near(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func sineBlock(n int, freq, amp, sampleRate float64) *Block {
	b := NewBlock(n)
	for i := 0; i < n; i++ {
		v := amp * math.Sin(2*math.Pi*freq*float64(i)/sampleRate)
		b.Left[i], b.Right[i] = v, v
	}
	return b
}

func rms(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x * x
	}
	return math.Sqrt(sum / float64(len(xs)))
}

// --- Param ---

func TestParamRampReachesTarget(t *testing.T) {
	p := NewParam(0)
	p.Set(1, 4)
	want := []float64{0.25, 0.5, 0.75, 1}
	for i, w := range want {
		if got := p.Next(); !near(got, w, 1e-12) {
			t.Errorf("Next() #%d = %v, want %v", i, got, w)
		}
	}
	if p.Ramping() {
		t.Error("Ramping() = true after ramp completed")
	}
	if got := p.Next(); got != 1 {
		t.Errorf("Next() after ramp = %v, want 1", got)
	}
}

func TestParamSameTargetIsNoop(t *testing.T) {
	p := NewParam(0)
	p.Set(1, 10)
	p.Advance(5)
	p.Set(1, 10)
	if p.Remaining() != 5 {
		t.Errorf("Remaining() = %d after repeated Set, want 5", p.Remaining())
	}
	if !near(p.Value(), 0.5, 1e-12) {
		t.Errorf("Value() = %v, want 0.5", p.Value())
	}
}

func TestParamLatestTargetWins(t *testing.T) {
	p := NewParam(0)
	p.Set(1, 10)
	p.Advance(5) // 0.5
	p.Set(-1, 3)
	if p.Target() != -1 {
		t.Errorf("Target() = %v, want -1", p.Target())
	}
	p.Next()
	if !near(p.Value(), 0, 1e-12) {
		t.Errorf("Value() after one step = %v, want 0", p.Value())
	}
	p.Advance(100)
	if p.Value() != -1 {
		t.Errorf("Value() = %v, want -1", p.Value())
	}
}

func TestParamZeroRampJumps(t *testing.T) {
	p := NewParam(3)
	p.Set(7, 0)
	if p.Value() != 7 || p.Ramping() {
		t.Errorf("Value() = %v ramping=%v, want 7 false", p.Value(), p.Ramping())
	}
	p.Set(9, 100)
	p.Jump(2)
	if p.Value() != 2 || p.Target() != 2 || p.Ramping() {
		t.Errorf("after Jump: value=%v target=%v ramping=%v", p.Value(), p.Target(), p.Ramping())
	}
}

func TestParamAdvancePartial(t *testing.T) {
	p := NewParam(0)
	p.Set(10, 100)
	if got := p.Advance(25); !near(got, 2.5, 1e-9) {
		t.Errorf("Advance(25) = %v, want 2.5", got)
	}
	if got := p.Advance(75); got != 10 {
		t.Errorf("Advance(75) = %v, want 10", got)
	}
}

// --- Filters ---

func TestStages(t *testing.T) {
	tests := []struct {
		rolloff int
		want    int
	}{
		{-12, 1}, {-24, 2}, {-48, 4}, {-96, 8},
	}
	for _, tt := range tests {
		got, err := Stages(tt.rolloff)
		if err != nil || got != tt.want {
			t.Errorf("Stages(%d) = %d, %v, want %d", tt.rolloff, got, err, tt.want)
		}
	}
	if _, err := Stages(-36); err == nil {
		t.Error("Stages(-36) should fail")
	}
}

func TestLowpassMagnitude(t *testing.T) {
	f := NewFilter(Lowpass, 120, -48, 48000)
	if got := f.Magnitude(20); !near(got, 1, 0.05) {
		t.Errorf("|H(20Hz)| = %v, want ~1", got)
	}
	if got := f.Magnitude(120); !near(got, math.Pow(ButterworthQ, 4), 0.02) {
		t.Errorf("|H(120Hz)| = %v, want %v", got, math.Pow(ButterworthQ, 4))
	}
	// four octaves up: at least 150 dB down on paper, just check it's tiny
	if got := f.Magnitude(1920); got > 1e-4 {
		t.Errorf("|H(1920Hz)| = %v, want < 1e-4", got)
	}
}

func TestHighpassMagnitude(t *testing.T) {
	f := NewFilter(Highpass, 200, -48, 48000)
	if got := f.Magnitude(5000); !near(got, 1, 0.01) {
		t.Errorf("|H(5kHz)| = %v, want ~1", got)
	}
	if got := f.Magnitude(50); got > 1e-3 {
		t.Errorf("|H(50Hz)| = %v, want < 1e-3", got)
	}
}

func TestLowshelfGain(t *testing.T) {
	f := NewFilter(Lowshelf, 200, -12, 48000)
	f.Gain().Jump(12)
	f.Process(NewBlock(1))
	if got := GainToDB(f.Magnitude(10)); !near(got, 12, 0.5) {
		t.Errorf("shelf gain at 10Hz = %.2f dB, want ~12", got)
	}
	if got := GainToDB(f.Magnitude(10000)); !near(got, 0, 0.5) {
		t.Errorf("shelf gain at 10kHz = %.2f dB, want ~0", got)
	}
}

func TestFilterAttenuatesSine(t *testing.T) {
	f := NewFilter(Lowpass, 120, -48, 48000)
	b := sineBlock(9600, 5000, 0.5, 48000)
	f.Process(b)
	if got := rms(b.Left[4800:]); got > 1e-4 {
		t.Errorf("5kHz through 120Hz lowpass: rms = %v, want < 1e-4", got)
	}
}

func TestEQ3FlatPassesLevel(t *testing.T) {
	eq := NewEQ3(48000)
	b := sineBlock(9600, 1000, 0.5, 48000)
	in := rms(b.Left[4800:])
	eq.Process(b)
	out := rms(b.Left[4800:])
	if math.Abs(GainToDB(out/in)) > 0.5 {
		t.Errorf("flat EQ3 changed 1kHz level by %.2f dB", GainToDB(out/in))
	}
}

func TestEQ3CutsBand(t *testing.T) {
	eq := NewEQ3(48000)
	eq.High.Jump(-24)
	b := sineBlock(9600, 10000, 0.5, 48000)
	eq.Process(b)
	if got := GainToDB(rms(b.Left[4800:]) / (0.5 / math.Sqrt2)); got > -12 {
		t.Errorf("10kHz with high band at -24 dB: %.2f dB, want < -12", got)
	}
}

// --- Dynamics ---

func TestCompressorSteadyState(t *testing.T) {
	c := NewCompressor(-24, 3, 0.003, 0.25, 48000)
	b := NewBlock(48000)
	for i := range b.Left {
		b.Left[i], b.Right[i] = 0.5, 0.5
	}
	c.Process(b)
	// 0.5 is ~-6 dB, 18 dB over, so 12 dB of reduction
	want := 0.5 * DBToGain(-(GainToDB(0.5)+24)*(2.0/3.0))
	if got := b.Left[len(b.Left)-1]; !near(got, want, 1e-3) {
		t.Errorf("compressed level = %v, want %v", got, want)
	}
}

func TestCompressorUnityRatio(t *testing.T) {
	c := NewCompressor(-40, 1, 0.003, 0.25, 48000)
	b := sineBlock(4800, 440, 0.9, 48000)
	want := b.Clone()
	c.Process(b)
	for i := range b.Left {
		if !near(b.Left[i], want.Left[i], 1e-12) {
			t.Fatalf("sample %d = %v, want %v", i, b.Left[i], want.Left[i])
		}
	}
}

func TestLimiterCeiling(t *testing.T) {
	l := NewLimiter(-1, 48000)
	b := NewBlock(48000)
	for i := range b.Left {
		b.Left[i], b.Right[i] = 1, -1
	}
	l.Process(b)
	if got := b.Left[len(b.Left)-1]; got > 0.9 {
		t.Errorf("limited level = %v, want <= 0.9", got)
	}
}

func TestGate(t *testing.T) {
	g := NewGate(-32, 0.1, 48000)
	quiet := sineBlock(48000, 440, 0.001, 48000)
	g.Process(quiet)
	if got := rms(quiet.Left[24000:]); got > 1e-6 {
		t.Errorf("gate passed -60 dB signal: rms = %v", got)
	}

	loud := sineBlock(48000, 440, 0.5, 48000)
	g.Process(loud)
	if !g.Open() {
		t.Error("gate closed on -6 dB signal")
	}
	if got := rms(loud.Left[24000:]); !near(got, 0.5/math.Sqrt2, 0.01) {
		t.Errorf("open gate rms = %v, want %v", got, 0.5/math.Sqrt2)
	}
}

func TestMultibandNeutral(t *testing.T) {
	m := NewMultibandCompressor(200, 4000, 0.005, 0.05, 48000)
	b := sineBlock(9600, 1000, 0.5, 48000)
	in := rms(b.Left[4800:])
	m.Process(b)
	if d := GainToDB(rms(b.Left[4800:]) / in); math.Abs(d) > 0.5 {
		t.Errorf("neutral multiband changed level by %.2f dB", d)
	}
}

func TestMultibandCompressesHighBand(t *testing.T) {
	m := NewMultibandCompressor(200, 4000, 0.005, 0.05, 48000)
	m.High.Threshold.Jump(-30)
	m.High.Ratio.Jump(6)
	b := sineBlock(24000, 8000, 0.5, 48000)
	m.Process(b)
	if m.High.Reduction() < 10 {
		t.Errorf("high band reduction = %.2f dB, want >= 10", m.High.Reduction())
	}
	if m.Low.Reduction() != 0 {
		t.Errorf("low band reduction = %.2f dB, want 0", m.Low.Reduction())
	}
}

// --- Delay / Reverb / Pitch ---

func TestFeedbackDelayEchoes(t *testing.T) {
	d := NewFeedbackDelay(0.01, 0.5, 1000)
	d.Wet.Jump(1)
	b := NewBlock(32)
	b.Left[0], b.Right[0] = 1, 1
	d.Process(b)
	if !near(b.Left[10], 1, 1e-12) {
		t.Errorf("first echo = %v, want 1", b.Left[10])
	}
	if !near(b.Left[20], 0.5, 1e-12) {
		t.Errorf("second echo = %v, want 0.5", b.Left[20])
	}
	if b.Left[0] != 0 {
		t.Errorf("fully wet output at 0 = %v, want 0", b.Left[0])
	}
}

func TestFeedbackDelayDry(t *testing.T) {
	d := NewFeedbackDelay(0.25, 0.5, 48000)
	b := sineBlock(960, 440, 0.5, 48000)
	want := b.Clone()
	d.Process(b)
	for i := range b.Left {
		if b.Left[i] != want.Left[i] {
			t.Fatalf("dry delay altered sample %d", i)
		}
	}
}

func TestReverbPreDelayAndTail(t *testing.T) {
	r := NewReverb(2.5, 0.1, 48000)
	r.Wet.Jump(1)
	b := NewBlock(24000)
	b.Left[0], b.Right[0] = 1, 1
	r.Process(b)
	for i := 0; i < 4800; i++ {
		if b.Left[i] != 0 {
			t.Fatalf("output before pre-delay at %d = %v", i, b.Left[i])
		}
	}
	if rms(b.Left[6000:]) == 0 {
		t.Error("reverb produced no tail")
	}
	if rms(b.Left) == rms(b.Right) {
		t.Error("reverb channels identical, want stereo spread")
	}
}

func TestPitchShifterBypass(t *testing.T) {
	p := NewPitchShifter(0.1, 48000)
	b := sineBlock(4800, 440, 0.5, 48000)
	want := b.Clone()
	p.Process(b)
	for i := range b.Left {
		if b.Left[i] != want.Left[i] {
			t.Fatalf("bypassed pitch shifter altered sample %d", i)
		}
	}
}

func TestPitchShifterBounded(t *testing.T) {
	p := NewPitchShifter(0.1, 48000)
	p.SetSemitones(7)
	b := sineBlock(48000, 440, 0.5, 48000)
	p.Process(b)
	for i, v := range b.Left {
		if math.IsNaN(v) || math.Abs(v) > 1 {
			t.Fatalf("sample %d = %v out of range", i, v)
		}
	}
	if rms(b.Left[24000:]) < 0.1 {
		t.Errorf("shifted output too quiet: rms = %v", rms(b.Left[24000:]))
	}
}

// --- Channel ---

func TestPan(t *testing.T) {
	tests := []struct {
		name     string
		l, r     float64
		pan      float64
		wantL    float64
		wantR    float64
	}{
		{"center", 0.3, 0.7, 0, 0.3, 0.7},
		{"hard left keeps left", 1, 0, -1, 1, 0},
		{"hard left folds right", 0, 1, -1, 1, 0},
		{"hard right folds left", 1, 0, 1, 0, 1},
		{"clamped", 0, 1, -5, 1, 0},
	}
	for _, tt := range tests {
		l, r := Pan(tt.l, tt.r, tt.pan)
		if !near(l, tt.wantL, 1e-12) || !near(r, tt.wantR, 1e-12) {
			t.Errorf("%s: Pan(%v, %v, %v) = (%v, %v), want (%v, %v)",
				tt.name, tt.l, tt.r, tt.pan, l, r, tt.wantL, tt.wantR)
		}
	}
}

func TestChannelVolume(t *testing.T) {
	c := NewChannel(GainToDB(0.5))
	b := NewBlock(4)
	for i := range b.Left {
		b.Left[i], b.Right[i] = 1, 1
	}
	c.Process(b)
	if !near(b.Left[3], 0.5, 1e-9) || !near(b.Right[3], 0.5, 1e-9) {
		t.Errorf("volume output = (%v, %v), want 0.5", b.Left[3], b.Right[3])
	}
}

func TestChannelVolumeRamps(t *testing.T) {
	c := NewChannel(0)
	c.Volume.Set(-60, 100)
	b := NewBlock(200)
	for i := range b.Left {
		b.Left[i], b.Right[i] = 1, 1
	}
	c.Process(b)
	for i := 1; i < 100; i++ {
		if b.Left[i] > b.Left[i-1] {
			t.Fatalf("volume ramp not monotonic at %d", i)
		}
	}
	if !near(b.Left[150], DBToGain(-60), 1e-9) {
		t.Errorf("settled level = %v, want %v", b.Left[150], DBToGain(-60))
	}
}

func TestMidSide(t *testing.T) {
	b := NewBlock(1)
	b.Left[0], b.Right[0] = 0.8, 0.2
	MidSide{Mode: Mid}.Process(b)
	if !near(b.Left[0], 0.5, 1e-12) || b.Left[0] != b.Right[0] {
		t.Errorf("mid = (%v, %v), want 0.5 on both", b.Left[0], b.Right[0])
	}

	b.Left[0], b.Right[0] = 0.8, 0.2
	MidSide{Mode: Side}.Process(b)
	if !near(b.Left[0], 0.6, 1e-12) || b.Left[0] != b.Right[0] {
		t.Errorf("side = (%v, %v), want 0.6 on both", b.Left[0], b.Right[0])
	}
}

func TestInterleaved16Clips(t *testing.T) {
	b := NewBlock(2)
	b.Left[0], b.Right[0] = 2, -2
	b.Left[1], b.Right[1] = 0.5, -0.5
	got := b.Interleaved16(nil)
	want := []int16{32767, -32768, 16383, -16384}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

// --- Graph ---

func constant(v float64) Stage {
	return StageFunc(func(b *Block) {
		for i := range b.Left {
			b.Left[i], b.Right[i] = v, v
		}
	})
}

func TestGraphRendersChain(t *testing.T) {
	g := NewGraph(4)
	out := g.Add("out", nil)
	gain := g.Add("gain", NewGain(0.5))
	src := g.Add("src", constant(1))
	if err := g.Chain(src, gain, out); err != nil {
		t.Fatalf("Chain: %v", err)
	}
	g.Render(960)
	b := g.Output(out)
	if b.Time != 960 {
		t.Errorf("Time = %d, want 960", b.Time)
	}
	if b.Left[0] != 0.5 {
		t.Errorf("output = %v, want 0.5", b.Left[0])
	}
}

func TestGraphSumsInputs(t *testing.T) {
	g := NewGraph(4)
	a := g.Add("a", constant(0.25))
	b := g.Add("b", constant(0.5))
	bus := g.Add("bus", nil)
	g.Connect(a, bus)
	g.Connect(b, bus)
	g.Render(0)
	if got := g.Output(bus).Left[2]; got != 0.75 {
		t.Errorf("bus = %v, want 0.75", got)
	}

	g.Disconnect(a, bus)
	g.Render(4)
	if got := g.Output(bus).Left[2]; got != 0.5 {
		t.Errorf("bus after disconnect = %v, want 0.5", got)
	}
	if n := len(g.Inputs(bus)); n != 1 {
		t.Errorf("Inputs = %d, want 1", n)
	}
}

func TestGraphRejectsCycle(t *testing.T) {
	g := NewGraph(4)
	a := g.Add("a", nil)
	b := g.Add("b", nil)
	c := g.Add("c", nil)
	if err := g.Chain(a, b, c); err != nil {
		t.Fatalf("Chain: %v", err)
	}
	if err := g.Connect(c, a); !errors.Is(err, ErrCycle) {
		t.Errorf("Connect(c, a) = %v, want ErrCycle", err)
	}
	if err := g.Connect(a, a); !errors.Is(err, ErrCycle) {
		t.Errorf("Connect(a, a) = %v, want ErrCycle", err)
	}
	if err := g.Connect(a, c); err != nil {
		t.Errorf("Connect(a, c) = %v, want nil", err)
	}
}

func TestGraphRemove(t *testing.T) {
	g := NewGraph(4)
	src := g.Add("src", constant(1))
	out := g.Add("out", nil)
	g.Connect(src, out)
	g.Remove(src)
	g.Render(0)
	if got := g.Output(out).Left[0]; got != 0 {
		t.Errorf("output after Remove = %v, want 0", got)
	}
	if err := g.Connect(src, out); err == nil {
		t.Error("Connect from removed node should fail")
	}
	if g.Output(src) != nil {
		t.Error("Output of removed node should be nil")
	}
}
