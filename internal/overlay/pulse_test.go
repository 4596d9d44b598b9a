package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"testing"
	"time"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

func msDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

// --- Animation curves ---

func TestBeatAndAlpha(t *testing.T) {
	if got := Beat(0); got != 1 {
		t.Errorf("Beat(0) = %v, want 1", got)
	}
	peak := msDuration(200 * math.Pi / 2)
	if got := Beat(peak); math.Abs(got-1.05) > 1e-3 {
		t.Errorf("Beat(peak) = %v, want 1.05", got)
	}
	if got := Alpha(0); got != 0 {
		t.Errorf("Alpha(0) = %v, want 0", got)
	}
	for ms := 0; ms < 5000; ms += 37 {
		a := Alpha(time.Duration(ms) * time.Millisecond)
		if a < 0 || a > 0.5 {
			t.Fatalf("Alpha(%dms) = %v, want [0, 0.5]", ms, a)
		}
	}
}

// --- Frames ---

func TestPulseScalesBackground(t *testing.T) {
	red := color.RGBA{R: 200, A: 255}
	p := NewPulse(108, 108, 30, "", solid(10, 10, red))
	if w, h := p.Size(); w != 108 || h != 108 {
		t.Errorf("Size() = %d, %d", w, h)
	}
	if p.FPS() != 30 {
		t.Errorf("FPS() = %d, want 30", p.FPS())
	}
	dst := image.NewRGBA(image.Rect(0, 0, 108, 108))
	p.Draw(0, dst)
	for _, pt := range []image.Point{{0, 0}, {54, 54}, {107, 107}} {
		got := dst.RGBAAt(pt.X, pt.Y)
		if d := int(got.R) - int(red.R); d < -1 || d > 1 || got.G != 0 || got.B != 0 {
			t.Errorf("pixel %v = %v, want %v", pt, got, red)
		}
	}
}

func TestPulseDrawsRing(t *testing.T) {
	black := color.RGBA{A: 255}
	p := NewPulse(1080, 1080, 30, "", solid(4, 4, black))
	dst := image.NewRGBA(image.Rect(0, 0, 1080, 1080))

	// alpha peaks at 500·π/2 ms
	at := msDuration(500 * math.Pi / 2)
	p.Draw(at, dst)
	r := 300 * Beat(at)
	on := dst.RGBAAt(540+int(r), 540)
	if on.R < 100 || on.B != 0 {
		t.Errorf("ring pixel = %v, want orange", on)
	}
	if off := dst.RGBAAt(540, 540); off != black {
		t.Errorf("centre pixel = %v, want background", off)
	}

	p.Draw(0, dst)
	if got := dst.RGBAAt(540+300, 540); got != black {
		t.Errorf("ring at zero alpha = %v, want background", got)
	}
}

func TestPulseDrawsTitle(t *testing.T) {
	black := color.RGBA{A: 255}
	p := NewPulse(540, 540, 25, "DUET MIX", solid(2, 2, black))
	dst := image.NewRGBA(image.Rect(0, 0, 540, 540))
	p.Draw(0, dst)

	white := 0
	for y := 400; y < 540; y++ {
		for x := 0; x < 540; x++ {
			if c := dst.RGBAAt(x, y); c.R == 255 && c.G == 255 && c.B == 255 {
				white++
			}
		}
	}
	if white == 0 {
		t.Error("expected white title pixels near the bottom")
	}
	if c := dst.RGBAAt(5, 5); c != black {
		t.Errorf("top corner = %v, want background", c)
	}
}
