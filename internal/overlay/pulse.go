// Package overlay draws the picture track of video exports.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Orange is the ring colour.
var Orange = color.RGBA{R: 0xFF, G: 0x5E, B: 0x00, A: 0xFF}

// Sizes are given for a 1080 pixel frame and scaled to the real one.
const (
	refSize       = 1080.0
	ringRadius    = 300.0
	ringWidth     = 20.0
	titleHeight   = 40.0
	titleBaseline = 50.0
)

// Beat returns the ring scale at elapsed: 1 ± 0.05 with a 200ms period term.
func Beat(elapsed time.Duration) float64 {
	ms := float64(elapsed) / float64(time.Millisecond)
	return 1 + 0.05*math.Sin(ms/200)
}

// Alpha returns the ring opacity at elapsed, between 0 and 0.5.
func Alpha(elapsed time.Duration) float64 {
	ms := float64(elapsed) / float64(time.Millisecond)
	return math.Abs(math.Sin(ms/500)) * 0.5
}

// Pulse is a frame source: a background, a pulsing ring and a title.
type Pulse struct {
	width, height, fps int

	scale float64
	bg    *image.RGBA
	title *image.RGBA
}

// NewPulse prepares the static layers. background may be nil for a plain
// dark frame.
func NewPulse(width, height, fps int, title string, background image.Image) *Pulse {
	p := &Pulse{
		width:  width,
		height: height,
		fps:    fps,
		scale:  float64(min(width, height)) / refSize,
		bg:     image.NewRGBA(image.Rect(0, 0, width, height)),
	}
	if background != nil {
		draw.CatmullRom.Scale(p.bg, p.bg.Bounds(), background, background.Bounds(), draw.Src, nil)
	} else {
		draw.Draw(p.bg, p.bg.Bounds(), image.NewUniform(color.RGBA{R: 0x12, G: 0x12, B: 0x16, A: 0xFF}), image.Point{}, draw.Src)
	}
	if title != "" {
		p.title = renderTitle(title, p.scale)
	}
	return p
}

// LoadBackground reads a PNG or JPEG file.
func LoadBackground(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open background: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode background %s: %w", path, err)
	}
	return img, nil
}

// renderTitle draws text with the built-in bitmap face and enlarges it to
// the title height.
func renderTitle(text string, scale float64) *image.RGBA {
	face := basicfont.Face7x13
	d := &font.Drawer{Face: face}
	w := d.MeasureString(text).Ceil()
	h := face.Height
	small := image.NewRGBA(image.Rect(0, 0, w, h))
	d.Dst = small
	d.Src = image.White
	d.Dot = fixed.P(0, face.Ascent)
	d.DrawString(text)

	factor := max(1, titleHeight*scale/float64(h))
	big := image.NewRGBA(image.Rect(0, 0, int(float64(w)*factor), int(float64(h)*factor)))
	draw.NearestNeighbor.Scale(big, big.Bounds(), small, small.Bounds(), draw.Src, nil)
	return big
}

// Size returns the frame dimensions.
func (p *Pulse) Size() (int, int) { return p.width, p.height }

// FPS returns the frame rate.
func (p *Pulse) FPS() int { return p.fps }

// Draw renders the frame at elapsed into dst.
func (p *Pulse) Draw(elapsed time.Duration, dst *image.RGBA) {
	draw.Draw(dst, dst.Bounds(), p.bg, image.Point{}, draw.Src)

	cx, cy := float64(p.width)/2, float64(p.height)/2
	p.ring(dst, cx, cy, ringRadius*p.scale*Beat(elapsed), ringWidth*p.scale, Alpha(elapsed))

	if p.title != nil {
		tb := p.title.Bounds()
		x := (p.width - tb.Dx()) / 2
		y := p.height - int(titleBaseline*p.scale) - tb.Dy()
		r := image.Rect(x, y, x+tb.Dx(), y+tb.Dy())
		draw.Draw(dst, r, p.title, image.Point{}, draw.Over)
	}
}

// ring strokes a circle of radius r and line width w, blended at alpha.
// Edges are anti-aliased over one pixel.
func (p *Pulse) ring(dst *image.RGBA, cx, cy, r, w, alpha float64) {
	if alpha <= 0 {
		return
	}
	outer := r + w/2 + 1
	box := image.Rect(int(cx-outer), int(cy-outer), int(cx+outer)+1, int(cy+outer)+1).Intersect(dst.Bounds())
	for y := box.Min.Y; y < box.Max.Y; y++ {
		for x := box.Min.X; x < box.Max.X; x++ {
			d := math.Hypot(float64(x)+0.5-cx, float64(y)+0.5-cy)
			cover := math.Min(1, math.Max(0, w/2+0.5-math.Abs(d-r)))
			if cover == 0 {
				continue
			}
			a := alpha * cover
			i := dst.PixOffset(x, y)
			px := dst.Pix[i : i+4 : i+4]
			px[0] = blend(px[0], Orange.R, a)
			px[1] = blend(px[1], Orange.G, a)
			px[2] = blend(px[2], Orange.B, a)
		}
	}
}

func blend(dst, src uint8, a float64) uint8 {
	return uint8(math.Round(float64(dst)*(1-a) + float64(src)*a))
}
