// Package stems splits a stereo mix into a vocal stem and an instrumental
// (karaoke) stem with fixed mid/side and filter heuristics. It works on
// in-memory buffers and shares no state with the live engine.
package stems

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/duet/internal/audio"
	"github.com/satindergrewal/duet/internal/dsp"
	apperrors "github.com/satindergrewal/duet/internal/errors"
)

const (
	bassCorner  = 120
	vocalLow    = 200
	vocalHigh   = 4000
	renderBlock = 1024
)

// Result holds the two stems, both at the source's sample rate and length.
type Result struct {
	Vocal        *audio.Buffer
	Instrumental *audio.Buffer
}

// EncodeWAV renders both stems as WAV files.
func (r *Result) EncodeWAV() (vocal, instrumental []byte, err error) {
	if vocal, err = audio.EncodeWAV(r.Vocal); err != nil {
		return nil, nil, fmt.Errorf("encode vocal stem: %w", err)
	}
	if instrumental, err = audio.EncodeWAV(r.Instrumental); err != nil {
		return nil, nil, fmt.Errorf("encode instrumental stem: %w", err)
	}
	return vocal, instrumental, nil
}

// Separate decodes data and renders both stems concurrently.
func Separate(ctx context.Context, data []byte) (*Result, error) {
	src, err := audio.Decode(ctx, data)
	if err != nil {
		return nil, apperrors.NewSeparationError("decode", err)
	}
	if src.Frames() == 0 {
		return nil, apperrors.NewSeparationError("decode", apperrors.ErrNoData)
	}
	return SeparateBuffer(ctx, src)
}

// SeparateBuffer renders both stems from an already decoded source.
func SeparateBuffer(ctx context.Context, src *audio.Buffer) (*Result, error) {
	start := time.Now()
	res := &Result{}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := render(ctx, src, karaoke)
		if err != nil {
			return apperrors.NewSeparationError("instrumental", err)
		}
		res.Instrumental = b
		return nil
	})
	g.Go(func() error {
		b, err := render(ctx, src, vocal)
		if err != nil {
			return apperrors.NewSeparationError("vocal", err)
		}
		res.Vocal = b
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Printf("Separated %.2fs of audio in %v", src.Seconds(), time.Since(start).Round(time.Millisecond))
	return res, nil
}

// karaoke keeps the bass as is and replaces everything above it with the
// side signal, which cancels centre-panned content.
func karaoke(g *dsp.Graph, src, out dsp.NodeID, sr float64) error {
	bass := g.Add("bass", dsp.NewFilter(dsp.Lowpass, bassCorner, -48, sr))
	high := g.Add("high", dsp.NewFilter(dsp.Highpass, bassCorner, -48, sr))
	side := g.Add("side", dsp.MidSide{Mode: dsp.Side})
	if err := g.Chain(src, bass, out); err != nil {
		return err
	}
	return g.Chain(src, high, side, out)
}

// vocal keeps the centre, band limits it to the voice range, gates bleed
// and evens the level.
func vocal(g *dsp.Graph, src, out dsp.NodeID, sr float64) error {
	return g.Chain(
		src,
		g.Add("mid", dsp.MidSide{Mode: dsp.Mid}),
		g.Add("highpass", dsp.NewFilter(dsp.Highpass, vocalLow, -48, sr)),
		g.Add("lowpass", dsp.NewFilter(dsp.Lowpass, vocalHigh, -48, sr)),
		g.Add("gate", dsp.NewGate(-32, 0.1, sr)),
		g.Add("compressor", dsp.NewCompressor(-24, 3, 0.003, 0.25, sr)),
		g.Add("makeup", dsp.NewGain(2)),
		out,
	)
}

type buildFunc func(g *dsp.Graph, src, out dsp.NodeID, sr float64) error

// render runs src through a freshly built graph for exactly its length.
func render(ctx context.Context, src *audio.Buffer, build buildFunc) (*audio.Buffer, error) {
	frames := src.Frames()
	g := dsp.NewGraph(renderBlock)
	in := g.Add("source", &source{buf: src})
	out := g.Add("out", nil)
	if err := build(g, in, out, float64(src.SampleRate)); err != nil {
		return nil, err
	}

	dst := audio.NewBuffer(src.SampleRate, 2, frames)
	for pos := 0; pos < frames; pos += renderBlock {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		g.Render(int64(pos))
		b := g.Output(out)
		n := min(renderBlock, frames-pos)
		for i := 0; i < n; i++ {
			dst.Channels[0][pos+i] = float32(b.Left[i])
			dst.Channels[1][pos+i] = float32(b.Right[i])
		}
	}
	return dst, nil
}

// source plays a buffer from frame zero; mono feeds both channels.
type source struct {
	buf *audio.Buffer
}

func (s *source) Process(b *dsp.Block) {
	frames := s.buf.Frames()
	for i := range b.Left {
		f := int(b.Time) + i
		if f >= frames {
			break
		}
		b.Left[i] = float64(s.buf.Sample(0, f))
		b.Right[i] = float64(s.buf.Sample(1, f))
	}
}
