package stream

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/hajimehoshi/oto/v2"

	"github.com/satindergrewal/duet/internal/audio"
)

// LocalMonitor plays the master bus on the machine's speakers.
// oto allows one context per process, so only one monitor may exist.
type LocalMonitor struct {
	broadcaster *Broadcaster
	listener    *Listener
	player      oto.Player
}

// NewLocalMonitor opens the default output device.
func NewLocalMonitor(ctx context.Context, b *Broadcaster) (*LocalMonitor, error) {
	otoCtx, ready, err := oto.NewContext(audio.SampleRate, audio.Channels, oto.FormatSignedInt16LE)
	if err != nil {
		return nil, fmt.Errorf("open audio output: %w", err)
	}
	select {
	case <-ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	l := b.Subscribe()
	m := &LocalMonitor{
		broadcaster: b,
		listener:    l,
		player:      otoCtx.NewPlayer(newFrameReader(l)),
	}
	m.player.Play()
	log.Printf("Local speaker monitor started")
	return m, nil
}

// Close stops playback.
func (m *LocalMonitor) Close() error {
	m.broadcaster.Unsubscribe(m.listener)
	return m.player.Close()
}

// frameReader turns a listener into a little-endian PCM byte stream.
type frameReader struct {
	l   *Listener
	buf []byte
}

func newFrameReader(l *Listener) *frameReader {
	return &frameReader{l: l}
}

func (r *frameReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		select {
		case <-r.l.Done():
			return 0, io.EOF
		case frame := <-r.l.C:
			r.buf = audio.SamplesToBytes(frame)
		}
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}
