package engine

import (
	"context"
	"time"

	"github.com/satindergrewal/duet/internal/audio"
)

// Frames returns the channel of rendered master frames (20ms each,
// interleaved stereo int16).
func (e *Engine) Frames() <-chan []int16 {
	return e.frameCh
}

// Run renders one block per tick until ctx is cancelled, then closes the
// frame channel.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.frameCh)

	ticker := time.NewTicker(audio.BlockDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !e.sendFrame(ctx, e.Render().Interleaved16(nil)) {
			return
		}
	}
}

// sendFrame hands a frame to the consumer. A full channel drops the frame
// rather than stalling the clock.
func (e *Engine) sendFrame(ctx context.Context, frame []int16) bool {
	select {
	case <-ctx.Done():
		return false
	case e.frameCh <- frame:
	default:
	}
	return true
}
