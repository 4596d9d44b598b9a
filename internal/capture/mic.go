// Package capture records audio: the microphone for overdubs, and the
// master bus for audio and video mixdowns.
package capture

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/satindergrewal/duet/internal/audio"
	apperrors "github.com/satindergrewal/duet/internal/errors"
)

// Microphone is an input device delivering 48 kHz interleaved stereo frames.
// The channel returned by Open is closed when ctx ends or Close is called.
type Microphone interface {
	Open(ctx context.Context) (<-chan []int16, error)
	Close() error
}

// MicRecorder buffers a microphone take in memory. It is not connected to
// any output, so the take never reaches the monitor.
type MicRecorder struct {
	mic Microphone

	mu      sync.Mutex
	samples []int16
	started time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMicRecorder creates a recorder for m.
func NewMicRecorder(m Microphone) *MicRecorder {
	return &MicRecorder{mic: m}
}

// Start opens the device. Any failure to open is reported as a
// PermissionError.
func (r *MicRecorder) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	frames, err := r.mic.Open(ctx)
	if err != nil {
		cancel()
		var pe *apperrors.PermissionError
		if errors.As(err, &pe) {
			return err
		}
		return apperrors.NewPermissionError("microphone", err)
	}
	r.cancel = cancel
	r.done = make(chan struct{})
	r.started = time.Now()
	go r.collect(frames)
	return nil
}

func (r *MicRecorder) collect(frames <-chan []int16) {
	defer close(r.done)
	for f := range frames {
		r.mu.Lock()
		r.samples = append(r.samples, f...)
		r.mu.Unlock()
	}
}

// Elapsed returns the amount of audio captured so far.
func (r *MicRecorder) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Duration(len(r.samples)/audio.Channels) * time.Second / audio.SampleRate
}

// Stop closes the device and returns the take. A take with no samples is an
// ExportEmptyError.
func (r *MicRecorder) Stop() (*audio.Buffer, error) {
	if r.done == nil {
		return nil, apperrors.ErrNotRecording
	}
	r.cancel()
	if err := r.mic.Close(); err != nil {
		log.Printf("Microphone close: %v", err)
	}
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		log.Println("Microphone did not drain, using what was captured")
	}

	r.mu.Lock()
	samples := r.samples
	r.samples = nil
	r.mu.Unlock()

	if len(samples) < audio.Channels {
		return nil, apperrors.NewExportEmptyError("microphone")
	}
	log.Printf("Microphone take: %.2fs", float64(len(samples)/audio.Channels)/audio.SampleRate)
	return audio.FromInterleaved16(samples, audio.SampleRate, audio.Channels), nil
}
