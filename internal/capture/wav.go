package capture

import (
	"fmt"
	"os"

	"github.com/satindergrewal/duet/internal/audio"
	"github.com/satindergrewal/duet/internal/dsp"
	apperrors "github.com/satindergrewal/duet/internal/errors"
)

// WAVRecorder streams master blocks into a WAV file on disk. It is attached
// to the engine as a tap; the header is patched on Stop, so stopping early
// still yields a playable file.
type WAVRecorder struct {
	file *os.File
	w    *audio.WAVWriter

	q    *pcmQueue
	done chan struct{}
	err  error
}

// NewWAVRecorder creates a recorder writing to a temporary file in dir.
func NewWAVRecorder(dir string) (*WAVRecorder, error) {
	f, err := os.CreateTemp(dir, "mixdown-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create mixdown file: %w", err)
	}
	r := &WAVRecorder{
		file: f,
		w:    audio.NewWAVWriter(f, audio.SampleRate, audio.Channels),
		q:    newPCMQueue(),
		done: make(chan struct{}),
	}
	go r.write()
	return r, nil
}

func (r *WAVRecorder) write() {
	defer close(r.done)
	for {
		batch, ok := r.q.next()
		if !ok {
			return
		}
		for _, pcm := range batch {
			if r.err == nil {
				r.err = r.w.WriteInterleaved(pcm)
			}
		}
	}
}

// WriteBlock queues a master block without blocking. Blocks after Stop are
// ignored.
func (r *WAVRecorder) WriteBlock(b *dsp.Block) {
	r.q.push(b.Interleaved16(nil))
}

// Path returns the file being written.
func (r *WAVRecorder) Path() string {
	return r.file.Name()
}

// Frames returns the frames written so far. Only meaningful after Stop.
func (r *WAVRecorder) Frames() int {
	return r.w.Frames()
}

// Stop finalises the file and returns its bytes. The temporary file is
// removed. No captured audio is an ExportEmptyError.
func (r *WAVRecorder) Stop() ([]byte, error) {
	if !r.q.close() {
		return nil, fmt.Errorf("wav recorder already stopped")
	}
	<-r.done

	defer os.Remove(r.file.Name())
	closeErr := r.w.Close()
	if err := r.file.Close(); closeErr == nil {
		closeErr = err
	}
	if r.err != nil {
		return nil, r.err
	}
	if closeErr != nil {
		return nil, fmt.Errorf("finalise mixdown: %w", closeErr)
	}
	if r.w.Frames() == 0 {
		return nil, apperrors.NewExportEmptyError("audio")
	}
	data, err := os.ReadFile(r.file.Name())
	if err != nil {
		return nil, fmt.Errorf("read mixdown: %w", err)
	}
	if len(data) <= audio.WAVHeaderSize {
		return nil, apperrors.NewExportEmptyError("audio")
	}
	return data, nil
}
