package audio

import (
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVHeaderSize is the size of a canonical RIFF/WAVE header with fmt and data chunks.
const WAVHeaderSize = 44

// WAVWriter streams 16-bit PCM into a WAV container. Close patches the RIFF
// and data sizes, so a writer closed early still leaves a playable file.
type WAVWriter struct {
	enc      *wav.Encoder
	channels int
	frames   int
	buf      *goaudio.IntBuffer
}

// NewWAVWriter starts a 16-bit PCM WAV stream on w.
func NewWAVWriter(w io.WriteSeeker, sampleRate, channels int) *WAVWriter {
	return &WAVWriter{
		enc:      wav.NewEncoder(w, sampleRate, BitDepth, channels, 1),
		channels: channels,
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
			SourceBitDepth: BitDepth,
		},
	}
}

// WriteInterleaved appends interleaved int16 samples.
func (w *WAVWriter) WriteInterleaved(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}
	if cap(w.buf.Data) < len(samples) {
		w.buf.Data = make([]int, len(samples))
	}
	w.buf.Data = w.buf.Data[:len(samples)]
	for i, s := range samples {
		w.buf.Data[i] = int(s)
	}
	if err := w.enc.Write(w.buf); err != nil {
		return fmt.Errorf("write wav samples: %w", err)
	}
	w.frames += len(samples) / w.channels
	return nil
}

// Frames returns the number of frames written so far.
func (w *WAVWriter) Frames() int {
	return w.frames
}

// Close finalizes the header. An empty stream still gets a valid header.
func (w *WAVWriter) Close() error {
	if w.frames == 0 {
		// the encoder only emits its header on the first write
		w.buf.Data = w.buf.Data[:0]
		if err := w.enc.Write(w.buf); err != nil {
			return fmt.Errorf("write wav header: %w", err)
		}
	}
	return w.enc.Close()
}

// EncodeWAV renders a buffer as a complete 16-bit PCM WAV file.
func EncodeWAV(b *Buffer) ([]byte, error) {
	if b == nil || b.NumChannels() == 0 {
		return nil, errors.New("encode wav: empty buffer")
	}
	mem := &MemFile{}
	w := NewWAVWriter(mem, b.SampleRate, b.NumChannels())
	if err := w.WriteInterleaved(b.Interleaved16()); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	return mem.Bytes(), nil
}

// MemFile is an in-memory io.WriteSeeker.
type MemFile struct {
	buf []byte
	pos int
}

func (m *MemFile) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		if end > cap(m.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, m.buf)
			m.buf = grown
		} else {
			m.buf = m.buf[:end]
		}
	}
	copy(m.buf[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *MemFile) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(m.pos) + offset
	case io.SeekEnd:
		abs = int64(len(m.buf)) + offset
	default:
		return 0, errors.New("memfile: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("memfile: negative position")
	}
	m.pos = int(abs)
	return abs, nil
}

// Bytes returns the written contents.
func (m *MemFile) Bytes() []byte {
	return m.buf
}
