package audio

import "time"

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	BlockDuration = 20 * time.Millisecond
	BlockSize     = 960                  // frames per channel per 20ms block
	BlockSamples  = BlockSize * Channels // total interleaved samples per block
	BlockBytes    = BlockSamples * 2     // bytes per block (int16 = 2 bytes)
)

// Buffer is decoded PCM held planar, one slice per channel, at its native rate.
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// NewBuffer allocates a silent buffer.
func NewBuffer(sampleRate, channels, frames int) *Buffer {
	b := &Buffer{SampleRate: sampleRate, Channels: make([][]float32, channels)}
	for i := range b.Channels {
		b.Channels[i] = make([]float32, frames)
	}
	return b
}

// NumChannels returns the channel count.
func (b *Buffer) NumChannels() int {
	return len(b.Channels)
}

// Frames returns the number of sample frames per channel.
func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the native playback length.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(b.Frames()) / float64(b.SampleRate) * float64(time.Second))
}

// Seconds returns the native playback length in seconds.
func (b *Buffer) Seconds() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Sample returns channel ch at frame i. Mono buffers answer for every channel.
func (b *Buffer) Sample(ch, i int) float32 {
	if len(b.Channels) == 0 {
		return 0
	}
	if ch >= len(b.Channels) {
		ch = len(b.Channels) - 1
	}
	return b.Channels[ch][i]
}

// Interleaved16 quantizes the buffer to interleaved int16 PCM.
func (b *Buffer) Interleaved16() []int16 {
	n := b.NumChannels()
	frames := b.Frames()
	out := make([]int16, frames*n)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < n; ch++ {
			out[i*n+ch] = FloatToInt16(float64(b.Channels[ch][i]))
		}
	}
	return out
}

// FloatToInt16 clamps to [-1, 1] and scales negative values by 32768 and
// positive values by 32767.
func FloatToInt16(v float64) int16 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	if v < 0 {
		return int16(v * 32768)
	}
	return int16(v * 32767)
}

// Int16ToFloat is the inverse of FloatToInt16.
func Int16ToFloat(s int16) float32 {
	if s < 0 {
		return float32(s) / 32768
	}
	return float32(s) / 32767
}

// FromInterleaved16 builds a buffer from interleaved int16 PCM.
func FromInterleaved16(samples []int16, sampleRate, channels int) *Buffer {
	frames := len(samples) / channels
	b := NewBuffer(sampleRate, channels, frames)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			b.Channels[ch][i] = Int16ToFloat(samples[i*channels+ch])
		}
	}
	return b
}
