package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"

	apperrors "github.com/satindergrewal/duet/internal/errors"
)

// FFmpegPath is the binary used for containers the native decoders don't handle.
var FFmpegPath = "ffmpeg"

// Decode turns an in-memory media file into a Buffer at its native sample rate.
// The whole payload is decoded before returning.
func Decode(ctx context.Context, data []byte) (*Buffer, error) {
	switch DetectFormat(data) {
	case FormatWAV:
		return decodeWAV(data)
	case FormatMP3:
		return decodeMP3(data)
	case FormatUnknown:
		return nil, apperrors.NewDecodeError("", apperrors.ErrUnsupportedFormat)
	default:
		return decodeFFmpeg(ctx, data)
	}
}

func decodeWAV(data []byte) (*Buffer, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return nil, apperrors.NewDecodeError("", apperrors.ErrUnsupportedFormat)
	}
	pcm, err := d.FullPCMBuffer()
	if err != nil {
		return nil, apperrors.NewDecodeError("", fmt.Errorf("%w: %v", apperrors.ErrUnsupportedFormat, err))
	}
	channels := int(d.NumChans)
	bitDepth := int(d.BitDepth)
	if channels <= 0 || bitDepth <= 0 || d.SampleRate == 0 {
		return nil, apperrors.NewDecodeError("", apperrors.ErrUnsupportedFormat)
	}

	frames := len(pcm.Data) / channels
	if frames == 0 {
		return nil, apperrors.NewDecodeError("", fmt.Errorf("%w: no samples", apperrors.ErrUnsupportedFormat))
	}
	b := NewBuffer(int(d.SampleRate), channels, frames)
	if bitDepth == 16 {
		for i := 0; i < frames; i++ {
			for ch := 0; ch < channels; ch++ {
				b.Channels[ch][i] = Int16ToFloat(int16(pcm.Data[i*channels+ch]))
			}
		}
		return b, nil
	}
	if bitDepth == 8 {
		// 8-bit PCM is unsigned with silence at 128
		for i := 0; i < frames; i++ {
			for ch := 0; ch < channels; ch++ {
				b.Channels[ch][i] = float32(pcm.Data[i*channels+ch]-128) / 128
			}
		}
		return b, nil
	}
	scale := float32(int64(1) << (bitDepth - 1))
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			b.Channels[ch][i] = float32(pcm.Data[i*channels+ch]) / scale
		}
	}
	return b, nil
}

func decodeMP3(data []byte) (*Buffer, error) {
	d, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.NewDecodeError("", fmt.Errorf("%w: %v", apperrors.ErrUnsupportedFormat, err))
	}
	// go-mp3 always yields 16-bit little-endian stereo.
	raw, err := io.ReadAll(d)
	if err != nil && len(raw) == 0 {
		return nil, apperrors.NewDecodeError("", fmt.Errorf("%w: %v", apperrors.ErrUnsupportedFormat, err))
	}
	samples := BytesToSamples(raw)
	if len(samples) < Channels {
		return nil, apperrors.NewDecodeError("", fmt.Errorf("%w: no samples", apperrors.ErrUnsupportedFormat))
	}
	return FromInterleaved16(samples, d.SampleRate(), Channels), nil
}

// decodeFFmpeg pipes the payload through FFmpeg and reads back s16le stereo
// at the engine rate. Used for FLAC, OGG and audio inside video containers.
func decodeFFmpeg(ctx context.Context, data []byte) (*Buffer, error) {
	cmd := exec.CommandContext(ctx, FFmpegPath,
		"-i", "pipe:0",
		"-vn",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", "48000",
		"-ac", "2",
		"-loglevel", "error",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// FFmpeg ran and rejected the stream.
			return nil, apperrors.NewDecodeError("", fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, stderr.String()))
		}
		return nil, apperrors.NewDecodeError("", fmt.Errorf("%w: ffmpeg: %v", apperrors.ErrIO, err))
	}

	samples := BytesToSamples(out)
	if len(samples) < Channels {
		return nil, apperrors.NewDecodeError("", fmt.Errorf("%w: no audio stream", apperrors.ErrUnsupportedFormat))
	}
	return FromInterleaved16(samples, SampleRate, Channels), nil
}

// BytesToSamples converts little-endian bytes to int16 samples.
// A trailing odd byte is dropped.
func BytesToSamples(buf []byte) []int16 {
	samples := make([]int16, len(buf)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*2 : i*2+2]))
	}
	return samples
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
