package audio

import "bytes"

// Format represents a detected media container
type Format string

const (
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatFLAC    Format = "flac"
	FormatOGG     Format = "ogg"
	FormatMP4     Format = "mp4"
	FormatWebM    Format = "webm"
	FormatUnknown Format = "unknown"
)

// Magic bytes for container detection
var (
	riffMagic = []byte("RIFF")
	waveMagic = []byte("WAVE")
	id3Magic  = []byte("ID3")
	flacMagic = []byte("fLaC")
	oggMagic  = []byte("OggS")
	ftypMagic = []byte("ftyp")
	ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}
)

// DetectFormat checks magic bytes to determine the container.
func DetectFormat(data []byte) Format {
	if len(data) < 4 {
		return FormatUnknown
	}

	switch {
	case len(data) >= 12 && bytes.Equal(data[:4], riffMagic) && bytes.Equal(data[8:12], waveMagic):
		return FormatWAV
	case bytes.HasPrefix(data, id3Magic):
		return FormatMP3
	case bytes.HasPrefix(data, flacMagic):
		return FormatFLAC
	case bytes.HasPrefix(data, oggMagic):
		return FormatOGG
	case bytes.HasPrefix(data, ebmlMagic):
		return FormatWebM
	case len(data) >= 8 && bytes.Equal(data[4:8], ftypMagic):
		return FormatMP4
	}

	// MPEG audio frame sync: 11 set bits, a valid layer and bitrate index
	if data[0] == 0xFF && data[1]&0xE0 == 0xE0 && data[1]&0x06 != 0 && data[2]&0xF0 != 0xF0 {
		return FormatMP3
	}

	return FormatUnknown
}

// Extension returns the usual file extension for a format, without the dot.
func (f Format) Extension() string {
	switch f {
	case FormatMP4:
		return "mp4"
	case FormatUnknown:
		return ""
	}
	return string(f)
}
