package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/satindergrewal/duet/internal/audio"
)

// Track is a decoded source bound to one strip. It is never mutated after
// creation; loading a new file replaces it wholesale.
type Track struct {
	ID     string
	Name   string
	Kind   Kind
	Buffer *audio.Buffer
}

// NewTrack wraps a decoded buffer.
func NewTrack(name string, kind Kind, buf *audio.Buffer) *Track {
	return &Track{
		ID:     uuid.NewString(),
		Name:   name,
		Kind:   kind,
		Buffer: buf,
	}
}

// Duration returns the native length of the source.
func (t *Track) Duration() time.Duration {
	if t == nil {
		return 0
	}
	return t.Buffer.Duration()
}

// TrackInfo is the JSON view of a loaded track.
type TrackInfo struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Kind       Kind    `json:"type"`
	Duration   float64 `json:"duration"`
	SampleRate int     `json:"sampleRate"`
	Channels   int     `json:"channels"`
}

// Info describes the track.
func (t *Track) Info() TrackInfo {
	return TrackInfo{
		ID:         t.ID,
		Name:       t.Name,
		Kind:       t.Kind,
		Duration:   t.Buffer.Seconds(),
		SampleRate: t.Buffer.SampleRate,
		Channels:   t.Buffer.NumChannels(),
	}
}
