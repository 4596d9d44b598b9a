package engine

import (
	"fmt"
	"math"
)

// Kind tags which strip a track belongs to.
type Kind string

const (
	Instrumental Kind = "instrumental"
	Vocal        Kind = "vocal"
)

// Kinds lists both strips in render order.
var Kinds = []Kind{Instrumental, Vocal}

// ParseKind validates a strip name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case Instrumental, Vocal:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown track kind %q", s)
}

// Settings holds the per-track parameters. Field names follow the saved
// project format.
type Settings struct {
	Volume         float64 `json:"volume"`        // -60..0 dB
	Pan            float64 `json:"pan"`           // -1..1
	EQHigh         float64 `json:"eqHigh"`        // -10..10 dB
	EQMid          float64 `json:"eqMid"`         // -10..10 dB
	EQLow          float64 `json:"eqLow"`         // -10..10 dB
	BassBoost      float64 `json:"bassBoost"`     // 0..20 dB, instrumental only
	Reverb         float64 `json:"reverb"`        // 0..1 wet, vocal only
	Delay          float64 `json:"delay"`         // 0..1 wet, vocal only
	Pitch          float64 `json:"pitch"`         // -12..12 semitones, vocal only
	Speed          float64 `json:"speed"`         // 0.5..1.5
	DeEsserThresh  float64 `json:"deEsserThresh"` // -60..0 dB, vocal only
	DeEsserFreq    float64 `json:"deEsserFreq"`   // 2000..10000 Hz, vocal only
	EnableDynamics bool    `json:"enableDynamics"`
}

// DefaultSettings returns the settings a fresh strip starts with.
func DefaultSettings() Settings {
	return Settings{
		Volume:         -5,
		Speed:          1,
		DeEsserThresh:  -10,
		DeEsserFreq:    4000,
		EnableDynamics: true,
	}
}

// Clamp pulls every field into its valid range. NaN falls back to the default.
func (s Settings) Clamp() Settings {
	d := DefaultSettings()
	s.Volume = clamp(s.Volume, -60, 0, d.Volume)
	s.Pan = clamp(s.Pan, -1, 1, d.Pan)
	s.EQHigh = clamp(s.EQHigh, -10, 10, d.EQHigh)
	s.EQMid = clamp(s.EQMid, -10, 10, d.EQMid)
	s.EQLow = clamp(s.EQLow, -10, 10, d.EQLow)
	s.BassBoost = clamp(s.BassBoost, 0, 20, d.BassBoost)
	s.Reverb = clamp(s.Reverb, 0, 1, d.Reverb)
	s.Delay = clamp(s.Delay, 0, 1, d.Delay)
	s.Pitch = clamp(s.Pitch, -12, 12, d.Pitch)
	s.Speed = clamp(s.Speed, 0.5, 1.5, d.Speed)
	s.DeEsserThresh = clamp(s.DeEsserThresh, -60, 0, d.DeEsserThresh)
	s.DeEsserFreq = clamp(s.DeEsserFreq, 2000, 10000, d.DeEsserFreq)
	return s
}

func clamp(v, lo, hi, def float64) float64 {
	if math.IsNaN(v) {
		return def
	}
	return math.Max(lo, math.Min(hi, v))
}
