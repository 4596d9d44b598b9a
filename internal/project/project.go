// Package project saves and restores mixer settings. Audio is never
// stored; a restored project expects the tracks to be loaded again.
package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/satindergrewal/duet/internal/engine"
)

// Version is written into every document.
const Version = "1.0"

// compatible is the range of document versions Decode accepts.
var compatible = mustConstraint("^1.0")

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Document is the saved form of a session.
type Document struct {
	Version   string   `json:"version"`
	Timestamp int64    `json:"timestamp"` // unix milliseconds
	Settings  Settings `json:"settings"`
	Metadata  Metadata `json:"metadata"`
	Sync      Sync     `json:"sync"`
}

// Settings holds both strips.
type Settings struct {
	Instrumental engine.Settings `json:"instrumental"`
	Vocal        engine.Settings `json:"vocal"`
}

// Metadata records which files were loaded, for display only.
type Metadata struct {
	InstrumentalName string `json:"instrumentalName,omitempty"`
	VocalName        string `json:"vocalName,omitempty"`
}

// Sync holds the vocal offset in seconds.
type Sync struct {
	VocalShift float64 `json:"vocalShift"`
}

// Offset returns the vocal shift as a duration.
func (d *Document) Offset() time.Duration {
	limit := engine.MaxOffset.Seconds()
	return time.Duration(max(-limit, min(d.Sync.VocalShift, limit)) * float64(time.Second))
}

// FromEngine snapshots the engine.
func FromEngine(e *engine.Engine) *Document {
	doc := &Document{
		Version:   Version,
		Timestamp: time.Now().UnixMilli(),
		Settings: Settings{
			Instrumental: e.Settings(engine.Instrumental),
			Vocal:        e.Settings(engine.Vocal),
		},
		Sync: Sync{VocalShift: e.Offset().Seconds()},
	}
	if t := e.Track(engine.Instrumental); t != nil {
		doc.Metadata.InstrumentalName = t.Name
	}
	if t := e.Track(engine.Vocal); t != nil {
		doc.Metadata.VocalName = t.Name
	}
	return doc
}

// Apply restores parameters and the offset. Loaded tracks are left alone.
func (d *Document) Apply(e *engine.Engine) {
	e.ApplySettings(engine.Instrumental, d.Settings.Instrumental)
	e.ApplySettings(engine.Vocal, d.Settings.Vocal)
	e.SetOffset(d.Offset())
}

// Encode renders the document as indented JSON.
func Encode(d *Document) ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode project: %w", err)
	}
	return data, nil
}

// Decode parses a project file. Missing parameters take their defaults and
// out of range ones are clamped.
func Decode(data []byte) (*Document, error) {
	doc := &Document{
		Settings: Settings{
			Instrumental: engine.DefaultSettings(),
			Vocal:        engine.DefaultSettings(),
		},
	}
	var probe struct {
		Settings json.RawMessage `json:"settings"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("invalid project file: %w", err)
	}
	if len(probe.Settings) == 0 || string(probe.Settings) == "null" {
		return nil, errors.New("invalid project file: no settings")
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("invalid project file: %w", err)
	}

	if doc.Version == "" {
		doc.Version = Version
	}
	v, err := semver.NewVersion(doc.Version)
	if err != nil {
		return nil, fmt.Errorf("invalid project version %q: %w", doc.Version, err)
	}
	if !compatible.Check(v) {
		return nil, fmt.Errorf("unsupported project version %s", doc.Version)
	}

	doc.Settings.Instrumental = doc.Settings.Instrumental.Clamp()
	doc.Settings.Vocal = doc.Settings.Vocal.Clamp()
	return doc, nil
}
