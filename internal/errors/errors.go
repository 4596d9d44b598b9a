package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for expected failure modes
var (
	ErrUnsupportedFormat = errors.New("unsupported or corrupt format")
	ErrIO                = errors.New("read failed")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrNoData            = errors.New("no data produced")
	ErrNoTracks          = errors.New("load tracks first")
	ErrExportBusy        = errors.New("an export is already running")
	ErrNotRecording      = errors.New("microphone capture not running")
	ErrAlreadyRecording  = errors.New("microphone capture already running")
)

// DecodeError is returned when input bytes could not be turned into audio.
// Engine state is never touched when one is returned.
type DecodeError struct {
	Name  string // file or track name, may be empty
	Cause error  // ErrUnsupportedFormat or ErrIO, possibly wrapped
}

func (e *DecodeError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("decode %s: %v", e.Name, e.Cause)
	}
	return fmt.Sprintf("decode: %v", e.Cause)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// IsUnsupported reports whether the failure was the format rather than I/O.
func (e *DecodeError) IsUnsupported() bool {
	return errors.Is(e.Cause, ErrUnsupportedFormat)
}

// NewDecodeError creates a DecodeError
func NewDecodeError(name string, cause error) *DecodeError {
	return &DecodeError{Name: name, Cause: cause}
}

// PermissionError represents a denied or unavailable input device.
type PermissionError struct {
	Device string // "microphone"
	Cause  error
}

func (e *PermissionError) Error() string {
	if e.Cause != nil && !errors.Is(e.Cause, ErrPermissionDenied) {
		return fmt.Sprintf("%s access denied: %v", e.Device, e.Cause)
	}
	return fmt.Sprintf("%s access denied", e.Device)
}

func (e *PermissionError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrPermissionDenied}
	}
	return []error{ErrPermissionDenied, e.Cause}
}

// NewPermissionError creates a PermissionError
func NewPermissionError(device string, cause error) *PermissionError {
	return &PermissionError{Device: device, Cause: cause}
}

// SeparationError represents a failure in the stem separation pipeline
type SeparationError struct {
	Stage string // "decode", "instrumental", "vocal"
	Cause error
}

func (e *SeparationError) Error() string {
	if e.Stage == "decode" {
		return "stem separation: decode failed"
	}
	if e.Cause != nil {
		return fmt.Sprintf("stem separation failed at %s: %v", e.Stage, e.Cause)
	}
	return fmt.Sprintf("stem separation failed at %s", e.Stage)
}

func (e *SeparationError) Unwrap() error {
	return e.Cause
}

// NewSeparationError creates a SeparationError
func NewSeparationError(stage string, cause error) *SeparationError {
	return &SeparationError{Stage: stage, Cause: cause}
}

// ExportEmptyError is returned when a capture finished without producing audio.
type ExportEmptyError struct {
	Kind string // "audio", "video", "microphone"
}

func (e *ExportEmptyError) Error() string {
	return fmt.Sprintf("%s export failed: %v", e.Kind, ErrNoData)
}

func (e *ExportEmptyError) Unwrap() error {
	return ErrNoData
}

// NewExportEmptyError creates an ExportEmptyError
func NewExportEmptyError(kind string) *ExportEmptyError {
	return &ExportEmptyError{Kind: kind}
}
