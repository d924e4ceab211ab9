package cscraw

import (
	"errors"
	"fmt"
)

// Error kinds, usable with errors.Is.
var (
	ErrConfig        = errors.New("configuration error")
	ErrGeometry      = errors.New("geometry error")
	ErrFormatVersion = errors.New("unsupported format version")
	ErrDecode        = errors.New("decode error")
)

// ErrOpenFile represents an error when opening a file.
type ErrOpenFile struct {
	Filename string
	Err      error
}

func (e *ErrOpenFile) Error() string {
	return fmt.Sprintf("error opening file %q: %v", e.Filename, e.Err)
}

func (e *ErrOpenFile) Unwrap() error { return e.Err }

// ConfigError is fatal at startup.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

// GeometryError rejects a single event.
type GeometryError struct {
	ID     DetectorChannelID
	Kind   DigiKind
	Field  string
	Value  int
	Reason string
}

func (e *GeometryError) Error() string {
	if e.Kind != 0 {
		return fmt.Sprintf("%v digi in %v: %s %d %s", e.Kind, e.ID, e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("detector id %v: %s %d %s", e.ID, e.Field, e.Value, e.Reason)
}

func (e *GeometryError) Unwrap() error { return ErrGeometry }

// FormatVersionError rejects a single record.
type FormatVersionError struct {
	Version   uint16
	Supported []uint16
}

func (e *FormatVersionError) Error() string {
	return fmt.Sprintf("format version %d not supported (supported: %v)", e.Version, e.Supported)
}

func (e *FormatVersionError) Unwrap() error { return ErrFormatVersion }

// DecodeError rejects a single record. Offset is the byte position in the
// record where decoding failed.
type DecodeError struct {
	Offset int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error at byte %d: %s", e.Offset, e.Reason)
}

func (e *DecodeError) Unwrap() error { return ErrDecode }

func decodeErrorf(offset int, format string, args ...any) error {
	return &DecodeError{Offset: offset, Reason: fmt.Sprintf(format, args...)}
}
