package dtm

import (
	"errors"
	"fmt"
)

// ErrOutsideWindow is returned when a gated operation runs outside the
// configured transfer window.
var ErrOutsideWindow = errors.New("outside transfer window")

// ErrDigestMismatch is wrapped by every IntegrityError.
var ErrDigestMismatch = errors.New("digest mismatch")

// ConfigError reports a problem with configuration or with the directories a
// run was pointed at. It aborts the whole run.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// CompressionError reports a failure while renaming or compressing one file.
// The original file is left in place.
type CompressionError struct {
	Path string
	Err  error
}

func (e *CompressionError) Error() string {
	return fmt.Sprintf("compressing %s: %v", e.Path, e.Err)
}

func (e *CompressionError) Unwrap() error { return e.Err }

// MoveError reports a failure while placing an artifact at its destination
// or cleaning it up afterwards. The source artifact is kept.
type MoveError struct {
	Source      string
	Destination string
	Err         error
}

func (e *MoveError) Error() string {
	return fmt.Sprintf("moving %s to %s: %v", e.Source, e.Destination, e.Err)
}

func (e *MoveError) Unwrap() error { return e.Err }

// IntegrityError reports that the destination copy does not hash to the same
// digest as the source.
type IntegrityError struct {
	Path string
	Want string
	Got  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: want %s, got %s", e.Path, e.Want, e.Got)
}

func (e *IntegrityError) Unwrap() error { return ErrDigestMismatch }
