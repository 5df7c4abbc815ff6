package pkg

import (
	"errors"
	"fmt"
)

// Sentinel errors for per-call and per-timestamp failures. Per-timestamp
// problems (insufficient history, invalid reading) are recovered locally by
// skipping the affected timestamp and counting it in Diagnostics;
// pipeline-level problems abort the call.
var (
	// ErrInsufficientHistory marks a window shorter than required for
	// feature extraction or trend fitting. Non-fatal: the affected
	// timestamp or projection is omitted.
	ErrInsufficientHistory = errors.New("insufficient history")

	// ErrNotCalibrated is returned when scoring is attempted without a
	// calibration profile. Fatal for that call.
	ErrNotCalibrated = errors.New("no calibration profile loaded")

	// ErrInvalidReading marks an out-of-range, non-finite or out-of-order
	// sensor value. The offending reading is excluded from its window.
	ErrInvalidReading = errors.New("invalid sensor reading")
)

// CalibrationError reports a baseline window that is too short or
// degenerate to fit a profile from.
type CalibrationError struct {
	Reason string
	Err    error
}

func (e *CalibrationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("calibration failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("calibration failed: %s", e.Reason)
}

func (e *CalibrationError) Unwrap() error { return e.Err }

// SerializationError reports a profile artifact that could not be decoded,
// or whose schema version does not match this build.
type SerializationError struct {
	Reason string
	Err    error
}

func (e *SerializationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("profile artifact error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("profile artifact error: %s", e.Reason)
}

func (e *SerializationError) Unwrap() error { return e.Err }
