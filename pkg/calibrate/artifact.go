package calibrate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/machinehealth/cci/pkg"
)

// SaveProfile serializes a profile to a versioned JSON artifact at path.
// The write goes through a temp file and rename so a crash never leaves a
// half-written artifact behind.
func SaveProfile(profile *pkg.CalibrationProfile, path string) error {
	if err := profile.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return &pkg.SerializationError{Reason: "profile encoding failed", Err: err}
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".profile-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write profile artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close profile artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move profile artifact into place: %w", err)
	}
	return nil
}

// LoadProfile reads a profile artifact from path. Corruption or a schema
// version this build does not understand fails with SerializationError
// rather than silently producing wrong scores.
func LoadProfile(path string) (*pkg.CalibrationProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile artifact: %w", err)
	}

	var profile pkg.CalibrationProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, &pkg.SerializationError{Reason: "profile artifact corrupt", Err: err}
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return &profile, nil
}
