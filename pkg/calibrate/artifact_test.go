package calibrate

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/machinehealth/cci/pkg"
	"github.com/machinehealth/cci/pkg/score"
)

func TestProfileRoundTrip(t *testing.T) {
	engine := NewEngine(testFeatureConfig(), nil, nil)
	baseline := healthyBaseline("pump-7", 120)
	profile, err := engine.Fit(baseline)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}

	path := filepath.Join(t.TempDir(), "pump.profile.json")
	if err := SaveProfile(profile, path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.ID != profile.ID {
		t.Errorf("ID changed across round trip: %s vs %s", profile.ID, loaded.ID)
	}
	if loaded.Thresholds != profile.Thresholds {
		t.Errorf("thresholds changed: %v vs %v", profile.Thresholds, loaded.Thresholds)
	}
	if loaded.SampleInterval != profile.SampleInterval {
		t.Errorf("sample interval changed: %v vs %v", profile.SampleInterval, loaded.SampleInterval)
	}
	if len(loaded.Baseline) != len(profile.Baseline) {
		t.Fatalf("baseline size changed: %d vs %d", len(profile.Baseline), len(loaded.Baseline))
	}

	// A reloaded profile must score identically to the original.
	vectors, _ := engine.extractBaseline(baseline)
	scorer := score.NewScorer()
	for _, fv := range vectors {
		orig, err := scorer.Score(fv, profile)
		if err != nil {
			t.Fatalf("score with original: %v", err)
		}
		reloaded, err := scorer.Score(fv, loaded)
		if err != nil {
			t.Fatalf("score with reloaded: %v", err)
		}
		if orig != reloaded {
			t.Fatalf("scores diverged after round trip: %g vs %g at %s", orig, reloaded, fv.Timestamp)
		}
	}
}

func TestLoadProfileErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("Missing", func(t *testing.T) {
		if _, err := LoadProfile(filepath.Join(dir, "absent.json")); err == nil {
			t.Error("missing file accepted")
		}
	})

	t.Run("Corrupt", func(t *testing.T) {
		path := filepath.Join(dir, "corrupt.json")
		if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
			t.Fatal(err)
		}
		_, err := LoadProfile(path)
		var serr *pkg.SerializationError
		if !errors.As(err, &serr) {
			t.Errorf("want SerializationError, got %v", err)
		}
	})

	t.Run("SchemaMismatch", func(t *testing.T) {
		engine := NewEngine(testFeatureConfig(), nil, nil)
		profile, err := engine.Fit(healthyBaseline("pump-7", 120))
		if err != nil {
			t.Fatalf("fit: %v", err)
		}
		path := filepath.Join(dir, "old.json")
		if err := SaveProfile(profile, path); err != nil {
			t.Fatalf("save: %v", err)
		}

		// Rewrite the artifact with a bumped schema version.
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		var raw map[string]interface{}
		if err := json.Unmarshal(data, &raw); err != nil {
			t.Fatal(err)
		}
		raw["schema_version"] = pkg.ProfileSchemaVersion + 1
		data, err = json.Marshal(raw)
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatal(err)
		}

		_, err = LoadProfile(path)
		var serr *pkg.SerializationError
		if !errors.As(err, &serr) {
			t.Errorf("want SerializationError for schema mismatch, got %v", err)
		}
	})
}

func TestSaveProfileRejectsInvalid(t *testing.T) {
	bad := &pkg.CalibrationProfile{
		ID:            "bad",
		SchemaVersion: pkg.ProfileSchemaVersion,
		CreatedAt:     time.Now().UTC(),
		Baseline:      map[string]pkg.BaselineStat{"x": {Mean: 0, Std: 1}},
		Thresholds:    [3]float64{0.9, 0.7, 0.5},
	}
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := SaveProfile(bad, path); err == nil {
		t.Error("profile with inverted thresholds saved")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("rejected profile left an artifact on disk")
	}
}
