package trend

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/machinehealth/cci/pkg"
)

func testProfile() *pkg.CalibrationProfile {
	return &pkg.CalibrationProfile{
		ID:            "test",
		SchemaVersion: pkg.ProfileSchemaVersion,
		Baseline:      map[string]pkg.BaselineStat{"x": {Mean: 0, Std: 1}},
		Thresholds:    [3]float64{0.60, 0.75, 0.90},
	}
}

func TestProjectRisingTrend(t *testing.T) {
	p := NewProjector(&Config{WindowPoints: 288, MinPoints: 12, SampleInterval: 5 * time.Minute})
	profile := testProfile()

	// Exact line: cci = 0.10 + 0.002*i over 100 points. The fit recovers
	// it perfectly, so the crossing of the 0.90 threshold is analytic.
	history := make([]float64, 100)
	for i := range history {
		history[i] = 0.10 + 0.002*float64(i)
	}

	proj, err := p.Project(history, profile)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if math.Abs(proj.Slope-0.002) > 1e-9 {
		t.Errorf("slope = %g, want 0.002", proj.Slope)
	}
	if proj.FitQuality < 0.999 {
		t.Errorf("fit quality = %g, want ~1 for a perfect line", proj.FitQuality)
	}
	if proj.HoursToCritical == nil {
		t.Fatal("rising trend produced no time-to-critical")
	}

	// Last fitted value 0.298; (0.90-0.298)/0.002 = 301 steps of 5 minutes.
	wantHours := 301.0 * 5.0 / 60.0
	if math.Abs(*proj.HoursToCritical-wantHours) > 1e-6 {
		t.Errorf("hours to critical = %g, want %g", *proj.HoursToCritical, wantHours)
	}
}

func TestProjectNonPositiveSlope(t *testing.T) {
	p := NewProjector(nil)
	profile := testProfile()

	t.Run("Flat", func(t *testing.T) {
		history := make([]float64, 50)
		for i := range history {
			history[i] = 0.3
		}
		proj, err := p.Project(history, profile)
		if err != nil {
			t.Fatalf("project: %v", err)
		}
		if proj.HoursToCritical != nil {
			t.Errorf("flat history projected %g hours, want nil", *proj.HoursToCritical)
		}
	})

	t.Run("Declining", func(t *testing.T) {
		history := make([]float64, 50)
		for i := range history {
			history[i] = 0.8 - 0.005*float64(i)
		}
		proj, err := p.Project(history, profile)
		if err != nil {
			t.Fatalf("project: %v", err)
		}
		if proj.Slope >= 0 {
			t.Errorf("slope = %g, want negative", proj.Slope)
		}
		if proj.HoursToCritical != nil {
			t.Errorf("declining history projected %g hours, want nil", *proj.HoursToCritical)
		}
	})
}

func TestProjectInsufficientHistory(t *testing.T) {
	p := NewProjector(&Config{WindowPoints: 288, MinPoints: 12, SampleInterval: 5 * time.Minute})
	proj, err := p.Project([]float64{0.1, 0.2, 0.3}, testProfile())
	if err != nil {
		t.Fatalf("short history must not error, got %v", err)
	}
	if proj.HoursToCritical != nil {
		t.Error("short history produced a projection")
	}
	if proj.Slope != 0 || proj.FitQuality != 0 {
		t.Errorf("short history should yield an empty projection, got %+v", proj)
	}
}

func TestProjectAlreadyCritical(t *testing.T) {
	p := NewProjector(nil)
	profile := testProfile()

	// Rising and already past the red threshold: zero hours, not negative.
	history := make([]float64, 50)
	for i := range history {
		history[i] = 0.90 + 0.001*float64(i)
	}
	proj, err := p.Project(history, profile)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if proj.HoursToCritical == nil {
		t.Fatal("critical rising trend produced no projection")
	}
	if *proj.HoursToCritical != 0 {
		t.Errorf("hours to critical = %g, want 0 at/beyond threshold", *proj.HoursToCritical)
	}
}

func TestProjectWindowing(t *testing.T) {
	p := NewProjector(&Config{WindowPoints: 20, MinPoints: 5, SampleInterval: 5 * time.Minute})
	profile := testProfile()

	// Long declining prefix followed by a short steep rise. Only the
	// window is fitted, so the recent rise must dominate.
	history := make([]float64, 0, 220)
	for i := 0; i < 200; i++ {
		history = append(history, 0.8-0.003*float64(i))
	}
	for i := 0; i < 20; i++ {
		history = append(history, 0.2+0.01*float64(i))
	}

	proj, err := p.Project(history, profile)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if proj.Slope <= 0 {
		t.Errorf("slope = %g, want positive from the recent window", proj.Slope)
	}
	if proj.HoursToCritical == nil {
		t.Error("recent rise produced no projection")
	}
}

func TestProjectNilProfile(t *testing.T) {
	p := NewProjector(nil)
	if _, err := p.Project([]float64{0.1, 0.2}, nil); !errors.Is(err, pkg.ErrNotCalibrated) {
		t.Errorf("want ErrNotCalibrated, got %v", err)
	}
}
