package score

import (
	"errors"
	"testing"

	"github.com/machinehealth/cci/pkg"
)

// unitProfile normalizes every scored feature to mean 0, std 1 so tests can
// reason about the raw weighted sum directly.
func unitProfile() *pkg.CalibrationProfile {
	return &pkg.CalibrationProfile{
		ID:            "unit",
		SchemaVersion: pkg.ProfileSchemaVersion,
		Baseline: map[string]pkg.BaselineStat{
			pkg.FeatVibrationStress:   {Mean: 0, Std: 1},
			pkg.FeatTemperatureStress: {Mean: 0, Std: 1},
			pkg.FeatStrainStress:      {Mean: 0, Std: 1},
			pkg.FeatBandPower:         {Mean: 0, Std: 1},
		},
		Weights:    DefaultWeights(),
		Thresholds: [3]float64{0.60, 0.75, 0.90},
	}
}

func vectorWithStress(vib, temp, strain, band float64) *pkg.FeatureVector {
	fv := &pkg.FeatureVector{ComponentID: "pump-7"}
	fv.Vibration.Stress = vib
	fv.Temperature.Stress = temp
	fv.Strain.Stress = strain
	fv.Spectral.BandPower = band
	return fv
}

func TestScoreBounds(t *testing.T) {
	scorer := NewScorer()
	profile := unitProfile()

	cases := map[string]*pkg.FeatureVector{
		"Neutral":        vectorWithStress(0, 0, 0, 0),
		"HighStress":     vectorWithStress(50, 50, 50, 50),
		"ExtremeStress":  vectorWithStress(1e6, 1e6, 1e6, 1e6),
		"NegativeStress": vectorWithStress(-1e6, -1e6, -1e6, -1e6),
	}
	for name, fv := range cases {
		t.Run(name, func(t *testing.T) {
			cci, err := scorer.Score(fv, profile)
			if err != nil {
				t.Fatalf("score: %v", err)
			}
			if cci < 0 || cci > 1 {
				t.Errorf("cci = %g outside [0,1]", cci)
			}
		})
	}

	// Zero stress everywhere sits at the logistic midpoint.
	cci, err := scorer.Score(vectorWithStress(0, 0, 0, 0), profile)
	if err != nil {
		t.Fatal(err)
	}
	if cci != 0.5 {
		t.Errorf("neutral cci = %g, want 0.5", cci)
	}

	// Monotone: more stress never lowers the score.
	low, _ := scorer.Score(vectorWithStress(1, 1, 1, 1), profile)
	high, _ := scorer.Score(vectorWithStress(3, 3, 3, 3), profile)
	if high <= low {
		t.Errorf("score not monotone in stress: %g <= %g", high, low)
	}
}

func TestScoreDeterminism(t *testing.T) {
	scorer := NewScorer()
	profile := unitProfile()
	fv := vectorWithStress(0.8, -0.2, 1.1, 0.4)

	first, err := scorer.Score(fv, profile)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		again, err := scorer.Score(fv, profile)
		if err != nil {
			t.Fatal(err)
		}
		if again != first {
			t.Fatalf("score changed between identical calls: %g vs %g", first, again)
		}
	}
}

func TestScoreErrors(t *testing.T) {
	scorer := NewScorer()

	t.Run("NilProfile", func(t *testing.T) {
		_, err := scorer.Score(vectorWithStress(0, 0, 0, 0), nil)
		if !errors.Is(err, pkg.ErrNotCalibrated) {
			t.Errorf("want ErrNotCalibrated, got %v", err)
		}
	})

	t.Run("NilVector", func(t *testing.T) {
		if _, err := scorer.Score(nil, unitProfile()); err == nil {
			t.Error("nil vector accepted")
		}
	})

	t.Run("MissingBaselineFeature", func(t *testing.T) {
		profile := unitProfile()
		delete(profile.Baseline, pkg.FeatBandPower)
		_, err := scorer.Score(vectorWithStress(0, 0, 0, 0), profile)
		if !errors.Is(err, pkg.ErrNotCalibrated) {
			t.Errorf("want ErrNotCalibrated for missing feature, got %v", err)
		}
	})
}

func TestClassifyBoundaries(t *testing.T) {
	profile := unitProfile() // thresholds 0.60 / 0.75 / 0.90

	cases := []struct {
		cci  float64
		want pkg.Zone
	}{
		{0.0, pkg.ZoneGreen},
		{0.5999, pkg.ZoneGreen},
		{0.60, pkg.ZoneYellow}, // exact threshold lands in the higher zone
		{0.74, pkg.ZoneYellow},
		{0.75, pkg.ZoneOrange},
		{0.89, pkg.ZoneOrange},
		{0.90, pkg.ZoneRed},
		{1.0, pkg.ZoneRed},
	}
	for _, tc := range cases {
		zone, err := Classify(tc.cci, profile)
		if err != nil {
			t.Fatalf("classify %g: %v", tc.cci, err)
		}
		if zone != tc.want {
			t.Errorf("classify %g = %v, want %v", tc.cci, zone, tc.want)
		}
	}
}

func TestClassifyStateless(t *testing.T) {
	profile := unitProfile()

	// A later, lower CCI must revert to the lower zone; no hysteresis.
	if zone, _ := Classify(0.95, profile); zone != pkg.ZoneRed {
		t.Fatalf("setup: 0.95 = %v", zone)
	}
	if zone, _ := Classify(0.10, profile); zone != pkg.ZoneGreen {
		t.Errorf("classification held state: 0.10 = %v, want green", zone)
	}
}

func TestClassifyNilProfile(t *testing.T) {
	if _, err := Classify(0.5, nil); !errors.Is(err, pkg.ErrNotCalibrated) {
		t.Errorf("want ErrNotCalibrated, got %v", err)
	}
}
