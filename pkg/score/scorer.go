package score

import (
	"fmt"
	"math"

	"github.com/machinehealth/cci/pkg"
)

// DefaultWeights returns the documented scorer configuration. Weights are
// overridable at fit time; they are baked into the profile thereafter so a
// profile always scores the way it was calibrated.
func DefaultWeights() pkg.ScoreWeights {
	return pkg.ScoreWeights{
		Vibration:   0.50,
		Temperature: 0.30,
		Strain:      0.20,
		Bandpower:   0.60,
	}
}

// Scorer combines calibrated features into the Component Condition Index.
// It is a pure function of (feature vector, profile): no randomness, no
// internal state, safe for concurrent use.
type Scorer struct{}

// NewScorer creates a scorer. The weights live in the profile, not here.
func NewScorer() *Scorer { return &Scorer{} }

// Score computes the CCI for one feature vector against a calibration
// profile. Each stress term is z-scored against the profile baseline, the
// weighted sum is squashed through a logistic and the result clamped to
// [0,1]. Fails with ErrNotCalibrated when no profile is supplied.
func (s *Scorer) Score(fv *pkg.FeatureVector, profile *pkg.CalibrationProfile) (float64, error) {
	if profile == nil {
		return 0, pkg.ErrNotCalibrated
	}
	if fv == nil {
		return 0, fmt.Errorf("%w: nil feature vector", pkg.ErrInvalidReading)
	}

	zVib, err := zScore(profile, pkg.FeatVibrationStress, fv.Vibration.Stress)
	if err != nil {
		return 0, err
	}
	zTemp, err := zScore(profile, pkg.FeatTemperatureStress, fv.Temperature.Stress)
	if err != nil {
		return 0, err
	}
	zStrain, err := zScore(profile, pkg.FeatStrainStress, fv.Strain.Stress)
	if err != nil {
		return 0, err
	}
	zBand, err := zScore(profile, pkg.FeatBandPower, fv.Spectral.BandPower)
	if err != nil {
		return 0, err
	}

	w := profile.Weights
	raw := w.Vibration*zVib + w.Temperature*zTemp + w.Strain*zStrain + w.Bandpower*zBand
	return clamp01(logistic(raw)), nil
}

func zScore(profile *pkg.CalibrationProfile, feature string, value float64) (float64, error) {
	base, ok := profile.Baseline[feature]
	if !ok {
		return 0, fmt.Errorf("%w: profile has no baseline for %s", pkg.ErrNotCalibrated, feature)
	}
	return (value - base.Mean) / base.Std, nil
}

func logistic(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
