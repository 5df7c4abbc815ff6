package trend

import (
	"fmt"
	"time"

	"github.com/sajari/regression"

	"github.com/machinehealth/cci/pkg"
)

// Config holds trend projection parameters. SampleInterval is the
// caller-declared spacing of the CCI history and converts fitted steps to
// wall-clock hours.
type Config struct {
	WindowPoints   int           `json:"window_points"` // points of recent history fitted
	MinPoints      int           `json:"min_points"`    // below this, no projection is made
	SampleInterval time.Duration `json:"sample_interval"`
}

// DefaultConfig returns projection defaults: a 288-point window, one day
// at 5-minute sampling.
func DefaultConfig() *Config {
	return &Config{
		WindowPoints:   288,
		MinPoints:      12,
		SampleInterval: 5 * time.Minute,
	}
}

// Projector fits a local linear model to recent CCI history and
// extrapolates the crossing of the critical threshold.
type Projector struct {
	config *Config
}

// NewProjector creates a projector. A nil config uses defaults.
func NewProjector(config *Config) *Projector {
	if config == nil {
		config = DefaultConfig()
	}
	return &Projector{config: config}
}

// Project fits ordinary least squares over the most recent window of CCI
// points. A non-positive slope or too little history yields a projection
// with HoursToCritical nil: "not currently degrading" is a valid, expected
// outcome, not an error, because callers poll this as data streams in.
func (p *Projector) Project(history []float64, profile *pkg.CalibrationProfile) (*pkg.TrendProjection, error) {
	if profile == nil {
		return nil, pkg.ErrNotCalibrated
	}

	if len(history) > p.config.WindowPoints {
		history = history[len(history)-p.config.WindowPoints:]
	}
	if len(history) < p.config.MinPoints {
		return &pkg.TrendProjection{}, nil
	}

	r := new(regression.Regression)
	r.SetObserved("cci")
	r.SetVar(0, "step")
	for i, cci := range history {
		r.Train(regression.DataPoint(cci, []float64{float64(i)}))
	}
	if err := r.Run(); err != nil {
		return nil, fmt.Errorf("trend regression failed: %w", err)
	}

	proj := &pkg.TrendProjection{
		Intercept:  r.Coeff(0),
		Slope:      r.Coeff(1),
		FitQuality: r.R2,
	}
	if proj.Slope <= 0 {
		return proj, nil
	}

	// Solve for the step offset where the fitted line crosses the red
	// threshold, measured from the newest point.
	lastStep := float64(len(history) - 1)
	fitted := proj.Intercept + proj.Slope*lastStep
	steps := (profile.RedThreshold() - fitted) / proj.Slope
	if steps < 0 {
		steps = 0 // already at or beyond critical
	}
	hours := steps * p.config.SampleInterval.Hours()
	proj.HoursToCritical = &hours
	return proj, nil
}
