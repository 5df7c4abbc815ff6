package calibrate

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/machinehealth/cci/pkg"
	"github.com/machinehealth/cci/pkg/feature"
	"github.com/machinehealth/cci/pkg/logx"
	"github.com/machinehealth/cci/pkg/score"
)

// Config holds calibration parameters.
type Config struct {
	Epsilon    float64    `json:"epsilon"`     // std floor for near-constant sensors
	MinVectors int        `json:"min_vectors"` // complete baseline vectors required
	Quantiles  [3]float64 `json:"quantiles"`   // zone threshold percentiles
}

// DefaultConfig returns the documented calibration defaults: thresholds at
// the 80th, 95th and 99th percentiles of the baseline CCI distribution.
func DefaultConfig() *Config {
	return &Config{
		Epsilon:    1e-9,
		MinVectors: 20,
		Quantiles:  [3]float64{0.80, 0.95, 0.99},
	}
}

// Engine learns a calibration profile from a historical healthy window.
// Thresholds are data-driven per asset class rather than hand-tuned, so
// the same pipeline generalizes across component types with different
// normal operating ranges.
type Engine struct {
	config     *Config
	featureCfg *feature.Config
	logger     *logx.Logger
}

// NewEngine creates a calibration engine. Nil configs use defaults.
func NewEngine(featureCfg *feature.Config, config *Config, logger *logx.Logger) *Engine {
	if featureCfg == nil {
		featureCfg = feature.DefaultConfig()
	}
	if config == nil {
		config = DefaultConfig()
	}
	return &Engine{config: config, featureCfg: featureCfg, logger: logger}
}

// Fit learns a profile from the baseline window using the default scorer
// weights.
func (e *Engine) Fit(baseline []pkg.SensorReading) (*pkg.CalibrationProfile, error) {
	return e.FitWithWeights(baseline, score.DefaultWeights())
}

// FitWithWeights learns a profile with caller-supplied scoring weights.
// Fails with CalibrationError when the baseline window is shorter than the
// extractor minimum or its score distribution is degenerate. A new fit
// always produces a new profile; existing profiles are never mutated.
func (e *Engine) FitWithWeights(baseline []pkg.SensorReading, weights pkg.ScoreWeights) (*pkg.CalibrationProfile, error) {
	if err := e.featureCfg.Validate(); err != nil {
		return nil, &pkg.CalibrationError{Reason: "invalid feature configuration", Err: err}
	}

	vectors, invalid := e.extractBaseline(baseline)
	if len(vectors) < e.config.MinVectors {
		return nil, &pkg.CalibrationError{
			Reason: fmt.Sprintf("baseline yielded %d complete vectors, need %d", len(vectors), e.config.MinVectors),
			Err:    pkg.ErrInsufficientHistory,
		}
	}

	stats := e.baselineStats(vectors)

	// Score the same baseline with the fitted normalization to learn the
	// threshold cut points from its CCI distribution.
	interim := &pkg.CalibrationProfile{
		SchemaVersion: pkg.ProfileSchemaVersion,
		Baseline:      stats,
		Weights:       weights,
	}
	scorer := score.NewScorer()
	ccis := make([]float64, 0, len(vectors))
	for _, fv := range vectors {
		cci, err := scorer.Score(fv, interim)
		if err != nil {
			return nil, &pkg.CalibrationError{Reason: "baseline scoring failed", Err: err}
		}
		ccis = append(ccis, cci)
	}
	sort.Float64s(ccis)

	var thresholds [3]float64
	for i, q := range e.config.Quantiles {
		thresholds[i] = stat.Quantile(q, stat.Empirical, ccis, nil)
	}
	if !(thresholds[0] < thresholds[1] && thresholds[1] < thresholds[2]) {
		return nil, &pkg.CalibrationError{
			Reason: fmt.Sprintf("degenerate baseline score distribution, thresholds %v", thresholds),
		}
	}

	profile := &pkg.CalibrationProfile{
		ID:              uuid.NewString(),
		SchemaVersion:   pkg.ProfileSchemaVersion,
		CreatedAt:       time.Now().UTC(),
		SampleInterval:  e.featureCfg.SampleInterval,
		Baseline:        stats,
		Weights:         weights,
		Thresholds:      thresholds,
		BaselineSamples: len(vectors),
	}

	if e.logger != nil {
		e.logger.Info("Calibration profile fitted",
			"profile_id", profile.ID,
			"baseline_vectors", len(vectors),
			"invalid_readings", invalid,
			"threshold_yellow", thresholds[0],
			"threshold_orange", thresholds[1],
			"threshold_red", thresholds[2])
	}
	return profile, nil
}

// extractBaseline runs the feature extractor over the baseline window and
// returns every complete vector. Invalid readings and incomplete
// timestamps are dropped, matching scoring semantics.
func (e *Engine) extractBaseline(baseline []pkg.SensorReading) (vectors []*pkg.FeatureVector, invalid int) {
	extractors := make(map[string]*feature.Extractor)
	for _, g := range feature.GroupReadings(baseline) {
		ex := extractors[g.ComponentID]
		if ex == nil {
			ex = feature.NewExtractor(g.ComponentID, e.featureCfg)
			extractors[g.ComponentID] = ex
		}
		for _, r := range g.Readings {
			if err := ex.Push(r); err != nil {
				invalid++
				if e.logger != nil {
					e.logger.Debug("Baseline reading rejected", "component", g.ComponentID, "error", err)
				}
			}
		}
		fv, err := ex.Extract(g.Timestamp)
		if err != nil {
			if !errors.Is(err, pkg.ErrInsufficientHistory) && e.logger != nil {
				e.logger.Warn("Baseline extraction failed", "component", g.ComponentID, "error", err)
			}
			continue
		}
		vectors = append(vectors, fv)
	}
	return vectors, invalid
}

// baselineStats computes the per-feature mean and standard deviation that
// scoring will z-score against. Near-zero variance is floored at epsilon
// instead of failing outright, to tolerate near-constant sensors.
func (e *Engine) baselineStats(vectors []*pkg.FeatureVector) map[string]pkg.BaselineStat {
	series := make(map[string][]float64)
	for _, fv := range vectors {
		for name, v := range fv.Features() {
			series[name] = append(series[name], v)
		}
	}

	stats := make(map[string]pkg.BaselineStat, len(series))
	for name, values := range series {
		mean, std := stat.MeanStdDev(values, nil)
		if !(std > e.config.Epsilon) {
			std = e.config.Epsilon
		}
		stats[name] = pkg.BaselineStat{Mean: mean, Std: std}
	}
	return stats
}
