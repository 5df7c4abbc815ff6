package pipeline

import (
	"errors"

	"github.com/machinehealth/cci/pkg"
	"github.com/machinehealth/cci/pkg/calibrate"
	"github.com/machinehealth/cci/pkg/feature"
	"github.com/machinehealth/cci/pkg/logx"
	"github.com/machinehealth/cci/pkg/score"
	"github.com/machinehealth/cci/pkg/trend"
)

// Config aggregates the per-stage configurations.
type Config struct {
	Feature     *feature.Config   `json:"feature"`
	Calibration *calibrate.Config `json:"calibration"`
	Trend       *trend.Config     `json:"trend"`
}

// DefaultConfig returns a pipeline configuration with every stage at its
// defaults and the trend projector's sampling interval synchronized to the
// feature extractor's.
func DefaultConfig() *Config {
	cfg := &Config{
		Feature:     feature.DefaultConfig(),
		Calibration: calibrate.DefaultConfig(),
		Trend:       trend.DefaultConfig(),
	}
	cfg.Trend.SampleInterval = cfg.Feature.SampleInterval
	return cfg
}

// Pipeline composes the feature extractor, calibration engine, scorer,
// zone classifier and trend projector behind the fit/score/save/load
// lifecycle. It holds no process-wide mutable state: every call takes its
// profile explicitly, so multiple profiles (one per asset class) can be
// held and used concurrently without interference.
type Pipeline struct {
	config    *Config
	logger    *logx.Logger
	engine    *calibrate.Engine
	scorer    *score.Scorer
	projector *trend.Projector
}

// New creates a pipeline. A nil config uses defaults.
func New(config *Config, logger *logx.Logger) *Pipeline {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Feature == nil {
		config.Feature = feature.DefaultConfig()
	}
	if config.Trend == nil {
		config.Trend = trend.DefaultConfig()
		config.Trend.SampleInterval = config.Feature.SampleInterval
	}
	return &Pipeline{
		config:    config,
		logger:    logger,
		engine:    calibrate.NewEngine(config.Feature, config.Calibration, logger),
		scorer:    score.NewScorer(),
		projector: trend.NewProjector(config.Trend),
	}
}

// Fit learns a calibration profile from a healthy baseline window using
// default scorer weights.
func (p *Pipeline) Fit(baseline []pkg.SensorReading) (*pkg.CalibrationProfile, error) {
	return p.engine.Fit(baseline)
}

// FitWithWeights learns a profile with caller-supplied scoring weights.
func (p *Pipeline) FitWithWeights(baseline []pkg.SensorReading, weights pkg.ScoreWeights) (*pkg.CalibrationProfile, error) {
	return p.engine.FitWithWeights(baseline, weights)
}

// Score lazily scores a reading batch against a profile. The returned
// sequence yields one ScoredReading per complete timestamp, in input
// order, and can be restarted with Reset. Fails immediately with
// ErrNotCalibrated when no valid profile is supplied.
func (p *Pipeline) Score(readings []pkg.SensorReading, profile *pkg.CalibrationProfile) (*Sequence, error) {
	if profile == nil {
		return nil, pkg.ErrNotCalibrated
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	s := &Sequence{
		pipeline: p,
		profile:  profile,
		groups:   feature.GroupReadings(readings),
	}
	s.Reset()
	return s, nil
}

// Project extrapolates time-to-critical from recent CCI history.
func (p *Pipeline) Project(history []float64, profile *pkg.CalibrationProfile) (*pkg.TrendProjection, error) {
	return p.projector.Project(history, profile)
}

// SaveProfile writes a profile artifact to path.
func (p *Pipeline) SaveProfile(profile *pkg.CalibrationProfile, path string) error {
	return calibrate.SaveProfile(profile, path)
}

// LoadProfile reads a profile artifact from path.
func (p *Pipeline) LoadProfile(path string) (*pkg.CalibrationProfile, error) {
	return calibrate.LoadProfile(path)
}

// Sequence is a lazy, restartable pass over one scored batch. It is not
// safe for concurrent use; the profile it reads is.
type Sequence struct {
	pipeline *Pipeline
	profile  *pkg.CalibrationProfile
	groups   []feature.Group

	pos        int
	extractors map[string]*feature.Extractor
	history    map[string][]float64
	diag       pkg.Diagnostics
}

// Reset rewinds the sequence to the start of the batch, discarding all
// window state and diagnostics.
func (s *Sequence) Reset() {
	s.pos = 0
	s.extractors = make(map[string]*feature.Extractor)
	s.history = make(map[string][]float64)
	s.diag = pkg.Diagnostics{}
}

// Next returns the next scored timestamp, or ok=false when the batch is
// exhausted. Invalid readings and incomplete timestamps are skipped and
// counted; they never surface as zeroed scores.
func (s *Sequence) Next() (*pkg.ScoredReading, bool) {
	for s.pos < len(s.groups) {
		g := s.groups[s.pos]
		s.pos++

		ex := s.extractors[g.ComponentID]
		if ex == nil {
			ex = feature.NewExtractor(g.ComponentID, s.pipeline.config.Feature)
			s.extractors[g.ComponentID] = ex
		}

		for _, r := range g.Readings {
			s.diag.ReadingsSeen++
			if err := ex.Push(r); err != nil {
				s.diag.InvalidReadings++
				if s.pipeline.logger != nil {
					s.pipeline.logger.Debug("Reading rejected",
						"component", g.ComponentID, "error", err)
				}
			}
		}

		fv, err := ex.Extract(g.Timestamp)
		if err != nil {
			if errors.Is(err, pkg.ErrInsufficientHistory) {
				s.diag.TimestampsSkipped++
				continue
			}
			s.diag.TimestampsSkipped++
			if s.pipeline.logger != nil {
				s.pipeline.logger.Warn("Feature extraction failed",
					"component", g.ComponentID, "error", err)
			}
			continue
		}

		sr, err := s.pipeline.scoreVector(fv, s.profile, s.history)
		if err != nil {
			s.diag.TimestampsSkipped++
			if s.pipeline.logger != nil {
				s.pipeline.logger.Warn("Scoring failed",
					"component", g.ComponentID, "error", err)
			}
			continue
		}
		s.diag.TimestampsScored++
		return sr, true
	}
	return nil, false
}

// Diagnostics returns the counts accumulated so far in this pass.
func (s *Sequence) Diagnostics() pkg.Diagnostics { return s.diag }

// Collect drains the sequence into a slice, returning the full batch and
// its diagnostics summary.
func (s *Sequence) Collect() ([]pkg.ScoredReading, pkg.Diagnostics) {
	var out []pkg.ScoredReading
	for {
		sr, ok := s.Next()
		if !ok {
			break
		}
		out = append(out, *sr)
	}
	return out, s.diag
}

// scoreVector runs scorer, classifier and projector for one complete
// timestamp, appending to the per-component CCI history used by the
// projection.
func (p *Pipeline) scoreVector(fv *pkg.FeatureVector, profile *pkg.CalibrationProfile, history map[string][]float64) (*pkg.ScoredReading, error) {
	cci, err := p.scorer.Score(fv, profile)
	if err != nil {
		return nil, err
	}
	zone, err := score.Classify(cci, profile)
	if err != nil {
		return nil, err
	}

	hist := append(history[fv.ComponentID], cci)
	if max := p.config.Trend.WindowPoints; len(hist) > max {
		hist = hist[len(hist)-max:]
	}
	history[fv.ComponentID] = hist

	proj, err := p.projector.Project(hist, profile)
	if err != nil {
		return nil, err
	}

	return &pkg.ScoredReading{
		ComponentID:     fv.ComponentID,
		Timestamp:       fv.Timestamp,
		CCI:             cci,
		Zone:            zone,
		HoursToCritical: proj.HoursToCritical,
	}, nil
}
