package pkg

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Sensor identifies a physical sensor channel on a monitored component.
type Sensor string

const (
	SensorVibration   Sensor = "vibration"
	SensorTemperature Sensor = "temperature"
	SensorStrain      Sensor = "strain"
)

// Sensors lists every channel the pipeline expects on a component stream.
var Sensors = []Sensor{SensorVibration, SensorTemperature, SensorStrain}

// Valid reports whether the sensor name is a known channel.
func (s Sensor) Valid() bool {
	switch s {
	case SensorVibration, SensorTemperature, SensorStrain:
		return true
	}
	return false
}

// SensorReading is a single raw measurement from one sensor channel.
// Readings are ordered strictly by timestamp per (component, sensor).
type SensorReading struct {
	ComponentID string    `json:"component_id"`
	Timestamp   time.Time `json:"timestamp"`
	Sensor      Sensor    `json:"sensor"`
	Value       float64   `json:"value"`
}

// Validate checks a reading at construction time. Non-finite values and
// unknown channels are rejected with ErrInvalidReading.
func (r *SensorReading) Validate() error {
	if r.ComponentID == "" {
		return fmt.Errorf("%w: empty component id", ErrInvalidReading)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrInvalidReading)
	}
	if !r.Sensor.Valid() {
		return fmt.Errorf("%w: unknown sensor %q", ErrInvalidReading, r.Sensor)
	}
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return fmt.Errorf("%w: non-finite value for %s", ErrInvalidReading, r.Sensor)
	}
	return nil
}

// ChannelFeatures holds the time-domain features derived for one sensor
// channel at one timestamp.
type ChannelFeatures struct {
	Value      float64 `json:"value"`
	ShortEWMA  float64 `json:"short_ewma"`
	LongEWMA   float64 `json:"long_ewma"`
	Stress     float64 `json:"stress"`     // short EWMA minus long EWMA
	Volatility float64 `json:"volatility"` // rolling standard deviation
	Slope      float64 `json:"slope"`      // local rate of change per sample
}

// SpectralFeatures holds the frequency-domain features derived from the
// vibration channel.
type SpectralFeatures struct {
	TotalPower  float64 `json:"total_power"`
	BandPower   float64 `json:"band_power"` // power in the configured mid/high band
	BandRatio   float64 `json:"band_ratio"` // band power relative to total
	PeakFreqHz  float64 `json:"peak_freq_hz"`
}

// FeatureVector is the rolling feature set for one component at one
// timestamp. It is only produced once every channel has enough history;
// incomplete timestamps are skipped by callers, never zero-filled.
type FeatureVector struct {
	ComponentID string           `json:"component_id"`
	Timestamp   time.Time        `json:"timestamp"`
	Vibration   ChannelFeatures  `json:"vibration"`
	Temperature ChannelFeatures  `json:"temperature"`
	Strain      ChannelFeatures  `json:"strain"`
	Spectral    SpectralFeatures `json:"spectral"`
}

// Feature names used as keys into a CalibrationProfile baseline.
const (
	FeatVibrationStress   = "vibration.stress"
	FeatTemperatureStress = "temperature.stress"
	FeatStrainStress      = "strain.stress"
	FeatBandPower         = "spectral.band_power"
)

// Features flattens the vector into named scalar features. The map keys
// form the schema the calibration baseline is computed over.
func (fv *FeatureVector) Features() map[string]float64 {
	out := make(map[string]float64, 22)
	flat := func(prefix string, cf ChannelFeatures) {
		out[prefix+".value"] = cf.Value
		out[prefix+".short_ewma"] = cf.ShortEWMA
		out[prefix+".long_ewma"] = cf.LongEWMA
		out[prefix+".stress"] = cf.Stress
		out[prefix+".volatility"] = cf.Volatility
		out[prefix+".slope"] = cf.Slope
	}
	flat("vibration", fv.Vibration)
	flat("temperature", fv.Temperature)
	flat("strain", fv.Strain)
	out["spectral.total_power"] = fv.Spectral.TotalPower
	out[FeatBandPower] = fv.Spectral.BandPower
	out["spectral.band_ratio"] = fv.Spectral.BandRatio
	out["spectral.peak_freq_hz"] = fv.Spectral.PeakFreqHz
	return out
}

// Zone is the ordered risk classification derived from the CCI.
type Zone int

const (
	ZoneGreen Zone = iota
	ZoneYellow
	ZoneOrange
	ZoneRed
)

var zoneNames = [...]string{"green", "yellow", "orange", "red"}

func (z Zone) String() string {
	if z < ZoneGreen || z > ZoneRed {
		return fmt.Sprintf("zone(%d)", int(z))
	}
	return zoneNames[z]
}

// MarshalJSON encodes the zone by name for external consumers.
func (z Zone) MarshalJSON() ([]byte, error) {
	return json.Marshal(z.String())
}

// UnmarshalJSON decodes a zone from its name.
func (z *Zone) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for i, name := range zoneNames {
		if name == s {
			*z = Zone(i)
			return nil
		}
	}
	return fmt.Errorf("unknown zone %q", s)
}

// ScoredReading is one scored timestamp for one component. It is produced
// per call and never persisted by the core pipeline itself.
type ScoredReading struct {
	ComponentID     string    `json:"component_id"`
	Timestamp       time.Time `json:"timestamp"`
	CCI             float64   `json:"cci"`
	Zone            Zone      `json:"zone"`
	HoursToCritical *float64  `json:"time_left_hours,omitempty"`
}

// TrendProjection is the result of fitting a local linear model to recent
// CCI history. HoursToCritical is nil when the component is not currently
// degrading or too little history is available.
type TrendProjection struct {
	Slope           float64  `json:"slope"`
	Intercept       float64  `json:"intercept"`
	FitQuality      float64  `json:"fit_quality"` // R-squared of the OLS fit
	HoursToCritical *float64 `json:"hours_to_critical,omitempty"`
}

// Diagnostics summarizes per-timestamp problems recovered during a scoring
// pass. It is returned alongside results, never in place of them.
type Diagnostics struct {
	ReadingsSeen      int `json:"readings_seen"`
	InvalidReadings   int `json:"invalid_readings"`
	TimestampsScored  int `json:"timestamps_scored"`
	TimestampsSkipped int `json:"timestamps_skipped"`
}

// ScoreWeights is the scorer configuration: fixed per-channel weights on
// the z-scored stress terms plus the spectral bandpower boost.
type ScoreWeights struct {
	Vibration   float64 `json:"vibration"`
	Temperature float64 `json:"temperature"`
	Strain      float64 `json:"strain"`
	Bandpower   float64 `json:"bandpower"`
}

// BaselineStat is the per-feature normalization basis learned at fit time.
type BaselineStat struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// ProfileSchemaVersion tags serialized calibration profiles. Loading a
// profile with a different version fails rather than silently mis-scoring.
const ProfileSchemaVersion = 1

// CalibrationProfile holds everything scoring needs: the per-feature
// baseline statistics, the scoring weights and the learned zone thresholds.
// A profile is created once by fit and immutable thereafter; it may be
// shared read-only across any number of concurrent scoring calls.
type CalibrationProfile struct {
	ID              string                  `json:"id"`
	SchemaVersion   int                     `json:"schema_version"`
	CreatedAt       time.Time               `json:"created_at"`
	SampleInterval  time.Duration           `json:"sample_interval_ns"`
	Baseline        map[string]BaselineStat `json:"baseline"`
	Weights         ScoreWeights            `json:"weights"`
	Thresholds      [3]float64              `json:"thresholds"` // yellow, orange, red cut points
	BaselineSamples int                     `json:"baseline_samples"`
}

// Validate checks the structural invariants of a profile: schema version,
// strictly increasing thresholds and a non-empty baseline.
func (p *CalibrationProfile) Validate() error {
	if p == nil {
		return ErrNotCalibrated
	}
	if p.SchemaVersion != ProfileSchemaVersion {
		return &SerializationError{
			Reason: fmt.Sprintf("profile schema version %d, want %d", p.SchemaVersion, ProfileSchemaVersion),
		}
	}
	if len(p.Baseline) == 0 {
		return &SerializationError{Reason: "profile has no baseline statistics"}
	}
	if !(p.Thresholds[0] < p.Thresholds[1] && p.Thresholds[1] < p.Thresholds[2]) {
		return &SerializationError{
			Reason: fmt.Sprintf("zone thresholds not strictly increasing: %v", p.Thresholds),
		}
	}
	return nil
}

// RedThreshold returns the critical cut point used for time-to-failure
// projection.
func (p *CalibrationProfile) RedThreshold() float64 {
	return p.Thresholds[2]
}
