package feature

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/machinehealth/cci/pkg"
)

// Config holds the rolling-window parameters for feature extraction. All
// window lengths are expressed in samples at the declared sampling interval.
type Config struct {
	SampleInterval  time.Duration `json:"sample_interval"`
	ShortWindow     int           `json:"short_window"`     // short EWMA decay window (~1h)
	LongWindow      int           `json:"long_window"`      // long EWMA decay window (~1 week)
	Lookback        int           `json:"lookback"`         // window for volatility and local slope
	SpectralWindow  int           `json:"spectral_window"`  // samples buffered for the Welch estimate
	SpectralSegment int           `json:"spectral_segment"` // Welch segment length, power of two
	SpectralOverlap float64       `json:"spectral_overlap"` // segment overlap fraction
	BandLowFrac     float64       `json:"band_low_frac"`    // band lower edge, fraction of Nyquist
	BandHighFrac    float64       `json:"band_high_frac"`   // band upper edge, fraction of Nyquist
}

// DefaultConfig returns extraction defaults assuming 5-minute sampling:
// a 1-hour short window, a 1-week long window and a 2-hour lookback.
func DefaultConfig() *Config {
	return &Config{
		SampleInterval:  5 * time.Minute,
		ShortWindow:     12,
		LongWindow:      2016,
		Lookback:        24,
		SpectralWindow:  128,
		SpectralSegment: 64,
		SpectralOverlap: 0.5,
		BandLowFrac:     0.25,
		BandHighFrac:    0.75,
	}
}

// Validate checks window parameters for internal consistency.
func (c *Config) Validate() error {
	if c.SampleInterval <= 0 {
		return fmt.Errorf("sample interval must be positive")
	}
	if c.ShortWindow < 2 || c.LongWindow <= c.ShortWindow {
		return fmt.Errorf("need 2 <= short window < long window, got %d/%d", c.ShortWindow, c.LongWindow)
	}
	if c.Lookback < 3 {
		return fmt.Errorf("lookback must be at least 3 samples, got %d", c.Lookback)
	}
	if c.SpectralSegment < 8 || c.SpectralWindow < c.SpectralSegment {
		return fmt.Errorf("need spectral window >= segment >= 8, got %d/%d", c.SpectralWindow, c.SpectralSegment)
	}
	if c.SpectralOverlap < 0 || c.SpectralOverlap >= 1 {
		return fmt.Errorf("spectral overlap must be in [0,1), got %f", c.SpectralOverlap)
	}
	if c.BandLowFrac < 0 || c.BandHighFrac <= c.BandLowFrac || c.BandHighFrac > 1 {
		return fmt.Errorf("band must satisfy 0 <= low < high <= 1, got %f/%f", c.BandLowFrac, c.BandHighFrac)
	}
	return nil
}

// minSamples is the per-channel history required before a timestamp is
// considered complete. The long EWMA window dominates; vibration also
// needs the full spectral buffer.
func (c *Config) minSamples(sensor pkg.Sensor) int {
	if sensor == pkg.SensorVibration && c.SpectralWindow > c.LongWindow {
		return c.SpectralWindow
	}
	return c.LongWindow
}

// channelState carries the rolling window for one sensor channel. The
// window itself is the only state; extraction is a pure function of the
// readings pushed so far.
type channelState struct {
	count     int
	lastTS    time.Time
	shortEWMA float64
	longEWMA  float64
	lookback  []float64
	spectral  []float64 // vibration only
}

// Extractor converts one component's ordered reading stream into rolling
// feature vectors. It is not safe for concurrent use; create one extractor
// per component stream.
type Extractor struct {
	config      *Config
	componentID string
	channels    map[pkg.Sensor]*channelState
}

// NewExtractor creates an extractor for a single component stream.
func NewExtractor(componentID string, config *Config) *Extractor {
	if config == nil {
		config = DefaultConfig()
	}
	return &Extractor{
		config:      config,
		componentID: componentID,
		channels:    make(map[pkg.Sensor]*channelState, len(pkg.Sensors)),
	}
}

// ComponentID returns the stream this extractor is bound to.
func (e *Extractor) ComponentID() string { return e.componentID }

// Push consumes the next reading in the stream. Non-finite values, unknown
// channels, component mismatches and out-of-order timestamps are rejected
// with ErrInvalidReading; the window is left untouched so a single bad
// reading never poisons the features around it.
func (e *Extractor) Push(r pkg.SensorReading) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.ComponentID != e.componentID {
		return fmt.Errorf("%w: reading for %q on stream %q", pkg.ErrInvalidReading, r.ComponentID, e.componentID)
	}

	st := e.channels[r.Sensor]
	if st == nil {
		st = &channelState{
			lookback: make([]float64, 0, e.config.Lookback),
		}
		if r.Sensor == pkg.SensorVibration {
			st.spectral = make([]float64, 0, e.config.SpectralWindow)
		}
		e.channels[r.Sensor] = st
	}

	if !st.lastTS.IsZero() && !r.Timestamp.After(st.lastTS) {
		return fmt.Errorf("%w: out-of-order timestamp %s for %s", pkg.ErrInvalidReading,
			r.Timestamp.Format(time.RFC3339), r.Sensor)
	}

	if st.count == 0 {
		st.shortEWMA = r.Value
		st.longEWMA = r.Value
	} else {
		st.shortEWMA += ewmaAlpha(e.config.ShortWindow) * (r.Value - st.shortEWMA)
		st.longEWMA += ewmaAlpha(e.config.LongWindow) * (r.Value - st.longEWMA)
	}

	st.lookback = appendBounded(st.lookback, r.Value, e.config.Lookback)
	if st.spectral != nil {
		st.spectral = appendBounded(st.spectral, r.Value, e.config.SpectralWindow)
	}
	st.count++
	st.lastTS = r.Timestamp
	return nil
}

// Extract produces the feature vector for the given timestamp, computed
// over the current rolling windows. Returns ErrInsufficientHistory until
// every channel has satisfied its minimum window; callers skip such
// timestamps rather than treating them as zero.
func (e *Extractor) Extract(ts time.Time) (*pkg.FeatureVector, error) {
	for _, sensor := range pkg.Sensors {
		st := e.channels[sensor]
		need := e.config.minSamples(sensor)
		if st == nil || st.count < need {
			have := 0
			if st != nil {
				have = st.count
			}
			return nil, fmt.Errorf("%w: %s has %d of %d samples", pkg.ErrInsufficientHistory, sensor, have, need)
		}
	}

	fv := &pkg.FeatureVector{
		ComponentID: e.componentID,
		Timestamp:   ts,
		Vibration:   e.channelFeatures(pkg.SensorVibration),
		Temperature: e.channelFeatures(pkg.SensorTemperature),
		Strain:      e.channelFeatures(pkg.SensorStrain),
	}
	fv.Spectral = e.spectralFeatures()
	return fv, nil
}

func (e *Extractor) channelFeatures(sensor pkg.Sensor) pkg.ChannelFeatures {
	st := e.channels[sensor]
	cf := pkg.ChannelFeatures{
		Value:     st.lookback[len(st.lookback)-1],
		ShortEWMA: st.shortEWMA,
		LongEWMA:  st.longEWMA,
		Stress:    st.shortEWMA - st.longEWMA,
	}
	if len(st.lookback) >= 2 {
		cf.Volatility = stat.StdDev(st.lookback, nil)
	}
	if len(st.lookback) >= 3 {
		xs := make([]float64, len(st.lookback))
		for i := range xs {
			xs[i] = float64(i)
		}
		_, slope := stat.LinearRegression(xs, st.lookback, nil, false)
		cf.Slope = slope
	}
	return cf
}

func ewmaAlpha(window int) float64 {
	return 2.0 / (float64(window) + 1.0)
}

func appendBounded(buf []float64, v float64, capLen int) []float64 {
	if len(buf) == capLen {
		copy(buf, buf[1:])
		buf[len(buf)-1] = v
		return buf
	}
	return append(buf, v)
}
