package pipeline

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/machinehealth/cci/pkg"
	"github.com/machinehealth/cci/pkg/calibrate"
	"github.com/machinehealth/cci/pkg/feature"
	"github.com/machinehealth/cci/pkg/trend"
)

func testPipelineConfig() *Config {
	return &Config{
		Feature: &feature.Config{
			SampleInterval:  5 * time.Minute,
			ShortWindow:     3,
			LongWindow:      10,
			Lookback:        5,
			SpectralWindow:  16,
			SpectralSegment: 8,
			SpectralOverlap: 0.5,
			BandLowFrac:     0.25,
			BandHighFrac:    0.75,
		},
		Calibration: calibrate.DefaultConfig(),
		Trend: &trend.Config{
			WindowPoints:   96,
			MinPoints:      12,
			SampleInterval: 5 * time.Minute,
		},
	}
}

var streamStart = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

// componentReadings generates n timestamps for one component. Indices at or
// beyond degradeAfter ramp every channel upward and inject an in-band
// vibration oscillation, emulating progressive mechanical wear.
func componentReadings(componentID string, n, degradeAfter int) []pkg.SensorReading {
	readings := make([]pkg.SensorReading, 0, 3*n)
	for i := 0; i < n; i++ {
		ts := streamStart.Add(time.Duration(i) * 5 * time.Minute)
		fi := float64(i)

		vib := 1.0 + 0.3*math.Sin(fi*0.35) + 0.05*math.Sin(fi*1.7)
		temp := 40.0 + 1.5*math.Sin(fi*0.2+1)
		strain := 100.0 + 5.0*math.Sin(fi*0.15+2)
		if i >= degradeAfter {
			progress := float64(i-degradeAfter) / float64(n-degradeAfter)
			vib += 2.0*progress + 0.6*progress*math.Sin(2*math.Pi*fi/4)
			temp += 20.0 * progress
			strain += 50.0 * progress
		}

		values := map[pkg.Sensor]float64{
			pkg.SensorVibration:   vib,
			pkg.SensorTemperature: temp,
			pkg.SensorStrain:      strain,
		}
		for _, sensor := range pkg.Sensors {
			readings = append(readings, pkg.SensorReading{
				ComponentID: componentID, Timestamp: ts, Sensor: sensor, Value: values[sensor],
			})
		}
	}
	return readings
}

func fitTestProfile(t *testing.T, p *Pipeline) *pkg.CalibrationProfile {
	t.Helper()
	profile, err := p.Fit(componentReadings("pump-7", 150, 150))
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	return profile
}

func TestPipelineEndToEnd(t *testing.T) {
	p := New(testPipelineConfig(), nil)
	profile := fitTestProfile(t, p)

	const (
		total        = 400
		degradeAfter = 200
		warmup       = 16 // vibration needs the spectral window
	)
	seq, err := p.Score(componentReadings("pump-7", total, degradeAfter), profile)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	scored, diag := seq.Collect()

	if want := total - warmup + 1; len(scored) != want {
		t.Fatalf("scored %d timestamps, want %d", len(scored), want)
	}
	if diag.TimestampsScored != len(scored) {
		t.Errorf("diagnostics scored = %d, want %d", diag.TimestampsScored, len(scored))
	}
	if diag.TimestampsSkipped != warmup-1 {
		t.Errorf("diagnostics skipped = %d, want %d warmup timestamps", diag.TimestampsSkipped, warmup-1)
	}
	if diag.InvalidReadings != 0 {
		t.Errorf("diagnostics invalid = %d, want 0", diag.InvalidReadings)
	}

	for i := range scored {
		if scored[i].CCI < 0 || scored[i].CCI > 1 {
			t.Fatalf("cci %g outside [0,1] at %s", scored[i].CCI, scored[i].Timestamp)
		}
	}

	// The healthy stretch mirrors the calibration distribution, so roughly
	// 80% of it should classify green. Leave generous slack.
	healthyEnd := degradeAfter - warmup
	green := 0
	for i := 0; i < healthyEnd; i++ {
		if scored[i].Zone == pkg.ZoneGreen {
			green++
		}
	}
	if frac := float64(green) / float64(healthyEnd); frac < 0.5 {
		t.Errorf("healthy stretch only %.0f%% green", frac*100)
	}

	// The degradation ramp must end in sustained red.
	tail := scored[len(scored)-10:]
	for _, sr := range tail {
		if sr.Zone != pkg.ZoneRed {
			t.Fatalf("tail zone %v at %s, want sustained red", sr.Zone, sr.Timestamp)
		}
	}

	// Find the onset of sustained red and the first earlier warning with a
	// finite time-to-critical; the gap between them is the lead time the
	// projection actually bought.
	sustainedRed := -1
	for i := range scored {
		if scored[i].Zone != pkg.ZoneRed {
			sustainedRed = -1
			continue
		}
		if sustainedRed < 0 {
			sustainedRed = i
		}
	}
	if sustainedRed < 0 {
		t.Fatal("no sustained red onset found")
	}
	degradeStart := degradeAfter - warmup + 1
	if sustainedRed <= degradeStart {
		t.Errorf("sustained red at index %d, before degradation start %d", sustainedRed, degradeStart)
	}

	firstWarning := -1
	for i := degradeStart; i < sustainedRed; i++ {
		if scored[i].HoursToCritical != nil && *scored[i].HoursToCritical > 0 {
			firstWarning = i
			break
		}
	}
	if firstWarning < 0 {
		t.Fatal("projection never fired before the red onset")
	}
	lead := scored[sustainedRed].Timestamp.Sub(scored[firstWarning].Timestamp)
	if lead <= 0 {
		t.Fatalf("non-positive lead time %v", lead)
	}
	t.Logf("empirical lead time: %v (warning at %s, sustained red at %s)",
		lead, scored[firstWarning].Timestamp, scored[sustainedRed].Timestamp)
}

func TestSequenceReset(t *testing.T) {
	p := New(testPipelineConfig(), nil)
	profile := fitTestProfile(t, p)

	seq, err := p.Score(componentReadings("pump-7", 120, 60), profile)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	first, _ := seq.Collect()
	seq.Reset()
	second, _ := seq.Collect()

	if len(first) != len(second) {
		t.Fatalf("restarted pass yielded %d scores, first pass %d", len(second), len(first))
	}
	for i := range first {
		if first[i].CCI != second[i].CCI || first[i].Zone != second[i].Zone {
			t.Fatalf("restarted pass diverged at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestSequenceLazy(t *testing.T) {
	p := New(testPipelineConfig(), nil)
	profile := fitTestProfile(t, p)

	seq, err := p.Score(componentReadings("pump-7", 60, 60), profile)
	if err != nil {
		t.Fatalf("score: %v", err)
	}

	// Pull just one element; the sequence must not have consumed the batch.
	sr, ok := seq.Next()
	if !ok || sr == nil {
		t.Fatal("sequence yielded nothing")
	}
	if d := seq.Diagnostics(); d.TimestampsScored != 1 {
		t.Errorf("scored %d timestamps after one Next, want 1", d.TimestampsScored)
	}
}

func TestSequenceSkipsCorruptReadings(t *testing.T) {
	p := New(testPipelineConfig(), nil)
	profile := fitTestProfile(t, p)

	readings := componentReadings("pump-7", 80, 80)
	readings[120].Value = math.NaN() // mid-stream corruption

	seq, err := p.Score(readings, profile)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	scored, diag := seq.Collect()

	if diag.InvalidReadings != 1 {
		t.Errorf("invalid readings = %d, want 1", diag.InvalidReadings)
	}
	if len(scored) == 0 {
		t.Fatal("corrupt reading halted scoring")
	}
	for i := range scored {
		if math.IsNaN(scored[i].CCI) {
			t.Fatalf("NaN score leaked at %s", scored[i].Timestamp)
		}
	}
}

func TestScoreRequiresProfile(t *testing.T) {
	p := New(testPipelineConfig(), nil)
	readings := componentReadings("pump-7", 30, 30)

	if _, err := p.Score(readings, nil); !errors.Is(err, pkg.ErrNotCalibrated) {
		t.Errorf("nil profile: want ErrNotCalibrated, got %v", err)
	}

	bad := &pkg.CalibrationProfile{SchemaVersion: pkg.ProfileSchemaVersion}
	if _, err := p.Score(readings, bad); err == nil {
		t.Error("structurally invalid profile accepted")
	}
}

func TestScoreMultipleComponents(t *testing.T) {
	p := New(testPipelineConfig(), nil)
	profile := fitTestProfile(t, p)

	// Interleave two components; each must be scored on its own windows.
	a := componentReadings("pump-a", 60, 60)
	b := componentReadings("pump-b", 60, 30)
	var readings []pkg.SensorReading
	for i := 0; i < 60; i++ {
		readings = append(readings, a[3*i:3*i+3]...)
		readings = append(readings, b[3*i:3*i+3]...)
	}

	seq, err := p.Score(readings, profile)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	scored, _ := seq.Collect()

	byComponent := make(map[string]int)
	for i := range scored {
		byComponent[scored[i].ComponentID]++
	}
	if byComponent["pump-a"] != byComponent["pump-b"] {
		t.Errorf("uneven scoring across components: %v", byComponent)
	}
	if byComponent["pump-a"] == 0 {
		t.Error("no scores produced")
	}
}

func TestStreamMatchesBatch(t *testing.T) {
	p := New(testPipelineConfig(), nil)
	profile := fitTestProfile(t, p)
	readings := componentReadings("pump-7", 120, 60)

	seq, err := p.Score(readings, profile)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	batch, _ := seq.Collect()

	st, err := p.NewStream("pump-7", profile)
	if err != nil {
		t.Fatalf("new stream: %v", err)
	}
	var streamed []pkg.ScoredReading
	for _, r := range readings {
		sr, err := st.Push(r)
		if err != nil {
			t.Fatalf("push %+v: %v", r, err)
		}
		if sr != nil {
			streamed = append(streamed, *sr)
		}
	}

	if len(streamed) != len(batch) {
		t.Fatalf("stream yielded %d scores, batch %d", len(streamed), len(batch))
	}
	for i := range batch {
		if streamed[i].CCI != batch[i].CCI || streamed[i].Zone != batch[i].Zone {
			t.Fatalf("stream diverged from batch at %d: %+v vs %+v", i, streamed[i], batch[i])
		}
	}
}

func TestStreamRequiresProfile(t *testing.T) {
	p := New(testPipelineConfig(), nil)
	if _, err := p.NewStream("pump-7", nil); !errors.Is(err, pkg.ErrNotCalibrated) {
		t.Errorf("want ErrNotCalibrated, got %v", err)
	}
}
