package pipeline

import (
	"errors"
	"sync"
	"time"

	"github.com/machinehealth/cci/pkg"
	"github.com/machinehealth/cci/pkg/feature"
)

// Stream scores one component's live reading stream incrementally. It is
// the daemon-facing counterpart to Sequence: readings arrive one at a time
// from an ingestion adapter, and a ScoredReading is emitted whenever every
// channel for a timestamp has been seen. Safe for use from a single
// ingestion goroutine per component; the shared profile is read-only.
type Stream struct {
	mu        sync.Mutex
	pipeline  *Pipeline
	profile   *pkg.CalibrationProfile
	extractor *feature.Extractor

	pendingTS time.Time
	seen      map[pkg.Sensor]bool
	history   []float64
	diag      pkg.Diagnostics
}

// NewStream creates an incremental scorer for one component against a
// loaded profile.
func (p *Pipeline) NewStream(componentID string, profile *pkg.CalibrationProfile) (*Stream, error) {
	if profile == nil {
		return nil, pkg.ErrNotCalibrated
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return &Stream{
		pipeline:  p,
		profile:   profile,
		extractor: feature.NewExtractor(componentID, p.config.Feature),
		seen:      make(map[pkg.Sensor]bool, len(pkg.Sensors)),
	}, nil
}

// Push consumes one reading. It returns a ScoredReading once the reading
// completes its timestamp (all channels seen and enough history), nil
// otherwise. Invalid readings are counted and returned as errors but do
// not disturb the window; incomplete timestamps are counted and skipped
// silently.
func (st *Stream) Push(r pkg.SensorReading) (*pkg.ScoredReading, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.diag.ReadingsSeen++

	if st.pendingTS.IsZero() || r.Timestamp.After(st.pendingTS) {
		if !st.pendingTS.IsZero() && len(st.seen) < len(pkg.Sensors) {
			// Previous timestamp never completed: a channel went missing.
			st.diag.TimestampsSkipped++
		}
		st.pendingTS = r.Timestamp
		clear(st.seen)
	}

	if err := st.extractor.Push(r); err != nil {
		st.diag.InvalidReadings++
		return nil, err
	}
	st.seen[r.Sensor] = true
	if len(st.seen) < len(pkg.Sensors) {
		return nil, nil
	}

	fv, err := st.extractor.Extract(st.pendingTS)
	if err != nil {
		st.diag.TimestampsSkipped++
		if errors.Is(err, pkg.ErrInsufficientHistory) {
			return nil, nil
		}
		return nil, err
	}

	histMap := map[string][]float64{fv.ComponentID: st.history}
	sr, err := st.pipeline.scoreVector(fv, st.profile, histMap)
	if err != nil {
		st.diag.TimestampsSkipped++
		return nil, err
	}
	st.history = histMap[fv.ComponentID]
	st.diag.TimestampsScored++
	return sr, nil
}

// History returns a copy of the recent CCI history accumulated by this
// stream, newest last.
func (st *Stream) History() []float64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]float64, len(st.history))
	copy(out, st.history)
	return out
}

// Diagnostics returns the counters accumulated since the stream started.
func (st *Stream) Diagnostics() pkg.Diagnostics {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.diag
}
