package history

import (
	"sync"
	"time"

	"github.com/machinehealth/cci/pkg"
)

// RecentBuffer keeps a bounded in-RAM window of scored readings per
// component. It feeds the trend projector and the live API surface; the
// durable record lives in the Archive.
type RecentBuffer struct {
	mu        sync.RWMutex
	capacity  int
	retention time.Duration
	rings     map[string]*ring
}

type ring struct {
	data []pkg.ScoredReading
	head int
	size int
}

// NewRecentBuffer creates a buffer holding up to capacity scored readings
// per component within the retention window.
func NewRecentBuffer(capacity int, retention time.Duration) *RecentBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RecentBuffer{
		capacity:  capacity,
		retention: retention,
		rings:     make(map[string]*ring),
	}
}

// Add appends a scored reading to its component's ring, evicting the
// oldest entry when full.
func (b *RecentBuffer) Add(sr pkg.ScoredReading) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r := b.rings[sr.ComponentID]
	if r == nil {
		r = &ring{data: make([]pkg.ScoredReading, b.capacity)}
		b.rings[sr.ComponentID] = r
	}
	r.data[(r.head+r.size)%len(r.data)] = sr
	if r.size < len(r.data) {
		r.size++
	} else {
		r.head = (r.head + 1) % len(r.data)
	}
}

// Since returns the component's scored readings newer than the given time,
// oldest first.
func (b *RecentBuffer) Since(componentID string, since time.Time) []pkg.ScoredReading {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r := b.rings[componentID]
	if r == nil {
		return nil
	}
	out := make([]pkg.ScoredReading, 0, r.size)
	for i := 0; i < r.size; i++ {
		sr := r.data[(r.head+i)%len(r.data)]
		if sr.Timestamp.After(since) {
			out = append(out, sr)
		}
	}
	return out
}

// CCIHistory returns the component's recent CCI values in time order, for
// feeding the trend projector.
func (b *RecentBuffer) CCIHistory(componentID string) []float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r := b.rings[componentID]
	if r == nil {
		return nil
	}
	out := make([]float64, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.data[(r.head+i)%len(r.data)].CCI)
	}
	return out
}

// Latest returns the most recent scored reading for a component, or nil.
func (b *RecentBuffer) Latest(componentID string) *pkg.ScoredReading {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r := b.rings[componentID]
	if r == nil || r.size == 0 {
		return nil
	}
	sr := r.data[(r.head+r.size-1)%len(r.data)]
	return &sr
}

// Components returns the component IDs currently held in the buffer.
func (b *RecentBuffer) Components() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.rings))
	for id := range b.rings {
		out = append(out, id)
	}
	return out
}

// Cleanup drops entries older than the retention window and removes
// components whose rings emptied.
func (b *RecentBuffer) Cleanup(now time.Time) {
	if b.retention <= 0 {
		return
	}
	cutoff := now.Add(-b.retention)

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, r := range b.rings {
		for r.size > 0 && r.data[r.head].Timestamp.Before(cutoff) {
			r.head = (r.head + 1) % len(r.data)
			r.size--
		}
		if r.size == 0 {
			delete(b.rings, id)
		}
	}
}
