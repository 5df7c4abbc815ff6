package feature

import (
	"time"

	"github.com/machinehealth/cci/pkg"
)

// Group collects the readings sharing one (component, timestamp) cell of an
// input batch: one row of the wide input schema.
type Group struct {
	ComponentID string
	Timestamp   time.Time
	Readings    []pkg.SensorReading
}

type groupKey struct {
	component string
	ts        int64
}

// GroupReadings splits an ordered batch into per-component, per-timestamp
// groups, preserving first-seen order. The batch itself is not reordered;
// out-of-order rows surface later as invalid readings when pushed into an
// extractor.
func GroupReadings(readings []pkg.SensorReading) []Group {
	groups := make([]Group, 0, len(readings)/len(pkg.Sensors)+1)
	index := make(map[groupKey]int)

	for _, r := range readings {
		key := groupKey{component: r.ComponentID, ts: r.Timestamp.UnixNano()}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{ComponentID: r.ComponentID, Timestamp: r.Timestamp})
		}
		groups[i].Readings = append(groups[i].Readings, r)
	}
	return groups
}
