package model

import "fmt"

// Zone represents one irrigation zone belonging to a Device.
type Zone struct {
	ID                  string  `json:"id"`
	Number              int     `json:"zoneNumber"`
	Name                string  `json:"name"`
	Enabled             bool    `json:"enabled"`
	AvailableWater      float64 `json:"availableWater"`
	Efficiency          float64 `json:"efficiency"`
	DepthOfWater        float64 `json:"depthOfWater"`
	RootZoneDepth       float64 `json:"rootZoneDepth"`
	YardAreaSquareFeet  int     `json:"yardAreaSquareFeet"`
	Runtime             int     `json:"runtime"`
	ImageURL            string  `json:"imageUrl"`
	LastWateredDate     int64   `json:"lastWateredDate"`
	LastWateredDuration int     `json:"lastWateredDuration"`
	Nozzle              Nozzle  `json:"customNozzle"`

	// DeviceUniqueID is the owning device's unique-name prefix, filled in
	// after decoding. Together with Number it forms the stable local key.
	DeviceUniqueID string `json:"-"`

	// Local state, never part of the cloud snapshot.
	StartRunTime int    `json:"-"` // requested run-time for the next start, 0 = use bridge default
	LastEvent    string `json:"-"`
}

// Nozzle is the display metadata of the zone's sprinkler head.
type Nozzle struct {
	Name          string  `json:"name"`
	ImageURL      string  `json:"imageUrl"`
	Category      string  `json:"category"`
	InchesPerHour float64 `json:"inchesPerHour"`
}

// LocalID derives the stable local identifier from the compound key
// (device unique id, zone number).
func (z *Zone) LocalID() string {
	return fmt.Sprintf("%s-%d", z.DeviceUniqueID, z.Number)
}

// Changed reports whether the tracked mutable fields differ from the fresh
// snapshot. Display metadata (name, image, nozzle) is excluded. An id change
// counts: a zone deleted and recreated in the cloud keeps its number but
// gets a new id, and the mirror has to follow it.
func (z *Zone) Changed(fresh *Zone) bool {
	if fresh == nil {
		return true
	}
	return z.ID != fresh.ID ||
		z.Number != fresh.Number ||
		z.Enabled != fresh.Enabled ||
		z.AvailableWater != fresh.AvailableWater ||
		z.Efficiency != fresh.Efficiency ||
		z.DepthOfWater != fresh.DepthOfWater ||
		z.Runtime != fresh.Runtime ||
		z.LastWateredDate != fresh.LastWateredDate
}

// Update copies the mutable fields from a fresh snapshot, including the
// cloud id. The zone never moves to a different device and its number never
// changes.
func (z *Zone) Update(fresh *Zone) {
	if fresh == nil {
		return
	}
	z.ID = fresh.ID
	z.Enabled = fresh.Enabled
	z.AvailableWater = fresh.AvailableWater
	z.Efficiency = fresh.Efficiency
	z.DepthOfWater = fresh.DepthOfWater
	z.Runtime = fresh.Runtime
	z.LastWateredDate = fresh.LastWateredDate
	z.LastWateredDuration = fresh.LastWateredDuration
}
