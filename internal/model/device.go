package model

import (
	"fmt"
	"strings"
)

// DeviceStatus is the controller's reported connectivity state.
type DeviceStatus string

const (
	DeviceOnline  DeviceStatus = "ONLINE"
	DeviceOffline DeviceStatus = "OFFLINE"
)

// ParseDeviceStatus folds anything the cloud reports other than ONLINE to OFFLINE.
func ParseDeviceStatus(s string) DeviceStatus {
	if s == string(DeviceOnline) {
		return DeviceOnline
	}
	return DeviceOffline
}

// Device represents one physical irrigation controller as mirrored from the
// cloud account. The JSON-tagged fields come straight from the person/{id}
// response; the remainder is local state maintained by the bridge.
type Device struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	RawStatus string  `json:"status"`
	On        bool    `json:"on"`
	Paused    bool    `json:"paused"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Elevation float64 `json:"elevation"`
	TimeZone  string  `json:"timeZone"`
	UTCOffset int64   `json:"utcOffset"`
	Zip       string  `json:"zip"`
	Model     string  `json:"model"`
	Serial    string  `json:"serialNumber"`
	MAC       string  `json:"macAddress"`
	Zones     []*Zone `json:"zones"`

	// Local state, never part of the cloud snapshot.
	RainDelay int    `json:"-"` // seconds, set via command or rain-delay event
	LastEvent string `json:"-"`
	RunZones  string `json:"-"` // comma separated zone numbers, "" or "ALL" means all
	RunTime   int    `json:"-"` // run-time override for the next run
}

// Normalize fills derived fields after decoding a cloud snapshot.
func (d *Device) Normalize() {
	if d.Name == "" {
		d.Name = d.ID
	}
	for _, z := range d.Zones {
		z.DeviceUniqueID = d.UniqueID()
	}
}

// UniqueID returns the stable prefix used to derive local zone identifiers.
// The MAC address is used when present, mirroring how the controller is
// identified on the local network.
func (d *Device) UniqueID() string {
	if d.MAC != "" {
		return d.MAC
	}
	return d.ID
}

// Status returns the folded connectivity state.
func (d *Device) Status() DeviceStatus {
	return ParseDeviceStatus(d.RawStatus)
}

// Changed reports whether the tracked mutable fields differ from the fresh
// snapshot. Cosmetic metadata (name, coordinates) is deliberately excluded so
// metadata refreshes do not cause notification storms.
func (d *Device) Changed(fresh *Device) bool {
	if fresh == nil || d.ID != fresh.ID {
		return true
	}
	return d.RawStatus != fresh.RawStatus || d.On != fresh.On || d.Paused != fresh.Paused
}

// Update copies the mutable fields from a fresh snapshot. Identity fields
// never change after construction.
func (d *Device) Update(fresh *Device) {
	if fresh == nil || d.ID != fresh.ID {
		return
	}
	d.RawStatus = fresh.RawStatus
	d.On = fresh.On
	d.Paused = fresh.Paused
}

// ZoneByNumber returns the zone with the given 1-based number, or nil.
func (d *Device) ZoneByNumber(n int) *Zone {
	for _, z := range d.Zones {
		if z.Number == n {
			return z
		}
	}
	return nil
}

// ZoneByID returns the zone with the given cloud id, or nil.
func (d *Device) ZoneByID(id string) *Zone {
	for _, z := range d.Zones {
		if z.ID == id {
			return z
		}
	}
	return nil
}

// RunList resolves the configured run-zone selection into concrete zones.
// An empty or "ALL" selection means every enabled zone. Each entry carries
// the zone's requested start run-time, falling back to defaultRuntime.
func (d *Device) RunList(defaultRuntime int) []ZoneStart {
	all := d.RunZones == "" || strings.EqualFold(d.RunZones, "ALL")
	var starts []ZoneStart
	for _, z := range d.Zones {
		if !z.Enabled {
			continue
		}
		if !all && !strings.Contains(","+d.RunZones+",", fmt.Sprintf(",%d,", z.Number)) {
			continue
		}
		runtime := z.StartRunTime
		if runtime <= 0 {
			runtime = defaultRuntime
		}
		starts = append(starts, ZoneStart{ID: z.ID, Duration: runtime, SortOrder: len(starts) + 1})
	}
	return starts
}

// ZoneStart is one entry of a multi-zone start request.
type ZoneStart struct {
	ID        string `json:"id"`
	Duration  int    `json:"duration"`
	SortOrder int    `json:"sortOrder"`
}
