// Package store keeps the in-memory mirror of one account's devices and
// zones. The mirror is the single source of truth between reconciliation
// cycles; webhook events and commands mutate it directly.
package store

import (
	"sync"

	"github.com/markus7017/rachio-bridge/internal/model"
)

// ApplyResult describes what one fresh device snapshot did to the mirror.
type ApplyResult struct {
	Discovered   bool  // device was not mirrored before
	Changed      bool  // tracked device fields differ from the mirror
	ChangedZones []int // zone numbers whose tracked fields changed
	AddedZones   []int // zone numbers first seen in this snapshot
}

// DeviceStore holds the mirrored devices in fetch order. All methods are
// safe for concurrent use. The pointer-returning accessors hand out live
// mirror entries for the owning bridge, which reads and writes them only
// through store methods holding the lock; everyone else takes value
// snapshots.
type DeviceStore struct {
	mu      sync.RWMutex
	order   []string
	devices map[string]*model.Device
}

func NewDeviceStore() *DeviceStore {
	return &DeviceStore{devices: make(map[string]*model.Device)}
}

// copyDevice clones a mirror entry, zones included. Callers hold s.mu.
func copyDevice(d *model.Device) model.Device {
	dev := *d
	dev.Zones = make([]*model.Zone, len(d.Zones))
	for i, z := range d.Zones {
		zc := *z
		dev.Zones[i] = &zc
	}
	return dev
}

// Snapshot returns detached value copies of every mirrored device, zones
// included, in the order the cloud first listed them.
func (s *DeviceStore) Snapshot() []model.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Device, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, copyDevice(s.devices[id]))
	}
	return out
}

// DeviceSnapshot returns a detached copy of one mirrored device, or nil.
func (s *DeviceStore) DeviceSnapshot(id string) *model.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := s.devices[id]
	if d == nil {
		return nil
	}
	dev := copyDevice(d)
	return &dev
}

// ZoneSnapshot returns a detached copy of one zone by 1-based number.
func (s *DeviceStore) ZoneSnapshot(deviceID string, number int) (model.Zone, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := s.devices[deviceID]
	if d == nil {
		return model.Zone{}, false
	}
	z := d.ZoneByNumber(number)
	if z == nil {
		return model.Zone{}, false
	}
	return *z, true
}

// CopyDevice takes a value copy of a live entry under the read lock, with
// the zone slice detached. Used when handing a device to listeners.
func (s *DeviceStore) CopyDevice(d *model.Device) model.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dev := *d
	dev.Zones = nil
	return dev
}

// CopyZone takes a value copy of a live zone entry under the read lock.
func (s *DeviceStore) CopyZone(z *model.Zone) model.Zone {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *z
}

// Devices returns the live mirror entries in the order the cloud first
// listed them. The slice is a copy, the elements are not; only the owning
// bridge may touch them.
func (s *DeviceStore) Devices() []*model.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Device, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.devices[id])
	}
	return out
}

// DeviceByID returns the live mirror entry with the given cloud id, or nil.
func (s *DeviceStore) DeviceByID(id string) *model.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.devices[id]
}

// ZoneByNumber returns the live zone with the given 1-based number on the
// given device, or nil when either is unknown.
func (s *DeviceStore) ZoneByNumber(deviceID string, number int) *model.Zone {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := s.devices[deviceID]
	if d == nil {
		return nil
	}
	return d.ZoneByNumber(number)
}

// Apply merges one fresh device snapshot into the mirror. New devices are
// inserted as-is; for known devices the tracked mutable fields are compared
// and updated, preserving local state on the mirror entries. Zones that the
// cloud no longer reports stay mirrored.
func (s *DeviceStore) Apply(fresh *model.Device) ApplyResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.devices[fresh.ID]
	if !ok {
		s.devices[fresh.ID] = fresh
		s.order = append(s.order, fresh.ID)
		return ApplyResult{Discovered: true}
	}

	var res ApplyResult
	if cur.Changed(fresh) {
		cur.Update(fresh)
		res.Changed = true
	}
	for _, fz := range fresh.Zones {
		cz := cur.ZoneByNumber(fz.Number)
		if cz == nil {
			fz.DeviceUniqueID = cur.UniqueID()
			cur.Zones = append(cur.Zones, fz)
			res.AddedZones = append(res.AddedZones, fz.Number)
			continue
		}
		if cz.Changed(fz) {
			cz.Update(fz)
			res.ChangedZones = append(res.ChangedZones, fz.Number)
		}
	}
	return res
}

// MarkMissingOffline flips every mirrored device that is absent from the
// given id set to OFFLINE and returns the ids it changed. Devices are never
// dropped from the mirror; a controller removed from the account keeps its
// last known state with OFFLINE status.
func (s *DeviceStore) MarkMissingOffline(present map[string]bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var flipped []string
	for _, id := range s.order {
		d := s.devices[id]
		if present[id] || d.Status() == model.DeviceOffline {
			continue
		}
		d.RawStatus = string(model.DeviceOffline)
		flipped = append(flipped, id)
	}
	return flipped
}

// ResolveZone finds the zone a zone-scoped event refers to, preferring the
// cloud zone id and falling back to the zone number.
func (s *DeviceStore) ResolveZone(d *model.Device, ev *model.ZoneStatusEvent) *model.Zone {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ev.ZoneID != "" {
		if z := d.ZoneByID(ev.ZoneID); z != nil {
			return z
		}
	}
	if ev.Number > 0 {
		return d.ZoneByNumber(ev.Number)
	}
	return nil
}

// ApplyEventState folds one decoded webhook event into the mirror entry.
// Zone is nil for device-scoped events.
func (s *DeviceStore) ApplyEventState(d *model.Device, z *model.Zone, ev *model.WebhookEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := ev.Summary
	if summary == "" {
		summary = ev.SubType
	}

	switch ev.Kind {
	case model.KindDeviceStatus:
		switch ev.SubType {
		case "ONLINE", "COLD_REBOOT":
			d.RawStatus = string(model.DeviceOnline)
		case "OFFLINE", "SLEEP_MODE_ON":
			d.RawStatus = string(model.DeviceOffline)
		}
	case model.KindRainDelay:
		if ev.Delay != nil {
			d.RainDelay = ev.Delay.Duration
		}
	case model.KindZoneStatus:
		if z != nil && ev.Zone != nil && ev.Zone.Duration > 0 {
			z.Runtime = ev.Zone.Duration
		}
	}

	if z != nil {
		z.LastEvent = summary
	} else {
		d.LastEvent = summary
	}
}

// SetDeviceOn records the run/standby state after a successful command.
func (s *DeviceStore) SetDeviceOn(d *model.Device, on bool) {
	s.mu.Lock()
	d.On = on
	s.mu.Unlock()
}

// SetRainDelay records the rain-delay duration after a successful command.
func (s *DeviceStore) SetRainDelay(d *model.Device, seconds int) {
	s.mu.Lock()
	d.RainDelay = seconds
	s.mu.Unlock()
}

// SetRunSelection stores the zone selection and run-time override for the
// device's next multi-zone run.
func (s *DeviceStore) SetRunSelection(d *model.Device, zones string, runtime int) {
	s.mu.Lock()
	d.RunZones = zones
	d.RunTime = runtime
	s.mu.Unlock()
}

// SetZoneRuntime stores the requested run-time for the zone's next start.
func (s *DeviceStore) SetZoneRuntime(z *model.Zone, seconds int) {
	s.mu.Lock()
	z.StartRunTime = seconds
	s.mu.Unlock()
}

// RunList resolves the device's run selection under the store lock.
func (s *DeviceStore) RunList(d *model.Device, defaultRuntime int) []model.ZoneStart {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d.RunTime > 0 {
		defaultRuntime = d.RunTime
	}
	return d.RunList(defaultRuntime)
}

// Len returns the number of mirrored devices.
func (s *DeviceStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
