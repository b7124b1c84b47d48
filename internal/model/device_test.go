package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDevice() *Device {
	d := &Device{
		ID:        "dev-1",
		Name:      "Backyard",
		RawStatus: "ONLINE",
		On:        true,
		MAC:       "aa:bb:cc:dd:ee:ff",
		Zones: []*Zone{
			{ID: "z-1", Number: 1, Name: "Lawn", Enabled: true},
			{ID: "z-2", Number: 2, Name: "Beds", Enabled: true},
			{ID: "z-3", Number: 3, Name: "Spare", Enabled: false},
		},
	}
	d.Normalize()
	return d
}

func TestDeviceNormalize(t *testing.T) {
	d := &Device{ID: "dev-2", Zones: []*Zone{{Number: 1}}}
	d.Normalize()
	assert.Equal(t, "dev-2", d.Name)
	assert.Equal(t, "dev-2", d.Zones[0].DeviceUniqueID)

	d = testDevice()
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", d.UniqueID())
	assert.Equal(t, "aa:bb:cc:dd:ee:ff-2", d.Zones[1].LocalID())
}

func TestDeviceChanged(t *testing.T) {
	d := testDevice()

	same := testDevice()
	assert.False(t, d.Changed(same))

	// Cosmetic metadata does not count as a change.
	renamed := testDevice()
	renamed.Name = "Renamed"
	renamed.Latitude = 48.1
	assert.False(t, d.Changed(renamed))

	off := testDevice()
	off.RawStatus = "OFFLINE"
	assert.True(t, d.Changed(off))

	standby := testDevice()
	standby.On = false
	assert.True(t, d.Changed(standby))

	paused := testDevice()
	paused.Paused = true
	assert.True(t, d.Changed(paused))

	assert.True(t, d.Changed(nil))
}

func TestDeviceUpdatePreservesLocalState(t *testing.T) {
	d := testDevice()
	d.RainDelay = 3600
	d.LastEvent = "rain delay set"

	fresh := testDevice()
	fresh.RawStatus = "OFFLINE"
	fresh.On = false
	d.Update(fresh)

	assert.Equal(t, DeviceOffline, d.Status())
	assert.False(t, d.On)
	assert.Equal(t, 3600, d.RainDelay)
	assert.Equal(t, "rain delay set", d.LastEvent)
}

func TestZoneChangedAndUpdate(t *testing.T) {
	z := &Zone{ID: "z-1", Number: 1, Enabled: true, AvailableWater: 0.17, Runtime: 600}
	fresh := &Zone{ID: "z-1", Number: 1, Enabled: true, AvailableWater: 0.17, Runtime: 600}
	assert.False(t, z.Changed(fresh))

	fresh.AvailableWater = 0.21
	fresh.LastWateredDate = 1700000000
	require.True(t, z.Changed(fresh))

	z.StartRunTime = 900
	z.Update(fresh)
	assert.Equal(t, 0.21, z.AvailableWater)
	assert.Equal(t, int64(1700000000), z.LastWateredDate)
	assert.Equal(t, 900, z.StartRunTime, "local state survives the update")
}

func TestRunList(t *testing.T) {
	t.Run("all enabled zones by default", func(t *testing.T) {
		d := testDevice()
		starts := d.RunList(300)
		require.Len(t, starts, 2, "disabled zones are excluded")
		assert.Equal(t, "z-1", starts[0].ID)
		assert.Equal(t, "z-2", starts[1].ID)
		assert.Equal(t, 300, starts[0].Duration)
		assert.Equal(t, 1, starts[0].SortOrder)
		assert.Equal(t, 2, starts[1].SortOrder)
	})

	t.Run("explicit selection", func(t *testing.T) {
		d := testDevice()
		d.RunZones = "2"
		starts := d.RunList(300)
		require.Len(t, starts, 1)
		assert.Equal(t, "z-2", starts[0].ID)
	})

	t.Run("per zone runtime wins", func(t *testing.T) {
		d := testDevice()
		d.Zones[0].StartRunTime = 1200
		starts := d.RunList(300)
		assert.Equal(t, 1200, starts[0].Duration)
		assert.Equal(t, 300, starts[1].Duration)
	})

	t.Run("ALL keyword", func(t *testing.T) {
		d := testDevice()
		d.RunZones = "ALL"
		assert.Len(t, d.RunList(300), 2)
	})

	t.Run("selection of disabled zone yields nothing", func(t *testing.T) {
		d := testDevice()
		d.RunZones = "3"
		assert.Empty(t, d.RunList(300))
	})
}

func TestParseDeviceStatus(t *testing.T) {
	assert.Equal(t, DeviceOnline, ParseDeviceStatus("ONLINE"))
	assert.Equal(t, DeviceOffline, ParseDeviceStatus("OFFLINE"))
	assert.Equal(t, DeviceOffline, ParseDeviceStatus("SLEEP"))
	assert.Equal(t, DeviceOffline, ParseDeviceStatus(""))
}
