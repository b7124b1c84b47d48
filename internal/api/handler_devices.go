package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/markus7017/rachio-bridge/internal/model"
)

// zoneView is the REST representation of a mirrored zone, including the
// local state the wire model does not serialize.
type zoneView struct {
	ID             string  `json:"id"`
	LocalID        string  `json:"localId"`
	Number         int     `json:"number"`
	Name           string  `json:"name"`
	Enabled        bool    `json:"enabled"`
	AvailableWater float64 `json:"availableWater"`
	Efficiency     float64 `json:"efficiency"`
	DepthOfWater   float64 `json:"depthOfWater"`
	Runtime        int     `json:"runtime"`
	StartRunTime   int     `json:"startRunTime,omitempty"`
	LastWatered    int64   `json:"lastWateredDate,omitempty"`
	LastEvent      string  `json:"lastEvent,omitempty"`
}

// deviceView is the REST representation of a mirrored device.
type deviceView struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Status    string     `json:"status"`
	On        bool       `json:"on"`
	Paused    bool       `json:"paused"`
	RainDelay int        `json:"rainDelay,omitempty"`
	LastEvent string     `json:"lastEvent,omitempty"`
	Model     string     `json:"model,omitempty"`
	Serial    string     `json:"serialNumber,omitempty"`
	MAC       string     `json:"macAddress,omitempty"`
	RunZones  string     `json:"runZones,omitempty"`
	Zones     []zoneView `json:"zones"`
}

func viewZone(z *model.Zone) zoneView {
	return zoneView{
		ID:             z.ID,
		LocalID:        z.LocalID(),
		Number:         z.Number,
		Name:           z.Name,
		Enabled:        z.Enabled,
		AvailableWater: z.AvailableWater,
		Efficiency:     z.Efficiency,
		DepthOfWater:   z.DepthOfWater,
		Runtime:        z.Runtime,
		StartRunTime:   z.StartRunTime,
		LastWatered:    z.LastWateredDate,
		LastEvent:      z.LastEvent,
	}
}

func viewDevice(d *model.Device) deviceView {
	v := deviceView{
		ID:        d.ID,
		Name:      d.Name,
		Status:    string(d.Status()),
		On:        d.On,
		Paused:    d.Paused,
		RainDelay: d.RainDelay,
		LastEvent: d.LastEvent,
		Model:     d.Model,
		Serial:    d.Serial,
		MAC:       d.MAC,
		RunZones:  d.RunZones,
		Zones:     make([]zoneView, 0, len(d.Zones)),
	}
	for _, z := range d.Zones {
		v.Zones = append(v.Zones, viewZone(z))
	}
	return v
}

// GetDevices returns the bridge's mirrored devices in fetch order.
func (h *Handler) GetDevices(c *gin.Context) {
	b := h.lookupBridge(c)
	if b == nil {
		return
	}
	devices := b.Devices()
	out := make([]deviceView, 0, len(devices))
	for i := range devices {
		out = append(out, viewDevice(&devices[i]))
	}
	c.JSON(http.StatusOK, out)
}

// GetDevice returns one mirrored device.
func (h *Handler) GetDevice(c *gin.Context) {
	b := h.lookupBridge(c)
	if b == nil {
		return
	}
	d := b.DeviceByID(c.Param("device"))
	if d == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
		return
	}
	c.JSON(http.StatusOK, viewDevice(d))
}

// GetZones returns the zones of one mirrored device.
func (h *Handler) GetZones(c *gin.Context) {
	b := h.lookupBridge(c)
	if b == nil {
		return
	}
	d := b.DeviceByID(c.Param("device"))
	if d == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
		return
	}
	out := make([]zoneView, 0, len(d.Zones))
	for _, z := range d.Zones {
		out = append(out, viewZone(z))
	}
	c.JSON(http.StatusOK, out)
}

// PostDeviceEnable puts the controller into run mode.
func (h *Handler) PostDeviceEnable(c *gin.Context) {
	b := h.lookupBridge(c)
	if b == nil {
		return
	}
	if err := b.EnableDevice(c.Request.Context(), c.Param("device")); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// PostDeviceDisable puts the controller into standby.
func (h *Handler) PostDeviceDisable(c *gin.Context) {
	b := h.lookupBridge(c)
	if b == nil {
		return
	}
	if err := b.DisableDevice(c.Request.Context(), c.Param("device")); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// PostDeviceStopWater stops all watering on the controller.
func (h *Handler) PostDeviceStopWater(c *gin.Context) {
	b := h.lookupBridge(c)
	if b == nil {
		return
	}
	if err := b.StopWatering(c.Request.Context(), c.Param("device")); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type rainDelayRequest struct {
	Seconds int `json:"seconds" binding:"required,min=0"`
}

// PostDeviceRainDelay delays all scheduled watering.
func (h *Handler) PostDeviceRainDelay(c *gin.Context) {
	b := h.lookupBridge(c)
	if b == nil {
		return
	}
	var req rainDelayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := b.SetRainDelay(c.Request.Context(), c.Param("device"), req.Seconds); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// PostDeviceRun starts the device's configured zone selection.
func (h *Handler) PostDeviceRun(c *gin.Context) {
	b := h.lookupBridge(c)
	if b == nil {
		return
	}
	if err := b.RunZones(c.Request.Context(), c.Param("device")); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type runSelectionRequest struct {
	Zones   string `json:"zones"` // comma separated zone numbers, "" or "ALL" for all
	Runtime int    `json:"runtime"`
}

// PutRunSelection stores the zone selection used by the next run command.
func (h *Handler) PutRunSelection(c *gin.Context) {
	b := h.lookupBridge(c)
	if b == nil {
		return
	}
	var req runSelectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := b.SetRunSelection(c.Param("device"), req.Zones, req.Runtime); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type zoneStartRequest struct {
	Seconds int `json:"seconds"`
}

// PostZoneStart starts one zone. Without an explicit duration the zone's
// stored run-time (or the bridge default) is used.
func (h *Handler) PostZoneStart(c *gin.Context) {
	b := h.lookupBridge(c)
	if b == nil {
		return
	}
	number, err := strconv.Atoi(c.Param("zone"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid zone number"})
		return
	}
	var req zoneStartRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if err := b.StartZone(c.Request.Context(), c.Param("device"), number, req.Seconds); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type zoneRuntimeRequest struct {
	Seconds int `json:"seconds" binding:"required,min=1"`
}

// PutZoneRuntime stores the requested run-time for the zone's next start.
func (h *Handler) PutZoneRuntime(c *gin.Context) {
	b := h.lookupBridge(c)
	if b == nil {
		return
	}
	number, err := strconv.Atoi(c.Param("zone"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid zone number"})
		return
	}
	var req zoneRuntimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := b.SetZoneRuntime(c.Param("device"), number, req.Seconds); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
