// Package bridge ties one Rachio account (one API key) to the local mirror:
// it owns the cloud client, the device store, the reconciliation loop and the
// listener registry, and is the only writer of mirror state.
package bridge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/markus7017/rachio-bridge/config"
	"github.com/markus7017/rachio-bridge/internal/cloud"
	"github.com/markus7017/rachio-bridge/internal/model"
	"github.com/markus7017/rachio-bridge/internal/ratelimit"
	"github.com/markus7017/rachio-bridge/internal/store"
)

// externalIDSalt is mixed into the hash so the webhook correlation token is
// not a plain digest of the API key.
const externalIDSalt = "rachio-bridge/v1:"

// State is the bridge's lifecycle state.
type State int

const (
	StateStopped State = iota
	StateRunning
	StateSuspended // rate limit exhausted, waiting for the quota window to reset
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	default:
		return "stopped"
	}
}

// StatusListener receives mirror change notifications. Device and zone are
// passed by value so listeners never hold references into the live mirror.
type StatusListener interface {
	// OnStateChanged is invoked after the mirror was updated. zone is nil
	// for device-scoped changes.
	OnStateChanged(bridge string, device model.Device, zone *model.Zone)
}

// EventOutcome classifies what ApplyEvent did with a webhook event.
type EventOutcome int

const (
	EventApplied EventOutcome = iota
	EventUnknownDevice
	EventUnknownZone
)

func (o EventOutcome) String() string {
	switch o {
	case EventUnknownDevice:
		return "unknown_device"
	case EventUnknownZone:
		return "unknown_zone"
	default:
		return "applied"
	}
}

// EventSink receives every event the bridge accepted, after the mirror was
// updated. Used for the persistent event log.
type EventSink interface {
	RecordEvent(bridge string, ev model.WebhookEvent)
}

// Bridge mirrors one account. All mirror mutation funnels through its
// methods; the store's entries are never written from outside.
type Bridge struct {
	name       string
	externalID string
	cfg        config.BridgeConfig
	client     *cloud.Client
	tracker    *ratelimit.Tracker
	store      *store.DeviceStore

	mu        sync.Mutex
	state     State
	account   model.Account
	lastErr   error
	resumeAt  time.Time
	listeners map[StatusListener]struct{}
	devBound  map[string]StatusListener // deviceID -> handler
	zoneBound map[string]StatusListener // zone LocalID -> handler
	cancel    context.CancelFunc
	done      chan struct{}

	// pollMu serializes reconciliation ticks. Taken with TryLock so an
	// overdue tick is dropped instead of queueing behind a slow one.
	pollMu sync.Mutex

	sink EventSink
}

// New creates a bridge for one configured account. The reconciliation loop
// does not start until a listener registers.
func New(cfg config.BridgeConfig, client *cloud.Client, tracker *ratelimit.Tracker, st *store.DeviceStore) *Bridge {
	return &Bridge{
		name:       cfg.Name,
		externalID: deriveExternalID(cfg.APIKey),
		cfg:        cfg,
		client:     client,
		tracker:    tracker,
		store:      st,
		listeners:  make(map[StatusListener]struct{}),
		devBound:   make(map[string]StatusListener),
		zoneBound:  make(map[string]StatusListener),
	}
}

func deriveExternalID(apiKey string) string {
	sum := sha256.Sum256([]byte(externalIDSalt + apiKey))
	return hex.EncodeToString(sum[:])
}

// Name returns the configured bridge name.
func (b *Bridge) Name() string { return b.name }

// ExternalID returns the opaque token the cloud echoes back on webhook
// events, used to route deliveries to this bridge.
func (b *Bridge) ExternalID() string { return b.externalID }

// IPFilterSpec returns the configured sender allow-list for webhook
// deliveries, a semicolon separated list of addresses and CIDR ranges.
func (b *Bridge) IPFilterSpec() string { return b.cfg.IPFilter }

// Account returns the mirrored account information.
func (b *Bridge) Account() model.Account {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.account
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Health describes the bridge for the status endpoint.
type Health struct {
	Name      string             `json:"name"`
	State     string             `json:"state"`
	Devices   int                `json:"devices"`
	RateLimit ratelimit.Snapshot `json:"-"`
	Remaining int                `json:"rateLimitRemaining"`
	Level     string             `json:"rateLimitLevel"`
	ResumeAt  *time.Time         `json:"resumeAt,omitempty"`
	LastError string             `json:"lastError,omitempty"`
	APICalls  int                `json:"apiCalls"`
}

// Health returns a point-in-time view of the bridge state.
func (b *Bridge) Health() Health {
	b.mu.Lock()
	state := b.state
	lastErr := b.lastErr
	resumeAt := b.resumeAt
	b.mu.Unlock()

	snap := b.tracker.Last()
	h := Health{
		Name:      b.name,
		State:     state.String(),
		Devices:   b.store.Len(),
		RateLimit: snap,
		Remaining: snap.Remaining,
		Level:     b.tracker.Classify().String(),
		APICalls:  b.client.Calls(),
	}
	if state == StateSuspended && !resumeAt.IsZero() {
		h.ResumeAt = &resumeAt
	}
	if lastErr != nil {
		h.LastError = lastErr.Error()
	}
	return h
}

// Devices returns detached copies of the mirrored devices in fetch order.
func (b *Bridge) Devices() []model.Device { return b.store.Snapshot() }

// DeviceByID returns a detached copy of the mirrored device, or nil.
func (b *Bridge) DeviceByID(id string) *model.Device { return b.store.DeviceSnapshot(id) }

// SetEventSink installs the persistent event log sink.
func (b *Bridge) SetEventSink(sink EventSink) { b.sink = sink }

// RegisterStatusListener adds a broadcast listener. The first registration
// starts the reconciliation loop. Registering the same listener twice is a
// no-op.
func (b *Bridge) RegisterStatusListener(l StatusListener) {
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	b.updatePolling()
}

// UnregisterStatusListener removes a broadcast listener. When the last
// listener and the last bound handler are gone the loop stops.
func (b *Bridge) UnregisterStatusListener(l StatusListener) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	b.updatePolling()
}

// BindDevice routes change notifications for one device exclusively to the
// given handler instead of the broadcast set.
func (b *Bridge) BindDevice(deviceID string, l StatusListener) {
	b.mu.Lock()
	b.devBound[deviceID] = l
	b.mu.Unlock()
	b.updatePolling()
}

// UnbindDevice removes a device binding.
func (b *Bridge) UnbindDevice(deviceID string) {
	b.mu.Lock()
	delete(b.devBound, deviceID)
	b.mu.Unlock()
	b.updatePolling()
}

// BindZone routes change notifications for one zone (by local id)
// exclusively to the given handler.
func (b *Bridge) BindZone(localID string, l StatusListener) {
	b.mu.Lock()
	b.zoneBound[localID] = l
	b.mu.Unlock()
	b.updatePolling()
}

// UnbindZone removes a zone binding.
func (b *Bridge) UnbindZone(localID string) {
	b.mu.Lock()
	delete(b.zoneBound, localID)
	b.mu.Unlock()
	b.updatePolling()
}

func (b *Bridge) hasAudience() bool {
	return len(b.listeners) > 0 || len(b.devBound) > 0 || len(b.zoneBound) > 0
}

// notifyDevice delivers a device-scoped change: to the bound handler when
// one exists, otherwise to every broadcast listener. Never both. The copy is
// taken under the store lock so listeners never observe a half-applied
// mutation.
func (b *Bridge) notifyDevice(d *model.Device) {
	dev := b.store.CopyDevice(d)

	b.mu.Lock()
	bound := b.devBound[d.ID]
	var broadcast []StatusListener
	if bound == nil {
		broadcast = make([]StatusListener, 0, len(b.listeners))
		for l := range b.listeners {
			broadcast = append(broadcast, l)
		}
	}
	b.mu.Unlock()

	if bound != nil {
		bound.OnStateChanged(b.name, dev, nil)
		return
	}
	for _, l := range broadcast {
		l.OnStateChanged(b.name, dev, nil)
	}
}

func (b *Bridge) notifyZone(d *model.Device, z *model.Zone) {
	dev := b.store.CopyDevice(d)
	zone := b.store.CopyZone(z)

	b.mu.Lock()
	bound := b.zoneBound[z.LocalID()]
	var broadcast []StatusListener
	if bound == nil {
		broadcast = make([]StatusListener, 0, len(b.listeners))
		for l := range b.listeners {
			broadcast = append(broadcast, l)
		}
	}
	b.mu.Unlock()

	if bound != nil {
		bound.OnStateChanged(b.name, dev, &zone)
		return
	}
	for _, l := range broadcast {
		l.OnStateChanged(b.name, dev, &zone)
	}
}

// ApplyEvent applies one authenticated webhook event to the mirror and
// notifies listeners when the event represents a state transition.
func (b *Bridge) ApplyEvent(ev *model.WebhookEvent) EventOutcome {
	d := b.store.DeviceByID(ev.DeviceID)
	if d == nil {
		return EventUnknownDevice
	}

	var zone *model.Zone
	if ev.ZoneScoped() {
		if ev.Zone == nil {
			return EventUnknownZone
		}
		zone = b.store.ResolveZone(d, ev.Zone)
		if zone == nil {
			return EventUnknownZone
		}
	}

	b.store.ApplyEventState(d, zone, ev)

	if b.sink != nil {
		b.sink.RecordEvent(b.name, *ev)
	}
	if ev.StateTransition() {
		if zone != nil {
			b.notifyZone(d, zone)
		} else {
			b.notifyDevice(d)
		}
	}
	return EventApplied
}

// EnableDevice puts the device into run mode.
func (b *Bridge) EnableDevice(ctx context.Context, deviceID string) error {
	return b.setDeviceEnabled(ctx, deviceID, true)
}

// DisableDevice puts the device into standby.
func (b *Bridge) DisableDevice(ctx context.Context, deviceID string) error {
	return b.setDeviceEnabled(ctx, deviceID, false)
}

func (b *Bridge) setDeviceEnabled(ctx context.Context, deviceID string, enabled bool) error {
	d := b.store.DeviceByID(deviceID)
	if d == nil {
		return fmt.Errorf("bridge %s: unknown device %s", b.name, deviceID)
	}
	if err := b.client.SetDeviceEnabled(ctx, deviceID, enabled); err != nil {
		return err
	}
	b.store.SetDeviceOn(d, enabled)
	b.notifyDevice(d)
	return nil
}

// StopWatering stops all watering on the device.
func (b *Bridge) StopWatering(ctx context.Context, deviceID string) error {
	if b.store.DeviceByID(deviceID) == nil {
		return fmt.Errorf("bridge %s: unknown device %s", b.name, deviceID)
	}
	return b.client.StopWatering(ctx, deviceID)
}

// SetRainDelay delays all scheduled watering for the given duration.
func (b *Bridge) SetRainDelay(ctx context.Context, deviceID string, seconds int) error {
	d := b.store.DeviceByID(deviceID)
	if d == nil {
		return fmt.Errorf("bridge %s: unknown device %s", b.name, deviceID)
	}
	if err := b.client.SetRainDelay(ctx, deviceID, seconds); err != nil {
		return err
	}
	b.store.SetRainDelay(d, seconds)
	b.notifyDevice(d)
	return nil
}

// StartZone starts one zone by number. A non-positive duration uses the
// zone's requested run-time, falling back to the bridge default.
func (b *Bridge) StartZone(ctx context.Context, deviceID string, zoneNumber, seconds int) error {
	z, ok := b.store.ZoneSnapshot(deviceID, zoneNumber)
	if !ok {
		return fmt.Errorf("bridge %s: device %s has no zone %d", b.name, deviceID, zoneNumber)
	}
	if seconds <= 0 {
		seconds = z.StartRunTime
	}
	if seconds <= 0 {
		seconds = b.cfg.DefaultRuntimeSeconds
	}
	return b.client.StartZone(ctx, z.ID, seconds)
}

// RunZones starts the device's configured zone selection in order.
func (b *Bridge) RunZones(ctx context.Context, deviceID string) error {
	d := b.store.DeviceByID(deviceID)
	if d == nil {
		return fmt.Errorf("bridge %s: unknown device %s", b.name, deviceID)
	}
	starts := b.store.RunList(d, b.cfg.DefaultRuntimeSeconds)
	if len(starts) == 0 {
		return fmt.Errorf("bridge %s: device %s has no enabled zones selected", b.name, deviceID)
	}
	return b.client.StartZones(ctx, starts)
}

// SetRunSelection stores the zone selection and run-time override used by
// the next RunZones call. Selection "" or "ALL" means every enabled zone.
func (b *Bridge) SetRunSelection(deviceID, zones string, runtime int) error {
	d := b.store.DeviceByID(deviceID)
	if d == nil {
		return fmt.Errorf("bridge %s: unknown device %s", b.name, deviceID)
	}
	b.store.SetRunSelection(d, zones, runtime)
	return nil
}

// SetZoneRuntime stores the per-zone run-time request for the next start.
func (b *Bridge) SetZoneRuntime(deviceID string, zoneNumber, seconds int) error {
	z := b.store.ZoneByNumber(deviceID, zoneNumber)
	if z == nil {
		return fmt.Errorf("bridge %s: device %s has no zone %d", b.name, deviceID, zoneNumber)
	}
	b.store.SetZoneRuntime(z, seconds)
	return nil
}

// Stop cancels the reconciliation loop and waits for it to exit.
func (b *Bridge) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	done := b.done
	b.cancel = nil
	b.done = nil
	b.state = StateStopped
	b.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (b *Bridge) setError(err error) {
	b.mu.Lock()
	b.lastErr = err
	b.mu.Unlock()
	if err != nil {
		log.Printf("bridge %s: %v", b.name, err)
	}
}
