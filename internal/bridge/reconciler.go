package bridge

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/markus7017/rachio-bridge/internal/cloud"
	"github.com/markus7017/rachio-bridge/internal/metrics"
)

// updatePolling reconciles the loop's running state with the listener
// registry: the loop runs exactly while at least one listener or bound
// handler is registered.
func (b *Bridge) updatePolling() {
	b.mu.Lock()
	want := b.hasAudience()
	running := b.cancel != nil
	if want == running {
		b.mu.Unlock()
		return
	}
	if !want {
		cancel, done := b.cancel, b.done
		b.cancel, b.done = nil, nil
		b.state = StateStopped
		b.mu.Unlock()
		cancel()
		<-done
		log.Printf("bridge %s: last listener gone, polling stopped", b.name)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	b.cancel, b.done = cancel, done
	b.state = StateRunning
	b.mu.Unlock()

	log.Printf("bridge %s: first listener registered, polling every %s", b.name, b.cfg.PollingInterval)
	go b.loop(ctx, done)
}

func (b *Bridge) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	b.poll(ctx)

	ticker := time.NewTicker(b.cfg.PollingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.poll(ctx)
		}
	}
}

// poll runs one reconciliation cycle. Overlapping ticks are dropped, not
// queued: if the previous cycle still holds the poll lock this one is a
// no-op.
func (b *Bridge) poll(ctx context.Context) {
	if !b.pollMu.TryLock() {
		log.Printf("bridge %s: previous poll still running, skipping tick", b.name)
		metrics.PollCycle(b.name, "skipped")
		return
	}
	defer b.pollMu.Unlock()

	b.mu.Lock()
	if b.state == StateSuspended {
		if time.Now().Before(b.resumeAt) {
			b.mu.Unlock()
			metrics.PollCycle(b.name, "suspended")
			return
		}
		b.state = StateRunning
		b.resumeAt = time.Time{}
		log.Printf("bridge %s: rate-limit window reset, resuming", b.name)
	}
	b.mu.Unlock()

	if b.tracker.ShouldSkipPoll() {
		log.Printf("bridge %s: quota strained (%s), shedding this poll", b.name, b.tracker.Last())
		metrics.PollCycle(b.name, "skipped")
		return
	}

	account, fresh, snap, err := b.client.FetchAccountAndDevices(ctx)
	if err != nil {
		if errors.Is(err, cloud.ErrRateLimited) {
			b.suspend(snap.Reset)
			metrics.PollCycle(b.name, "suspended")
			return
		}
		b.setError(err)
		metrics.PollCycle(b.name, "error")
		return
	}
	if snap.Valid() {
		metrics.RateLimitRemaining(b.name, snap.Remaining)
	}

	b.mu.Lock()
	b.account = account
	b.lastErr = nil
	b.mu.Unlock()

	present := make(map[string]bool, len(fresh))
	for _, fd := range fresh {
		present[fd.ID] = true
		res := b.store.Apply(fd)
		d := b.store.DeviceByID(fd.ID)

		if res.Discovered {
			log.Printf("bridge %s: discovered device %q (%s, %d zones)", b.name, d.Name, d.ID, len(d.Zones))
			b.registerWebhook(ctx, d.ID)
			b.notifyDevice(d)
			continue
		}
		if res.Changed {
			b.notifyDevice(d)
		}
		for _, n := range res.AddedZones {
			log.Printf("bridge %s: device %q gained zone %d", b.name, d.Name, n)
		}
		for _, n := range res.ChangedZones {
			if z := b.store.ZoneByNumber(d.ID, n); z != nil {
				b.notifyZone(d, z)
			}
		}
	}

	for _, id := range b.store.MarkMissingOffline(present) {
		d := b.store.DeviceByID(id)
		log.Printf("bridge %s: device %q disappeared from the account, marked offline", b.name, d.Name)
		b.notifyDevice(d)
	}

	metrics.PollCycle(b.name, "ok")
}

// suspend parks the loop until the reported quota window resets. Without a
// usable reset timestamp the bridge waits one polling interval instead.
func (b *Bridge) suspend(resumeAt time.Time) {
	if resumeAt.IsZero() || resumeAt.Before(time.Now()) {
		resumeAt = time.Now().Add(b.cfg.PollingInterval)
	}
	b.mu.Lock()
	b.state = StateSuspended
	b.resumeAt = resumeAt
	b.mu.Unlock()
	log.Printf("bridge %s: api quota exhausted, suspended until %s", b.name, resumeAt.Format(time.RFC3339))
}

// registerWebhook points the device's cloud-side push registration at our
// callback URL. Failures are logged and left for the next discovery; polling
// alone keeps the mirror correct.
func (b *Bridge) registerWebhook(ctx context.Context, deviceID string) {
	if b.cfg.CallbackURL == "" {
		return
	}
	err := b.client.RegisterWebhook(ctx, deviceID, b.cfg.CallbackURL, b.externalID, b.cfg.ClearAllCallbacks)
	if err != nil {
		log.Printf("bridge %s: registering webhook for device %s: %v", b.name, deviceID, err)
		return
	}
	log.Printf("bridge %s: webhook registered for device %s -> %s", b.name, deviceID, b.cfg.CallbackURL)
}
