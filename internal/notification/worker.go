// Package notification fans mirror state changes out to web push
// subscribers through a fixed-size worker pool.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"github.com/markus7017/rachio-bridge/internal/metrics"
	"github.com/markus7017/rachio-bridge/internal/model"
)

// Sender defines the interface for delivering one web push message.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is the real Sender backed by the webpush library.
type WebPushSender struct{}

func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Job is one state change to announce.
type Job struct {
	Bridge string
	Device model.Device
	Zone   *model.Zone
}

// WorkerPool delivers state-change notifications to the push subscriptions
// of the affected device. It implements the bridge's status listener
// interface, so registering a pool is what starts a bridge polling.
type WorkerPool struct {
	size    int
	jobs    chan Job
	db      *gorm.DB
	webpush *webpush.Options
	sender  Sender
}

// NewWorkerPool creates a worker pool. The job buffer is sized generously
// relative to the pool so a burst of zone events does not stall the
// reconciler.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Job, size*8),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// SetSender replaces the delivery backend, used by tests.
func (wp *WorkerPool) SetSender(s Sender) { wp.sender = s }

// Jobs exposes the job channel for tests.
func (wp *WorkerPool) Jobs() chan Job { return wp.jobs }

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("notification worker %d started", id)
	for {
		select {
		case job := <-wp.jobs:
			wp.process(ctx, job)
		case <-ctx.Done():
			log.Printf("notification worker %d shutting down", id)
			return
		}
	}
}

// OnStateChanged queues the change for delivery. The reconciler must never
// block on a slow push service, so a full queue drops the job.
func (wp *WorkerPool) OnStateChanged(bridge string, device model.Device, zone *model.Zone) {
	select {
	case wp.jobs <- Job{Bridge: bridge, Device: device, Zone: zone}:
	default:
		log.Printf("notification queue full, dropping change for device %s", device.ID)
		metrics.NotificationSent("dropped")
	}
}

// pushMessage is the JSON payload delivered to subscribers.
type pushMessage struct {
	Bridge  string `json:"bridge"`
	Device  string `json:"device"`
	Zone    string `json:"zone,omitempty"`
	Message string `json:"message"`
}

func (wp *WorkerPool) process(ctx context.Context, job Job) {
	var subscriptions []model.PushSubscription
	err := wp.db.WithContext(ctx).
		Joins("JOIN subscription_devices sd ON sd.endpoint = push_subscriptions.endpoint").
		Where("sd.device_id = ?", job.Device.ID).
		Find(&subscriptions).Error
	if err != nil {
		log.Printf("fetching subscriptions for device %s: %v", job.Device.ID, err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	msg := pushMessage{
		Bridge: job.Bridge,
		Device: job.Device.Name,
	}
	if job.Zone != nil {
		msg.Zone = job.Zone.Name
		msg.Message = fmt.Sprintf("Zone %q on %s: %s", job.Zone.Name, job.Device.Name, zoneSummary(job.Zone))
	} else {
		msg.Message = fmt.Sprintf("Controller %s is %s", job.Device.Name, deviceSummary(&job.Device))
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("encoding push payload: %v", err)
		return
	}

	for _, sub := range subscriptions {
		wp.send(ctx, sub, payload)
	}
}

func deviceSummary(d *model.Device) string {
	switch {
	case d.Status() == model.DeviceOffline:
		return "offline"
	case !d.On:
		return "in standby"
	case d.RainDelay > 0:
		return fmt.Sprintf("delaying watering for %ds", d.RainDelay)
	default:
		return "online"
	}
}

func zoneSummary(z *model.Zone) string {
	if z.LastEvent != "" {
		return z.LastEvent
	}
	if z.Enabled {
		return "updated"
	}
	return "disabled"
}

func (wp *WorkerPool) send(ctx context.Context, sub model.PushSubscription, payload []byte) {
	if wp.webpush == nil {
		// No VAPID keys configured. The pool still runs as a listener so
		// polling works, it just cannot deliver.
		metrics.NotificationSent("disabled")
		return
	}
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("sending notification to %s: %v", sub.Endpoint, err)
		metrics.NotificationSent("error")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		log.Printf("subscription %s is expired, deleting", sub.Endpoint)
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			log.Printf("deleting expired subscription %s: %v", sub.Endpoint, err)
		}
		metrics.NotificationSent("expired")
		return
	}
	metrics.NotificationSent("ok")
}
