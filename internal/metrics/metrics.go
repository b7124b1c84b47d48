// Package metrics exposes the bridge's Prometheus instrumentation.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	apiCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rachio_api_calls_total",
		Help: "Cloud API calls issued, by method and HTTP status code.",
	}, []string{"method", "code"})

	pollCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rachio_poll_cycles_total",
		Help: "Reconciliation cycles, by bridge and result.",
	}, []string{"bridge", "result"})

	webhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rachio_webhook_events_total",
		Help: "Webhook events received, by outcome.",
	}, []string{"outcome"})

	rateLimitRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rachio_rate_limit_remaining",
		Help: "Most recently observed remaining cloud API quota, per bridge.",
	}, []string{"bridge"})

	notificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rachio_notifications_sent_total",
		Help: "Push notifications handed to the sender, by result.",
	}, []string{"result"})
)

// APICall counts one cloud API exchange.
func APICall(method string, code int) {
	apiCalls.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

// PollCycle counts one reconciliation cycle. Result is one of
// "ok", "skipped", "suspended" or "error".
func PollCycle(bridge, result string) {
	pollCycles.WithLabelValues(bridge, result).Inc()
}

// WebhookEvent counts one inbound webhook delivery. Outcome is one of
// "applied", "unknown_bridge", "unknown_device", "unknown_zone",
// "rejected_ip" or "malformed".
func WebhookEvent(outcome string) {
	webhookEvents.WithLabelValues(outcome).Inc()
}

// RateLimitRemaining records the last observed remaining quota for a bridge.
func RateLimitRemaining(bridge string, remaining int) {
	rateLimitRemaining.WithLabelValues(bridge).Set(float64(remaining))
}

// NotificationSent counts one push delivery attempt.
func NotificationSent(result string) {
	notificationsSent.WithLabelValues(result).Inc()
}
