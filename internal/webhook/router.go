package webhook

import (
	"io"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/markus7017/rachio-bridge/internal/bridge"
	"github.com/markus7017/rachio-bridge/internal/metrics"
	"github.com/markus7017/rachio-bridge/internal/model"
)

// maxEventBody bounds the webhook request body. Real events are well under
// 4 KiB.
const maxEventBody = 64 * 1024

// Handler terminates the cloud's webhook deliveries. Every request is
// answered 200 regardless of processing outcome so the cloud never disables
// the registration; failures only show up in logs and metrics.
type Handler struct {
	manager *bridge.Manager
	aws     *AWSRanges
	filters map[string]*IPFilter // externalID -> configured sender filter
}

// NewHandler builds the webhook handler, parsing each bridge's sender
// filter once.
func NewHandler(m *bridge.Manager, aws *AWSRanges) (*Handler, error) {
	h := &Handler{
		manager: m,
		aws:     aws,
		filters: make(map[string]*IPFilter),
	}
	for _, b := range m.Bridges() {
		f, err := ParseIPFilter(b.IPFilterSpec())
		if err != nil {
			return nil, err
		}
		h.filters[b.ExternalID()] = f
	}
	return h, nil
}

// Register mounts the webhook endpoint on the router.
func (h *Handler) Register(r gin.IRouter, path string) {
	r.POST(path, h.handleEvent)
	r.OPTIONS(path, func(c *gin.Context) {
		setCORS(c)
		c.Status(http.StatusOK)
	})
}

func setCORS(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "POST, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Content-Type")
}

func (h *Handler) handleEvent(c *gin.Context) {
	setCORS(c)
	// The cloud treats non-200 responses as a broken registration, so the
	// status is fixed before any processing happens.
	defer c.Status(http.StatusOK)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventBody))
	if err != nil {
		log.Printf("webhook: reading event body: %v", err)
		metrics.WebhookEvent("malformed")
		return
	}

	ev, err := model.DecodeWebhookEvent(body)
	if err != nil {
		log.Printf("webhook: %v", err)
		metrics.WebhookEvent("malformed")
		return
	}

	b := h.manager.ByExternalID(ev.ExternalID)
	if b == nil {
		log.Printf("webhook: event for unknown external id %.12q..., dropped", ev.ExternalID)
		metrics.WebhookEvent("unknown_bridge")
		return
	}

	// Echo the bridge's last observed quota so the upstream sees what we see.
	if snap := b.Health().RateLimit; snap.Valid() {
		c.Header("X-RateLimit-Limit", strconv.Itoa(snap.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(snap.Remaining))
		c.Header("X-RateLimit-Reset", snap.Reset.Format(time.RFC3339))
	}

	if !h.senderAuthorized(ev.ExternalID, c.ClientIP()) {
		log.Printf("webhook: bridge %s: event from unauthorized sender %s, dropped", b.Name(), c.ClientIP())
		metrics.WebhookEvent("rejected_ip")
		return
	}

	outcome := b.ApplyEvent(ev)
	if outcome != bridge.EventApplied {
		log.Printf("webhook: bridge %s: %s event %s: %s", b.Name(), ev.Kind, ev.EventID, outcome)
	}
	metrics.WebhookEvent(outcome.String())
}

// senderAuthorized checks the source address against the bridge's configured
// filter and the AWS ranges the cloud sends from. With neither configured
// nor loaded, delivery is open; polling keeps the mirror correct either way
// and an attacker cannot do more than inject state for ids it must already
// know.
func (h *Handler) senderAuthorized(externalID, clientIP string) bool {
	addr, err := netip.ParseAddr(clientIP)
	if err != nil {
		return false
	}
	filter := h.filters[externalID]
	if filter.Allow(addr) {
		return true
	}
	if h.aws != nil && h.aws.Contains(addr) {
		return true
	}
	return filter == nil && (h.aws == nil || h.aws.Empty())
}
