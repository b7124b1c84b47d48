// Package cloud implements the client for the Rachio cloud REST API.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/markus7017/rachio-bridge/internal/metrics"
	"github.com/markus7017/rachio-bridge/internal/model"
	"github.com/markus7017/rachio-bridge/internal/ratelimit"
)

// API paths relative to the base URL.
const (
	pathPersonInfo        = "person/info"
	pathPerson            = "person"
	pathDeviceOn          = "device/on"
	pathDeviceOff         = "device/off"
	pathDeviceStopWater   = "device/stop_water"
	pathDeviceRainDelay   = "device/rain_delay"
	pathZoneStart         = "zone/start"
	pathZoneStartMultiple = "zone/start_multiple"
	pathWebhook           = "notification/webhook"
	pathWebhookQuery      = "notification"
	pathWebhookEventTypes = "notification/webhook_event_type"
)

// Webhook event types the bridge subscribes to, by cloud-defined name.
var subscribedEventTypes = []string{
	"DEVICE_STATUS",
	"RAIN_DELAY",
	"WEATHER_INTELLIGENCE",
	"WATER_BUDGET",
	"SCHEDULE_STATUS",
	"ZONE_STATUS",
	"ZONE_DELTA",
	"DELTA",
}

// Client issues authenticated requests against the Rachio cloud for one
// bridge context. Each response's rate-limit headers are recorded into the
// bridge's tracker. The call counter is instance-scoped; nothing here is
// shared across bridges.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	tracker *ratelimit.Tracker

	calls atomic.Int64
}

// NewClient creates a cloud client for one API key.
func NewClient(baseURL, apiKey string, timeout time.Duration, tracker *ratelimit.Tracker) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/") + "/",
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		tracker: tracker,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "rachio-cloud",
			Interval: time.Minute,
			Timeout:  30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
	}
}

type callResult struct {
	body     []byte
	snapshot ratelimit.Snapshot
}

// do performs one HTTP exchange through the circuit breaker. It never
// follows up or retries; a failed call is reported and the tick it belongs
// to is aborted by the caller.
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, ratelimit.Snapshot, error) {
	url := c.baseURL + path
	seq := int(c.calls.Add(1))

	res, err := c.breaker.Execute(func() (any, error) {
		var body io.Reader
		if payload != nil {
			data, err := json.Marshal(payload)
			if err != nil {
				return nil, &APIError{Method: method, URL: url, Err: err}
			}
			body = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, &APIError{Method: method, URL: url, Err: err}
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, &APIError{Method: method, URL: url, Err: err}
		}
		defer resp.Body.Close()

		snapshot := ratelimit.ParseHeaders(
			resp.Header.Get("X-RateLimit-Limit"),
			resp.Header.Get("X-RateLimit-Remaining"),
			resp.Header.Get("X-RateLimit-Reset"))
		snapshot.Method = method
		snapshot.URL = url
		snapshot.Code = resp.StatusCode
		snapshot.CallSeq = seq
		c.tracker.Record(snapshot)
		metrics.APICall(method, resp.StatusCode)

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &APIError{Method: method, URL: url, Code: resp.StatusCode, Snapshot: snapshot, Err: err}
		}

		if snapshot.Valid() && c.tracker.IsBlocked(snapshot.Remaining) {
			return nil, &APIError{Method: method, URL: url, Code: resp.StatusCode, Snapshot: snapshot,
				Err: fmt.Errorf("%w: %s", ErrRateLimited, snapshot)}
		}

		ok := resp.StatusCode == http.StatusOK ||
			(resp.StatusCode == http.StatusNoContent && (method == http.MethodPut || method == http.MethodDelete))
		if !ok {
			return nil, &APIError{Method: method, URL: url, Code: resp.StatusCode, Snapshot: snapshot,
				Body: snippet(data)}
		}
		return callResult{body: data, snapshot: snapshot}, nil
	})
	if err != nil {
		if apiErr, ok := err.(*APIError); ok {
			return nil, apiErr.Snapshot, apiErr
		}
		// Breaker refused the call without reaching the wire.
		return nil, ratelimit.Snapshot{}, &APIError{Method: method, URL: url, Err: err}
	}
	r := res.(callResult)
	return r.body, r.snapshot, nil
}

func snippet(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

// personResponse is the wire shape of the person/{id} response.
type personResponse struct {
	model.Account
	Devices []*model.Device `json:"devices"`
}

// FetchAccountAndDevices retrieves the account information and the full
// device/zone graph in fetch-response order. On any failure the returned
// slice is nil, so a partially fetched snapshot can never be applied.
func (c *Client) FetchAccountAndDevices(ctx context.Context) (model.Account, []*model.Device, ratelimit.Snapshot, error) {
	body, snap, err := c.do(ctx, http.MethodGet, pathPersonInfo, nil)
	if err != nil {
		return model.Account{}, nil, snap, err
	}
	var ident struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &ident); err != nil {
		return model.Account{}, nil, snap, &APIError{Method: http.MethodGet, URL: c.baseURL + pathPersonInfo,
			Code: http.StatusOK, Snapshot: snap, Err: fmt.Errorf("decoding person id: %w", err)}
	}

	path := pathPerson + "/" + ident.ID
	body, snap, err = c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return model.Account{}, nil, snap, err
	}
	var person personResponse
	if err := json.Unmarshal(body, &person); err != nil {
		return model.Account{}, nil, snap, &APIError{Method: http.MethodGet, URL: c.baseURL + path,
			Code: http.StatusOK, Snapshot: snap, Err: fmt.Errorf("decoding person: %w", err)}
	}
	for _, d := range person.Devices {
		d.Normalize()
	}
	return person.Account, person.Devices, snap, nil
}

type idPayload struct {
	ID string `json:"id"`
}

// SetDeviceEnabled enables (run mode) or disables (standby) the device.
func (c *Client) SetDeviceEnabled(ctx context.Context, deviceID string, enabled bool) error {
	path := pathDeviceOff
	if enabled {
		path = pathDeviceOn
	}
	_, _, err := c.do(ctx, http.MethodPut, path, idPayload{ID: deviceID})
	return err
}

// StopWatering stops watering on all zones of the device.
func (c *Client) StopWatering(ctx context.Context, deviceID string) error {
	_, _, err := c.do(ctx, http.MethodPut, pathDeviceStopWater, idPayload{ID: deviceID})
	return err
}

// SetRainDelay puts the device into rain-delay mode for the given duration.
func (c *Client) SetRainDelay(ctx context.Context, deviceID string, seconds int) error {
	payload := struct {
		ID       string `json:"id"`
		Duration int    `json:"duration"`
	}{deviceID, seconds}
	_, _, err := c.do(ctx, http.MethodPut, pathDeviceRainDelay, payload)
	return err
}

// StartZone starts a single zone for the given number of seconds.
func (c *Client) StartZone(ctx context.Context, zoneID string, seconds int) error {
	payload := struct {
		ID       string `json:"id"`
		Duration int    `json:"duration"`
	}{zoneID, seconds}
	_, _, err := c.do(ctx, http.MethodPut, pathZoneStart, payload)
	return err
}

// StartZones starts multiple zones in the given order.
func (c *Client) StartZones(ctx context.Context, zones []model.ZoneStart) error {
	payload := struct {
		Zones []model.ZoneStart `json:"zones"`
	}{zones}
	_, _, err := c.do(ctx, http.MethodPut, pathZoneStartMultiple, payload)
	return err
}

// WebhookEntry is one webhook registration as listed by the cloud.
type WebhookEntry struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	ExternalID string `json:"externalId"`
}

// eventType is one entry of the webhook_event_type list.
type eventType struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// WebhookEventTypes fetches the cloud's webhook event-type taxonomy, mapping
// type name to numeric id.
func (c *Client) WebhookEventTypes(ctx context.Context) (map[string]int, error) {
	body, _, err := c.do(ctx, http.MethodGet, pathWebhookEventTypes, nil)
	if err != nil {
		return nil, err
	}
	var types []eventType
	if err := json.Unmarshal(body, &types); err != nil {
		return nil, fmt.Errorf("decoding webhook event types: %w", err)
	}
	m := make(map[string]int, len(types))
	for _, t := range types {
		m[t.Name] = t.ID
	}
	return m, nil
}

// RegisterWebhook registers the callback URL for the device. Existing hooks
// matching the callback URL (or all of them when clearAll is set) are deleted
// first, which bounds registrations to one per callback URL per device and
// makes repeated initialization idempotent.
func (c *Client) RegisterWebhook(ctx context.Context, deviceID, callbackURL, externalID string, clearAll bool) error {
	existing, err := c.listWebhooks(ctx, deviceID)
	if err != nil {
		return err
	}
	for _, wh := range existing {
		if !clearAll && wh.URL != callbackURL {
			continue
		}
		if err := c.deleteWebhook(ctx, wh.ID); err != nil {
			log.Printf("cloud: deleting stale webhook %s for device %s: %v", wh.ID, deviceID, err)
		}
	}

	types, err := c.WebhookEventTypes(ctx)
	if err != nil {
		return err
	}
	var ids []idPayload
	for _, name := range subscribedEventTypes {
		id, ok := types[name]
		if !ok {
			log.Printf("cloud: event type %q not offered by the cloud, skipping", name)
			continue
		}
		ids = append(ids, idPayload{ID: fmt.Sprintf("%d", id)})
	}

	payload := struct {
		Device     idPayload   `json:"device"`
		ExternalID string      `json:"externalId"`
		URL        string      `json:"url"`
		EventTypes []idPayload `json:"eventTypes"`
	}{idPayload{ID: deviceID}, externalID, callbackURL, ids}

	_, _, err = c.do(ctx, http.MethodPost, pathWebhook, payload)
	return err
}

func (c *Client) listWebhooks(ctx context.Context, deviceID string) ([]WebhookEntry, error) {
	body, _, err := c.do(ctx, http.MethodGet, pathWebhookQuery+"/"+deviceID+"/webhook", nil)
	if err != nil {
		return nil, err
	}
	var entries []WebhookEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decoding webhook list: %w", err)
	}
	return entries, nil
}

func (c *Client) deleteWebhook(ctx context.Context, webhookID string) error {
	_, _, err := c.do(ctx, http.MethodDelete, pathWebhook+"/"+webhookID, nil)
	return err
}

// Calls returns the number of API calls issued by this client instance.
func (c *Client) Calls() int { return int(c.calls.Load()) }
