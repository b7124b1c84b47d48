package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus7017/rachio-bridge/internal/model"
	"github.com/markus7017/rachio-bridge/internal/ratelimit"
)

func rateHeaders(w http.ResponseWriter, remaining int) {
	w.Header().Set("X-RateLimit-Limit", "1700")
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", "2026-08-31T12:00:00Z")
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *ratelimit.Tracker, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tracker := ratelimit.NewTracker()
	return NewClient(srv.URL, "test-api-key", 5*time.Second, tracker), tracker, srv
}

func TestFetchAccountAndDevices(t *testing.T) {
	var sawAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/person/info", func(w http.ResponseWriter, r *http.Request) {
		sawAuth = r.Header.Get("Authorization")
		rateHeaders(w, 1500)
		w.Write([]byte(`{"id":"person-1"}`))
	})
	mux.HandleFunc("/person/person-1", func(w http.ResponseWriter, r *http.Request) {
		rateHeaders(w, 1499)
		w.Write([]byte(`{
			"id": "person-1",
			"username": "gardener",
			"fullName": "Test Gardener",
			"email": "g@example.com",
			"devices": [{
				"id": "dev-1",
				"name": "Backyard",
				"status": "ONLINE",
				"on": true,
				"macAddress": "aa:bb:cc",
				"zones": [
					{"id": "z-1", "zoneNumber": 1, "name": "Lawn", "enabled": true},
					{"id": "z-2", "zoneNumber": 2, "name": "Beds", "enabled": false}
				]
			}]
		}`))
	})

	c, tracker, _ := newTestClient(t, mux)
	account, devices, snap, err := c.FetchAccountAndDevices(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-api-key", sawAuth)
	assert.Equal(t, "gardener", account.Username)

	require.Len(t, devices, 1)
	d := devices[0]
	assert.Equal(t, "dev-1", d.ID)
	require.Len(t, d.Zones, 2)
	assert.Equal(t, "aa:bb:cc", d.Zones[0].DeviceUniqueID, "zones are normalized after decoding")

	assert.Equal(t, 1499, snap.Remaining)
	assert.Equal(t, 1499, tracker.Last().Remaining)
	assert.Equal(t, 2, c.Calls())
}

func TestFetchPartialFailureReturnsNoDevices(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/person/info", func(w http.ResponseWriter, r *http.Request) {
		rateHeaders(w, 1500)
		w.Write([]byte(`{"id":"person-1"}`))
	})
	mux.HandleFunc("/person/person-1", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broke", http.StatusInternalServerError)
	})

	c, _, _ := newTestClient(t, mux)
	account, devices, _, err := c.FetchAccountAndDevices(context.Background())
	require.Error(t, err)
	assert.Nil(t, devices, "a half-fetched snapshot must never reach the mirror")
	assert.Empty(t, account.Username)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.Code)
}

func TestDoRateLimitBlocked(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/person/info", func(w http.ResponseWriter, r *http.Request) {
		rateHeaders(w, 15)
		w.Write([]byte(`{"id":"person-1"}`))
	})

	c, _, _ := newTestClient(t, mux)
	_, _, _, err := c.FetchAccountAndDevices(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 15, apiErr.Snapshot.Remaining)
	assert.False(t, apiErr.Transport())
}

func TestDoHTTPError(t *testing.T) {
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))

	err := c.StopWatering(context.Background(), "dev-1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Code)
	assert.False(t, errors.Is(err, ErrRateLimited))
	assert.False(t, apiErr.Transport())
}

func TestDoAccepts204ForPut(t *testing.T) {
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	assert.NoError(t, c.SetDeviceEnabled(context.Background(), "dev-1", true))
}

func TestStartZonesPayload(t *testing.T) {
	var got struct {
		Zones []struct {
			ID        string `json:"id"`
			Duration  int    `json:"duration"`
			SortOrder int    `json:"sortOrder"`
		} `json:"zones"`
	}
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/zone/start_multiple", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))

	err := c.StartZones(context.Background(), []model.ZoneStart{
		{ID: "z-1", Duration: 600, SortOrder: 1},
		{ID: "z-2", Duration: 300, SortOrder: 2},
	})
	require.NoError(t, err)
	require.Len(t, got.Zones, 2)
	assert.Equal(t, "z-1", got.Zones[0].ID)
	assert.Equal(t, 2, got.Zones[1].SortOrder)
}

func TestRegisterWebhook(t *testing.T) {
	var calls []string
	var created struct {
		Device struct {
			ID string `json:"id"`
		} `json:"device"`
		ExternalID string `json:"externalId"`
		URL        string `json:"url"`
		EventTypes []struct {
			ID string `json:"id"`
		} `json:"eventTypes"`
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/notification/dev-1/webhook", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		w.Write([]byte(`[
			{"id":"wh-stale","url":"https://old.example.com/hook","externalId":"x"},
			{"id":"wh-mine","url":"https://bridge.example.com/rachio/webhook","externalId":"x"}
		]`))
	})
	mux.HandleFunc("/notification/webhook/", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/notification/webhook_event_type", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		w.Write([]byte(`[
			{"id":5,"name":"DEVICE_STATUS"},
			{"id":10,"name":"ZONE_STATUS"},
			{"id":6,"name":"RAIN_DELAY"}
		]`))
	})
	mux.HandleFunc("/notification/webhook", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
		w.Write([]byte(`{"id":"wh-new"}`))
	})

	c, _, _ := newTestClient(t, mux)
	err := c.RegisterWebhook(context.Background(), "dev-1", "https://bridge.example.com/rachio/webhook", "ext-token", false)
	require.NoError(t, err)

	// Only the hook matching our callback URL is deleted.
	assert.Contains(t, calls, "DELETE /notification/webhook/wh-mine")
	assert.NotContains(t, calls, "DELETE /notification/webhook/wh-stale")

	assert.Equal(t, "dev-1", created.Device.ID)
	assert.Equal(t, "ext-token", created.ExternalID)
	assert.Equal(t, "https://bridge.example.com/rachio/webhook", created.URL)
	require.Len(t, created.EventTypes, 3, "unknown event types are skipped")
}

func TestWebhookEventTypes(t *testing.T) {
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":5,"name":"DEVICE_STATUS"},{"id":6,"name":"RAIN_DELAY"}]`))
	}))
	types, err := c.WebhookEventTypes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"DEVICE_STATUS": 5, "RAIN_DELAY": 6}, types)
}
