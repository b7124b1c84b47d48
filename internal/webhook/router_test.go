package webhook

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus7017/rachio-bridge/config"
	"github.com/markus7017/rachio-bridge/internal/bridge"
	"github.com/markus7017/rachio-bridge/internal/cloud"
	"github.com/markus7017/rachio-bridge/internal/model"
	"github.com/markus7017/rachio-bridge/internal/ratelimit"
	"github.com/markus7017/rachio-bridge/internal/store"
)

type nopListener struct{}

func (nopListener) OnStateChanged(string, model.Device, *model.Zone) {}

func cloudStub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/person/info", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"person-1"}`))
	})
	mux.HandleFunc("/person/person-1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"id": "person-1",
			"devices": [{
				"id": "dev-1", "name": "Backyard", "status": "ONLINE", "on": true,
				"zones": [{"id": "z-1", "zoneNumber": 1, "enabled": true}]
			}]
		}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// newMirroredBridge builds a bridge whose mirror already contains dev-1.
func newMirroredBridge(t *testing.T, ipFilter string) *bridge.Bridge {
	t.Helper()
	srv := cloudStub(t)
	cfg := config.BridgeConfig{
		Name:            "test",
		APIKey:          "key-1",
		PollingInterval: time.Hour,
		IPFilter:        ipFilter,
	}
	tracker := ratelimit.NewTracker()
	client := cloud.NewClient(srv.URL, cfg.APIKey, 5*time.Second, tracker)
	b := bridge.New(cfg, client, tracker, store.NewDeviceStore())
	t.Cleanup(b.Stop)

	b.RegisterStatusListener(nopListener{})
	deadline := time.Now().Add(2 * time.Second)
	for len(b.Devices()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the initial poll")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return b
}

func newTestRouter(t *testing.T, b *bridge.Bridge, aws *AWSRanges) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	m := bridge.NewManager()
	m.Add(b)
	h, err := NewHandler(m, aws)
	require.NoError(t, err)
	r := gin.New()
	h.Register(r, "/rachio/webhook")
	return r
}

func postEvent(r *gin.Engine, remoteIP, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/rachio/webhook", strings.NewReader(body))
	req.RemoteAddr = remoteIP + ":43210"
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func eventBody(externalID, subType string) string {
	return fmt.Sprintf(`{"externalId":%q,"deviceId":"dev-1","type":"DEVICE_STATUS","subType":%q}`, externalID, subType)
}

func TestWebhookAlways200(t *testing.T) {
	b := newMirroredBridge(t, "")
	r := newTestRouter(t, b, nil)

	tests := []struct {
		name string
		body string
	}{
		{"malformed body", "this is not json"},
		{"unknown external id", eventBody("someone-else", "OFFLINE")},
		{"valid event", eventBody(b.ExternalID(), "OFFLINE")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postEvent(r, "203.0.113.5", tt.body)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestWebhookAppliesEvent(t *testing.T) {
	b := newMirroredBridge(t, "")
	r := newTestRouter(t, b, nil)

	postEvent(r, "203.0.113.5", eventBody(b.ExternalID(), "OFFLINE"))
	assert.Equal(t, model.DeviceOffline, b.DeviceByID("dev-1").Status())

	postEvent(r, "203.0.113.5", eventBody(b.ExternalID(), "ONLINE"))
	assert.Equal(t, model.DeviceOnline, b.DeviceByID("dev-1").Status())
}

func TestWebhookSenderFilter(t *testing.T) {
	b := newMirroredBridge(t, "203.0.113.0/24")
	r := newTestRouter(t, b, nil)

	// Out-of-range sender: answered 200 but the event is dropped.
	w := postEvent(r, "198.51.100.9", eventBody(b.ExternalID(), "OFFLINE"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.DeviceOnline, b.DeviceByID("dev-1").Status())

	postEvent(r, "203.0.113.77", eventBody(b.ExternalID(), "OFFLINE"))
	assert.Equal(t, model.DeviceOffline, b.DeviceByID("dev-1").Status())
}

func TestWebhookAWSRangesAuthorize(t *testing.T) {
	rangesSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"prefixes": [
				{"ip_prefix": "52.0.0.0/8", "region": "us-east-1"},
				{"ip_prefix": "35.156.0.0/14", "region": "eu-central-1"}
			],
			"ipv6_prefixes": []
		}`))
	}))
	defer rangesSrv.Close()

	aws := NewAWSRanges(rangesSrv.URL, "us-", 5*time.Second)
	require.NoError(t, aws.Refresh(t.Context()))
	assert.False(t, aws.Empty())

	b := newMirroredBridge(t, "")
	r := newTestRouter(t, b, aws)

	// Once ranges are loaded the default-open fallback is off.
	w := postEvent(r, "198.51.100.9", eventBody(b.ExternalID(), "OFFLINE"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.DeviceOnline, b.DeviceByID("dev-1").Status())

	// us-east-1 prefix is allowed, the eu range was filtered out.
	postEvent(r, "52.1.2.3", eventBody(b.ExternalID(), "OFFLINE"))
	assert.Equal(t, model.DeviceOffline, b.DeviceByID("dev-1").Status())
}

func TestWebhookOptions(t *testing.T) {
	b := newMirroredBridge(t, "")
	r := newTestRouter(t, b, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodOptions, "/rachio/webhook", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
}
