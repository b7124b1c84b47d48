package internal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/markus7017/rachio-bridge/config"
	"github.com/markus7017/rachio-bridge/internal/bridge"
	"github.com/markus7017/rachio-bridge/internal/cloud"
	"github.com/markus7017/rachio-bridge/internal/eventlog"
	"github.com/markus7017/rachio-bridge/internal/model"
	"github.com/markus7017/rachio-bridge/internal/notification"
	"github.com/markus7017/rachio-bridge/internal/ratelimit"
	"github.com/markus7017/rachio-bridge/internal/store"
	"github.com/markus7017/rachio-bridge/internal/webhook"
)

type pushCapture struct {
	mu       sync.Mutex
	payloads []string
	ch       chan string
}

func (p *pushCapture) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	p.mu.Lock()
	p.payloads = append(p.payloads, string(payload))
	p.mu.Unlock()
	p.ch <- string(payload)
	return &http.Response{StatusCode: http.StatusCreated, Body: http.NoBody}, nil
}

// TestEventLifecycle walks one state change through the whole pipeline: the
// initial poll mirrors the account, a webhook delivery flips the device
// offline, the event is persisted and a push notification goes out to the
// stored subscription.
func TestEventLifecycle(t *testing.T) {
	testDB, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, _ := testDB.DB()
	defer sqlDB.Close()

	require.NoError(t, testDB.AutoMigrate(
		&model.PushSubscription{},
		&model.SubscriptionDevice{},
		&model.EventRecord{},
	))

	// Cloud stub with one device.
	cloudSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/person/info":
			w.Write([]byte(`{"id":"person-1"}`))
		case "/person/person-1":
			w.Write([]byte(`{
				"id": "person-1",
				"devices": [{
					"id": "dev-1", "name": "Backyard", "status": "ONLINE", "on": true,
					"zones": [{"id": "z-1", "zoneNumber": 1, "name": "Lawn", "enabled": true}]
				}]
			}`))
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer cloudSrv.Close()

	// Bridge with mirror, event log and push pool wired together.
	bc := config.BridgeConfig{Name: "home", APIKey: "key-1", PollingInterval: time.Hour}
	tracker := ratelimit.NewTracker()
	client := cloud.NewClient(cloudSrv.URL, bc.APIKey, 5*time.Second, tracker)
	b := bridge.New(bc, client, tracker, store.NewDeviceStore())
	defer b.Stop()
	b.SetEventSink(eventlog.New(testDB))

	capture := &pushCapture{ch: make(chan string, 8)}
	pool := notification.NewWorkerPool(2, testDB, &webpush.Options{})
	pool.SetSender(capture)
	ctx := t.Context()
	pool.Start(ctx)

	b.RegisterStatusListener(pool)
	deadline := time.Now().Add(2 * time.Second)
	for len(b.Devices()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the initial poll")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Subscribe a push client to the discovered device.
	require.NoError(t, testDB.Create(&model.PushSubscription{
		Endpoint:  "https://push.example.com/sub-1",
		P256DH:    "p",
		Auth:      "a",
		CreatedAt: time.Now(),
	}).Error)
	require.NoError(t, testDB.Create(&model.SubscriptionDevice{
		Endpoint: "https://push.example.com/sub-1",
		DeviceID: "dev-1",
	}).Error)

	// Deliver a webhook event through the real HTTP handler.
	gin.SetMode(gin.TestMode)
	m := bridge.NewManager()
	m.Add(b)
	wh, err := webhook.NewHandler(m, nil)
	require.NoError(t, err)
	router := gin.New()
	wh.Register(router, "/rachio/webhook")

	body := fmt.Sprintf(`{"externalId":%q,"deviceId":"dev-1","id":"ev-1","type":"DEVICE_STATUS","subType":"OFFLINE","summary":"Device went offline"}`, b.ExternalID())
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/rachio/webhook", strings.NewReader(body))
	req.RemoteAddr = "203.0.113.5:4711"
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	// Mirror updated.
	assert.Equal(t, model.DeviceOffline, b.DeviceByID("dev-1").Status())

	// Event persisted.
	var recs []model.EventRecord
	require.NoError(t, testDB.Find(&recs).Error)
	require.Len(t, recs, 1)
	assert.Equal(t, "home", recs[0].Bridge)
	assert.Equal(t, "DEVICE_STATUS", recs[0].Kind)
	assert.Equal(t, "OFFLINE", recs[0].SubType)

	// Push delivered. The discovery notification may arrive first; wait for
	// the offline message specifically.
	deadline = time.Now().Add(2 * time.Second)
	for {
		select {
		case payload := <-capture.ch:
			var msg struct {
				Device  string `json:"device"`
				Message string `json:"message"`
			}
			require.NoError(t, json.Unmarshal([]byte(payload), &msg))
			if strings.Contains(msg.Message, "offline") {
				assert.Equal(t, "Backyard", msg.Device)
				return
			}
		case <-time.After(time.Until(deadline)):
			t.Fatal("timed out waiting for the offline push notification")
		}
	}
}
