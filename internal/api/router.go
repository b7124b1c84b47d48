package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/markus7017/rachio-bridge/config"
	"github.com/markus7017/rachio-bridge/internal/bridge"
	"github.com/markus7017/rachio-bridge/internal/eventlog"
	"github.com/markus7017/rachio-bridge/internal/mw"
	"github.com/markus7017/rachio-bridge/internal/webhook"
)

// NewRouter creates and configures the gin router. The webhook endpoint is
// mounted outside the /api group so the cloud is never rate limited or
// served from cache.
func NewRouter(cfg *config.Config, m *bridge.Manager, db *gorm.DB, events *eventlog.Log,
	webpushOptions *webpush.Options, wh *webhook.Handler) *gin.Engine {

	r := gin.Default()
	handler := NewHandler(m, db, events, webpushOptions)

	wh.Register(r, cfg.Server.WebhookPath)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst)

	cacheTTL := time.Duration(cfg.Server.CacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Second
	}
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/bridges", handler.GetBridges)
		api.GET("/bridges/:bridge", handler.GetBridge)

		api.GET("/bridges/:bridge/devices", caching, handler.GetDevices)
		api.GET("/bridges/:bridge/devices/:device", caching, handler.GetDevice)
		api.GET("/bridges/:bridge/devices/:device/zones", caching, handler.GetZones)
		api.POST("/bridges/:bridge/devices/:device/enable", handler.PostDeviceEnable)
		api.POST("/bridges/:bridge/devices/:device/disable", handler.PostDeviceDisable)
		api.POST("/bridges/:bridge/devices/:device/stop_water", handler.PostDeviceStopWater)
		api.POST("/bridges/:bridge/devices/:device/rain_delay", handler.PostDeviceRainDelay)
		api.POST("/bridges/:bridge/devices/:device/run", handler.PostDeviceRun)
		api.PUT("/bridges/:bridge/devices/:device/run_selection", handler.PutRunSelection)
		api.POST("/bridges/:bridge/devices/:device/zones/:zone/start", handler.PostZoneStart)
		api.PUT("/bridges/:bridge/devices/:device/zones/:zone/runtime", handler.PutZoneRuntime)

		api.GET("/events", handler.GetEvents)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
