package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/markus7017/rachio-bridge/config"
	"github.com/markus7017/rachio-bridge/internal/api"
	"github.com/markus7017/rachio-bridge/internal/bridge"
	"github.com/markus7017/rachio-bridge/internal/cloud"
	"github.com/markus7017/rachio-bridge/internal/db"
	"github.com/markus7017/rachio-bridge/internal/eventlog"
	"github.com/markus7017/rachio-bridge/internal/notification"
	"github.com/markus7017/rachio-bridge/internal/ratelimit"
	"github.com/markus7017/rachio-bridge/internal/store"
	"github.com/markus7017/rachio-bridge/internal/webhook"
)

func main() {
	logger := log.New(os.Stdout, "rachio-bridge ", log.LstdFlags)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	var webpushOptions *webpush.Options
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
	} else {
		logger.Println("VAPID keys not configured, push notifications disabled")
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Sender verification for inbound webhooks. A failed initial fetch is
	// tolerated; the refresher retries and polling covers the gap.
	awsRanges := webhook.NewAWSRanges(cfg.Cloud.AWSRangesURL, cfg.Cloud.AWSRegionPrefix, cfg.Cloud.HTTPTimeout)
	if err := awsRanges.Refresh(ctx); err != nil {
		logger.Printf("initial aws ip range fetch failed: %v", err)
	}
	go awsRanges.RunRefresher(ctx, time.Duration(cfg.Cloud.AWSRefreshMinutes)*time.Minute)

	events := eventlog.New(gormDB)

	manager := bridge.NewManager()
	for _, bc := range cfg.Bridges {
		tracker := ratelimit.NewTracker()
		client := cloud.NewClient(cfg.Cloud.BaseURL, bc.APIKey, cfg.Cloud.HTTPTimeout, tracker)
		b := bridge.New(bc, client, tracker, store.NewDeviceStore())
		b.SetEventSink(events)
		manager.Add(b)
		logger.Printf("bridge %s configured (poll interval %s)", b.Name(), bc.PollingInterval)
	}

	pool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions)
	pool.Start(ctx)
	// Registering the pool as a listener is what starts each bridge's
	// polling loop.
	for _, b := range manager.Bridges() {
		b.RegisterStatusListener(pool)
	}

	webhookHandler, err := webhook.NewHandler(manager, awsRanges)
	if err != nil {
		logger.Fatalf("failed to initialize webhook handler: %v", err)
	}

	router := api.NewRouter(cfg, manager, gormDB, events, webpushOptions, webhookHandler)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	manager.StopAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}
