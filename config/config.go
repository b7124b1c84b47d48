package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Cloud      CloudConfig      `yaml:"cloud"`
	Database   DatabaseConfig   `yaml:"database"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Bridges    []BridgeConfig   `yaml:"bridges"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	WebhookPath     string  `yaml:"webhook_path"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// CloudConfig holds the Rachio cloud API connection settings shared by all bridges.
type CloudConfig struct {
	BaseURL            string        `yaml:"base_url"`
	HTTPTimeoutSeconds int           `yaml:"http_timeout_seconds"`
	HTTPTimeout        time.Duration `yaml:"-"` // Ignored by YAML parser
	AWSRangesURL       string        `yaml:"aws_ranges_url"`
	AWSRegionPrefix    string        `yaml:"aws_region_prefix"`
	AWSRefreshMinutes  int           `yaml:"aws_refresh_minutes"`
}

// BridgeConfig holds the per-account (per API key) bridge configuration.
type BridgeConfig struct {
	Name                   string        `yaml:"name"`
	APIKey                 string        `yaml:"api_key"`
	PollingIntervalSeconds int           `yaml:"polling_interval_seconds"`
	PollingInterval        time.Duration `yaml:"-"` // Ignored by YAML parser
	DefaultRuntimeSeconds  int           `yaml:"default_runtime_seconds"`
	CallbackURL            string        `yaml:"callback_url"`
	ClearAllCallbacks      bool          `yaml:"clear_all_callbacks"`
	IPFilter               string        `yaml:"ip_filter"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// Defaults matching the Rachio cloud service.
const (
	DefaultBaseURL         = "https://api.rach.io/1/public/"
	DefaultWebhookPath     = "/rachio/webhook"
	DefaultAWSRangesURL    = "https://ip-ranges.amazonaws.com/ip-ranges.json"
	DefaultAWSRegionPrefix = "us-"
	DefaultPollingInterval = 120
	DefaultZoneRuntime     = 300
	DefaultHTTPTimeout     = 15
)

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Server.WebhookPath == "" {
		cfg.Server.WebhookPath = DefaultWebhookPath
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}

	if cfg.Cloud.BaseURL == "" {
		cfg.Cloud.BaseURL = DefaultBaseURL
	}
	if cfg.Cloud.HTTPTimeoutSeconds <= 0 {
		cfg.Cloud.HTTPTimeoutSeconds = DefaultHTTPTimeout
	}
	cfg.Cloud.HTTPTimeout = time.Duration(cfg.Cloud.HTTPTimeoutSeconds) * time.Second
	if cfg.Cloud.AWSRangesURL == "" {
		cfg.Cloud.AWSRangesURL = DefaultAWSRangesURL
	}
	if cfg.Cloud.AWSRegionPrefix == "" {
		cfg.Cloud.AWSRegionPrefix = DefaultAWSRegionPrefix
	}
	if cfg.Cloud.AWSRefreshMinutes <= 0 {
		cfg.Cloud.AWSRefreshMinutes = 24 * 60
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if len(cfg.Bridges) == 0 {
		return nil, fmt.Errorf("at least one bridge must be configured")
	}
	for i := range cfg.Bridges {
		b := &cfg.Bridges[i]
		if b.APIKey == "" {
			return nil, fmt.Errorf("bridge %d: api_key must be set", i)
		}
		if b.Name == "" {
			b.Name = fmt.Sprintf("bridge-%d", i+1)
		}
		if b.PollingIntervalSeconds <= 0 {
			b.PollingIntervalSeconds = DefaultPollingInterval
		}
		b.PollingInterval = time.Duration(b.PollingIntervalSeconds) * time.Second
		if b.DefaultRuntimeSeconds <= 0 {
			b.DefaultRuntimeSeconds = DefaultZoneRuntime
		}
	}

	return &cfg, nil
}
