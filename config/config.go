// Package config loads the messaging core's settings from defaults, an
// optional YAML file, and environment variables, in that order of
// precedence (env wins). A .env file in the working directory is honored for
// development setups.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the messaging core.
type Config struct {
	APIBaseURL string `yaml:"api_base_url"` // REST endpoint root
	WSURL      string `yaml:"ws_url"`       // persistent channel endpoint
	NATSURL    string `yaml:"nats_url"`     // broker endpoint for headless deployments
	RedisAddr  string `yaml:"redis_addr"`   // warm cache; empty disables it

	RequestTimeout    time.Duration `yaml:"request_timeout"`
	SendTimeout       time.Duration `yaml:"send_timeout"`
	SendRetries       int           `yaml:"send_retries"`
	SendRetryBase     time.Duration `yaml:"send_retry_base"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ReconnectBase     time.Duration `yaml:"reconnect_base"`
	ReconnectMax      time.Duration `yaml:"reconnect_max"`
	PageSize          int           `yaml:"page_size"`

	UploadMaxBytes     int64    `yaml:"upload_max_bytes"`
	UploadAllowedTypes []string `yaml:"upload_allowed_types"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		APIBaseURL:        "http://localhost:8080/api",
		WSURL:             "ws://localhost:8080/ws",
		NATSURL:           "nats://localhost:4222",
		RequestTimeout:    15 * time.Second,
		SendTimeout:       10 * time.Second,
		SendRetries:       3,
		SendRetryBase:     500 * time.Millisecond,
		HeartbeatInterval: 30 * time.Second,
		ReconnectBase:     1 * time.Second,
		ReconnectMax:      30 * time.Second,
		PageSize:          30,
		UploadMaxBytes:    25 << 20,
		UploadAllowedTypes: []string{
			"image/jpeg", "image/png", "image/gif", "image/webp",
			"application/pdf", "text/plain",
		},
	}
}

// Load builds the configuration: defaults, overlaid with the YAML file at
// path (skipped when path is empty), overlaid with environment variables.
// A .env file is loaded first if present; a missing one is not an error.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides fields from MESSENGER_* environment variables.
// Malformed values are ignored in favor of the current setting.
func (c *Config) applyEnv() {
	if v := os.Getenv("MESSENGER_API_BASE_URL"); v != "" {
		c.APIBaseURL = v
	}
	if v := os.Getenv("MESSENGER_WS_URL"); v != "" {
		c.WSURL = v
	}
	if v := os.Getenv("MESSENGER_NATS_URL"); v != "" {
		c.NATSURL = v
	}
	if v := os.Getenv("MESSENGER_REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("MESSENGER_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RequestTimeout = d
		}
	}
	if v := os.Getenv("MESSENGER_SEND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SendTimeout = d
		}
	}
	if v := os.Getenv("MESSENGER_SEND_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.SendRetries = n
		}
	}
	if v := os.Getenv("MESSENGER_SEND_RETRY_BASE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SendRetryBase = d
		}
	}
	if v := os.Getenv("MESSENGER_HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.HeartbeatInterval = d
		}
	}
	if v := os.Getenv("MESSENGER_RECONNECT_BASE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ReconnectBase = d
		}
	}
	if v := os.Getenv("MESSENGER_RECONNECT_MAX"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ReconnectMax = d
		}
	}
	if v := os.Getenv("MESSENGER_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.PageSize = n
		}
	}
	if v := os.Getenv("MESSENGER_UPLOAD_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.UploadMaxBytes = n
		}
	}
}
