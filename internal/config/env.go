package config

import (
	"os"
	"strconv"
	"time"
)

// FromEnv overlays THREADLINE_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("THREADLINE_BROKER_URL"); v != "" {
		cfg.BrokerURL = v
	}
	if v := os.Getenv("THREADLINE_QUEUE_NAME"); v != "" {
		cfg.QueueName = v
	}
	if v := os.Getenv("THREADLINE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("THREADLINE_OPS_ADDR"); v != "" {
		cfg.OpsAddr = v
	}
	if v := os.Getenv("THREADLINE_HUB_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HubBuffer = n
		}
	}
	if v := os.Getenv("THREADLINE_RECONNECT_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Reconnect.MaxAttempts = n
		}
	}
	if v := os.Getenv("THREADLINE_RECONNECT_INITIAL_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Reconnect.InitialDelay = d
		}
	}
	if v := os.Getenv("THREADLINE_RECONNECT_MAX_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Reconnect.MaxDelay = d
		}
	}
	if v := os.Getenv("THREADLINE_RECONNECT_MULTIPLIER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Reconnect.Multiplier = f
		}
	}
	if v := os.Getenv("THREADLINE_RECONNECT_JITTER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Reconnect.Jitter = b
		}
	}
}
