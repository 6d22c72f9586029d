// Package config loads bridge configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// StoreDriver selects the persistence backend.
type StoreDriver string

const (
	StoreMemory   StoreDriver = "memory"
	StorePostgres StoreDriver = "postgres"
)

type Config struct {
	Addr string

	Store       StoreDriver
	DatabaseURL string

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	MetricsNamespace string

	MaxBodyBytes int64

	// Media stream limits.
	StreamMaxFrameBytes int64
	StreamWriteTimeout  time.Duration
	StreamMaxDuration   time.Duration

	// Pacing of the scripted assistant turn; 0 disables pacing.
	AssistantFrameInterval time.Duration

	// Simulated telephony dial latency.
	DialLatency time.Duration

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                   envOr("CALLWIRE_BRIDGE_ADDR", ":8090"),
		Store:                  StoreDriver(envOr("CALLWIRE_BRIDGE_STORE", string(StoreMemory))),
		DatabaseURL:            strings.TrimSpace(os.Getenv("DATABASE_URL")),
		CORSAllowedOrigins:     make(map[string]struct{}),
		MetricsNamespace:       envOr("CALLWIRE_BRIDGE_METRICS_NAMESPACE", "callwire"),
		MaxBodyBytes:           envInt64Or("CALLWIRE_BRIDGE_MAX_BODY_BYTES", 1<<20), // 1 MiB
		StreamMaxFrameBytes:    envInt64Or("CALLWIRE_BRIDGE_STREAM_MAX_FRAME_BYTES", 64<<10),
		StreamWriteTimeout:     envDurationOr("CALLWIRE_BRIDGE_STREAM_WRITE_TIMEOUT", 5*time.Second),
		StreamMaxDuration:      envDurationOr("CALLWIRE_BRIDGE_STREAM_MAX_DURATION", 10*time.Minute),
		AssistantFrameInterval: envDurationOr("CALLWIRE_BRIDGE_ASSISTANT_FRAME_INTERVAL", 200*time.Millisecond),
		DialLatency:            envDurationOr("CALLWIRE_BRIDGE_DIAL_LATENCY", 300*time.Millisecond),
		ReadHeaderTimeout:      envDurationOr("CALLWIRE_BRIDGE_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:            envDurationOr("CALLWIRE_BRIDGE_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:    envDurationOr("CALLWIRE_BRIDGE_SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}

	switch cfg.Store {
	case StoreMemory, StorePostgres:
	default:
		return Config{}, fmt.Errorf("CALLWIRE_BRIDGE_STORE must be one of memory|postgres")
	}
	if cfg.Store == StorePostgres && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set when CALLWIRE_BRIDGE_STORE=postgres")
	}

	for _, origin := range splitCSV(os.Getenv("CALLWIRE_BRIDGE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("CALLWIRE_BRIDGE_MAX_BODY_BYTES must be > 0")
	}
	if cfg.StreamMaxFrameBytes <= 0 {
		return Config{}, fmt.Errorf("CALLWIRE_BRIDGE_STREAM_MAX_FRAME_BYTES must be > 0")
	}
	if cfg.StreamWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("CALLWIRE_BRIDGE_STREAM_WRITE_TIMEOUT must be > 0")
	}
	if cfg.StreamMaxDuration <= 0 {
		return Config{}, fmt.Errorf("CALLWIRE_BRIDGE_STREAM_MAX_DURATION must be > 0")
	}
	if cfg.AssistantFrameInterval < 0 {
		return Config{}, fmt.Errorf("CALLWIRE_BRIDGE_ASSISTANT_FRAME_INTERVAL must be >= 0")
	}
	if cfg.DialLatency < 0 {
		return Config{}, fmt.Errorf("CALLWIRE_BRIDGE_DIAL_LATENCY must be >= 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("CALLWIRE_BRIDGE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("CALLWIRE_BRIDGE_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("CALLWIRE_BRIDGE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
