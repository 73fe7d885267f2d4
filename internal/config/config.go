package config

import (
	"sync"
	"time"
)

// Config is the root configuration for the edugate gateway.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Bridge    BridgeConfig    `json:"bridge"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Sessions  SessionsConfig  `json:"sessions,omitempty"`
	Routing   RoutingConfig   `json:"routing,omitempty"`
	Dispatch  DispatchConfig  `json:"dispatch,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	LogLevel  string          `json:"log_level,omitempty"` // "debug", "info" (default), "warn", "error"
	mu        sync.RWMutex
}

// DatabaseConfig selects the durable store.
// PostgresDSN is NEVER read from config.json (secret) — only from env EDUGATE_POSTGRES_DSN.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`                     // from env EDUGATE_POSTGRES_DSN only
	Mode        string `json:"mode,omitempty"`        // "standalone" (default, SQLite) or "managed" (Postgres)
	SQLitePath  string `json:"sqlite_path,omitempty"` // default "~/.edugate/edugate.db"
}

// IsManagedMode returns true if the gateway persists to Postgres.
func (c *Config) IsManagedMode() bool {
	return c.Database.Mode == "managed" && c.Database.PostgresDSN != ""
}

// SessionsConfig controls the ephemeral per-phone session store.
type SessionsConfig struct {
	Backend       string `json:"backend,omitempty"`        // "memory" (default) or "redis"
	RedisURL      string `json:"-"`                        // from env EDUGATE_REDIS_URL only
	TTLHours      int    `json:"ttl_hours,omitempty"`      // session lifetime (default 24)
	SweepSchedule string `json:"sweep_schedule,omitempty"` // cron expression for expired-session cleanup (default "*/10 * * * *")
}

// TTL returns the session lifetime.
func (s SessionsConfig) TTL() time.Duration {
	if s.TTLHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(s.TTLHours) * time.Hour
}

// RoutingConfig tunes the tenant resolver caches.
type RoutingConfig struct {
	BindingCacheSize   int `json:"binding_cache_size,omitempty"`    // default 4096
	BindingCacheTTLSec int `json:"binding_cache_ttl_sec,omitempty"` // default 300
	DedupeTTLSec       int `json:"dedupe_ttl_sec,omitempty"`        // inbound dedupe window (default 1200)
}

// BindingCacheTTL returns the binding cache entry lifetime.
func (r RoutingConfig) BindingCacheTTL() time.Duration {
	if r.BindingCacheTTLSec <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(r.BindingCacheTTLSec) * time.Second
}

// DedupeTTL returns the inbound message dedupe window.
func (r RoutingConfig) DedupeTTL() time.Duration {
	if r.DedupeTTLSec <= 0 {
		return 20 * time.Minute
	}
	return time.Duration(r.DedupeTTLSec) * time.Second
}

// DispatchConfig points routed messages at the downstream agent service.
type DispatchConfig struct {
	WebhookURL string `json:"webhook_url,omitempty"` // empty = log-only dispatcher
	TimeoutSec int    `json:"timeout_sec,omitempty"` // default 15
}

// Timeout returns the webhook request timeout.
func (d DispatchConfig) Timeout() time.Duration {
	if d.TimeoutSec <= 0 {
		return 15 * time.Second
	}
	return time.Duration(d.TimeoutSec) * time.Second
}

// TelemetryConfig configures OpenTelemetry export for traces and spans.
// When enabled, spans are exported to an OTLP-compatible backend (Jaeger, Tempo, Datadog, etc.).
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`      // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317", "otel.example.com:4318")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // plaintext transport (set true for local dev)
	ServiceName string            `json:"service_name,omitempty"` // OTEL service name (default "edugate-gateway")
	Headers     map[string]string `json:"headers,omitempty"`      // extra headers (e.g. auth tokens for cloud backends)
}

// Level returns the configured log level, safe for concurrent use with Replace.
func (c *Config) Level() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.LogLevel
}

// Replace swaps in the hot-reloadable fields from a freshly loaded config.
// Only the log level is reloadable; listener addresses, DSNs and store modes
// require a restart.
func (c *Config) Replace(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LogLevel = src.LogLevel
}
