package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         18800,
			RateLimitRPM: 20,
		},
		Bridge: BridgeConfig{
			URL:                 "ws://localhost:3001",
			HandshakeTimeoutSec: 10,
		},
		Database: DatabaseConfig{
			Mode:       "standalone",
			SQLitePath: "~/.edugate/edugate.db",
		},
		Sessions: SessionsConfig{
			Backend:       "memory",
			TTLHours:      24,
			SweepSchedule: "*/10 * * * *",
		},
		Routing: RoutingConfig{
			BindingCacheSize:   4096,
			BindingCacheTTLSec: 300,
			DedupeTTLSec:       1200,
		},
		LogLevel: "info",
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults plus env are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	// Secrets (env only)
	envStr("EDUGATE_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("EDUGATE_JWT_SECRET", &c.Gateway.JWTSecret)
	envStr("EDUGATE_BRIDGE_TOKEN", &c.Bridge.Token)
	envStr("EDUGATE_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("EDUGATE_REDIS_URL", &c.Sessions.RedisURL)

	// Gateway host/port
	envStr("EDUGATE_HOST", &c.Gateway.Host)
	if v := os.Getenv("EDUGATE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}
	envInt("EDUGATE_RATE_LIMIT_RPM", &c.Gateway.RateLimitRPM)
	if v := os.Getenv("EDUGATE_ALLOWED_ORIGINS"); v != "" {
		c.Gateway.AllowedOrigins = strings.Split(v, ",")
	}

	// Bridge
	envStr("EDUGATE_BRIDGE_URL", &c.Bridge.URL)

	// Database
	envStr("EDUGATE_MODE", &c.Database.Mode)
	envStr("EDUGATE_SQLITE_PATH", &c.Database.SQLitePath)

	// Sessions
	envStr("EDUGATE_SESSIONS_BACKEND", &c.Sessions.Backend)
	envInt("EDUGATE_SESSIONS_TTL_HOURS", &c.Sessions.TTLHours)

	// Dispatch
	envStr("EDUGATE_DISPATCH_WEBHOOK_URL", &c.Dispatch.WebhookURL)

	// Telemetry
	envStr("EDUGATE_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("EDUGATE_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("EDUGATE_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("EDUGATE_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envBool("EDUGATE_TELEMETRY_INSECURE", &c.Telemetry.Insecure)

	envStr("EDUGATE_LOG_LEVEL", &c.LogLevel)
}

// ApplyEnvOverrides re-applies environment overrides (used after a hot reload).
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// Hash returns a SHA-256 hash of the config, used to skip no-op reloads.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// SQLitePath returns the expanded standalone database path.
func (c *Config) SQLitePath() string {
	return ExpandHome(c.Database.SQLitePath)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
