package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 18800 {
		t.Errorf("port = %d, want 18800", cfg.Gateway.Port)
	}
	if cfg.Sessions.TTL() != 24*time.Hour {
		t.Errorf("session ttl = %v, want 24h", cfg.Sessions.TTL())
	}
	if cfg.Database.Mode != "standalone" {
		t.Errorf("mode = %q, want standalone", cfg.Database.Mode)
	}
}

func TestLoad_JSON5AndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		// comments are allowed
		gateway: { host: "127.0.0.1", port: 9000, rate_limit_rpm: 5 },
		bridge: { url: "ws://bridge:3001" },
		sessions: { backend: "redis", ttl_hours: 6 },
		log_level: "warn",
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("EDUGATE_PORT", "9100")
	t.Setenv("EDUGATE_GATEWAY_TOKEN", "op-secret")
	t.Setenv("EDUGATE_REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"host from file", cfg.Gateway.Host, "127.0.0.1"},
		{"port from env", cfg.Gateway.Port, 9100},
		{"rpm from file", cfg.Gateway.RateLimitRPM, 5},
		{"token from env", cfg.Gateway.Token, "op-secret"},
		{"bridge url", cfg.Bridge.URL, "ws://bridge:3001"},
		{"sessions backend", cfg.Sessions.Backend, "redis"},
		{"redis url from env", cfg.Sessions.RedisURL, "redis://localhost:6379/0"},
		{"session ttl", cfg.Sessions.TTL(), 6 * time.Hour},
		{"log level", cfg.Level(), "warn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{ not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestIsManagedMode(t *testing.T) {
	cfg := Default()
	if cfg.IsManagedMode() {
		t.Fatal("default config should be standalone")
	}
	cfg.Database.Mode = "managed"
	if cfg.IsManagedMode() {
		t.Fatal("managed mode without DSN should not count as managed")
	}
	cfg.Database.PostgresDSN = "postgres://localhost/edugate"
	if !cfg.IsManagedMode() {
		t.Fatal("expected managed mode")
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{log_level: "info"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, path, func(c *Config) { got <- c.LogLevel })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`{log_level: "debug"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case level := <-got:
		if level != "debug" {
			t.Errorf("reloaded level = %q, want debug", level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	cancel()
	<-done
}
