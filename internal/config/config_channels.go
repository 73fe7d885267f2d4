package config

import "time"

// GatewayConfig controls the HTTP command surface.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Token          string   `json:"-"`                         // operator bearer token, from env EDUGATE_GATEWAY_TOKEN only
	JWTSecret      string   `json:"-"`                         // HS256 secret for tenant admin tokens, from env EDUGATE_JWT_SECRET only
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // WebSocket origin whitelist (empty = allow all)
	RateLimitRPM   int      `json:"rate_limit_rpm,omitempty"`  // connection commands per minute per tenant (default 20, <0 = disabled)
}

// BridgeConfig points at the messaging bridge that owns the transport protocol.
// The bridge handles the actual network session; edugate only drives pairing
// and receives messages over a per-tenant WebSocket.
type BridgeConfig struct {
	URL                 string `json:"url"`                             // e.g. "ws://localhost:3001"
	Token               string `json:"-"`                               // from env EDUGATE_BRIDGE_TOKEN only
	HandshakeTimeoutSec int    `json:"handshake_timeout_sec,omitempty"` // default 10
}

// HandshakeTimeout returns the WebSocket dial timeout.
func (b BridgeConfig) HandshakeTimeout() time.Duration {
	if b.HandshakeTimeoutSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(b.HandshakeTimeoutSec) * time.Second
}
