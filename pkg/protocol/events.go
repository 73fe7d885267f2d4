package protocol

// Connection event names pushed to dashboard clients over the event stream.
const (
	EventConnecting         = "connecting"
	EventQR                 = "qr"
	EventConnected          = "connected"
	EventDisconnected       = "disconnected"
	EventLocked             = "locked"
	EventPairingCode        = "pairing-code"
	EventPairingCodeExpired = "pairing-code-expired"
	EventPairingError       = "pairing-error"
	EventError              = "error"
)

// Cache invalidation events (internal, not forwarded to stream clients).
const (
	EventCacheInvalidate = "cache.invalidate"
)

// IsTerminalEvent reports whether an event ends a connection event stream.
// pairing-code-expired does not end a stream; the caller may request a fresh
// code on the same one.
func IsTerminalEvent(name string) bool {
	switch name {
	case EventConnected, EventDisconnected, EventLocked, EventPairingError, EventError:
		return true
	}
	return false
}
