package connections

import (
	"context"

	"github.com/google/uuid"
)

// ProviderEventType is the kind of event a transport link reports.
type ProviderEventType string

const (
	ProviderQR           ProviderEventType = "qr"
	ProviderConnected    ProviderEventType = "connected"
	ProviderDisconnected ProviderEventType = "disconnected"
	ProviderError        ProviderEventType = "error"
)

// ProviderEvent is reported by a Link while it pairs or runs.
type ProviderEvent struct {
	Type   ProviderEventType
	QRData string // qr
	PeerID string // connected: full peer id of the paired line
	Reason string // disconnected, error
}

// Provider opens transport links. The transport protocol itself lives
// behind this interface.
type Provider interface {
	// Open starts a pairing session for tenantID. Open returning does not
	// mean paired: progress arrives on Link.Events.
	Open(ctx context.Context, tenantID uuid.UUID) (Link, error)
}

// Link is one transport session for a tenant.
//
// Events is closed when the link ends. Close must not block on the
// consumer of Events.
type Link interface {
	Events() <-chan ProviderEvent
	RequestPairingCode(ctx context.Context, phone string) (string, error)
	Close() error
}
