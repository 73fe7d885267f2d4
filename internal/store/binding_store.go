package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Gateway binding statuses.
const (
	BindingStatusConnected    = "connected"
	BindingStatusDisconnected = "disconnected"
)

// GatewayBinding maps a direct transport address (the tenant's paired line) to a tenant.
type GatewayBinding struct {
	TenantID        uuid.UUID  `json:"tenant_id"`
	Address         string     `json:"address"` // bare address, no network suffix
	PeerID          string     `json:"peer_id"` // full peer identifier reported by the provider
	Status          string     `json:"status"`
	LastConnectedAt *time.Time `json:"last_connected_at,omitempty"`
	Active          bool       `json:"active"`
}

// GroupBinding maps a group transport address to a tenant.
type GroupBinding struct {
	TenantID uuid.UUID `json:"tenant_id"`
	Address  string    `json:"address"`
	Active   bool      `json:"active"`
}

// BindingStore persists gateway and group bindings.
// At most one active binding of each kind exists per tenant, and an address
// is actively bound to at most one tenant.
type BindingStore interface {
	// TenantByGatewayAddress returns the tenant actively bound to addr, or ErrNotFound.
	TenantByGatewayAddress(ctx context.Context, addr string) (uuid.UUID, error)
	// TenantByGroupAddress returns the tenant actively bound to group addr, or ErrNotFound.
	TenantByGroupAddress(ctx context.Context, addr string) (uuid.UUID, error)
	// BindGateway activates b, deactivating the tenant's previous binding and
	// any other tenant's binding for the same address.
	BindGateway(ctx context.Context, b GatewayBinding) error
	// BindGroup activates a group binding with the same replacement rules.
	BindGroup(ctx context.Context, b GroupBinding) error
	// MarkGatewayStatus updates the status of the tenant's active binding.
	MarkGatewayStatus(ctx context.Context, tenantID uuid.UUID, status string) error
	// GetGatewayBinding returns the tenant's active gateway binding, or ErrNotFound.
	GetGatewayBinding(ctx context.Context, tenantID uuid.UUID) (*GatewayBinding, error)
	// GetGroupBinding returns the tenant's active group binding, or ErrNotFound.
	GetGroupBinding(ctx context.Context, tenantID uuid.UUID) (*GroupBinding, error)
}
