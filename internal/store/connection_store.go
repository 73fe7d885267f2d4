package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ConnectionRecord is the durable half of a tenant's connection state.
// The attempt counter and lock survive restarts so a lock cannot be bypassed
// by bouncing the process; pairing artifacts stay in memory.
type ConnectionRecord struct {
	TenantID        uuid.UUID  `json:"tenant_id"`
	Attempts        int        `json:"attempts"`
	LockUntil       *time.Time `json:"lock_until,omitempty"`
	BoundPeerID     string     `json:"bound_peer_id,omitempty"`
	LastConnectedAt *time.Time `json:"last_connected_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ConnectionStateStore persists ConnectionRecords.
type ConnectionStateStore interface {
	// LoadConnection returns the record for tenantID, or ErrNotFound.
	LoadConnection(ctx context.Context, tenantID uuid.UUID) (*ConnectionRecord, error)
	SaveConnection(ctx context.Context, rec ConnectionRecord) error
	// ResetConnection clears the attempt counter and lock.
	ResetConnection(ctx context.Context, tenantID uuid.UUID) error
}
