package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/edugate/internal/store"
)

// ConnectionStore implements store.ConnectionStateStore.
type ConnectionStore struct {
	db *sql.DB
}

func NewConnectionStore(db *sql.DB) *ConnectionStore {
	return &ConnectionStore{db: db}
}

func (s *ConnectionStore) LoadConnection(ctx context.Context, tenantID uuid.UUID) (*store.ConnectionRecord, error) {
	var (
		rec      store.ConnectionRecord
		lockTill sql.NullTime
		lastConn sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, attempts, lock_until, bound_peer_id, last_connected_at, updated_at
		 FROM connection_states WHERE tenant_id = ?`, tenantID,
	).Scan(&rec.TenantID, &rec.Attempts, &lockTill, &rec.BoundPeerID, &lastConn, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load connection state: %w", err)
	}
	rec.LockUntil = nullTimePtr(lockTill)
	rec.LastConnectedAt = nullTimePtr(lastConn)
	return &rec, nil
}

func (s *ConnectionStore) SaveConnection(ctx context.Context, rec store.ConnectionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO connection_states (tenant_id, attempts, lock_until, bound_peer_id, last_connected_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id) DO UPDATE SET
		   attempts = excluded.attempts,
		   lock_until = excluded.lock_until,
		   bound_peer_id = excluded.bound_peer_id,
		   last_connected_at = excluded.last_connected_at,
		   updated_at = excluded.updated_at`,
		rec.TenantID, rec.Attempts, timeArg(rec.LockUntil), rec.BoundPeerID, timeArg(rec.LastConnectedAt), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save connection state: %w", err)
	}
	return nil
}

func (s *ConnectionStore) ResetConnection(ctx context.Context, tenantID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE connection_states SET attempts = 0, lock_until = NULL, updated_at = ? WHERE tenant_id = ?`,
		time.Now().UTC(), tenantID,
	)
	if err != nil {
		return fmt.Errorf("reset connection state: %w", err)
	}
	return nil
}
