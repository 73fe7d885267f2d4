package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/edugate/internal/store"
)

// PGConnectionStore implements store.ConnectionStateStore backed by Postgres.
type PGConnectionStore struct {
	db *sql.DB
}

func NewPGConnectionStore(db *sql.DB) *PGConnectionStore {
	return &PGConnectionStore{db: db}
}

func (s *PGConnectionStore) LoadConnection(ctx context.Context, tenantID uuid.UUID) (*store.ConnectionRecord, error) {
	var (
		rec      store.ConnectionRecord
		lockTill sql.NullTime
		lastConn sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, attempts, lock_until, bound_peer_id, last_connected_at, updated_at
		 FROM connection_states WHERE tenant_id = $1`, tenantID,
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

func (s *PGConnectionStore) SaveConnection(ctx context.Context, rec store.ConnectionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO connection_states (tenant_id, attempts, lock_until, bound_peer_id, last_connected_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (tenant_id) DO UPDATE SET
		   attempts = EXCLUDED.attempts,
		   lock_until = EXCLUDED.lock_until,
		   bound_peer_id = EXCLUDED.bound_peer_id,
		   last_connected_at = EXCLUDED.last_connected_at,
		   updated_at = now()`,
		rec.TenantID, rec.Attempts, rec.LockUntil, rec.BoundPeerID, rec.LastConnectedAt,
	)
	if err != nil {
		return fmt.Errorf("save connection state: %w", err)
	}
	return nil
}

func (s *PGConnectionStore) ResetConnection(ctx context.Context, tenantID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE connection_states SET attempts = 0, lock_until = NULL, updated_at = now() WHERE tenant_id = $1`,
		tenantID)
	return err
}
