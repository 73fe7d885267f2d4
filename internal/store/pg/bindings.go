package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/edugate/internal/store"
)

// PGBindingStore implements store.BindingStore backed by Postgres.
type PGBindingStore struct {
	db *sql.DB
}

func NewPGBindingStore(db *sql.DB) *PGBindingStore {
	return &PGBindingStore{db: db}
}

func (s *PGBindingStore) TenantByGatewayAddress(ctx context.Context, addr string) (uuid.UUID, error) {
	return s.lookup(ctx, `SELECT tenant_id FROM gateway_bindings WHERE address = $1 AND active`, store.BareAddress(addr))
}

func (s *PGBindingStore) TenantByGroupAddress(ctx context.Context, addr string) (uuid.UUID, error) {
	return s.lookup(ctx, `SELECT tenant_id FROM group_bindings WHERE address = $1 AND active`, addr)
}

func (s *PGBindingStore) lookup(ctx context.Context, query, addr string) (uuid.UUID, error) {
	if addr == "" {
		return uuid.Nil, store.ErrNotFound
	}
	var id uuid.UUID
	err := s.db.QueryRowContext(ctx, query, addr).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, store.ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("lookup binding: %w", err)
	}
	return id, nil
}

func (s *PGBindingStore) BindGateway(ctx context.Context, b store.GatewayBinding) error {
	addr := store.BareAddress(b.Address)
	if addr == "" {
		return fmt.Errorf("bind gateway: empty address")
	}
	status := b.Status
	if status == "" {
		status = store.BindingStatusConnected
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE gateway_bindings SET active = false WHERE active AND (tenant_id = $1 OR address = $2)`,
		b.TenantID, addr,
	); err != nil {
		return fmt.Errorf("deactivate gateway bindings: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO gateway_bindings (tenant_id, address, peer_id, status, last_connected_at, active)
		 VALUES ($1, $2, $3, $4, $5, true)`,
		b.TenantID, addr, b.PeerID, status, b.LastConnectedAt,
	); err != nil {
		return fmt.Errorf("insert gateway binding: %w", err)
	}
	return tx.Commit()
}

func (s *PGBindingStore) BindGroup(ctx context.Context, b store.GroupBinding) error {
	if b.Address == "" {
		return fmt.Errorf("bind group: empty address")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE group_bindings SET active = false WHERE active AND (tenant_id = $1 OR address = $2)`,
		b.TenantID, b.Address,
	); err != nil {
		return fmt.Errorf("deactivate group bindings: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO group_bindings (tenant_id, address, active) VALUES ($1, $2, true)`,
		b.TenantID, b.Address,
	); err != nil {
		return fmt.Errorf("insert group binding: %w", err)
	}
	return tx.Commit()
}

func (s *PGBindingStore) MarkGatewayStatus(ctx context.Context, tenantID uuid.UUID, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE gateway_bindings SET status = $1 WHERE tenant_id = $2 AND active`, status, tenantID)
	return err
}

func (s *PGBindingStore) GetGatewayBinding(ctx context.Context, tenantID uuid.UUID) (*store.GatewayBinding, error) {
	var (
		b  store.GatewayBinding
		lc sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, address, peer_id, status, last_connected_at, active
		 FROM gateway_bindings WHERE tenant_id = $1 AND active`, tenantID,
	).Scan(&b.TenantID, &b.Address, &b.PeerID, &b.Status, &lc, &b.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get gateway binding: %w", err)
	}
	b.LastConnectedAt = nullTimePtr(lc)
	return &b, nil
}

func (s *PGBindingStore) GetGroupBinding(ctx context.Context, tenantID uuid.UUID) (*store.GroupBinding, error) {
	var b store.GroupBinding
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, address, active FROM group_bindings WHERE tenant_id = $1 AND active`, tenantID,
	).Scan(&b.TenantID, &b.Address, &b.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get group binding: %w", err)
	}
	return &b, nil
}
