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

// BindingStore implements store.BindingStore.
type BindingStore struct {
	db *sql.DB
}

func NewBindingStore(db *sql.DB) *BindingStore {
	return &BindingStore{db: db}
}

func (s *BindingStore) TenantByGatewayAddress(ctx context.Context, addr string) (uuid.UUID, error) {
	return s.lookup(ctx, `SELECT tenant_id FROM gateway_bindings WHERE address = ? AND active = 1`, store.BareAddress(addr))
}

// TenantByGroupAddress matches the address exactly as stored; callers try the
// suffixed and bare forms (store.GroupAddressForms).
func (s *BindingStore) TenantByGroupAddress(ctx context.Context, addr string) (uuid.UUID, error) {
	return s.lookup(ctx, `SELECT tenant_id FROM group_bindings WHERE address = ? AND active = 1`, addr)
}

func (s *BindingStore) lookup(ctx context.Context, query, addr string) (uuid.UUID, error) {
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

func (s *BindingStore) BindGateway(ctx context.Context, b store.GatewayBinding) error {
	addr := store.BareAddress(b.Address)
	if addr == "" {
		return fmt.Errorf("bind gateway: empty address")
	}
	status := b.Status
	if status == "" {
		status = store.BindingStatusConnected
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bind gateway: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE gateway_bindings SET active = 0 WHERE active = 1 AND (tenant_id = ? OR address = ?)`,
		b.TenantID, addr,
	); err != nil {
		return fmt.Errorf("deactivate gateway bindings: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO gateway_bindings (tenant_id, address, peer_id, status, last_connected_at, active, created_at)
		 VALUES (?, ?, ?, ?, ?, 1, ?)`,
		b.TenantID, addr, b.PeerID, status, timeArg(b.LastConnectedAt), now,
	); err != nil {
		return fmt.Errorf("insert gateway binding: %w", err)
	}
	return tx.Commit()
}

func (s *BindingStore) BindGroup(ctx context.Context, b store.GroupBinding) error {
	if b.Address == "" {
		return fmt.Errorf("bind group: empty address")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bind group: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE group_bindings SET active = 0 WHERE active = 1 AND (tenant_id = ? OR address = ?)`,
		b.TenantID, b.Address,
	); err != nil {
		return fmt.Errorf("deactivate group bindings: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO group_bindings (tenant_id, address, active, created_at) VALUES (?, ?, 1, ?)`,
		b.TenantID, b.Address, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("insert group binding: %w", err)
	}
	return tx.Commit()
}

func (s *BindingStore) MarkGatewayStatus(ctx context.Context, tenantID uuid.UUID, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE gateway_bindings SET status = ? WHERE tenant_id = ? AND active = 1`, status, tenantID)
	if err != nil {
		return fmt.Errorf("mark gateway status: %w", err)
	}
	return nil
}

func (s *BindingStore) GetGatewayBinding(ctx context.Context, tenantID uuid.UUID) (*store.GatewayBinding, error) {
	var (
		b  store.GatewayBinding
		lc sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, address, peer_id, status, last_connected_at, active
		 FROM gateway_bindings WHERE tenant_id = ? AND active = 1`, tenantID,
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

func (s *BindingStore) GetGroupBinding(ctx context.Context, tenantID uuid.UUID) (*store.GroupBinding, error) {
	var b store.GroupBinding
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, address, active FROM group_bindings WHERE tenant_id = ? AND active = 1`, tenantID,
	).Scan(&b.TenantID, &b.Address, &b.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get group binding: %w", err)
	}
	return &b, nil
}
