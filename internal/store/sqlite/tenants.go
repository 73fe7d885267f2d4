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

// TenantStore implements store.TenantStore.
type TenantStore struct {
	db *sql.DB
}

func NewTenantStore(db *sql.DB) *TenantStore {
	return &TenantStore{db: db}
}

const tenantSelect = `SELECT t.id, t.name, t.admin_phone, t.created_at,
	COALESCE((SELECT g.address FROM gateway_bindings g WHERE g.tenant_id = t.id AND g.active = 1), ''),
	COALESCE((SELECT gr.address FROM group_bindings gr WHERE gr.tenant_id = t.id AND gr.active = 1), '')
	FROM tenants t`

func scanTenant(scanner interface{ Scan(...any) error }) (*store.TenantData, error) {
	var t store.TenantData
	if err := scanner.Scan(&t.ID, &t.Name, &t.AdminPhone, &t.CreatedAt, &t.GatewayAddress, &t.GroupAddress); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *TenantStore) Create(ctx context.Context, t *store.TenantData) error {
	if t.ID == uuid.Nil {
		t.ID = store.GenNewID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.AdminPhone = store.NormalizePhone(t.AdminPhone)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, admin_phone, created_at) VALUES (?, ?, ?, ?)`,
		t.ID, t.Name, t.AdminPhone, t.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

func (s *TenantStore) Get(ctx context.Context, id uuid.UUID) (*store.TenantData, error) {
	row := s.db.QueryRowContext(ctx, tenantSelect+` WHERE t.id = ?`, id)
	t, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

func (s *TenantStore) FindByAdminPhone(ctx context.Context, phone string) ([]store.TenantData, error) {
	phone = store.NormalizePhone(phone)
	if phone == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, tenantSelect+` WHERE t.admin_phone = ? ORDER BY t.created_at`, phone)
	if err != nil {
		return nil, fmt.Errorf("find tenants by admin phone: %w", err)
	}
	defer rows.Close()

	var out []store.TenantData
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
