package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/edugate/internal/store"
)

// PGTenantStore implements store.TenantStore backed by Postgres.
type PGTenantStore struct {
	db *sql.DB
}

func NewPGTenantStore(db *sql.DB) *PGTenantStore {
	return &PGTenantStore{db: db}
}

const tenantSelect = `SELECT t.id, t.name, t.admin_phone, t.created_at,
	COALESCE(g.address, ''), COALESCE(gr.address, '')
	FROM tenants t
	LEFT JOIN gateway_bindings g ON g.tenant_id = t.id AND g.active
	LEFT JOIN group_bindings gr ON gr.tenant_id = t.id AND gr.active`

func scanTenant(row interface{ Scan(...any) error }) (*store.TenantData, error) {
	var t store.TenantData
	if err := row.Scan(&t.ID, &t.Name, &t.AdminPhone, &t.CreatedAt, &t.GatewayAddress, &t.GroupAddress); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PGTenantStore) Create(ctx context.Context, t *store.TenantData) error {
	if t.ID == uuid.Nil {
		t.ID = store.GenNewID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.AdminPhone = store.NormalizePhone(t.AdminPhone)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, admin_phone, created_at) VALUES ($1, $2, $3, $4)`,
		t.ID, t.Name, t.AdminPhone, t.CreatedAt,
	)
	return err
}

func (s *PGTenantStore) Get(ctx context.Context, id uuid.UUID) (*store.TenantData, error) {
	t, err := scanTenant(s.db.QueryRowContext(ctx, tenantSelect+` WHERE t.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

func (s *PGTenantStore) FindByAdminPhone(ctx context.Context, phone string) ([]store.TenantData, error) {
	phone = store.NormalizePhone(phone)
	if phone == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, tenantSelect+` WHERE t.admin_phone = $1 ORDER BY t.created_at`, phone)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.TenantData
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
