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

// IdentityStore implements store.IdentityStore.
type IdentityStore struct {
	db *sql.DB
}

func NewIdentityStore(db *sql.DB) *IdentityStore {
	return &IdentityStore{db: db}
}

func (s *IdentityStore) FindIdentity(ctx context.Context, phone string, tenantID uuid.UUID) (*store.UserIdentity, error) {
	var id store.UserIdentity
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, phone, role, tenant_id, display_name
		 FROM user_identities WHERE phone = ? AND tenant_id = ?`,
		store.NormalizePhone(phone), tenantID,
	).Scan(&id.UserID, &id.Phone, &id.Role, &id.TenantID, &id.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find identity: %w", err)
	}
	return &id, nil
}

func (s *IdentityStore) TenantsByStaffPhone(ctx context.Context, phone string) ([]uuid.UUID, error) {
	return s.tenantIDs(ctx,
		`SELECT u.tenant_id FROM user_identities u JOIN tenants t ON t.id = u.tenant_id
		 WHERE u.phone = ? ORDER BY t.created_at`, phone)
}

func (s *IdentityStore) FindGuardian(ctx context.Context, phone string, tenantID uuid.UUID) (*store.GuardianEntry, error) {
	var g store.GuardianEntry
	err := s.db.QueryRowContext(ctx,
		`SELECT phone, tenant_id, guardian_id, name, active
		 FROM guardians WHERE phone = ? AND tenant_id = ? AND active = 1`,
		store.NormalizePhone(phone), tenantID,
	).Scan(&g.Phone, &g.TenantID, &g.GuardianID, &g.Name, &g.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find guardian: %w", err)
	}
	return &g, nil
}

func (s *IdentityStore) TenantsByGuardianPhone(ctx context.Context, phone string) ([]uuid.UUID, error) {
	return s.tenantIDs(ctx,
		`SELECT g.tenant_id FROM guardians g JOIN tenants t ON t.id = g.tenant_id
		 WHERE g.phone = ? AND g.active = 1 ORDER BY t.created_at`, phone)
}

func (s *IdentityStore) tenantIDs(ctx context.Context, query, phone string) ([]uuid.UUID, error) {
	phone = store.NormalizePhone(phone)
	if phone == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, query, phone)
	if err != nil {
		return nil, fmt.Errorf("list tenants by phone: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tenant id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *IdentityStore) UpsertIdentity(ctx context.Context, id store.UserIdentity) error {
	if id.UserID == uuid.Nil {
		id.UserID = store.GenNewID()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_identities (user_id, phone, role, tenant_id, display_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (phone, tenant_id) DO UPDATE SET
		   user_id = excluded.user_id, role = excluded.role, display_name = excluded.display_name`,
		id.UserID, store.NormalizePhone(id.Phone), id.Role, id.TenantID, id.DisplayName, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert identity: %w", err)
	}
	return nil
}

func (s *IdentityStore) UpsertGuardian(ctx context.Context, g store.GuardianEntry) error {
	if g.GuardianID == uuid.Nil {
		g.GuardianID = store.GenNewID()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO guardians (phone, tenant_id, guardian_id, name, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (phone, tenant_id) DO UPDATE SET
		   guardian_id = excluded.guardian_id, name = excluded.name, active = excluded.active`,
		store.NormalizePhone(g.Phone), g.TenantID, g.GuardianID, g.Name, g.Active, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert guardian: %w", err)
	}
	return nil
}
