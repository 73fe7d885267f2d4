package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/edugate/internal/store"
)

// PGIdentityStore implements store.IdentityStore backed by Postgres.
type PGIdentityStore struct {
	db *sql.DB
}

func NewPGIdentityStore(db *sql.DB) *PGIdentityStore {
	return &PGIdentityStore{db: db}
}

func (s *PGIdentityStore) FindIdentity(ctx context.Context, phone string, tenantID uuid.UUID) (*store.UserIdentity, error) {
	var id store.UserIdentity
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, phone, role, tenant_id, display_name
		 FROM user_identities WHERE phone = $1 AND tenant_id = $2`,
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

func (s *PGIdentityStore) TenantsByStaffPhone(ctx context.Context, phone string) ([]uuid.UUID, error) {
	return s.tenantIDs(ctx,
		`SELECT u.tenant_id FROM user_identities u JOIN tenants t ON t.id = u.tenant_id
		 WHERE u.phone = $1 ORDER BY t.created_at`, phone)
}

func (s *PGIdentityStore) FindGuardian(ctx context.Context, phone string, tenantID uuid.UUID) (*store.GuardianEntry, error) {
	var g store.GuardianEntry
	err := s.db.QueryRowContext(ctx,
		`SELECT phone, tenant_id, guardian_id, name, active
		 FROM guardians WHERE phone = $1 AND tenant_id = $2 AND active`,
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

func (s *PGIdentityStore) TenantsByGuardianPhone(ctx context.Context, phone string) ([]uuid.UUID, error) {
	return s.tenantIDs(ctx,
		`SELECT g.tenant_id FROM guardians g JOIN tenants t ON t.id = g.tenant_id
		 WHERE g.phone = $1 AND g.active ORDER BY t.created_at`, phone)
}

func (s *PGIdentityStore) tenantIDs(ctx context.Context, query, phone string) ([]uuid.UUID, error) {
	phone = store.NormalizePhone(phone)
	if phone == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, query, phone)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PGIdentityStore) UpsertIdentity(ctx context.Context, id store.UserIdentity) error {
	if id.UserID == uuid.Nil {
		id.UserID = store.GenNewID()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_identities (user_id, phone, role, tenant_id, display_name)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (phone, tenant_id) DO UPDATE SET
		   role = EXCLUDED.role, display_name = EXCLUDED.display_name`,
		id.UserID, store.NormalizePhone(id.Phone), id.Role, id.TenantID, id.DisplayName,
	)
	return err
}

func (s *PGIdentityStore) UpsertGuardian(ctx context.Context, g store.GuardianEntry) error {
	if g.GuardianID == uuid.Nil {
		g.GuardianID = store.GenNewID()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO guardians (phone, tenant_id, guardian_id, name, active)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (phone, tenant_id) DO UPDATE SET
		   name = EXCLUDED.name, active = EXCLUDED.active`,
		store.NormalizePhone(g.Phone), g.TenantID, g.GuardianID, g.Name, g.Active,
	)
	return err
}
