package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/edugate/internal/store"
)

// PGTokenStore implements store.TokenStore backed by Postgres.
type PGTokenStore struct {
	db *sql.DB
}

func NewPGTokenStore(db *sql.DB) *PGTokenStore {
	return &PGTokenStore{db: db}
}

func (s *PGTokenStore) GetToken(ctx context.Context, token string) (*store.AccessToken, error) {
	var t store.AccessToken
	err := s.db.QueryRowContext(ctx,
		`SELECT token, role, user_id, tenant_id, expires_at, revoked, created_at
		 FROM access_tokens WHERE token = $1`, token,
	).Scan(&t.Token, &t.Role, &t.UserID, &t.TenantID, &t.ExpiresAt, &t.Revoked, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	return &t, nil
}

func (s *PGTokenStore) CreateToken(ctx context.Context, t *store.AccessToken) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO access_tokens (token, role, user_id, tenant_id, expires_at, revoked, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.Token, t.Role, t.UserID, t.TenantID, t.ExpiresAt, t.Revoked, t.CreatedAt,
	)
	return err
}

func (s *PGTokenStore) RevokeToken(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE access_tokens SET revoked = true WHERE token = $1`, token)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
