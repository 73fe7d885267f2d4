package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/edugate/internal/store"
)

// TokenStore implements store.TokenStore.
type TokenStore struct {
	db *sql.DB
}

func NewTokenStore(db *sql.DB) *TokenStore {
	return &TokenStore{db: db}
}

func (s *TokenStore) GetToken(ctx context.Context, token string) (*store.AccessToken, error) {
	var t store.AccessToken
	err := s.db.QueryRowContext(ctx,
		`SELECT token, role, user_id, tenant_id, expires_at, revoked, created_at
		 FROM access_tokens WHERE token = ?`, token,
	).Scan(&t.Token, &t.Role, &t.UserID, &t.TenantID, &t.ExpiresAt, &t.Revoked, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	return &t, nil
}

func (s *TokenStore) CreateToken(ctx context.Context, t *store.AccessToken) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO access_tokens (token, role, user_id, tenant_id, expires_at, revoked, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.Token, t.Role, t.UserID, t.TenantID, t.ExpiresAt.UTC(), t.Revoked, t.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

func (s *TokenStore) RevokeToken(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE access_tokens SET revoked = 1 WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
