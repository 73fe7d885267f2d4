package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AccessToken is a role- and tenant-scoped credential embedded in message text.
type AccessToken struct {
	Token     string    `json:"token"` // normalized form, e.g. "ST-EDU-7K2P9Q"
	Role      Role      `json:"role"`  // staff or guardian
	UserID    uuid.UUID `json:"user_id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
}

// Usable reports whether the token may still resolve an identity at now.
func (t *AccessToken) Usable(now time.Time) bool {
	return t != nil && !t.Revoked && now.Before(t.ExpiresAt)
}

// TokenStore persists access tokens.
type TokenStore interface {
	// GetToken returns the token row for a normalized token string, or ErrNotFound.
	// Revoked and expired rows are returned; callers check Usable.
	GetToken(ctx context.Context, token string) (*AccessToken, error)
	CreateToken(ctx context.Context, t *AccessToken) error
	RevokeToken(ctx context.Context, token string) error
}
