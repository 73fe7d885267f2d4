package store

import (
	"context"

	"github.com/google/uuid"
)

// Role is the human role behind a message.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleStaff    Role = "staff"
	RoleGuardian Role = "guardian"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleStaff, RoleGuardian:
		return true
	}
	return false
}

// UserIdentity binds a phone to a role inside one tenant.
// Role is exclusive per (phone, tenant); the same phone may hold different
// roles in different tenants.
type UserIdentity struct {
	UserID      uuid.UUID `json:"user_id"`
	Phone       string    `json:"phone"`
	Role        Role      `json:"role"` // admin or staff
	TenantID    uuid.UUID `json:"tenant_id"`
	DisplayName string    `json:"display_name"`
}

// GuardianEntry is a registered guardian phone for a tenant.
type GuardianEntry struct {
	Phone      string    `json:"phone"`
	TenantID   uuid.UUID `json:"tenant_id"`
	GuardianID uuid.UUID `json:"guardian_id"`
	Name       string    `json:"name"`
	Active     bool      `json:"active"`
}

// IdentityStore looks up the admin/staff and guardian registries.
type IdentityStore interface {
	// FindIdentity returns the admin/staff identity for phone in tenant, or ErrNotFound.
	FindIdentity(ctx context.Context, phone string, tenantID uuid.UUID) (*UserIdentity, error)
	// TenantsByStaffPhone returns tenants where phone is registered as admin or staff, oldest first.
	TenantsByStaffPhone(ctx context.Context, phone string) ([]uuid.UUID, error)
	// FindGuardian returns the active guardian entry for phone in tenant, or ErrNotFound.
	FindGuardian(ctx context.Context, phone string, tenantID uuid.UUID) (*GuardianEntry, error)
	// TenantsByGuardianPhone returns tenants where phone is an active guardian, oldest first.
	TenantsByGuardianPhone(ctx context.Context, phone string) ([]uuid.UUID, error)

	UpsertIdentity(ctx context.Context, id UserIdentity) error
	UpsertGuardian(ctx context.Context, g GuardianEntry) error
}
