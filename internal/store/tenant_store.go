package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TenantData is a school sharing the gateway.
// Tenant rows are created at signup (outside this core); only binding
// fields change here.
type TenantData struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	AdminPhone     string    `json:"admin_phone"`               // normalized digits
	GatewayAddress string    `json:"gateway_address,omitempty"` // active direct binding, if any
	GroupAddress   string    `json:"group_address,omitempty"`   // active group binding, if any
	CreatedAt      time.Time `json:"created_at"`
}

// TenantStore reads tenants.
type TenantStore interface {
	Create(ctx context.Context, t *TenantData) error
	Get(ctx context.Context, id uuid.UUID) (*TenantData, error)
	// FindByAdminPhone returns tenants whose admin phone matches, oldest first.
	FindByAdminPhone(ctx context.Context, phone string) ([]TenantData, error)
}
