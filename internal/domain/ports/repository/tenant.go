package repository

import (
	"context"

	"qrmenu-billing/internal/domain/model"
)

// TenantRepository reads and writes the tenant access flag.
type TenantRepository interface {
	SetAccess(ctx context.Context, tx Tx, tenantID string, active bool) error
	GetAccess(ctx context.Context, tx Tx, tenantID string) (*model.TenantAccess, error)
}
