package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"qrmenu-billing/internal/domain/model"
	"qrmenu-billing/internal/domain/ports/repository"
)

var _ repository.TenantRepository = (*tenantRepo)(nil)

// tenantRepo stores the access flag on the tenant's restaurants and mirrors it on the user row.
type tenantRepo struct {
	pool *pgxpool.Pool
}

func NewTenantRepo(pool *pgxpool.Pool) *tenantRepo {
	return &tenantRepo{pool: pool}
}

func (r *tenantRepo) SetAccess(ctx context.Context, tx repository.Tx, tenantID string, active bool) error {
	const (
		restaurantsQ = `UPDATE restaurants SET status = $2, updated_at = NOW() WHERE user_id = $1;`
		usersQ       = `UPDATE users SET subscription = $2, updated_at = NOW() WHERE id = $1;`
	)
	status := string(model.AccessStatusFor(active))
	if _, err := execSQL(ctx, r.pool, tx, restaurantsQ, tenantID, status); err != nil {
		return mapExecError(err)
	}
	if _, err := execSQL(ctx, r.pool, tx, usersQ, tenantID, status); err != nil {
		return mapExecError(err)
	}
	return nil
}

// GetAccess reads the restaurant status, falling back to the user mirror.
func (r *tenantRepo) GetAccess(ctx context.Context, tx repository.Tx, tenantID string) (*model.TenantAccess, error) {
	const q = `
SELECT u.id,
       COALESCE(rs.status, u.subscription),
       COALESCE(rs.updated_at, u.updated_at)
  FROM users u
  LEFT JOIN LATERAL (
       SELECT status, updated_at
         FROM restaurants
        WHERE user_id = u.id
        ORDER BY updated_at DESC
        LIMIT 1) rs ON TRUE
 WHERE u.id = $1;`

	row, err := pickRow(ctx, r.pool, tx, q, tenantID)
	if err != nil {
		return nil, err
	}
	var (
		a      model.TenantAccess
		status string
		at     time.Time
	)
	if err := row.Scan(&a.TenantID, &status, &at); err != nil {
		return nil, mapRowError(err)
	}
	a.Status = model.AccessStatus(strings.ToLower(status))
	if a.Status != model.AccessStatusActive {
		a.Status = model.AccessStatusInactive
	}
	a.UpdatedAt = at.UTC()
	return &a, nil
}
