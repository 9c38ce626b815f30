// File: internal/usecase/access_uc.go
package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"qrmenu-billing/internal/domain"
	"qrmenu-billing/internal/domain/model"
	"qrmenu-billing/internal/domain/ports/repository"
	"qrmenu-billing/internal/infra/logging"
)

// Compile-time check
var _ AccessUseCase = (*accessUC)(nil)

// AccessUseCase is the read side of tenant access plus the period-end sweep.
type AccessUseCase interface {
	TenantAccess(ctx context.Context, tenantID string) (*model.TenantAccess, error)
	// SubscriptionView returns the tenant's latest snapshot; domain.ErrNotFound if none.
	SubscriptionView(ctx context.Context, tenantID string) (*model.SubscriptionView, error)
	// SweepExpired turns off tenants flagged active whose subscriptions no longer grant access.
	SweepExpired(ctx context.Context) (int, error)
}

type accessUC struct {
	subs    repository.SubscriptionRepository
	tenants repository.TenantRepository
	tx      repository.TransactionManager
	batch   int
	log     *zerolog.Logger
	now     func() time.Time
}

func NewAccessUseCase(
	subs repository.SubscriptionRepository,
	tenants repository.TenantRepository,
	tx repository.TransactionManager,
	sweepBatch int,
	logger *zerolog.Logger,
) *accessUC {
	if sweepBatch <= 0 {
		sweepBatch = 500
	}
	return &accessUC{subs: subs, tenants: tenants, tx: tx, batch: sweepBatch, log: logger, now: time.Now}
}

func (a *accessUC) TenantAccess(ctx context.Context, tenantID string) (*model.TenantAccess, error) {
	id := strings.TrimSpace(tenantID)
	if id == "" {
		return nil, domain.ErrInvalidArgument
	}
	return a.tenants.GetAccess(ctx, repository.NoTX, id)
}

func (a *accessUC) SubscriptionView(ctx context.Context, tenantID string) (*model.SubscriptionView, error) {
	id := strings.TrimSpace(tenantID)
	if id == "" {
		return nil, domain.ErrInvalidArgument
	}
	s, err := a.subs.FindLatestByTenant(ctx, repository.NoTX, id)
	if err != nil {
		return nil, err
	}
	return &model.SubscriptionView{Snapshot: s, Active: s.IsActive(a.now())}, nil
}

func (a *accessUC) SweepExpired(ctx context.Context) (int, error) {
	defer logging.TraceDuration(a.log, "AccessUC.SweepExpired")()
	now := a.now()
	snaps, err := a.subs.ListSweepCandidates(ctx, repository.NoTX, now, a.batch)
	if err != nil {
		return 0, err
	}

	// group by tenant; a tenant keeps access while any of its subscriptions grants it
	byTenant := make(map[string][]string)
	var order []string
	granted := make(map[string]bool)
	for _, s := range snaps {
		t := s.Tenant()
		if t == "" {
			continue
		}
		if _, seen := byTenant[t]; !seen {
			order = append(order, t)
		}
		byTenant[t] = append(byTenant[t], s.SubscriptionID)
		if s.IsActive(now) {
			granted[t] = true
		}
	}

	count := 0
	for _, tenant := range order {
		if granted[tenant] {
			continue
		}
		switched := false
		err := a.tx.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			// re-read under row locks so a concurrent webhook write wins
			for _, id := range byTenant[tenant] {
				s, err := a.subs.FindByID(ctx, tx, id)
				if err != nil {
					return err
				}
				if s.IsActive(a.now()) {
					return nil
				}
			}
			if err := a.tenants.SetAccess(ctx, tx, tenant, false); err != nil {
				return domain.Persistence("tenant.set_access", err)
			}
			switched = true
			return nil
		})
		if err != nil {
			a.log.Error().Err(err).Str("tenant_id", tenant).Msg("sweep: failed to deactivate tenant")
			continue
		}
		if switched {
			count++
			a.log.Info().Str("tenant_id", tenant).Msg("sweep: tenant access expired")
		}
	}
	return count, nil
}
