package repository

import (
	"context"
	"time"

	"qrmenu-billing/internal/domain/model"
)

// SubscriptionRepository is the port for subscription snapshots.
type SubscriptionRepository interface {
	// Upsert writes s keyed on SubscriptionID. It returns applied=false when the
	// stored row was written by a newer event. A nil TenantID keeps the stored tenant.
	Upsert(ctx context.Context, tx Tx, s *model.SubscriptionSnapshot) (applied bool, err error)
	FindByID(ctx context.Context, tx Tx, subscriptionID string) (*model.SubscriptionSnapshot, error)
	FindLatestByTenant(ctx context.Context, tx Tx, tenantID string) (*model.SubscriptionSnapshot, error)

	// ListSweepCandidates returns every snapshot of up to limit tenants that are
	// flagged active while none of their snapshots grants access at now.
	ListSweepCandidates(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.SubscriptionSnapshot, error)
}
