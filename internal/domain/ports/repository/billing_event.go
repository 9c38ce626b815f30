package repository

import (
	"context"

	"qrmenu-billing/internal/domain/model"
)

// BillingEventRepository is the append-only event ledger store.
type BillingEventRepository interface {
	// Insert stores ev. inserted is false when the provider event ID already exists.
	Insert(ctx context.Context, tx Tx, ev *model.BillingEvent) (inserted bool, err error)
	FindByProviderID(ctx context.Context, tx Tx, providerEventID string) (*model.BillingEvent, error)
}
