package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"qrmenu-billing/internal/domain/model"
	"qrmenu-billing/internal/domain/ports/repository"
)

// Ensure interface compliance
var _ repository.BillingEventRepository = (*billingEventRepo)(nil)

type billingEventRepo struct {
	pool *pgxpool.Pool
}

func NewBillingEventRepo(pool *pgxpool.Pool) *billingEventRepo {
	return &billingEventRepo{pool: pool}
}

// Insert relies on the unique stripe_event_id; a conflicting row means a redelivery.
func (r *billingEventRepo) Insert(ctx context.Context, tx repository.Tx, ev *model.BillingEvent) (bool, error) {
	const q = `
INSERT INTO webhook_events (id, stripe_event_id, event_type, type, data, created_at, modified_at, received_at)
VALUES ($1, $2, $3, $4, $5, $6, $6, $7)
ON CONFLICT (stripe_event_id) DO NOTHING;`

	payload := ev.Payload
	if !json.Valid(payload) {
		payload = json.RawMessage("{}")
	}
	received := ev.ReceivedAt
	if received.IsZero() {
		received = time.Now().UTC()
	}
	ct, err := execSQL(ctx, r.pool, tx, q,
		ev.ID, ev.ProviderEventID, ev.EventType, ev.Category(), []byte(payload), ev.OccurredAt, received,
	)
	if err != nil {
		return false, mapExecError(err)
	}
	return ct.RowsAffected() > 0, nil
}

func (r *billingEventRepo) FindByProviderID(ctx context.Context, tx repository.Tx, providerEventID string) (*model.BillingEvent, error) {
	const q = `
SELECT id, stripe_event_id, event_type, data, created_at, received_at
  FROM webhook_events
 WHERE stripe_event_id = $1;`

	row, err := pickRow(ctx, r.pool, tx, q, providerEventID)
	if err != nil {
		return nil, err
	}
	var (
		ev   model.BillingEvent
		data []byte
	)
	if err := row.Scan(&ev.ID, &ev.ProviderEventID, &ev.EventType, &data, &ev.OccurredAt, &ev.ReceivedAt); err != nil {
		return nil, mapRowError(err)
	}
	ev.Payload = json.RawMessage(data)
	ev.OccurredAt = ev.OccurredAt.UTC()
	ev.ReceivedAt = ev.ReceivedAt.UTC()
	return &ev, nil
}
