package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"qrmenu-billing/internal/domain"
	"qrmenu-billing/internal/domain/model"
	"qrmenu-billing/internal/domain/ports/repository"
)

// Ensure subscriptionRepo implements repository.SubscriptionRepository
var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `
stripe_id, user_id, customer_id, price_id, currency, "interval", amount, status,
current_period_start, current_period_end, cancel_at_period_end, canceled_at, ended_at,
started_at, metadata, last_event_at, updated_at`

// Upsert skips the write when the stored row carries a newer last_event_at.
// A NULL user_id keeps the stored tenant.
func (r *subscriptionRepo) Upsert(ctx context.Context, tx repository.Tx, s *model.SubscriptionSnapshot) (bool, error) {
	const q = `
INSERT INTO subscriptions (` + subscriptionColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,NOW())
ON CONFLICT (stripe_id) DO UPDATE SET
  user_id              = COALESCE(EXCLUDED.user_id, subscriptions.user_id),
  customer_id          = EXCLUDED.customer_id,
  price_id             = EXCLUDED.price_id,
  currency             = EXCLUDED.currency,
  "interval"           = EXCLUDED."interval",
  amount               = EXCLUDED.amount,
  status               = EXCLUDED.status,
  current_period_start = EXCLUDED.current_period_start,
  current_period_end   = EXCLUDED.current_period_end,
  cancel_at_period_end = EXCLUDED.cancel_at_period_end,
  canceled_at          = EXCLUDED.canceled_at,
  ended_at             = EXCLUDED.ended_at,
  started_at           = EXCLUDED.started_at,
  metadata             = EXCLUDED.metadata,
  last_event_at        = EXCLUDED.last_event_at,
  updated_at           = NOW()
WHERE subscriptions.last_event_at IS NULL
   OR subscriptions.last_event_at <= EXCLUDED.last_event_at;`

	md := s.Metadata
	if md == nil {
		md = map[string]string{}
	}
	mdJSON, err := json.Marshal(md)
	if err != nil {
		return false, domain.ErrInvalidArgument
	}
	var lastEventAt *time.Time
	if !s.LastEventAt.IsZero() {
		t := s.LastEventAt.UTC()
		lastEventAt = &t
	}

	ct, err := execSQL(ctx, r.pool, tx, q,
		s.SubscriptionID, s.TenantID, s.CustomerID, s.PriceID, s.Currency, s.BillingInterval, s.Amount, string(s.Status),
		s.CurrentPeriodStart, s.CurrentPeriodEnd, s.CancelAtPeriodEnd, s.CanceledAt, s.EndedAt,
		s.StartedAt, mdJSON, lastEventAt,
	)
	if err != nil {
		return false, mapExecError(err)
	}
	return ct.RowsAffected() > 0, nil
}

// FindByID locks the row when called inside a transaction.
func (r *subscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, subscriptionID string) (*model.SubscriptionSnapshot, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE stripe_id = $1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	return r.queryOne(ctx, tx, q, subscriptionID)
}

// FindLatestByTenant prefers the subscription with the furthest period end.
func (r *subscriptionRepo) FindLatestByTenant(ctx context.Context, tx repository.Tx, tenantID string) (*model.SubscriptionSnapshot, error) {
	const q = `SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE user_id = $1
 ORDER BY current_period_end DESC NULLS LAST, last_event_at DESC NULLS LAST
 LIMIT 1;`
	return r.queryOne(ctx, tx, q, tenantID)
}

func (r *subscriptionRepo) ListSweepCandidates(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.SubscriptionSnapshot, error) {
	const q = `
WITH candidates AS (
  SELECT u.id
    FROM users u
   WHERE (u.subscription = 'active'
          OR EXISTS (SELECT 1 FROM restaurants r WHERE r.user_id = u.id AND r.status = 'active'))
     AND EXISTS (SELECT 1 FROM subscriptions s WHERE s.user_id = u.id)
     AND NOT EXISTS (
       SELECT 1 FROM subscriptions g
        WHERE g.user_id = u.id
          AND g.status IN ('active','trialing')
          AND g.current_period_end > $1
          AND NOT g.cancel_at_period_end)
   ORDER BY u.id
   LIMIT $2
)
SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE user_id IN (SELECT id FROM candidates)
 ORDER BY user_id, stripe_id;`

	rows, err := queryRows(ctx, r.pool, tx, q, now.Unix(), limit)
	if err != nil {
		return nil, mapExecError(err)
	}
	defer rows.Close()

	var out []*model.SubscriptionSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *subscriptionRepo) queryOne(ctx context.Context, tx repository.Tx, sql string, args ...any) (*model.SubscriptionSnapshot, error) {
	row, err := pickRow(ctx, r.pool, tx, sql, args...)
	if err != nil {
		return nil, err
	}
	return scanSnapshot(row)
}

func scanSnapshot(row pgx.Row) (*model.SubscriptionSnapshot, error) {
	var (
		s                                       model.SubscriptionSnapshot
		customerID, priceID, currency, interval *string
		amount, periodStart, periodEnd, started *int64
		status                                  string
		mdJSON                                  []byte
		lastEventAt                             *time.Time
	)
	if err := row.Scan(
		&s.SubscriptionID, &s.TenantID, &customerID, &priceID, &currency, &interval, &amount, &status,
		&periodStart, &periodEnd, &s.CancelAtPeriodEnd, &s.CanceledAt, &s.EndedAt,
		&started, &mdJSON, &lastEventAt, &s.UpdatedAt,
	); err != nil {
		return nil, mapRowError(err)
	}
	s.CustomerID = deref(customerID)
	s.PriceID = deref(priceID)
	s.Currency = deref(currency)
	s.BillingInterval = deref(interval)
	s.Amount = derefInt(amount)
	s.CurrentPeriodStart = derefInt(periodStart)
	s.CurrentPeriodEnd = derefInt(periodEnd)
	s.StartedAt = derefInt(started)
	s.Status = model.SubscriptionStatus(status)
	if lastEventAt != nil {
		s.LastEventAt = lastEventAt.UTC()
	}
	s.Metadata = map[string]string{}
	if len(mdJSON) > 0 {
		if err := json.Unmarshal(mdJSON, &s.Metadata); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	return &s, nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func derefInt(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
