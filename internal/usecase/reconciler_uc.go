// File: internal/usecase/reconciler_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"qrmenu-billing/internal/domain"
	"qrmenu-billing/internal/domain/model"
	"qrmenu-billing/internal/domain/ports/adapter"
	"qrmenu-billing/internal/domain/ports/repository"
	"qrmenu-billing/internal/infra/logging"
	"qrmenu-billing/internal/infra/metrics"
)

// Compile-time check
var _ SubscriptionReconciler = (*reconcilerUC)(nil)

// SubscriptionReconciler applies one billing event to the subscription
// snapshot and the tenant access flag.
type SubscriptionReconciler interface {
	Reconcile(ctx context.Context, ev *model.BillingEvent) (*model.ReconcileOutcome, error)
}

const defaultLockTTL = 10 * time.Second

type ReconcilerOption func(*reconcilerUC)

// WithLocker serializes processing per subscription across instances.
func WithLocker(l adapter.Locker, ttl time.Duration) ReconcilerOption {
	return func(u *reconcilerUC) {
		u.locker = l
		if ttl > 0 {
			u.lockTTL = ttl
		}
	}
}

// WithClock overrides the time source used by the access rule.
func WithClock(now func() time.Time) ReconcilerOption {
	return func(u *reconcilerUC) { u.now = now }
}

type reconcilerUC struct {
	subs    repository.SubscriptionRepository
	tenants repository.TenantRepository
	tx      repository.TransactionManager
	gateway adapter.BillingGateway

	locker  adapter.Locker
	lockTTL time.Duration

	log *zerolog.Logger
	now func() time.Time
}

func NewReconcilerUseCase(
	subs repository.SubscriptionRepository,
	tenants repository.TenantRepository,
	tx repository.TransactionManager,
	gateway adapter.BillingGateway,
	logger *zerolog.Logger,
	opts ...ReconcilerOption,
) *reconcilerUC {
	u := &reconcilerUC{
		subs:    subs,
		tenants: tenants,
		tx:      tx,
		gateway: gateway,
		lockTTL: defaultLockTTL,
		log:     logger,
		now:     time.Now,
	}
	for _, o := range opts {
		o(u)
	}
	return u
}

func (u *reconcilerUC) Reconcile(ctx context.Context, ev *model.BillingEvent) (*model.ReconcileOutcome, error) {
	defer logging.TraceDuration(u.log, "Reconciler.Reconcile")()
	if ev == nil {
		return nil, domain.ErrInvalidArgument
	}
	ctx = logging.WithEventID(ctx, ev.ProviderEventID)
	out := &model.ReconcileOutcome{ProviderEventID: ev.ProviderEventID, EventType: ev.EventType}

	var err error
	switch ev.EventType {
	case model.EventCheckoutSessionCompleted:
		err = u.onCheckoutCompleted(ctx, ev, out)
	case model.EventSubscriptionCreated, model.EventSubscriptionUpdated:
		err = u.onSubscriptionChanged(ctx, ev, out)
	case model.EventSubscriptionDeleted:
		err = u.onSubscriptionDeleted(ctx, ev, out)
	case model.EventInvoicePaymentSucceeded:
		err = u.onInvoicePaid(ctx, ev, out)
	case model.EventInvoicePaymentFailed:
		err = u.onInvoiceFailed(ctx, ev, out)
	default:
		out.Action = model.ActionIgnored
	}

	log := logging.With(ctx, u.log)
	if err != nil {
		metrics.IncBillingEvent(ev.EventType, "error")
		log.Error().Err(err).Str("event_type", ev.EventType).Str("subscription_id", out.SubscriptionID).Msg("reconcile failed")
		return out, err
	}
	metrics.IncBillingEvent(ev.EventType, out.Action)
	log.Info().
		Str("event_type", ev.EventType).
		Str("action", out.Action).
		Str("subscription_id", out.SubscriptionID).
		Str("tenant_id", out.TenantID).
		Bool("access_written", out.AccessWritten).
		Bool("active", out.Active).
		Msg("event reconciled")
	return out, nil
}

func (u *reconcilerUC) onCheckoutCompleted(ctx context.Context, ev *model.BillingEvent, out *model.ReconcileOutcome) error {
	sess, err := u.gateway.DecodeCheckoutSession(ev.Payload)
	if err != nil {
		return payloadError(err)
	}
	if sess.SubscriptionID == "" {
		out.Action = model.ActionNoSubscription
		return nil
	}
	out.SubscriptionID = sess.SubscriptionID

	sub, err := u.gateway.GetSubscription(ctx, sess.SubscriptionID)
	if err != nil {
		return fmt.Errorf("fetch subscription %s: %w", sess.SubscriptionID, err)
	}
	hint, ok := model.TenantFromMetadata(sess.Metadata)
	if !ok {
		hint, _ = model.TenantFromMetadata(sub.Metadata)
	}
	return u.applyProviderState(ctx, ev, sub, hint, out)
}

func (u *reconcilerUC) onSubscriptionChanged(ctx context.Context, ev *model.BillingEvent, out *model.ReconcileOutcome) error {
	sub, err := u.gateway.DecodeSubscription(ev.Payload)
	if err != nil {
		return payloadError(err)
	}
	out.SubscriptionID = sub.ID
	hint, _ := model.TenantFromMetadata(sub.Metadata)
	return u.applyProviderState(ctx, ev, sub, hint, out)
}

// applyProviderState upserts the snapshot from the provider's subscription and
// writes the access flag computed from it.
func (u *reconcilerUC) applyProviderState(ctx context.Context, ev *model.BillingEvent, sub *model.ProviderSubscription, hint string, out *model.ReconcileOutcome) error {
	if sub.ID == "" {
		return payloadError(errors.New("subscription id is empty"))
	}
	return u.withSubscriptionLock(ctx, sub.ID, func(ctx context.Context) error {
		return u.tx.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			applied, err := u.subs.Upsert(ctx, tx, model.SnapshotFromProvider(sub, hint, ev.OccurredAt))
			if err != nil {
				return domain.Persistence("subscription.upsert", err)
			}
			if !applied {
				return u.syncFromStored(ctx, tx, sub.ID, out)
			}
			metrics.IncSnapshotWrite("applied")
			out.Action = model.ActionApplied

			tenant := hint
			if tenant == "" {
				stored, err := u.findSnapshot(ctx, tx, sub.ID)
				if err != nil {
					return err
				}
				tenant = stored.Tenant()
			}
			return u.writeAccess(ctx, tx, tenant, sub.IsActive(u.now()), out)
		})
	})
}

func (u *reconcilerUC) onSubscriptionDeleted(ctx context.Context, ev *model.BillingEvent, out *model.ReconcileOutcome) error {
	sub, err := u.gateway.DecodeSubscription(ev.Payload)
	if err != nil {
		return payloadError(err)
	}
	if sub.ID == "" {
		return payloadError(errors.New("subscription id is empty"))
	}
	out.SubscriptionID = sub.ID
	hint, _ := model.TenantFromMetadata(sub.Metadata)

	endedAt := sub.EndedAt
	if endedAt == nil {
		at := ev.OccurredAt.Unix()
		endedAt = &at
	}

	return u.withSubscriptionLock(ctx, sub.ID, func(ctx context.Context) error {
		return u.tx.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			stored, err := u.findSnapshot(ctx, tx, sub.ID)
			if err != nil {
				return err
			}

			var next *model.SubscriptionSnapshot
			switch {
			case stored == nil && hint == "":
				out.Action = model.ActionUnknownSub
				return nil
			case stored == nil:
				// never seen before; record it from the payload so the tenant is known
				next = model.SnapshotFromProvider(sub, hint, ev.OccurredAt).MarkCanceled(sub.CanceledAt, endedAt, ev.OccurredAt)
			case !stored.Supersedes(ev.OccurredAt):
				return u.syncFromStored(ctx, tx, sub.ID, out)
			default:
				next = stored.MarkCanceled(sub.CanceledAt, endedAt, ev.OccurredAt)
				if next.TenantID == nil && hint != "" {
					next.TenantID = &hint
				}
			}

			applied, err := u.subs.Upsert(ctx, tx, next)
			if err != nil {
				return domain.Persistence("subscription.upsert", err)
			}
			if !applied {
				return u.syncFromStored(ctx, tx, sub.ID, out)
			}
			metrics.IncSnapshotWrite("applied")
			out.Action = model.ActionApplied
			return u.writeAccess(ctx, tx, next.Tenant(), false, out)
		})
	})
}

func (u *reconcilerUC) onInvoicePaid(ctx context.Context, ev *model.BillingEvent, out *model.ReconcileOutcome) error {
	inv, err := u.gateway.DecodeInvoice(ev.Payload)
	if err != nil {
		return payloadError(err)
	}
	if inv.SubscriptionID == "" {
		out.Action = model.ActionNoSubscription
		return nil
	}
	out.SubscriptionID = inv.SubscriptionID

	sub, err := u.gateway.GetSubscription(ctx, inv.SubscriptionID)
	if err != nil {
		return fmt.Errorf("fetch subscription %s: %w", inv.SubscriptionID, err)
	}

	return u.withSubscriptionLock(ctx, sub.ID, func(ctx context.Context) error {
		return u.tx.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			stored, err := u.findSnapshot(ctx, tx, inv.SubscriptionID)
			if err != nil {
				return err
			}
			tenant := stored.Tenant()
			if tenant == "" {
				tenant, _ = model.TenantFromMetadata(sub.Metadata)
			}
			if stored == nil && tenant == "" {
				out.Action = model.ActionUnknownSub
				return nil
			}
			out.Action = model.ActionApplied
			return u.writeAccess(ctx, tx, tenant, sub.IsActive(u.now()), out)
		})
	})
}

// onInvoiceFailed only marks the snapshot past_due. The access flag follows
// the subscription events the provider sends once retries are exhausted.
func (u *reconcilerUC) onInvoiceFailed(ctx context.Context, ev *model.BillingEvent, out *model.ReconcileOutcome) error {
	inv, err := u.gateway.DecodeInvoice(ev.Payload)
	if err != nil {
		return payloadError(err)
	}
	if inv.SubscriptionID == "" {
		out.Action = model.ActionNoSubscription
		return nil
	}
	out.SubscriptionID = inv.SubscriptionID

	return u.withSubscriptionLock(ctx, inv.SubscriptionID, func(ctx context.Context) error {
		return u.tx.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			stored, err := u.findSnapshot(ctx, tx, inv.SubscriptionID)
			if err != nil {
				return err
			}
			if stored == nil {
				out.Action = model.ActionUnknownSub
				return nil
			}
			out.TenantID = stored.Tenant()
			out.TenantResolved = out.TenantID != ""
			out.Active = stored.IsActive(u.now())
			if !stored.Supersedes(ev.OccurredAt) {
				metrics.IncSnapshotWrite("stale")
				out.Action = model.ActionStale
				return nil
			}

			applied, err := u.subs.Upsert(ctx, tx, stored.MarkPastDue(ev.OccurredAt))
			if err != nil {
				return domain.Persistence("subscription.upsert", err)
			}
			if !applied {
				metrics.IncSnapshotWrite("stale")
				out.Action = model.ActionStale
				return nil
			}
			metrics.IncSnapshotWrite("applied")
			out.Action = model.ActionApplied
			return nil
		})
	})
}

// syncFromStored handles an event older than the stored snapshot: the write is
// skipped and the flag is recomputed from the newer stored state.
func (u *reconcilerUC) syncFromStored(ctx context.Context, tx repository.Tx, subscriptionID string, out *model.ReconcileOutcome) error {
	metrics.IncSnapshotWrite("stale")
	out.Action = model.ActionStale
	logging.With(ctx, u.log).Info().Str("subscription_id", subscriptionID).Msg("skipping out-of-order event")

	stored, err := u.findSnapshot(ctx, tx, subscriptionID)
	if err != nil || stored == nil {
		return err
	}
	return u.writeAccess(ctx, tx, stored.Tenant(), stored.IsActive(u.now()), out)
}

// findSnapshot returns nil, nil when no snapshot exists.
func (u *reconcilerUC) findSnapshot(ctx context.Context, tx repository.Tx, subscriptionID string) (*model.SubscriptionSnapshot, error) {
	s, err := u.subs.FindByID(ctx, tx, subscriptionID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Persistence("subscription.find", err)
	}
	return s, nil
}

func (u *reconcilerUC) writeAccess(ctx context.Context, tx repository.Tx, tenantID string, active bool, out *model.ReconcileOutcome) error {
	out.TenantID = tenantID
	out.Active = active
	if tenantID == "" {
		out.TenantResolved = false
		metrics.IncUnresolvedTenant(out.EventType)
		logging.With(ctx, u.log).Warn().
			Str("event_type", out.EventType).
			Str("subscription_id", out.SubscriptionID).
			Msg("no tenant reference; access flag not written")
		return nil
	}
	out.TenantResolved = true
	if err := u.tenants.SetAccess(ctx, tx, tenantID, active); err != nil {
		return domain.Persistence("tenant.set_access", err)
	}
	out.AccessWritten = true
	metrics.IncAccessWrite(active)
	return nil
}

func (u *reconcilerUC) withSubscriptionLock(ctx context.Context, subscriptionID string, fn func(ctx context.Context) error) error {
	ctx = logging.WithSubscriptionID(ctx, subscriptionID)
	if u.locker == nil {
		return fn(ctx)
	}
	key := "lock:subscription:" + subscriptionID
	token, err := u.locker.TryLock(ctx, key, u.lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockBusy) {
			return err
		}
		return fmt.Errorf("acquire subscription lock: %w", err)
	}
	defer func() {
		if err := u.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			logging.With(ctx, u.log).Warn().Err(err).Msg("release subscription lock")
		}
	}()
	return fn(ctx)
}

func payloadError(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
}
