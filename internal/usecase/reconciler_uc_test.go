//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"qrmenu-billing/internal/domain"
	"qrmenu-billing/internal/domain/model"
	"qrmenu-billing/internal/domain/ports/repository"
	"qrmenu-billing/internal/usecase"
)

type reconcilerDeps struct {
	subs    *MockSubscriptionRepo
	tenants *MockTenantRepo
	tm      *MockTxManager
	gw      *MockGateway
	now     time.Time
}

func newReconcilerDeps() *reconcilerDeps {
	return &reconcilerDeps{
		subs:    NewMockSubscriptionRepo(),
		tenants: NewMockTenantRepo(),
		tm:      NewMockTxManager(),
		gw:      NewMockGateway(),
		now:     time.Unix(1_700_000_000, 0).UTC(),
	}
}

func (d *reconcilerDeps) build(opts ...usecase.ReconcilerOption) usecase.SubscriptionReconciler {
	opts = append([]usecase.ReconcilerOption{usecase.WithClock(func() time.Time { return d.now })}, opts...)
	return usecase.NewReconcilerUseCase(d.subs, d.tenants, d.tm, d.gw, newTestLogger(), opts...)
}

func (d *reconcilerDeps) activeSub(id string, md map[string]string) *model.ProviderSubscription {
	return &model.ProviderSubscription{
		ID:                 id,
		CustomerID:         "cus_1",
		PriceID:            "price_pro",
		Currency:           "usd",
		BillingInterval:    "month",
		Amount:             1900,
		Status:             model.SubscriptionStatusActive,
		CurrentPeriodStart: d.now.Add(-24 * time.Hour).Unix(),
		CurrentPeriodEnd:   d.now.Add(30 * 24 * time.Hour).Unix(),
		Metadata:           md,
	}
}

// assertConsistent checks that the tenant flag equals the access rule applied to the stored snapshot.
func assertConsistent(t *testing.T, d *reconcilerDeps, subID, tenant string) {
	t.Helper()
	snap := d.subs.Get(subID)
	if snap == nil {
		t.Fatalf("no snapshot stored for %s", subID)
	}
	flag, ok := d.tenants.Flag(tenant)
	if !ok {
		t.Fatalf("no access flag written for %s", tenant)
	}
	if want := snap.IsActive(d.now); flag != want {
		t.Errorf("flag %v is inconsistent with snapshot (status=%s end=%d cancel=%v) -> %v",
			flag, snap.Status, snap.CurrentPeriodEnd, snap.CancelAtPeriodEnd, want)
	}
}

func TestReconciler_CheckoutThenCancelAtPeriodEnd(t *testing.T) {
	ctx := context.Background()
	d := newReconcilerDeps()
	d.gw.Subscriptions["sub_1"] = d.activeSub("sub_1", nil)
	uc := d.build()

	t.Run("checkout activates the tenant from session metadata", func(t *testing.T) {
		ev := newEvent("evt_1", model.EventCheckoutSessionCompleted, d.now, model.CheckoutSession{
			ID:             "cs_1",
			SubscriptionID: "sub_1",
			Metadata:       map[string]string{"tenant_id": "t1"},
		})

		out, err := uc.Reconcile(ctx, ev)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if out.Action != model.ActionApplied || !out.AccessWritten || !out.Active || out.TenantID != "t1" {
			t.Errorf("unexpected outcome %+v", out)
		}
		if active, _ := d.tenants.Flag("t1"); !active {
			t.Error("expected tenant t1 to be active")
		}
		snap := d.subs.Get("sub_1")
		if snap == nil || snap.Tenant() != "t1" || snap.Status != model.SubscriptionStatusActive {
			t.Fatalf("unexpected snapshot %+v", snap)
		}
		if d.gw.Fetches != 1 {
			t.Errorf("expected one provider fetch, got %d", d.gw.Fetches)
		}
		assertConsistent(t, d, "sub_1", "t1")
	})

	t.Run("cancel at period end deactivates the tenant resolved from the snapshot", func(t *testing.T) {
		upd := d.activeSub("sub_1", nil)
		upd.CancelAtPeriodEnd = true
		ev := newEvent("evt_2", model.EventSubscriptionUpdated, d.now.Add(time.Minute), upd)

		out, err := uc.Reconcile(ctx, ev)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if out.TenantID != "t1" || !out.TenantResolved || out.Active {
			t.Errorf("unexpected outcome %+v", out)
		}
		if active, _ := d.tenants.Flag("t1"); active {
			t.Error("expected tenant t1 to be inactive")
		}
		if snap := d.subs.Get("sub_1"); !snap.CancelAtPeriodEnd || snap.Tenant() != "t1" {
			t.Errorf("snapshot not updated: %+v", snap)
		}
		assertConsistent(t, d, "sub_1", "t1")
	})
}

func TestReconciler_Checkout(t *testing.T) {
	ctx := context.Background()

	t.Run("should no-op without a subscription reference", func(t *testing.T) {
		d := newReconcilerDeps()
		ev := newEvent("evt_1", model.EventCheckoutSessionCompleted, d.now, model.CheckoutSession{ID: "cs_1"})
		out, err := d.build().Reconcile(ctx, ev)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.Action != model.ActionNoSubscription || len(d.tenants.Writes) != 0 || d.gw.Fetches != 0 {
			t.Errorf("expected a no-op, got %+v writes=%v", out, d.tenants.Writes)
		}
	})

	t.Run("should fall back to subscription metadata for the tenant", func(t *testing.T) {
		d := newReconcilerDeps()
		d.gw.Subscriptions["sub_9"] = d.activeSub("sub_9", map[string]string{"userId": "t9"})
		ev := newEvent("evt_1", model.EventCheckoutSessionCompleted, d.now, model.CheckoutSession{ID: "cs_1", SubscriptionID: "sub_9"})
		out, err := d.build().Reconcile(ctx, ev)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.TenantID != "t9" || !out.Active {
			t.Errorf("unexpected outcome %+v", out)
		}
	})

	t.Run("should fail when the provider fetch fails", func(t *testing.T) {
		d := newReconcilerDeps()
		ev := newEvent("evt_1", model.EventCheckoutSessionCompleted, d.now, model.CheckoutSession{ID: "cs_1", SubscriptionID: "sub_missing"})
		if _, err := d.build().Reconcile(ctx, ev); err == nil {
			t.Fatal("expected an error")
		}
		if len(d.tenants.Writes) != 0 {
			t.Error("no access write expected")
		}
	})
}

func TestReconciler_SubscriptionChanged(t *testing.T) {
	ctx := context.Background()

	t.Run("created with tenant metadata activates the tenant", func(t *testing.T) {
		d := newReconcilerDeps()
		ev := newEvent("evt_1", model.EventSubscriptionCreated, d.now, d.activeSub("sub_1", map[string]string{"user_id": "t1"}))
		out, err := d.build().Reconcile(ctx, ev)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !out.Active || out.TenantID != "t1" {
			t.Errorf("unexpected outcome %+v", out)
		}
		assertConsistent(t, d, "sub_1", "t1")
	})

	t.Run("an expired period deactivates even with status active", func(t *testing.T) {
		d := newReconcilerDeps()
		sub := d.activeSub("sub_1", map[string]string{"tenant_id": "t1"})
		sub.CurrentPeriodEnd = d.now.Add(-time.Hour).Unix()
		out, err := d.build().Reconcile(ctx, newEvent("evt_1", model.EventSubscriptionUpdated, d.now, sub))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.Active {
			t.Error("expected inactive")
		}
		if active, ok := d.tenants.Flag("t1"); !ok || active {
			t.Error("expected an inactive flag to be written")
		}
	})

	t.Run("unresolved tenant stores the snapshot and writes no flag", func(t *testing.T) {
		d := newReconcilerDeps()
		out, err := d.build().Reconcile(ctx, newEvent("evt_1", model.EventSubscriptionUpdated, d.now, d.activeSub("sub_1", nil)))
		if err != nil {
			t.Fatalf("unresolved tenant must not be an error, got %v", err)
		}
		if out.TenantResolved || out.AccessWritten || len(d.tenants.Writes) != 0 {
			t.Errorf("unexpected outcome %+v", out)
		}
		if d.subs.Get("sub_1") == nil {
			t.Error("snapshot should still be stored")
		}
	})

	t.Run("an older event is skipped and the flag follows the stored snapshot", func(t *testing.T) {
		d := newReconcilerDeps()
		tenant := "t1"
		d.subs.Put(&model.SubscriptionSnapshot{
			SubscriptionID:   "sub_1",
			TenantID:         &tenant,
			Status:           model.SubscriptionStatusCanceled,
			CurrentPeriodEnd: d.now.Add(time.Hour).Unix(),
			LastEventAt:      d.now,
		})
		late := newEvent("evt_old", model.EventSubscriptionUpdated, d.now.Add(-time.Minute), d.activeSub("sub_1", nil))

		out, err := d.build().Reconcile(ctx, late)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.Action != model.ActionStale {
			t.Errorf("expected stale action, got %q", out.Action)
		}
		if d.subs.Get("sub_1").Status != model.SubscriptionStatusCanceled {
			t.Error("stored snapshot must not be overwritten by an older event")
		}
		if active, ok := d.tenants.Flag("t1"); !ok || active {
			t.Error("expected flag recomputed from stored snapshot (inactive)")
		}
	})

	t.Run("equal event time re-applies", func(t *testing.T) {
		d := newReconcilerDeps()
		uc := d.build()
		ev := newEvent("evt_1", model.EventSubscriptionUpdated, d.now, d.activeSub("sub_1", map[string]string{"tenant_id": "t1"}))
		for i := 0; i < 2; i++ {
			out, err := uc.Reconcile(ctx, ev)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out.Action != model.ActionApplied {
				t.Errorf("run %d: expected applied, got %q", i, out.Action)
			}
		}
		if d.subs.Upserts != 2 {
			t.Errorf("expected two upserts, got %d", d.subs.Upserts)
		}
	})
}

func TestReconciler_SubscriptionDeleted(t *testing.T) {
	ctx := context.Background()

	t.Run("deletion forces the flag false", func(t *testing.T) {
		d := newReconcilerDeps()
		uc := d.build()
		if _, err := uc.Reconcile(ctx, newEvent("evt_1", model.EventSubscriptionCreated, d.now, d.activeSub("sub_1", map[string]string{"tenant_id": "t1"}))); err != nil {
			t.Fatalf("setup: %v", err)
		}
		// provider object still claims a future period end
		del := d.activeSub("sub_1", nil)
		del.Status = model.SubscriptionStatusCanceled

		out, err := uc.Reconcile(ctx, newEvent("evt_2", model.EventSubscriptionDeleted, d.now.Add(time.Minute), del))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.Active || !out.AccessWritten || out.TenantID != "t1" {
			t.Errorf("unexpected outcome %+v", out)
		}
		if active, _ := d.tenants.Flag("t1"); active {
			t.Error("expected tenant inactive after deletion")
		}
		snap := d.subs.Get("sub_1")
		if snap.Status != model.SubscriptionStatusCanceled || snap.EndedAt == nil {
			t.Errorf("expected canceled snapshot with ended_at, got %+v", snap)
		}
		if *snap.EndedAt != d.now.Add(time.Minute).Unix() {
			t.Errorf("expected ended_at to default to event time, got %d", *snap.EndedAt)
		}
	})

	t.Run("unknown subscription without metadata is a no-op", func(t *testing.T) {
		d := newReconcilerDeps()
		out, err := d.build().Reconcile(ctx, newEvent("evt_1", model.EventSubscriptionDeleted, d.now, d.activeSub("sub_x", nil)))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.Action != model.ActionUnknownSub || len(d.tenants.Writes) != 0 || d.subs.Get("sub_x") != nil {
			t.Errorf("expected no writes, got %+v", out)
		}
	})

	t.Run("unknown subscription with tenant metadata is recorded canceled", func(t *testing.T) {
		d := newReconcilerDeps()
		d.tenants.Seed("t2", true)
		out, err := d.build().Reconcile(ctx, newEvent("evt_1", model.EventSubscriptionDeleted, d.now, d.activeSub("sub_y", map[string]string{"tenant_id": "t2"})))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.Action != model.ActionApplied {
			t.Errorf("expected applied, got %q", out.Action)
		}
		if active, _ := d.tenants.Flag("t2"); active {
			t.Error("expected t2 inactive")
		}
		if s := d.subs.Get("sub_y"); s == nil || s.Status != model.SubscriptionStatusCanceled {
			t.Errorf("expected canceled snapshot, got %+v", s)
		}
	})
}

func TestReconciler_Invoices(t *testing.T) {
	ctx := context.Background()
	seed := func(d *reconcilerDeps) {
		tenant := "t1"
		d.subs.Put(&model.SubscriptionSnapshot{
			SubscriptionID:   "sub_1",
			TenantID:         &tenant,
			Status:           model.SubscriptionStatusActive,
			CurrentPeriodEnd: d.now.Add(time.Hour).Unix(),
			LastEventAt:      d.now.Add(-time.Hour),
		})
	}

	t.Run("payment succeeded writes access from the fetched subscription", func(t *testing.T) {
		d := newReconcilerDeps()
		seed(d)
		d.gw.Subscriptions["sub_1"] = d.activeSub("sub_1", nil)
		out, err := d.build().Reconcile(ctx, newEvent("evt_1", model.EventInvoicePaymentSucceeded, d.now, model.Invoice{ID: "in_1", SubscriptionID: "sub_1"}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !out.Active || out.TenantID != "t1" {
			t.Errorf("unexpected outcome %+v", out)
		}
		if d.subs.Upserts != 0 {
			t.Error("payment succeeded must not re-upsert the snapshot")
		}
		if d.gw.Fetches != 1 {
			t.Errorf("expected one fetch, got %d", d.gw.Fetches)
		}
	})

	t.Run("payment succeeded without subscription is a no-op", func(t *testing.T) {
		d := newReconcilerDeps()
		out, err := d.build().Reconcile(ctx, newEvent("evt_1", model.EventInvoicePaymentSucceeded, d.now, model.Invoice{ID: "in_1"}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.Action != model.ActionNoSubscription || d.gw.Fetches != 0 {
			t.Errorf("unexpected outcome %+v", out)
		}
	})

	t.Run("payment failed marks past_due and leaves the flag unchanged", func(t *testing.T) {
		d := newReconcilerDeps()
		seed(d)
		d.tenants.Seed("t1", true)
		out, err := d.build().Reconcile(ctx, newEvent("evt_1", model.EventInvoicePaymentFailed, d.now, model.Invoice{ID: "in_1", SubscriptionID: "sub_1"}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.Action != model.ActionApplied || out.AccessWritten {
			t.Errorf("unexpected outcome %+v", out)
		}
		if d.subs.Get("sub_1").Status != model.SubscriptionStatusPastDue {
			t.Error("expected past_due snapshot")
		}
		if len(d.tenants.Writes) != 0 {
			t.Errorf("access flag must not be written, got %v", d.tenants.Writes)
		}
		if active, _ := d.tenants.Flag("t1"); !active {
			t.Error("flag must stay active")
		}
	})

	t.Run("payment failed for an unknown subscription is a no-op", func(t *testing.T) {
		d := newReconcilerDeps()
		out, err := d.build().Reconcile(ctx, newEvent("evt_1", model.EventInvoicePaymentFailed, d.now, model.Invoice{ID: "in_1", SubscriptionID: "sub_404"}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.Action != model.ActionUnknownSub || d.subs.Upserts != 0 {
			t.Errorf("unexpected outcome %+v", out)
		}
	})
}

func TestReconciler_IgnoresUnknownTypes(t *testing.T) {
	d := newReconcilerDeps()
	out, err := d.build().Reconcile(context.Background(), newEvent("evt_1", "customer.created", d.now, map[string]string{"id": "cus_1"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Action != model.ActionIgnored || d.tm.Calls != 0 || len(d.tenants.Writes) != 0 {
		t.Errorf("expected ignored without writes, got %+v", out)
	}
}

func TestReconciler_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("access write failure is a persistence error", func(t *testing.T) {
		d := newReconcilerDeps()
		d.tenants.SetAccessFunc = func(ctx context.Context, tx repository.Tx, tenantID string, active bool) error {
			return domain.ErrOperationFailed
		}
		_, err := d.build().Reconcile(ctx, newEvent("evt_1", model.EventSubscriptionCreated, d.now, d.activeSub("sub_1", map[string]string{"tenant_id": "t1"})))
		var pe *domain.PersistenceError
		if !errors.As(err, &pe) || pe.Op != "tenant.set_access" {
			t.Fatalf("expected PersistenceError(tenant.set_access), got %v", err)
		}
		if !errors.Is(err, domain.ErrOperationFailed) {
			t.Error("expected ErrOperationFailed to be wrapped")
		}
	})

	t.Run("malformed payload is rejected", func(t *testing.T) {
		d := newReconcilerDeps()
		ev, _ := model.NewBillingEvent("evt_1", model.EventSubscriptionUpdated, d.now, []byte(`"not an object"`))
		_, err := d.build().Reconcile(ctx, ev)
		if !errors.Is(err, domain.ErrInvalidPayload) {
			t.Errorf("expected ErrInvalidPayload, got %v", err)
		}
	})

	t.Run("nil event", func(t *testing.T) {
		d := newReconcilerDeps()
		if _, err := d.build().Reconcile(ctx, nil); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestReconciler_Locking(t *testing.T) {
	ctx := context.Background()

	t.Run("lock is taken per subscription and released", func(t *testing.T) {
		d := newReconcilerDeps()
		locker := NewMockLocker()
		uc := d.build(usecase.WithLocker(locker, time.Second))
		if _, err := uc.Reconcile(ctx, newEvent("evt_1", model.EventSubscriptionCreated, d.now, d.activeSub("sub_1", map[string]string{"tenant_id": "t1"}))); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(locker.Taken) != 1 || locker.Taken[0] != "lock:subscription:sub_1" {
			t.Errorf("unexpected locks %v", locker.Taken)
		}
		if locker.Held() != 0 {
			t.Error("lock must be released")
		}
	})

	t.Run("busy lock fails the event without writes", func(t *testing.T) {
		d := newReconcilerDeps()
		locker := NewMockLocker()
		locker.Hold("lock:subscription:sub_1")
		uc := d.build(usecase.WithLocker(locker, time.Second))
		_, err := uc.Reconcile(ctx, newEvent("evt_1", model.EventSubscriptionCreated, d.now, d.activeSub("sub_1", map[string]string{"tenant_id": "t1"})))
		if !errors.Is(err, domain.ErrLockBusy) {
			t.Fatalf("expected ErrLockBusy, got %v", err)
		}
		if d.subs.Upserts != 0 || len(d.tenants.Writes) != 0 {
			t.Error("no writes expected while the lock is held elsewhere")
		}
	})
}

func TestReconciler_ConsistencyOverSequence(t *testing.T) {
	ctx := context.Background()
	d := newReconcilerDeps()
	uc := d.build()
	md := map[string]string{"tenant_id": "t1"}

	trialing := d.activeSub("sub_1", md)
	trialing.Status = model.SubscriptionStatusTrialing
	pastDue := d.activeSub("sub_1", nil)
	pastDue.Status = model.SubscriptionStatusPastDue
	expired := d.activeSub("sub_1", nil)
	expired.CurrentPeriodEnd = d.now.Add(-time.Minute).Unix()

	steps := []*model.BillingEvent{
		newEvent("evt_1", model.EventSubscriptionCreated, d.now, trialing),
		newEvent("evt_2", model.EventSubscriptionUpdated, d.now.Add(1*time.Minute), d.activeSub("sub_1", nil)),
		newEvent("evt_3", model.EventSubscriptionUpdated, d.now.Add(2*time.Minute), pastDue),
		newEvent("evt_4", model.EventSubscriptionUpdated, d.now.Add(3*time.Minute), d.activeSub("sub_1", nil)),
		newEvent("evt_5", model.EventSubscriptionUpdated, d.now.Add(4*time.Minute), expired),
		// late delivery of evt_2
		newEvent("evt_2", model.EventSubscriptionUpdated, d.now.Add(1*time.Minute), d.activeSub("sub_1", nil)),
	}
	for _, ev := range steps {
		if _, err := uc.Reconcile(ctx, ev); err != nil {
			t.Fatalf("%s: unexpected error: %v", ev.ProviderEventID, err)
		}
		assertConsistent(t, d, "sub_1", "t1")
	}
}
