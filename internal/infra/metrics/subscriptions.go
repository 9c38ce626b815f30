package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		subscriptionsExpiredTotal,
		snapshotWritesTotal,
		tenantAccessWritesTotal,
		unresolvedTenantTotal,
	)
}

var (
	subscriptionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_expired_total",
			Help: "Tenants switched to inactive by the period-end sweep.",
		},
	)

	// result: applied|stale
	snapshotWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_snapshot_writes_total",
			Help: "Subscription snapshot upserts by result.",
		},
		[]string{"result"},
	)

	tenantAccessWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_access_writes_total",
			Help: "Tenant access flag writes by resulting value.",
		},
		[]string{"active"},
	)

	unresolvedTenantTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_unresolved_tenant_total",
			Help: "Events processed without a resolvable tenant, by event type.",
		},
		[]string{"type"},
	)
)

func IncSubscriptionsExpired(count int) {
	subscriptionsExpiredTotal.Add(float64(count))
}

func IncSnapshotWrite(result string) {
	snapshotWritesTotal.WithLabelValues(norm(result)).Inc()
}

func IncAccessWrite(active bool) {
	v := "false"
	if active {
		v = "true"
	}
	tenantAccessWritesTotal.WithLabelValues(v).Inc()
}

func IncUnresolvedTenant(eventType string) {
	unresolvedTenantTotal.WithLabelValues(EventTypeLabel(eventType)).Inc()
}
