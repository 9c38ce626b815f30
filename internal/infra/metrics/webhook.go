package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		WebhookRequests,
		WebhookDuration,
		billingEventsTotal,
	)
}

var (
	// Count of webhook deliveries grouped by result and bounded reason.
	// result: ok|fail
	// reason: processed|duplicate|missing_signature|invalid_signature|missing_secret|read_body|processing_error
	WebhookRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_webhook_requests_total",
			Help: "Count of billing webhook deliveries by result and reason.",
		},
		[]string{"result", "reason"},
	)

	WebhookDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_webhook_duration_seconds",
			Help:    "Duration of the billing webhook handler in seconds.",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"result"},
	)

	// outcome: applied|ignored|skipped_stale|no_subscription|unknown_subscription|error
	billingEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_events_total",
			Help: "Reconciled billing events by type and outcome.",
		},
		[]string{"type", "outcome"},
	)
)

var knownEventTypes = map[string]struct{}{
	"checkout.session.completed":    {},
	"customer.subscription.created": {},
	"customer.subscription.updated": {},
	"customer.subscription.deleted": {},
	"invoice.payment_succeeded":     {},
	"invoice.payment_failed":        {},
}

// EventTypeLabel keeps the type label bounded; unhandled types collapse to "other".
func EventTypeLabel(eventType string) string {
	t := norm(eventType)
	if _, ok := knownEventTypes[t]; ok {
		return t
	}
	return "other"
}

func IncBillingEvent(eventType, outcome string) {
	billingEventsTotal.WithLabelValues(EventTypeLabel(eventType), norm(outcome)).Inc()
}

func IncWebhookRequest(result, reason string) {
	WebhookRequests.WithLabelValues(norm(result), norm(reason)).Inc()
}

func ObserveWebhookDuration(result string, seconds float64) {
	WebhookDuration.WithLabelValues(norm(result)).Observe(seconds)
}
