package model

import (
	"encoding/json"
	"strings"
	"time"

	"qrmenu-billing/internal/domain"
)

// Event types the reconciler acts on. Anything else is recorded and ignored.
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventSubscriptionCreated      = "customer.subscription.created"
	EventSubscriptionUpdated      = "customer.subscription.updated"
	EventSubscriptionDeleted      = "customer.subscription.deleted"
	EventInvoicePaymentSucceeded  = "invoice.payment_succeeded"
	EventInvoicePaymentFailed     = "invoice.payment_failed"
)

// BillingEvent is one verified inbound delivery from the payment provider.
// Rows are created once and never mutated.
type BillingEvent struct {
	ID              string // ULID, assigned by the ledger on insert
	ProviderEventID string // e.g. evt_...; unique
	EventType       string
	OccurredAt      time.Time       // provider creation time
	Payload         json.RawMessage // provider data object, verbatim
	ReceivedAt      time.Time
}

// NewBillingEvent validates the provider fields of an event.
func NewBillingEvent(providerEventID, eventType string, occurredAt time.Time, payload []byte) (*BillingEvent, error) {
	if strings.TrimSpace(providerEventID) == "" || strings.TrimSpace(eventType) == "" {
		return nil, domain.ErrInvalidArgument
	}
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	return &BillingEvent{
		ProviderEventID: providerEventID,
		EventType:       eventType,
		OccurredAt:      occurredAt.UTC(),
		Payload:         json.RawMessage(payload),
	}, nil
}

// Category is the segment of the event type before the first dot.
func (e *BillingEvent) Category() string { return EventCategory(e.EventType) }

// EventCategory returns "customer" for "customer.subscription.updated".
func EventCategory(eventType string) string {
	if i := strings.IndexByte(eventType, '.'); i >= 0 {
		return eventType[:i]
	}
	return eventType
}
