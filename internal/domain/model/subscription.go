package model

import (
	"strings"
	"time"
)

type SubscriptionStatus string

// Known provider statuses. Values outside this set are stored verbatim.
const (
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionStatusPaused            SubscriptionStatus = "paused"
)

// Known reports whether s is one of the statuses declared above.
func (s SubscriptionStatus) Known() bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue,
		SubscriptionStatusCanceled, SubscriptionStatusIncomplete, SubscriptionStatusIncompleteExpired,
		SubscriptionStatusUnpaid, SubscriptionStatusPaused:
		return true
	}
	return false
}

// Grants reports whether the status alone allows access.
func (s SubscriptionStatus) Grants() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// ProviderSubscription is the payment provider's view of a subscription,
// decoded from an event payload or fetched from the provider API.
type ProviderSubscription struct {
	ID                 string
	CustomerID         string
	PriceID            string
	Currency           string
	BillingInterval    string
	Amount             int64
	Status             SubscriptionStatus
	CurrentPeriodStart int64 // unix seconds, 0 if absent
	CurrentPeriodEnd   int64 // unix seconds, 0 if absent
	CancelAtPeriodEnd  bool
	CanceledAt         *int64
	EndedAt            *int64
	StartDate          int64
	Metadata           map[string]string
}

// CheckoutSession carries the fields of a completed checkout the reconciler needs.
type CheckoutSession struct {
	ID             string
	SubscriptionID string // empty for one-off payments
	CustomerID     string
	Metadata       map[string]string
}

// Invoice carries the fields of an invoice event the reconciler needs.
type Invoice struct {
	ID             string
	SubscriptionID string // empty for invoices not tied to a subscription
	CustomerID     string
}

// SubscriptionSnapshot is the stored mirror of a provider subscription.
// Exactly one row exists per SubscriptionID.
type SubscriptionSnapshot struct {
	SubscriptionID     string
	TenantID           *string // nil until resolved
	CustomerID         string
	PriceID            string
	Currency           string
	BillingInterval    string
	Amount             int64
	Status             SubscriptionStatus
	CurrentPeriodStart int64
	CurrentPeriodEnd   int64
	CancelAtPeriodEnd  bool
	CanceledAt         *int64
	EndedAt            *int64
	StartedAt          int64
	Metadata           map[string]string
	LastEventAt        time.Time // provider creation time of the last applied event
	UpdatedAt          time.Time
}

// SubscriptionView is a tenant's current subscription with access computed.
type SubscriptionView struct {
	Snapshot *SubscriptionSnapshot
	Active   bool
}

// ComputeIsActive is the single rule deciding tenant access:
// status active or trialing, a period end in the future, and no pending cancellation.
// A stale "active" status past its period end is inactive.
func ComputeIsActive(status SubscriptionStatus, currentPeriodEnd int64, cancelAtPeriodEnd bool, now time.Time) bool {
	okStatus := status.Grants()
	okTime := currentPeriodEnd > 0 && currentPeriodEnd*1000 > now.UnixMilli()
	return okStatus && okTime && !cancelAtPeriodEnd
}

// IsActive applies ComputeIsActive to the provider's subscription.
func (p *ProviderSubscription) IsActive(now time.Time) bool {
	return ComputeIsActive(p.Status, p.CurrentPeriodEnd, p.CancelAtPeriodEnd, now)
}

// IsActive applies ComputeIsActive to the stored snapshot.
func (s *SubscriptionSnapshot) IsActive(now time.Time) bool {
	return ComputeIsActive(s.Status, s.CurrentPeriodEnd, s.CancelAtPeriodEnd, now)
}

// Supersedes reports whether an event created at eventAt may overwrite s.
// Equal times pass so redelivery of the same event re-applies.
func (s *SubscriptionSnapshot) Supersedes(eventAt time.Time) bool {
	if s == nil || s.LastEventAt.IsZero() {
		return true
	}
	return !eventAt.Before(s.LastEventAt)
}

// SnapshotFromProvider builds the snapshot written for a created/updated
// subscription or a completed checkout.
func SnapshotFromProvider(p *ProviderSubscription, tenantID string, eventAt time.Time) *SubscriptionSnapshot {
	s := &SubscriptionSnapshot{
		SubscriptionID:     p.ID,
		CustomerID:         p.CustomerID,
		PriceID:            p.PriceID,
		Currency:           p.Currency,
		BillingInterval:    p.BillingInterval,
		Amount:             p.Amount,
		Status:             p.Status,
		CurrentPeriodStart: p.CurrentPeriodStart,
		CurrentPeriodEnd:   p.CurrentPeriodEnd,
		CancelAtPeriodEnd:  p.CancelAtPeriodEnd,
		CanceledAt:         p.CanceledAt,
		EndedAt:            p.EndedAt,
		StartedAt:          p.StartDate,
		Metadata:           p.Metadata,
		LastEventAt:        eventAt.UTC(),
	}
	if s.StartedAt == 0 {
		s.StartedAt = eventAt.Unix()
	}
	if s.Metadata == nil {
		s.Metadata = map[string]string{}
	}
	if tenantID != "" {
		t := tenantID
		s.TenantID = &t
	}
	return s
}

// MarkCanceled returns a copy of s in the canceled state. Nil timestamps keep
// the stored values.
func (s *SubscriptionSnapshot) MarkCanceled(canceledAt, endedAt *int64, eventAt time.Time) *SubscriptionSnapshot {
	cp := *s
	cp.Status = SubscriptionStatusCanceled
	if canceledAt != nil {
		cp.CanceledAt = canceledAt
	}
	if endedAt != nil {
		cp.EndedAt = endedAt
	}
	cp.LastEventAt = eventAt.UTC()
	return &cp
}

// MarkPastDue returns a copy of s with status past_due.
func (s *SubscriptionSnapshot) MarkPastDue(eventAt time.Time) *SubscriptionSnapshot {
	cp := *s
	cp.Status = SubscriptionStatusPastDue
	cp.LastEventAt = eventAt.UTC()
	return &cp
}

// Tenant returns the stored tenant reference or "".
func (s *SubscriptionSnapshot) Tenant() string {
	if s == nil || s.TenantID == nil {
		return ""
	}
	return *s.TenantID
}

// tenantMetadataKeys are checked in order; the first non-empty value wins.
var tenantMetadataKeys = []string{"tenant_id", "tenantId", "user_id", "userId"}

// TenantFromMetadata extracts an explicit tenant reference from provider metadata.
func TenantFromMetadata(md map[string]string) (string, bool) {
	for _, k := range tenantMetadataKeys {
		if v := strings.TrimSpace(md[k]); v != "" {
			return v, true
		}
	}
	return "", false
}
