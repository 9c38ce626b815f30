package model

import "time"

type AccessStatus string

const (
	AccessStatusActive   AccessStatus = "active"
	AccessStatusInactive AccessStatus = "inactive"
)

// AccessStatusFor maps the access flag to the value stored on tenant records.
func AccessStatusFor(active bool) AccessStatus {
	if active {
		return AccessStatusActive
	}
	return AccessStatusInactive
}

// TenantAccess is the tenant's access flag: whether its published menu is
// publicly servable. Only billing reconciliation writes it.
type TenantAccess struct {
	TenantID  string       `json:"tenant_id"`
	Status    AccessStatus `json:"status"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (a *TenantAccess) Active() bool { return a != nil && a.Status == AccessStatusActive }

// Reconcile actions.
const (
	ActionApplied        = "applied"
	ActionIgnored        = "ignored"
	ActionStale          = "skipped_stale"
	ActionNoSubscription = "no_subscription"
	ActionUnknownSub     = "unknown_subscription"
)

// ReconcileOutcome describes what processing one event did.
type ReconcileOutcome struct {
	ProviderEventID string `json:"event_id"`
	EventType       string `json:"event_type"`
	Action          string `json:"action"`
	SubscriptionID  string `json:"subscription_id,omitempty"`
	TenantID        string `json:"tenant_id,omitempty"`
	TenantResolved  bool   `json:"tenant_resolved"`
	AccessWritten   bool   `json:"access_written"`
	Active          bool   `json:"active"`
	Duplicate       bool   `json:"duplicate"`
}
