// File: internal/infra/adapters/billing/stripe_gateway.go
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/subscription"
	"github.com/stripe/stripe-go/v76/webhook"

	"qrmenu-billing/internal/domain"
	"qrmenu-billing/internal/domain/model"
	"qrmenu-billing/internal/domain/ports/adapter"
)

var _ adapter.BillingGateway = (*StripeGateway)(nil)

// StripeGateway implements adapter.BillingGateway on stripe-go.
// The API key is held per instance; the package-level stripe.Key is never set.
type StripeGateway struct {
	subs subscription.Client
}

func NewStripeGateway(secretKey string) (*StripeGateway, error) {
	key := strings.TrimSpace(secretKey)
	if key == "" {
		return nil, errors.New("stripe secret key empty")
	}
	return &StripeGateway{
		subs: subscription.Client{B: stripe.GetBackend(stripe.APIBackend), Key: key},
	}, nil
}

func (g *StripeGateway) Name() string { return "stripe" }

// ConstructEvent verifies the Stripe-Signature header and parses the envelope.
// The account's API version may differ from the library's pinned one.
func (g *StripeGateway) ConstructEvent(payload []byte, signature, secret string) (*model.BillingEvent, error) {
	e, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	var raw json.RawMessage
	if e.Data != nil {
		raw = e.Data.Raw
	}
	ev, err := model.NewBillingEvent(e.ID, string(e.Type), time.Unix(e.Created, 0), raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	return ev, nil
}

func (g *StripeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*model.ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	s, err := g.subs.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe get subscription %s: %w", subscriptionID, err)
	}
	return toProviderSubscription(s), nil
}

func (g *StripeGateway) DecodeSubscription(payload []byte) (*model.ProviderSubscription, error) {
	var s stripe.Subscription
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("decode subscription: %w", err)
	}
	if s.ID == "" {
		return nil, errors.New("decode subscription: missing id")
	}
	return toProviderSubscription(&s), nil
}

func (g *StripeGateway) DecodeCheckoutSession(payload []byte) (*model.CheckoutSession, error) {
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(payload, &cs); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}
	out := &model.CheckoutSession{ID: cs.ID, Metadata: cs.Metadata}
	if cs.Subscription != nil {
		out.SubscriptionID = cs.Subscription.ID
	}
	if cs.Customer != nil {
		out.CustomerID = cs.Customer.ID
	}
	return out, nil
}

func (g *StripeGateway) DecodeInvoice(payload []byte) (*model.Invoice, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(payload, &inv); err != nil {
		return nil, fmt.Errorf("decode invoice: %w", err)
	}
	out := &model.Invoice{ID: inv.ID}
	if inv.Subscription != nil {
		out.SubscriptionID = inv.Subscription.ID
	}
	if inv.Customer != nil {
		out.CustomerID = inv.Customer.ID
	}
	return out, nil
}

func toProviderSubscription(s *stripe.Subscription) *model.ProviderSubscription {
	p := &model.ProviderSubscription{
		ID:                 s.ID,
		Currency:           string(s.Currency),
		Status:             model.SubscriptionStatus(s.Status),
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		CanceledAt:         optionalUnix(s.CanceledAt),
		EndedAt:            optionalUnix(s.EndedAt),
		StartDate:          s.StartDate,
		Metadata:           s.Metadata,
	}
	if s.Customer != nil {
		p.CustomerID = s.Customer.ID
	}
	if s.Items != nil && len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		if item.Price != nil {
			p.PriceID = item.Price.ID
			p.Amount = item.Price.UnitAmount
			if item.Price.Recurring != nil {
				p.BillingInterval = string(item.Price.Recurring.Interval)
			}
			if p.Currency == "" {
				p.Currency = string(item.Price.Currency)
			}
		}
		// legacy plan objects
		if item.Plan != nil {
			if p.PriceID == "" {
				p.PriceID = item.Plan.ID
			}
			if p.Amount == 0 {
				p.Amount = item.Plan.Amount
			}
			if p.BillingInterval == "" {
				p.BillingInterval = string(item.Plan.Interval)
			}
		}
	}
	return p
}

func optionalUnix(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}
