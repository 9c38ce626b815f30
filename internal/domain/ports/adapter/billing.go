package adapter

import (
	"context"

	"qrmenu-billing/internal/domain/model"
)

// BillingGateway is the payment provider as seen by the reconciler.
type BillingGateway interface {
	Name() string

	// ConstructEvent verifies signature over payload with secret and parses the event.
	// Verification failures return domain.ErrInvalidSignature.
	ConstructEvent(payload []byte, signature, secret string) (*model.BillingEvent, error)

	// GetSubscription fetches the current subscription object from the provider.
	GetSubscription(ctx context.Context, subscriptionID string) (*model.ProviderSubscription, error)

	DecodeSubscription(payload []byte) (*model.ProviderSubscription, error)
	DecodeCheckoutSession(payload []byte) (*model.CheckoutSession, error)
	DecodeInvoice(payload []byte) (*model.Invoice, error)
}
