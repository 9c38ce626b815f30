// File: internal/usecase/webhook_uc.go
package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"qrmenu-billing/internal/domain"
	"qrmenu-billing/internal/domain/model"
	"qrmenu-billing/internal/domain/ports/adapter"
	"qrmenu-billing/internal/infra/logging"
)

// Compile-time check
var _ WebhookUseCase = (*webhookUC)(nil)

type WebhookUseCase interface {
	// Receive verifies a raw delivery and processes it.
	// Verification errors are domain.ErrMissingSignature, domain.ErrMissingWebhookSecret
	// and domain.ErrInvalidSignature; nothing is stored in those cases.
	Receive(ctx context.Context, payload []byte, signature string) (*model.ReconcileOutcome, error)
	// Process records a verified event on the ledger and reconciles it.
	// The ledger row stands even when reconciliation fails.
	Process(ctx context.Context, ev *model.BillingEvent) (*model.ReconcileOutcome, error)
	// Replay reconciles a stored event again.
	Replay(ctx context.Context, providerEventID string) (*model.ReconcileOutcome, error)
}

type webhookUC struct {
	ledger     EventLedger
	reconciler SubscriptionReconciler
	gateway    adapter.BillingGateway
	secret     string
	log        *zerolog.Logger
}

func NewWebhookUseCase(
	ledger EventLedger,
	reconciler SubscriptionReconciler,
	gateway adapter.BillingGateway,
	webhookSecret string,
	logger *zerolog.Logger,
) *webhookUC {
	return &webhookUC{
		ledger:     ledger,
		reconciler: reconciler,
		gateway:    gateway,
		secret:     strings.TrimSpace(webhookSecret),
		log:        logger,
	}
}

func (w *webhookUC) Receive(ctx context.Context, payload []byte, signature string) (*model.ReconcileOutcome, error) {
	if strings.TrimSpace(signature) == "" {
		return nil, domain.ErrMissingSignature
	}
	if w.secret == "" {
		return nil, domain.ErrMissingWebhookSecret
	}
	ev, err := w.gateway.ConstructEvent(payload, signature, w.secret)
	if err != nil {
		logging.With(ctx, w.log).Warn().Err(err).Str("provider", w.gateway.Name()).Msg("webhook verification failed")
		if errors.Is(err, domain.ErrInvalidSignature) {
			return nil, domain.ErrInvalidSignature
		}
		return nil, err
	}
	return w.Process(ctx, ev)
}

func (w *webhookUC) Process(ctx context.Context, ev *model.BillingEvent) (*model.ReconcileOutcome, error) {
	defer logging.TraceDuration(w.log, "WebhookUC.Process")()
	recorded, err := w.ledger.Record(ctx, ev)
	if err != nil {
		return nil, err
	}
	out, err := w.reconciler.Reconcile(ctx, ev)
	if out != nil {
		out.Duplicate = !recorded
	}
	return out, err
}

func (w *webhookUC) Replay(ctx context.Context, providerEventID string) (*model.ReconcileOutcome, error) {
	ev, err := w.ledger.Get(ctx, providerEventID)
	if err != nil {
		return nil, err
	}
	logging.With(ctx, w.log).Info().Str("event_id", ev.ProviderEventID).Str("event_type", ev.EventType).Msg("replaying stored event")
	out, err := w.reconciler.Reconcile(ctx, ev)
	if out != nil {
		out.Duplicate = true
	}
	return out, err
}
