// File: internal/usecase/ledger_uc.go
package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"qrmenu-billing/internal/domain"
	"qrmenu-billing/internal/domain/model"
	"qrmenu-billing/internal/domain/ports/repository"
	"qrmenu-billing/internal/infra/logging"
)

// Compile-time check
var _ EventLedger = (*ledgerUC)(nil)

// EventLedger is the append-only record of every verified provider event.
type EventLedger interface {
	// Record stores ev once per provider event ID. recorded is false for a redelivery.
	Record(ctx context.Context, ev *model.BillingEvent) (recorded bool, err error)
	// Get loads a stored event by its provider event ID.
	Get(ctx context.Context, providerEventID string) (*model.BillingEvent, error)
}

type ledgerUC struct {
	events repository.BillingEventRepository
	log    *zerolog.Logger
	now    func() time.Time
}

func NewEventLedger(events repository.BillingEventRepository, logger *zerolog.Logger) *ledgerUC {
	return &ledgerUC{events: events, log: logger, now: time.Now}
}

func (l *ledgerUC) Record(ctx context.Context, ev *model.BillingEvent) (bool, error) {
	defer logging.TraceDuration(l.log, "EventLedger.Record")()
	if ev == nil || strings.TrimSpace(ev.ProviderEventID) == "" {
		return false, domain.ErrInvalidArgument
	}
	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = l.now().UTC()
	}

	inserted, err := l.events.Insert(ctx, repository.NoTX, ev)
	if err != nil {
		return false, domain.Persistence("ledger.insert", err)
	}
	if !inserted {
		l.log.Info().
			Str("event_id", ev.ProviderEventID).
			Str("event_type", ev.EventType).
			Msg("duplicate delivery; ledger row already exists")
	}
	return inserted, nil
}

func (l *ledgerUC) Get(ctx context.Context, providerEventID string) (*model.BillingEvent, error) {
	id := strings.TrimSpace(providerEventID)
	if id == "" {
		return nil, domain.ErrInvalidArgument
	}
	return l.events.FindByProviderID(ctx, repository.NoTX, id)
}
