package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"qrmenu-billing/internal/infra/metrics"
	"qrmenu-billing/internal/usecase"
)

// ExpiryWorker periodically turns off access for tenants whose period ended
// without a webhook saying so.
type ExpiryWorker struct {
	interval time.Duration
	accessUC usecase.AccessUseCase
	log      *zerolog.Logger
}

func NewExpiryWorker(interval time.Duration, accessUC usecase.AccessUseCase, logger *zerolog.Logger) *ExpiryWorker {
	exprLog := logger.With().Str("component", "ExpiryWorker").Logger()
	return &ExpiryWorker{
		interval: interval,
		accessUC: accessUC,
		log:      &exprLog,
	}
}

// Run sweeps once immediately and then on every tick. A non-positive interval disables the worker.
func (w *ExpiryWorker) Run(ctx context.Context) error {
	if w.interval <= 0 {
		w.log.Info().Msg("expiry worker disabled")
		return nil
	}
	w.log.Info().Dur("interval", w.interval).Msg("Starting expiry worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping expiry worker")
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ExpiryWorker) sweep(ctx context.Context) {
	n, err := w.accessUC.SweepExpired(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("expiry worker error")
	}
	if n > 0 {
		metrics.IncSubscriptionsExpired(n)
		w.log.Info().Int("count", n).Msg("expired tenant access switched off")
	}
}
