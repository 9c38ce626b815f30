package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"qrmenu-billing/internal/domain"
	"qrmenu-billing/internal/infra/logging"
)

type accessResponse struct {
	TenantID  string    `json:"tenant_id"`
	Active    bool      `json:"active"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

type subscriptionResponse struct {
	SubscriptionID     string            `json:"subscription_id"`
	TenantID           string            `json:"tenant_id"`
	CustomerID         string            `json:"customer_id,omitempty"`
	PriceID            string            `json:"price_id,omitempty"`
	Currency           string            `json:"currency,omitempty"`
	Interval           string            `json:"interval,omitempty"`
	Amount             int64             `json:"amount"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CanceledAt         *int64            `json:"canceled_at"`
	EndedAt            *int64            `json:"ended_at"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	Active             bool              `json:"active"`
}

func (s *Server) handleTenantAccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "tenantID")
	ctx = logging.WithTenantID(ctx, id)

	a, err := s.access.TenantAccess(ctx, id)
	if err != nil {
		s.writeUseCaseError(w, r.WithContext(ctx), err)
		return
	}
	writeJSON(w, http.StatusOK, accessResponse{
		TenantID:  a.TenantID,
		Active:    a.Active(),
		Status:    string(a.Status),
		UpdatedAt: a.UpdatedAt,
	})
}

func (s *Server) handleSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "tenantID")
	ctx = logging.WithTenantID(ctx, id)

	v, err := s.access.SubscriptionView(ctx, id)
	if err != nil {
		s.writeUseCaseError(w, r.WithContext(ctx), err)
		return
	}
	snap := v.Snapshot
	writeJSON(w, http.StatusOK, subscriptionResponse{
		SubscriptionID:     snap.SubscriptionID,
		TenantID:           snap.Tenant(),
		CustomerID:         snap.CustomerID,
		PriceID:            snap.PriceID,
		Currency:           snap.Currency,
		Interval:           snap.BillingInterval,
		Amount:             snap.Amount,
		Status:             string(snap.Status),
		CurrentPeriodStart: snap.CurrentPeriodStart,
		CurrentPeriodEnd:   snap.CurrentPeriodEnd,
		CancelAtPeriodEnd:  snap.CancelAtPeriodEnd,
		CanceledAt:         snap.CanceledAt,
		EndedAt:            snap.EndedAt,
		Metadata:           snap.Metadata,
		Active:             v.Active,
	})
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "eventID")
	ctx = logging.WithEventID(ctx, id)

	out, err := s.webhook.Replay(ctx, id)
	if err != nil {
		s.writeUseCaseError(w, r.WithContext(ctx), err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeUseCaseError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logging.With(r.Context(), s.log).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
