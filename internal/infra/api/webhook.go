package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"qrmenu-billing/internal/domain"
	"qrmenu-billing/internal/infra/logging"
	"qrmenu-billing/internal/infra/metrics"
)

const signatureHeader = "Stripe-Signature"

type webhookAck struct {
	OK        bool   `json:"ok"`
	Duplicate bool   `json:"duplicate"`
	Action    string `json:"action,omitempty"`
}

// handleWebhook answers 400 for verification failures, 500 for configuration and
// processing failures and 200 once the event is recorded and reconciled.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result, reason := "fail", "processing_error"
	defer func() {
		metrics.IncWebhookRequest(result, reason)
		metrics.ObserveWebhookDuration(result, time.Since(start).Seconds())
	}()

	sig := strings.TrimSpace(r.Header.Get(signatureHeader))
	if sig == "" {
		reason = "missing_signature"
		writeError(w, http.StatusBadRequest, domain.ErrMissingSignature.Error())
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		reason = "read_body"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	ctx := r.Context()
	out, err := s.webhook.Receive(ctx, payload, sig)
	switch {
	case errors.Is(err, domain.ErrMissingSignature):
		reason = "missing_signature"
		writeError(w, http.StatusBadRequest, domain.ErrMissingSignature.Error())
		return
	case errors.Is(err, domain.ErrInvalidSignature):
		reason = "invalid_signature"
		writeError(w, http.StatusBadRequest, domain.ErrInvalidSignature.Error())
		return
	case errors.Is(err, domain.ErrMissingWebhookSecret):
		reason = "missing_secret"
		s.log.Error().Msg("webhook secret is not configured")
		writeError(w, http.StatusInternalServerError, domain.ErrMissingWebhookSecret.Error())
		return
	case err != nil:
		logging.With(ctx, s.log).Error().Err(err).Msg("webhook processing failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	result, reason = "ok", "processed"
	ack := webhookAck{OK: true}
	if out != nil {
		ack.Duplicate = out.Duplicate
		ack.Action = out.Action
		if out.Duplicate {
			reason = "duplicate"
		}
	}
	writeJSON(w, http.StatusOK, ack)
}
