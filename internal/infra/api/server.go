package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"qrmenu-billing/internal/usecase"
)

const (
	defaultWebhookPath = "/api/v1/payments/webhook"
	defaultMaxBody     = 1 << 20
	defaultTimeout     = 15 * time.Second
)

type Options struct {
	WebhookPath    string
	MaxBodyBytes   int64
	RequestTimeout time.Duration
}

// Server exposes the billing webhook plus read-only access endpoints.
type Server struct {
	webhook usecase.WebhookUseCase
	access  usecase.AccessUseCase
	auth    *AdminAuth
	opts    Options
	log     *zerolog.Logger
}

func NewServer(
	webhook usecase.WebhookUseCase,
	access usecase.AccessUseCase,
	auth *AdminAuth,
	opts Options,
	logger *zerolog.Logger,
) *Server {
	if opts.WebhookPath == "" {
		opts.WebhookPath = defaultWebhookPath
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBody
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultTimeout
	}
	l := logger.With().Str("component", "http").Logger()
	return &Server{webhook: webhook, access: access, auth: auth, opts: opts, log: &l}
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Post(s.opts.WebhookPath, s.handleWebhook)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/api/v1/tenants/{tenantID}/access", s.handleTenantAccess)
	r.Get("/api/v1/tenants/{tenantID}/subscription", s.handleSubscription)
	r.With(s.auth.RequireAdmin).Post("/api/v1/admin/events/{eventID}/replay", s.handleReplay)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return Chain(r,
		CORS(),
		TraceID(s.log),
		RequestLog(s.log),
		Recover(s.log),
		Timeout(s.opts.RequestTimeout),
	)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg})
}
