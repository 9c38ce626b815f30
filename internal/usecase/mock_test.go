package usecase_test

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"qrmenu-billing/internal/domain"
	"qrmenu-billing/internal/domain/model"
	"qrmenu-billing/internal/domain/ports/adapter"
	"qrmenu-billing/internal/domain/ports/repository"
)

// =============================
// Repositories (in-memory + hooks)
// =============================

// ---- BillingEventRepository ----

type MockBillingEventRepo struct {
	mu   sync.Mutex
	rows map[string]*model.BillingEvent

	InsertFunc func(ctx context.Context, tx repository.Tx, ev *model.BillingEvent) (bool, error)
}

func NewMockBillingEventRepo() *MockBillingEventRepo {
	return &MockBillingEventRepo{rows: map[string]*model.BillingEvent{}}
}

var _ repository.BillingEventRepository = (*MockBillingEventRepo)(nil)

func (m *MockBillingEventRepo) Insert(ctx context.Context, tx repository.Tx, ev *model.BillingEvent) (bool, error) {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, tx, ev)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[ev.ProviderEventID]; ok {
		return false, nil
	}
	cp := *ev
	m.rows[ev.ProviderEventID] = &cp
	return true, nil
}

func (m *MockBillingEventRepo) FindByProviderID(ctx context.Context, tx repository.Tx, id string) (*model.BillingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (m *MockBillingEventRepo) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// ---- SubscriptionRepository ----

// MockSubscriptionRepo mirrors the Postgres upsert: rows written by a newer
// event are kept and a nil tenant keeps the stored tenant.
type MockSubscriptionRepo struct {
	mu      sync.Mutex
	rows    map[string]*model.SubscriptionSnapshot
	Upserts int

	UpsertFunc   func(ctx context.Context, tx repository.Tx, s *model.SubscriptionSnapshot) (bool, error)
	FindByIDFunc func(ctx context.Context, tx repository.Tx, id string) (*model.SubscriptionSnapshot, error)
	ListFunc     func(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.SubscriptionSnapshot, error)
}

func NewMockSubscriptionRepo() *MockSubscriptionRepo {
	return &MockSubscriptionRepo{rows: map[string]*model.SubscriptionSnapshot{}}
}

var _ repository.SubscriptionRepository = (*MockSubscriptionRepo)(nil)

func (m *MockSubscriptionRepo) Upsert(ctx context.Context, tx repository.Tx, s *model.SubscriptionSnapshot) (bool, error) {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, tx, s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[s.SubscriptionID]
	if ok && !cur.LastEventAt.IsZero() && s.LastEventAt.Before(cur.LastEventAt) {
		return false, nil
	}
	cp := *s
	if cp.TenantID == nil && ok {
		cp.TenantID = cur.TenantID
	}
	cp.UpdatedAt = time.Now().UTC()
	m.rows[s.SubscriptionID] = &cp
	m.Upserts++
	return true, nil
}

func (m *MockSubscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.SubscriptionSnapshot, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, tx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MockSubscriptionRepo) FindLatestByTenant(ctx context.Context, tx repository.Tx, tenantID string) (*model.SubscriptionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *model.SubscriptionSnapshot
	for _, s := range m.rows {
		if s.Tenant() != tenantID {
			continue
		}
		if best == nil || s.CurrentPeriodEnd > best.CurrentPeriodEnd {
			best = s
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

// ListSweepCandidates returns every stored snapshot; the use case filters.
func (m *MockSubscriptionRepo) ListSweepCandidates(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.SubscriptionSnapshot, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, tx, now, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.SubscriptionSnapshot, 0, len(m.rows))
	for _, s := range m.rows {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubscriptionID < out[j].SubscriptionID })
	return out, nil
}

// Put seeds a snapshot without the ordering guard.
func (m *MockSubscriptionRepo) Put(s *model.SubscriptionSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.rows[s.SubscriptionID] = &cp
}

func (m *MockSubscriptionRepo) Get(id string) *model.SubscriptionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.rows[id]; ok {
		cp := *s
		return &cp
	}
	return nil
}

// ---- TenantRepository ----

type accessWrite struct {
	TenantID string
	Active   bool
}

type MockTenantRepo struct {
	mu     sync.Mutex
	status map[string]model.AccessStatus
	Writes []accessWrite

	SetAccessFunc func(ctx context.Context, tx repository.Tx, tenantID string, active bool) error
}

func NewMockTenantRepo() *MockTenantRepo {
	return &MockTenantRepo{status: map[string]model.AccessStatus{}}
}

var _ repository.TenantRepository = (*MockTenantRepo)(nil)

func (m *MockTenantRepo) SetAccess(ctx context.Context, tx repository.Tx, tenantID string, active bool) error {
	if m.SetAccessFunc != nil {
		if err := m.SetAccessFunc(ctx, tx, tenantID, active); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[tenantID] = model.AccessStatusFor(active)
	m.Writes = append(m.Writes, accessWrite{TenantID: tenantID, Active: active})
	return nil
}

func (m *MockTenantRepo) GetAccess(ctx context.Context, tx repository.Tx, tenantID string) (*model.TenantAccess, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.status[tenantID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &model.TenantAccess{TenantID: tenantID, Status: st}, nil
}

// Flag returns the stored flag and whether one was ever written.
func (m *MockTenantRepo) Flag(tenantID string) (active bool, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.status[tenantID]
	return st == model.AccessStatusActive, ok
}

func (m *MockTenantRepo) Seed(tenantID string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[tenantID] = model.AccessStatusFor(active)
}

// =============================
// Adapters
// =============================

// ---- BillingGateway ----

// MockGateway decodes payloads as JSON encodings of the model structs.
type MockGateway struct {
	mu            sync.Mutex
	Subscriptions map[string]*model.ProviderSubscription
	Fetches       int

	ConstructEventFunc  func(payload []byte, signature, secret string) (*model.BillingEvent, error)
	GetSubscriptionFunc func(ctx context.Context, id string) (*model.ProviderSubscription, error)
}

func NewMockGateway() *MockGateway {
	return &MockGateway{Subscriptions: map[string]*model.ProviderSubscription{}}
}

var _ adapter.BillingGateway = (*MockGateway)(nil)

func (g *MockGateway) Name() string { return "mock" }

func (g *MockGateway) ConstructEvent(payload []byte, signature, secret string) (*model.BillingEvent, error) {
	if g.ConstructEventFunc != nil {
		return g.ConstructEventFunc(payload, signature, secret)
	}
	if signature != "valid" {
		return nil, domain.ErrInvalidSignature
	}
	var env struct {
		ID      string          `json:"id"`
		Type    string          `json:"type"`
		Created int64           `json:"created"`
		Object  json.RawMessage `json:"object"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}
	return model.NewBillingEvent(env.ID, env.Type, time.Unix(env.Created, 0), env.Object)
}

func (g *MockGateway) GetSubscription(ctx context.Context, id string) (*model.ProviderSubscription, error) {
	if g.GetSubscriptionFunc != nil {
		return g.GetSubscriptionFunc(ctx, id)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Fetches++
	s, ok := g.Subscriptions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (g *MockGateway) DecodeSubscription(payload []byte) (*model.ProviderSubscription, error) {
	var s model.ProviderSubscription
	return &s, json.Unmarshal(payload, &s)
}

func (g *MockGateway) DecodeCheckoutSession(payload []byte) (*model.CheckoutSession, error) {
	var s model.CheckoutSession
	return &s, json.Unmarshal(payload, &s)
}

func (g *MockGateway) DecodeInvoice(payload []byte) (*model.Invoice, error) {
	var i model.Invoice
	return &i, json.Unmarshal(payload, &i)
}

// ---- Locker ----

type MockLocker struct {
	mu    sync.Mutex
	held  map[string]string
	Taken []string
}

func NewMockLocker() *MockLocker {
	return &MockLocker{held: map[string]string{}}
}

var _ adapter.Locker = (*MockLocker)(nil)

func (l *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if tok, ok := l.held[key]; ok && tok != "" {
		return "", domain.ErrLockBusy
	}
	tok := uuid.NewString()
	l.held[key] = tok
	l.Taken = append(l.Taken, key)
	return tok, nil
}

func (l *MockLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
		return nil
	}
	return domain.ErrInvalidArgument
}

// Hold marks key as taken by another process.
func (l *MockLocker) Hold(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held[key] = "someone-else"
}

func (l *MockLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

// =============================
// Infra helpers for tests
// =============================

// ---- Mock TransactionManager ----

type MockTxManager struct {
	Calls      int
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs fn immediately with NoTX unless WithTxFunc is set.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.Calls++
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// =============================
// Event builders
// =============================

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func newEvent(id, eventType string, at time.Time, object any) *model.BillingEvent {
	ev, err := model.NewBillingEvent(id, eventType, at, mustJSON(object))
	if err != nil {
		panic(err)
	}
	return ev
}
