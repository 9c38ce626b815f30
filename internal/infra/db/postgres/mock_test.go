//go:build !integration

package postgres

import (
	"context"
	"time"

	"qrmenu-billing/internal/domain/model"
	"qrmenu-billing/internal/domain/ports/repository"
	red "qrmenu-billing/internal/infra/redis"
)

// --- Mocks for Cache Decorator Tests ---

// mockInnerTenantRepo mocks the database repository that the tenant decorator wraps.
type mockInnerTenantRepo struct {
	SetAccessFunc func(ctx context.Context, tx repository.Tx, tenantID string, active bool) error
	GetAccessFunc func(ctx context.Context, tx repository.Tx, tenantID string) (*model.TenantAccess, error)
}

func (m *mockInnerTenantRepo) SetAccess(ctx context.Context, tx repository.Tx, tenantID string, active bool) error {
	return m.SetAccessFunc(ctx, tx, tenantID, active)
}
func (m *mockInnerTenantRepo) GetAccess(ctx context.Context, tx repository.Tx, tenantID string) (*model.TenantAccess, error) {
	return m.GetAccessFunc(ctx, tx, tenantID)
}

// mockRedisClient mocks our Redis client wrapper.
type mockRedisClient struct {
	GetFunc   func(ctx context.Context, key string) (string, error)
	SetFunc   func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc   func(ctx context.Context, keys ...string) error
	PingFunc  func(ctx context.Context) error
	CloseFunc func() error
}

var _ red.RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	if m.GetFunc == nil {
		return "", red.Nil
	}
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if m.SetFunc == nil {
		return nil
	}
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	if m.DelFunc == nil {
		return nil
	}
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) Ping(ctx context.Context) error { return m.PingFunc(ctx) }
func (m *mockRedisClient) Close() error                   { return m.CloseFunc() }
