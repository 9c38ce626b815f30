package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"qrmenu-billing/internal/domain/model"
	"qrmenu-billing/internal/domain/ports/repository"
	"qrmenu-billing/internal/infra/metrics"
	red "qrmenu-billing/internal/infra/redis"
)

var _ repository.TenantRepository = (*tenantRepoCacheDecorator)(nil)

type tenantRepoCacheDecorator struct {
	inner repository.TenantRepository
	cache red.RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

func NewTenantRepoCacheDecorator(inner repository.TenantRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.TenantRepository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &tenantRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl, log: logger}
}

func accessKey(tenantID string) string { return fmt.Sprintf("tenant_access:%s", tenantID) }

func (d *tenantRepoCacheDecorator) GetAccess(ctx context.Context, tx repository.Tx, tenantID string) (*model.TenantAccess, error) {
	key := accessKey(tenantID)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var a model.TenantAccess
		if json.Unmarshal([]byte(val), &a) == nil {
			metrics.IncCacheRequest("tenant_access", "hit")
			return &a, nil
		}
	} else if !errors.Is(err, red.Nil) {
		metrics.IncCacheRequest("tenant_access", "error")
		d.log.Warn().Err(err).Str("key", key).Msg("cache get failed; reading through")
	}

	metrics.IncCacheRequest("tenant_access", "miss")
	a, err := d.inner.GetAccess(ctx, tx, tenantID)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(a); err == nil {
		if err := d.cache.Set(ctx, key, b, d.ttl); err != nil {
			d.log.Warn().Err(err).Str("key", key).Msg("cache set failed")
		}
	}
	return a, nil
}

// SetAccess drops the cached flag after the write. Inside a transaction a read
// racing the commit can re-cache the old value until ttl expires.
func (d *tenantRepoCacheDecorator) SetAccess(ctx context.Context, tx repository.Tx, tenantID string, active bool) error {
	if err := d.inner.SetAccess(ctx, tx, tenantID, active); err != nil {
		return err
	}
	d.invalidate(ctx, accessKey(tenantID))
	return nil
}

func (d *tenantRepoCacheDecorator) invalidate(ctx context.Context, key string) {
	if err := d.cache.Del(ctx, key); err != nil {
		d.log.Warn().Err(err).Str("key", key).Msg("cache invalidation failed")
	}
}
