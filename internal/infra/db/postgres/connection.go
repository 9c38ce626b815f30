package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"qrmenu-billing/internal/infra/metrics"
)

// NewPgxPool connects to url and verifies the connection.
func NewPgxPool(ctx context.Context, url string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// ReportPoolStats publishes pool gauges every interval until ctx is done.
func ReportPoolStats(ctx context.Context, pool *pgxpool.Pool, interval time.Duration, logger *zerolog.Logger) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	logger.Debug().Str("component", "db_stats").Dur("interval", interval).Msg("pool stats reporter started")
	for {
		s := pool.Stat()
		metrics.SetDBPoolStats(metrics.PoolSnapshot{
			Total:              s.TotalConns(),
			Idle:               s.IdleConns(),
			Acquired:           s.AcquiredConns(),
			Max:                s.MaxConns(),
			AcquireWaitSeconds: s.AcquireDuration().Seconds(),
		})
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
