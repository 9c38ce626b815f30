package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(dbPoolConns, dbAcquireWait) }

var (
	// state: total|idle|acquired|max
	dbPoolConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "billing_db_pool_connections",
			Help: "Connections in the Postgres pool by state.",
		},
		[]string{"state"},
	)

	dbAcquireWait = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "billing_db_pool_acquire_wait_seconds",
		Help: "Cumulative time spent waiting for a pool connection.",
	})
)

// PoolSnapshot mirrors the pgxpool.Stat fields that are exported as gauges.
type PoolSnapshot struct {
	Total, Idle, Acquired, Max int32
	AcquireWaitSeconds         float64
}

func SetDBPoolStats(s PoolSnapshot) {
	dbPoolConns.WithLabelValues("total").Set(float64(s.Total))
	dbPoolConns.WithLabelValues("idle").Set(float64(s.Idle))
	dbPoolConns.WithLabelValues("acquired").Set(float64(s.Acquired))
	dbPoolConns.WithLabelValues("max").Set(float64(s.Max))
	dbAcquireWait.Set(s.AcquireWaitSeconds)
}
