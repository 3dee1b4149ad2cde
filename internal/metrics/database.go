package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StoreQueryDuration tracks latency of the storage operations on the upsert path.
var StoreQueryDuration = promauto.With(Registry).NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "store_query_duration_seconds",
		Help:      "Storage operation duration in seconds",
		Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	},
	[]string{"operation"},
)

// StoreErrorsTotal counts failed storage operations by class.
var StoreErrorsTotal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_errors_total",
		Help:      "Total number of failed storage operations",
	},
	[]string{"operation", "class"}, // class: canceled|timeout|sqlstate_<code>|other
)

// ObserveQuery records one storage operation started at start. A missing row
// is an answer, not a failure.
//
//	start := time.Now()
//	id, err := ...
//	metrics.ObserveQuery("upsert_venue", start, err)
func ObserveQuery(operation string, start time.Time, err error) {
	StoreQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err == nil || errors.Is(err, pgx.ErrNoRows) {
		return
	}
	StoreErrorsTotal.WithLabelValues(operation, errorClass(err)).Inc()
}

func errorClass(err error) string {
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &pgErr):
		return "sqlstate_" + pgErr.Code
	default:
		return "other"
	}
}

// PoolStats is the subset of *pgxpool.Stat the pool collector reads.
type PoolStats interface {
	TotalConns() int32
	AcquiredConns() int32
	IdleConns() int32
	MaxConns() int32
	EmptyAcquireCount() int64
	CanceledAcquireCount() int64
	AcquireDuration() time.Duration
}

// PoolCollector reports connection pool state at scrape time, so there is
// no polling goroutine to start or stop.
type PoolCollector struct {
	stat func() PoolStats

	total    *prometheus.Desc
	acquired *prometheus.Desc
	idle     *prometheus.Desc
	max      *prometheus.Desc
	waits    *prometheus.Desc
	canceled *prometheus.Desc
	waitTime *prometheus.Desc
}

// NewPoolCollector reads pool. A nil pool yields no samples.
func NewPoolCollector(pool *pgxpool.Pool) *PoolCollector {
	return newPoolCollector(func() PoolStats {
		if pool == nil {
			return nil
		}
		return pool.Stat()
	})
}

func newPoolCollector(stat func() PoolStats) *PoolCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "db_pool", name), help, nil, nil)
	}
	return &PoolCollector{
		stat:     stat,
		total:    desc("connections", "Open connections in the pool"),
		acquired: desc("connections_acquired", "Connections currently checked out"),
		idle:     desc("connections_idle", "Idle connections in the pool"),
		max:      desc("connections_max", "Configured pool size"),
		waits:    desc("empty_acquires_total", "Acquires that had to wait for a connection"),
		canceled: desc("canceled_acquires_total", "Acquires canceled while waiting"),
		waitTime: desc("acquire_seconds_total", "Cumulative time spent acquiring connections"),
	}
}

func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.total, c.acquired, c.idle, c.max, c.waits, c.canceled, c.waitTime} {
		ch <- d
	}
}

func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stat()
	if s == nil {
		return
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	counter := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v)
	}
	gauge(c.total, float64(s.TotalConns()))
	gauge(c.acquired, float64(s.AcquiredConns()))
	gauge(c.idle, float64(s.IdleConns()))
	gauge(c.max, float64(s.MaxConns()))
	counter(c.waits, float64(s.EmptyAcquireCount()))
	counter(c.canceled, float64(s.CanceledAcquireCount()))
	counter(c.waitTime, s.AcquireDuration().Seconds())
}
