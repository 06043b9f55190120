// Package metrics defines the prometheus collectors exported by the engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pagegraph"

// Metrics holds every engine collector.
type Metrics struct {
	QueriesTotal    *prometheus.CounterVec
	WritesTotal     *prometheus.CounterVec
	ChunkExecutions prometheus.Counter
	ChunkReuses     prometheus.Counter
	QueryDuration   prometheus.Histogram
	LongRunning     prometheus.Counter
	PoolInFlight    prometheus.Gauge
	BatchesTotal    prometheus.Counter
	DirtyQueries    prometheus.Gauge
	LiveClients     prometheus.Gauge
	LiveMessages    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests usually want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queries",
				Name:      "total",
				Help:      "Query executions by terminal state",
			},
			[]string{"state"},
		),
		WritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "results",
				Name:      "writes_total",
				Help:      "Result artifacts written or skipped because the hash was unchanged",
			},
			[]string{"result"},
		),
		ChunkExecutions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chunks",
			Name:      "executions_total",
			Help:      "Shared chunks executed",
		}),
		ChunkReuses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chunks",
			Name:      "reuses_total",
			Help:      "Shared chunk results served without execution",
		}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queries",
			Name:      "duration_seconds",
			Help:      "Wall time of a query run including stitching and persistence",
			Buckets:   prometheus.DefBuckets,
		}),
		LongRunning: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queries",
			Name:      "long_running_total",
			Help:      "Queries that exceeded the long-running threshold",
		}),
		PoolInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "in_flight",
			Help:      "Executions currently holding a pool slot",
		}),
		BatchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "batches_total",
			Help:      "Run batches processed",
		}),
		DirtyQueries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "dirty_queries",
			Help:      "Tracked queries still dirty after the most recent batch",
		}),
		LiveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "clients",
			Help:      "Connected develop clients",
		}),
		LiveMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "live",
				Name:      "messages_total",
				Help:      "Messages broadcast to develop clients by type",
			},
			[]string{"type"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.QueriesTotal,
			m.WritesTotal,
			m.ChunkExecutions,
			m.ChunkReuses,
			m.QueryDuration,
			m.LongRunning,
			m.PoolInFlight,
			m.BatchesTotal,
			m.DirtyQueries,
			m.LiveClients,
			m.LiveMessages,
		)
	}
	return m
}

// Handler serves the registry in the prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
