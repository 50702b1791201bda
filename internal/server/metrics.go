package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the ingest counters exported on /metrics. Each server owns
// its own registry so several instances can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	EventsIngested prometheus.Counter
	EventsFailed   prometheus.Counter
	BatchSize      prometheus.Histogram
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		EventsIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "sqlog_events_ingested_total",
			Help: "Events accepted and written to the database.",
		}),
		EventsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "sqlog_events_failed_total",
			Help: "Events discarded because they were malformed or failed to persist.",
		}),
		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sqlog_ingest_batch_size",
			Help:    "Number of records per ingest request.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
