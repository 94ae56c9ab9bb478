package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "codenav"

// Metrics owns a private Prometheus registry for the indexing and query
// paths. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	indexRuns     *prometheus.CounterVec
	indexDuration prometheus.Histogram
	indexedFiles  prometheus.Gauge
	indexedChunks prometheus.Gauge
	queries       *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		indexRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_runs_total",
			Help:      "Indexing runs by result.",
		}, []string{"result"}),
		indexDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_duration_seconds",
			Help:      "Wall time of indexing runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		indexedFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexed_files",
			Help:      "Files in the current snapshot.",
		}),
		indexedChunks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexed_chunks",
			Help:      "Chunks in the current snapshot.",
		}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Queries by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(m.indexRuns, m.indexDuration, m.indexedFiles, m.indexedChunks, m.queries)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IndexSucceeded records a completed run and the size of the new snapshot.
func (m *Metrics) IndexSucceeded(d time.Duration, files, chunks int) {
	if m == nil {
		return
	}
	m.indexRuns.WithLabelValues("indexed").Inc()
	m.indexDuration.Observe(d.Seconds())
	m.indexedFiles.Set(float64(files))
	m.indexedChunks.Set(float64(chunks))
}

func (m *Metrics) IndexFailed(d time.Duration) {
	if m == nil {
		return
	}
	m.indexRuns.WithLabelValues("error").Inc()
	m.indexDuration.Observe(d.Seconds())
}

// QueryServed counts a query; result is "ok", "invalid" or "error".
func (m *Metrics) QueryServed(result string) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(result).Inc()
}
