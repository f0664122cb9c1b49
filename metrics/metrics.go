// Package metrics exposes Prometheus collectors for the stub key server and
// the load runner, and serves them on a dedicated listener.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer serves /metrics from its own registry.
type MetricsServer struct {
	namespace string
	registry  *prometheus.Registry
	srv       *http.Server
}

// New creates a metrics server listening on addr. The registry carries the
// Go runtime and process collectors.
func New(namespace, addr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}

	m := &MetricsServer{
		namespace: namespace,
		registry:  registry,
	}

	mux := chi.NewRouter()
	mux.Handle("/metrics", m.Handler())

	m.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return m, nil
}

// Registry returns the registry new collectors are registered with.
func (m *MetricsServer) Registry() *prometheus.Registry {
	return m.registry
}

// Namespace returns the metric name prefix.
func (m *MetricsServer) Namespace() string {
	return m.namespace
}

// Handler returns the promhttp handler for the registry.
func (m *MetricsServer) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}

// ServerMetrics instruments the stub key server endpoints.
type ServerMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	uploaded prometheus.Counter
}

// NewServerMetrics registers the stub server collectors with reg.
func NewServerMetrics(reg prometheus.Registerer, namespace string) *ServerMetrics {
	factory := promauto.With(reg)
	return &ServerMetrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stub",
			Name:      "requests_total",
			Help:      "Requests served by the stub key server.",
		}, []string{"endpoint", "status"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stub",
			Name:      "request_duration_seconds",
			Help:      "Latency of stub key server requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		uploaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stub",
			Name:      "uploaded_keys_total",
			Help:      "Temporary exposure keys accepted by the stub key server.",
		}),
	}
}

// ObserveRequest records one request. A nil receiver is a no-op.
func (m *ServerMetrics) ObserveRequest(endpoint string, status int, started time.Time) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(endpoint, http.StatusText(status)).Inc()
	m.latency.WithLabelValues(endpoint).Observe(time.Since(started).Seconds())
}

// AddUploadedKeys counts keys accepted by an upload. A nil receiver is a no-op.
func (m *ServerMetrics) AddUploadedKeys(n int) {
	if m == nil {
		return
	}
	m.uploaded.Add(float64(n))
}

// RunMetrics instruments submission and retrieval runs.
type RunMetrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewRunMetrics registers the load runner collectors with reg.
func NewRunMetrics(reg prometheus.Registerer, namespace string) *RunMetrics {
	factory := promauto.With(reg)
	return &RunMetrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "runs_total",
			Help:      "Completed runs by kind and error class.",
		}, []string{"run", "result"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "run_duration_seconds",
			Help:      "Duration of complete runs.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"run"}),
	}
}

// ObserveRun records the outcome of a run. result is an error class as
// returned by interfaces.ErrorKind. A nil receiver is a no-op.
func (m *RunMetrics) ObserveRun(run, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(run, result).Inc()
	m.duration.WithLabelValues(run).Observe(elapsed.Seconds())
}
