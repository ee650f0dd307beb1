// Package metrics exposes Prometheus collectors for ETL runs and the HTTP
// trigger.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/crs-draws-etl/internal/etl"
)

// Metrics owns every collector registered by the service. It implements
// etl.Recorder and is safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal      *prometheus.CounterVec
	phaseDuration  *prometheus.HistogramVec
	recordsLoaded  prometheus.Gauge
	lastSuccess    prometheus.Gauge
	httpRequests   *prometheus.CounterVec
	httpReqLatency *prometheus.HistogramVec
}

var _ etl.Recorder = (*Metrics)(nil)

// New registers the collectors against a fresh registry. Process and Go
// runtime collectors are included when withRuntime is set.
func New(withRuntime bool) (*Metrics, error) {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crs_etl_runs_total",
			Help: "Total ETL runs partitioned by result.",
		}, []string{"result"}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crs_etl_phase_duration_seconds",
			Help:    "Wall time per completed pipeline phase.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"phase"}),
		recordsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crs_etl_records_loaded",
			Help: "Records written by the most recent successful run.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crs_etl_last_success_timestamp_seconds",
			Help: "Unix time at which the most recent successful run finished.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		}, []string{"method", "code"}),
		httpReqLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"method", "route"}),
	}
	cs := []prometheus.Collector{
		m.runsTotal,
		m.phaseDuration,
		m.recordsLoaded,
		m.lastSuccess,
		m.httpRequests,
		m.httpReqLatency,
	}
	if withRuntime {
		cs = append(cs,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

// Registry exposes the underlying registry for gathering and pushing.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObservePhase implements etl.Recorder.
func (m *Metrics) ObservePhase(phase etl.Phase, d time.Duration) {
	m.phaseDuration.WithLabelValues(string(phase)).Observe(d.Seconds())
}

// ObserveRun implements etl.Recorder.
func (m *Metrics) ObserveRun(result string, loaded int, finishedAt time.Time) {
	m.runsTotal.WithLabelValues(result).Inc()
	if result != etl.ResultSuccess {
		return
	}
	m.recordsLoaded.Set(float64(loaded))
	m.lastSuccess.Set(float64(finishedAt.Unix()))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func (m *Metrics) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpReqLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}
