// Package metrics exposes application counters and summaries through a
// Prometheus registry. Producers use the small Inc/Observe API by metric name
// so the core stays free of Prometheus types; collectors are created lazily
// on first use.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Namespace prefixes every metric name.
const Namespace = "vanish"

// Names for counters used by the application.
const (
	CounterContentCreated     = "content_created_total"
	CounterContentViewed      = "content_views_total"
	CounterContentDestroyed   = "content_destroyed_total"
	CounterGateDenied         = "content_gate_denied_total"
	CounterBlobDeleteFailed   = "blob_delete_failures_total"
	CounterReaperExpired      = "reaper_expired_deleted_total"
	CounterReaperFailures     = "reaper_failures_total"
	CounterOrphanBlobsDeleted = "orphan_blobs_deleted_total"
	CounterGraveyardDrained   = "graveyard_blobs_deleted_total"
)

// Summary names.
const (
	SummaryReaperDeletedPerCycle = "reaper_deleted_per_cycle"
	SummaryReaperCycleMS         = "reaper_cycle_ms"
)

// Manager owns the registry and the lazily created collectors.
type Manager struct {
	reg *prometheus.Registry

	mu        sync.Mutex
	counters  map[string]prometheus.Counter
	summaries map[string]prometheus.Summary

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates a Manager with Go runtime and process collectors registered.
func New() *Manager {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := &Manager{
		reg:       reg,
		counters:  make(map[string]prometheus.Counter),
		summaries: make(map[string]prometheus.Summary),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(m.httpRequests, m.httpDuration)
	return m
}

// Registry returns the underlying registry.
func (m *Manager) Registry() *prometheus.Registry { return m.reg }

// Inc increments a counter by delta (>=1).
func (m *Manager) Inc(name string, delta int64) {
	if delta <= 0 {
		return
	}
	m.counter(name).Add(float64(delta))
}

// Observe records a summary observation.
func (m *Manager) Observe(name string, value int64) {
	m.summary(name).Observe(float64(value))
}

// ObserveRequest records one served HTTP request.
func (m *Manager) ObserveRequest(method, route string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Manager) counter(name string) prometheus.Counter {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[name]
	if !ok {
		c = prometheus.NewCounter(prometheus.CounterOpts{Namespace: Namespace, Name: name, Help: name})
		m.reg.MustRegister(c)
		m.counters[name] = c
	}
	return c
}

func (m *Manager) summary(name string) prometheus.Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.summaries[name]
	if !ok {
		s = prometheus.NewSummary(prometheus.SummaryOpts{Namespace: Namespace, Name: name, Help: name})
		m.reg.MustRegister(s)
		m.summaries[name] = s
	}
	return s
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the original writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
