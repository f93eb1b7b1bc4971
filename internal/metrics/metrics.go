// internal/metrics/metrics.go
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all the application metrics
type Metrics struct {
	// HTTP request metrics
	HTTPRequestTotal    *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Sync cycle metrics
	SyncCycleTotal    *prometheus.CounterVec
	SyncCycleDuration *prometheus.HistogramVec

	// Debounced push metrics
	PushScheduledTotal *prometheus.CounterVec
	PushFlushTotal     *prometheus.CounterVec

	// Remote store metrics
	RemoteOperationTotal    *prometheus.CounterVec
	RemoteOperationDuration *prometheus.HistogramVec

	// Stylist (AI) call metrics
	StylistCallTotal    *prometheus.CounterVec
	StylistCallDuration *prometheus.HistogramVec
}

// Global metrics instance with mutex for thread safety
var (
	globalMetrics *Metrics
	metricsMutex  sync.Mutex
)

// NewMetrics creates a new Metrics instance with all required metrics
func NewMetrics() *Metrics {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()

	if globalMetrics != nil {
		return globalMetrics
	}

	m := &Metrics{
		// HTTP request metrics
		HTTPRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),

		// Sync cycle metrics, labeled by outcome (merged, degraded, failed)
		SyncCycleTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_cycles_total",
			Help: "Total number of merge-on-login sync cycles",
		}, []string{"outcome"}),

		SyncCycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sync_cycle_duration_seconds",
			Help:    "Merge-on-login sync cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),

		// Debounced push metrics
		PushScheduledTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "push_scheduled_total",
			Help: "Total number of debounced remote pushes scheduled",
		}, []string{"entity"}),

		PushFlushTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "push_flush_total",
			Help: "Total number of debounced remote pushes executed",
		}, []string{"entity", "status"}),

		// Remote store metrics
		RemoteOperationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remote_operations_total",
			Help: "Total number of remote store operations",
		}, []string{"operation", "status"}),

		RemoteOperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "remote_operation_duration_seconds",
			Help:    "Remote store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),

		// Stylist call metrics
		StylistCallTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stylist_calls_total",
			Help: "Total number of AI stylist calls",
		}, []string{"operation", "status"}),

		StylistCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stylist_call_duration_seconds",
			Help:    "AI stylist call duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),
	}

	registerMetrics(m)
	globalMetrics = m
	return m
}

// registerMetrics registers all metrics with the default registry
func registerMetrics(m *Metrics) {
	registerOrGet(m.HTTPRequestTotal)
	registerOrGet(m.HTTPRequestDuration)
	registerOrGet(m.SyncCycleTotal)
	registerOrGet(m.SyncCycleDuration)
	registerOrGet(m.PushScheduledTotal)
	registerOrGet(m.PushFlushTotal)
	registerOrGet(m.RemoteOperationTotal)
	registerOrGet(m.RemoteOperationDuration)
	registerOrGet(m.StylistCallTotal)
	registerOrGet(m.StylistCallDuration)
}

// registerOrGet tries to register a metric, returns the existing one if already registered
func registerOrGet(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
	}
	return c
}
