// Package metrics exposes the daemon's Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all metrics.
type Registry struct {
	reg *prometheus.Registry

	// RPC bus
	RPCCalls   *prometheus.CounterVec
	RPCLatency *prometheus.HistogramVec

	// Configuration
	Commits            *prometheus.CounterVec
	FormSaves          *prometheus.CounterVec
	ValidationFailures *prometheus.CounterVec

	// Poller
	PollTicks   *prometheus.CounterVec
	PollSkipped *prometheus.CounterVec
	PollErrors  *prometheus.CounterVec

	// HTTP
	APIRequests *prometheus.CounterVec
	APILatency  *prometheus.HistogramVec

	// Sessions and system
	Sessions         prometheus.Gauge
	WebsocketClients prometheus.Gauge
	Uptime           prometheus.Gauge
	Load             *prometheus.GaugeVec
	Memory           *prometheus.GaugeVec
	EventsPublished  prometheus.Gauge
	EventsDropped    prometheus.Gauge
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = New()
	})
	return registry
}

// New creates an independent registry. Tests use it to avoid sharing
// counters.
func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}
	r.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(r.reg)

	r.RPCCalls = f.NewCounterVec(prometheus.CounterOpts{
		Name: "luci_rpc_calls_total",
		Help: "RPC calls by object, method and ubus status",
	}, []string{"object", "method", "status"})

	r.RPCLatency = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "luci_rpc_duration_seconds",
		Help:    "RPC call latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"object", "method"})

	r.Commits = f.NewCounterVec(prometheus.CounterOpts{
		Name: "luci_uci_commits_total",
		Help: "Committed configuration packages",
	}, []string{"package"})

	r.FormSaves = f.NewCounterVec(prometheus.CounterOpts{
		Name: "luci_form_saves_total",
		Help: "Form save attempts by result (ok, invalid, error)",
	}, []string{"map", "result"})

	r.ValidationFailures = f.NewCounterVec(prometheus.CounterOpts{
		Name: "luci_form_validation_failures_total",
		Help: "Option values rejected by validation",
	}, []string{"map"})

	r.PollTicks = f.NewCounterVec(prometheus.CounterOpts{
		Name: "luci_poll_ticks_total",
		Help: "Poll callbacks started",
	}, []string{"name"})

	r.PollSkipped = f.NewCounterVec(prometheus.CounterOpts{
		Name: "luci_poll_skipped_total",
		Help: "Ticks skipped because the previous fetch was still running",
	}, []string{"name"})

	r.PollErrors = f.NewCounterVec(prometheus.CounterOpts{
		Name: "luci_poll_errors_total",
		Help: "Poll callbacks that returned an error",
	}, []string{"name"})

	r.APIRequests = f.NewCounterVec(prometheus.CounterOpts{
		Name: "luci_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	r.APILatency = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "luci_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	r.Sessions = f.NewGauge(prometheus.GaugeOpts{
		Name: "luci_sessions_active",
		Help: "Active login sessions",
	})

	r.WebsocketClients = f.NewGauge(prometheus.GaugeOpts{
		Name: "luci_websocket_clients",
		Help: "Connected websocket clients",
	})

	r.Uptime = f.NewGauge(prometheus.GaugeOpts{
		Name: "luci_system_uptime_seconds",
		Help: "System uptime in seconds",
	})

	r.Load = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "luci_system_load",
		Help: "System load average",
	}, []string{"period"})

	r.Memory = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "luci_system_memory_bytes",
		Help: "System memory by kind (total, free, shared, buffered)",
	}, []string{"kind"})

	r.EventsPublished = f.NewGauge(prometheus.GaugeOpts{
		Name: "luci_events_published",
		Help: "Events published on the bus",
	})

	r.EventsDropped = f.NewGauge(prometheus.GaugeOpts{
		Name: "luci_events_dropped",
		Help: "Events dropped because a subscriber was slow",
	})

	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// RecordRPC records one RPC call.
func (r *Registry) RecordRPC(object, method string, status int, seconds float64) {
	r.RPCCalls.WithLabelValues(object, method, strconv.Itoa(status)).Inc()
	r.RPCLatency.WithLabelValues(object, method).Observe(seconds)
}

// RecordCommit records a committed package.
func (r *Registry) RecordCommit(pkg string) {
	r.Commits.WithLabelValues(pkg).Inc()
}

// RecordFormSave records a save attempt and the number of rejected values.
func (r *Registry) RecordFormSave(name, result string, invalid int) {
	r.FormSaves.WithLabelValues(name, result).Inc()
	if invalid > 0 {
		r.ValidationFailures.WithLabelValues(name).Add(float64(invalid))
	}
}

// RecordAPIRequest records an API request.
func (r *Registry) RecordAPIRequest(method, path string, status int, duration float64) {
	r.APIRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.APILatency.WithLabelValues(method, path).Observe(duration)
}
