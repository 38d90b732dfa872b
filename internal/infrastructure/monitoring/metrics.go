package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GriffinCanCode/meshbridge/internal/bridge/interceptor"
	"github.com/GriffinCanCode/meshbridge/internal/domain/supervisor"
)

// Metrics holds all Prometheus metrics. Each instance owns its registry.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Bridge metrics
	BridgeRequests *prometheus.CounterVec
	BridgeDuration *prometheus.HistogramVec

	// Supervisor metrics
	SupervisorState *prometheus.GaugeVec
	Transitions     *prometheus.CounterVec
	Boots           *prometheus.CounterVec
	BootDuration    prometheus.Histogram

	// Persistence metrics
	Syncs  *prometheus.CounterVec
	Purges *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSEvents      prometheus.Counter

	startTime time.Time
}

// NewMetrics creates a metrics collector with its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshbridge_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meshbridge_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "route"},
		),

		BridgeRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshbridge_bridge_requests_total",
				Help: "Intercepted requests by terminal outcome",
			},
			[]string{"outcome"},
		),
		BridgeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meshbridge_bridge_duration_seconds",
				Help:    "Interception time including the readiness gate",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 20, 30},
			},
			[]string{"outcome"},
		),

		SupervisorState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "meshbridge_supervisor_state",
				Help: "1 for the current supervisor state",
			},
			[]string{"state"},
		),
		Transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshbridge_supervisor_transitions_total",
				Help: "Supervisor state transitions by target state",
			},
			[]string{"to"},
		),
		Boots: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshbridge_supervisor_boots_total",
				Help: "Boot attempts by result",
			},
			[]string{"result"},
		),
		BootDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "meshbridge_supervisor_boot_duration_seconds",
				Help:    "Time from boot start to readiness or failure",
				Buckets: []float64{.05, .1, .25, .5, 1, 2, 3, 5, 10},
			},
		),

		Syncs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshbridge_store_syncs_total",
				Help: "Durable store syncs by kind and result",
			},
			[]string{"kind", "result"},
		),
		Purges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshbridge_store_purges_total",
				Help: "Durable images purged by the version gate",
			},
			[]string{"store"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "meshbridge_ws_connections",
				Help: "Open event stream connections",
			},
		),
		WSEvents: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "meshbridge_ws_events_total",
				Help: "Events written to event stream clients",
			},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "meshbridge_uptime_seconds",
			Help: "Service uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the registry holding every metric.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, route, status).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveOutcome implements interceptor.Observer.
func (m *Metrics) ObserveOutcome(kind interceptor.Kind, d time.Duration) {
	m.BridgeRequests.WithLabelValues(string(kind)).Inc()
	m.BridgeDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

// ObserveTransition implements supervisor.Observer.
func (m *Metrics) ObserveTransition(from, to supervisor.State) {
	m.SupervisorState.WithLabelValues(from.String()).Set(0)
	m.SupervisorState.WithLabelValues(to.String()).Set(1)
	m.Transitions.WithLabelValues(to.String()).Inc()
}

// ObserveBoot implements supervisor.Observer.
func (m *Metrics) ObserveBoot(d time.Duration, err error) {
	m.Boots.WithLabelValues(result(err)).Inc()
	m.BootDuration.Observe(d.Seconds())
}

// ObserveSync implements persistence.Observer.
func (m *Metrics) ObserveSync(kind string, err error) {
	m.Syncs.WithLabelValues(kind, result(err)).Inc()
}

// ObservePurge implements persistence.Observer.
func (m *Metrics) ObservePurge(store string) {
	m.Purges.WithLabelValues(store).Inc()
}

// ObserveStream implements ws.Observer.
func (m *Metrics) ObserveStream(open bool) {
	if open {
		m.WSConnections.Inc()
		return
	}
	m.WSConnections.Dec()
}

// ObserveStreamEvent implements ws.Observer.
func (m *Metrics) ObserveStreamEvent() { m.WSEvents.Inc() }

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
