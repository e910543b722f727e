package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "salon_notify"

// Metrics holds the collectors the engine reports to.
type Metrics struct {
	MessagesTotal      *prometheus.CounterVec
	WebhookEventsTotal *prometheus.CounterVec
	SweepDuration      *prometheus.HistogramVec
	GatewayConnected   prometheus.Gauge
	HTTPRequestSeconds *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "messages_total",
				Help:      "Notification attempts by kind and resulting ledger status.",
			},
			[]string{"kind", "status"},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "events_total",
				Help:      "Gateway callbacks by event kind and reconciliation outcome.",
			},
			[]string{"kind", "outcome"},
		),
		SweepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "sweep_duration_seconds",
				Help:      "Duration of reminder and birthday sweeps.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"sweep"},
		),
		GatewayConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "connected",
				Help:      "1 when the tenant's gateway session is connected.",
			},
		),
		HTTPRequestSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}
	reg.MustRegister(m.MessagesTotal, m.WebhookEventsTotal, m.SweepDuration, m.GatewayConnected, m.HTTPRequestSeconds)
	return m
}

// NewRegistry creates a Prometheus registry with the default Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
