package connector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "trusted_relay"

// Send outcomes
const (
	outcomeDelivered    = "delivered"
	outcomePending      = "pending"
	outcomeTransport    = "transport_error"
	outcomeProtocol     = "protocol_error"
	outcomeAuth         = "auth_error"
	outcomeConfig       = "config_error"
	outcomeNotCompleted = "not_completed"
)

// Metrics are the prometheus collectors of a single connector
type Metrics struct {
	pending  prometheus.Gauge
	sends    *prometheus.CounterVec
	resends  *prometheus.CounterVec
	ticks    prometheus.Counter
	poolSize prometheus.Gauge
}

// Creates and registers the connector collectors, labeled with the
// connector name. A nil registerer keeps the collectors unregistered.
func NewMetrics(registerer prometheus.Registerer, name string) *Metrics {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	factory := promauto.With(prometheus.WrapRegistererWith(
		prometheus.Labels{"connector": name}, registerer))
	return &Metrics{
		pending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "connector",
			Name:      "pending_requests",
			Help:      "Requests awaiting resolution by the remote authority",
		}),
		sends: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "connector",
			Name:      "sends_total",
			Help:      "Requests sent to the remote authority by outcome",
		}, []string{"outcome"}),
		resends: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "resender",
			Name:      "resends_total",
			Help:      "Requests resent to the remote authority by outcome",
		}, []string{"outcome"}),
		ticks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "resender",
			Name:      "ticks_total",
			Help:      "Resend ticks executed",
		}),
		poolSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "connector",
			Name:      "connections_in_use",
			Help:      "Pooled connections currently lent to senders",
		}),
	}
}
