package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors of one client. A nil *Metrics records nothing.
type Metrics struct {
	sessionsOpen   prometheus.Gauge
	sessionsTotal  prometheus.Counter
	deliveries     *prometheus.CounterVec
	protocolErrors prometheus.Counter
	handshakes     *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them on registerer when it
// is non-nil. Registering twice on the same registerer reuses the existing
// collectors.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		sessionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "amqp",
			Subsystem: "client",
			Name:      "sessions_open",
			Help:      "Sessions currently registered, control channel included.",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "amqp",
			Subsystem: "client",
			Name:      "sessions_total",
			Help:      "Sessions opened since start.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amqp",
			Subsystem: "client",
			Name:      "deliveries_total",
			Help:      "Messages handed to delivery queues.",
		}, []string{"kind"}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "amqp",
			Subsystem: "client",
			Name:      "protocol_errors_total",
			Help:      "Unexpected or malformed events reported by the dispatcher.",
		}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amqp",
			Subsystem: "client",
			Name:      "handshake_total",
			Help:      "Connection start-up attempts by outcome.",
		}, []string{"outcome"}),
	}

	if registerer != nil {
		metrics.sessionsOpen = register(registerer, metrics.sessionsOpen).(prometheus.Gauge)
		metrics.sessionsTotal = register(registerer, metrics.sessionsTotal).(prometheus.Counter)
		metrics.deliveries = register(registerer, metrics.deliveries).(*prometheus.CounterVec)
		metrics.protocolErrors = register(registerer, metrics.protocolErrors).(prometheus.Counter)
		metrics.handshakes = register(registerer, metrics.handshakes).(*prometheus.CounterVec)
	}
	return metrics
}

func register(registerer prometheus.Registerer, collector prometheus.Collector) prometheus.Collector {
	if err := registerer.Register(collector); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return already.ExistingCollector
		}
	}
	return collector
}

// SessionOpened counts a registered session.
func (metrics *Metrics) SessionOpened() {
	if metrics == nil {
		return
	}
	metrics.sessionsOpen.Inc()
	metrics.sessionsTotal.Inc()
}

// SessionClosed counts a released session.
func (metrics *Metrics) SessionClosed() {
	if metrics == nil {
		return
	}
	metrics.sessionsOpen.Dec()
}

// Delivered counts one message routed to a delivery queue.
func (metrics *Metrics) Delivered(kind string) {
	if metrics == nil {
		return
	}
	metrics.deliveries.WithLabelValues(kind).Inc()
}

// ProtocolError counts a frame the dispatcher rejected.
func (metrics *Metrics) ProtocolError() {
	if metrics == nil {
		return
	}
	metrics.protocolErrors.Inc()
}

// Handshake counts a finished Start by outcome.
func (metrics *Metrics) Handshake(outcome string) {
	if metrics == nil {
		return
	}
	metrics.handshakes.WithLabelValues(outcome).Inc()
}

// SessionsOpen exposes the gauge for tests and dashboards.
func (metrics *Metrics) SessionsOpen() prometheus.Gauge { return metrics.sessionsOpen }

// Deliveries exposes the delivery counter for tests.
func (metrics *Metrics) Deliveries() *prometheus.CounterVec { return metrics.deliveries }

func (metrics *Metrics) ProtocolErrors() prometheus.Counter { return metrics.protocolErrors }

func (metrics *Metrics) Handshakes() *prometheus.CounterVec { return metrics.handshakes }
