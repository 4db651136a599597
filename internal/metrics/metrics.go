package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service counters. A nil *Metrics is valid and records
// nothing, so components can be built without one in tests.
type Metrics struct {
	registry     *prometheus.Registry
	orderOps     *prometheus.CounterVec
	gatewayCalls *prometheus.CounterVec
	txAdvances   *prometheus.CounterVec
}

// New registers the service counters on a fresh registry together with the
// default process and Go collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		orderOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "p2p",
			Name:      "order_operations_total",
			Help:      "Order lifecycle operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "p2p",
			Name:      "gateway_calls_total",
			Help:      "Chain provider calls by operation and result.",
		}, []string{"op", "result"}),
		txAdvances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "p2p",
			Name:      "transaction_status_advances_total",
			Help:      "Persisted transactions moved out of pending, by new status.",
		}, []string{"status"}),
	}
	reg.MustRegister(
		m.orderOps,
		m.gatewayCalls,
		m.txAdvances,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// OrderOperation counts one order operation by outcome.
func (m *Metrics) OrderOperation(op, outcome string) {
	if m == nil {
		return
	}
	m.orderOps.WithLabelValues(op, outcome).Inc()
}

// GatewayCall counts one chain provider call by result.
func (m *Metrics) GatewayCall(op, result string) {
	if m == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(op, result).Inc()
}

// TransactionAdvanced counts a persisted transaction leaving pending.
func (m *Metrics) TransactionAdvanced(status string) {
	if m == nil {
		return
	}
	m.txAdvances.WithLabelValues(status).Inc()
}
