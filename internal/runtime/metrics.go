package runtime

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultMetricsNamespace prefixes every collector unless configured otherwise.
const DefaultMetricsNamespace = "eventbus"

// Publish results and delivery outcomes used as label values.
const (
	ResultAccepted = "accepted"
	ResultFailed   = "failed"

	OutcomeHandled  = "handled"
	OutcomeError    = "error"
	OutcomePanic    = "panic"
	OutcomeAcked    = "acked"
	OutcomeNacked   = "nacked"
	OutcomeRequeued = "requeued"
)

// Metrics holds the publish, delivery and connection collectors. It
// implements connection.Observer. A nil *Metrics records nothing.
type Metrics struct {
	mu sync.Mutex

	publishTotal    *prometheus.CounterVec
	deliveriesTotal *prometheus.CounterVec
	connectionUp    *prometheus.GaugeVec
	connectAttempts *prometheus.CounterVec

	registerer prometheus.Registerer
	registered bool
}

// NewMetrics creates the collectors. Call Register to expose them.
func NewMetrics(registerer prometheus.Registerer, namespace string) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultMetricsNamespace
	}

	return &Metrics{
		registerer: registerer,
		publishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_total",
			Help:      "Messages handed to a transport, by destination and result",
		}, []string{"destination", "result"}),
		deliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Consumed deliveries, by source and outcome",
		}, []string{"source", "outcome"}),
		connectionUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_up",
			Help:      "1 while the transport connection is established",
		}, []string{"transport"}),
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Broker connect attempts, by transport and result",
		}, []string{"transport", "result"}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}
	for _, c := range []prometheus.Collector{m.publishTotal, m.deliveriesTotal, m.connectionUp, m.connectAttempts} {
		if err := registerCollector(m.registerer, c); err != nil {
			return err
		}
	}
	m.registered = true
	return nil
}

// ObservePublish counts one publish to destination.
func (m *Metrics) ObservePublish(destination string, err error) {
	if m == nil {
		return
	}
	m.publishTotal.WithLabelValues(destination, resultLabel(err)).Inc()
}

// ObserveDelivery counts one delivery outcome for source.
func (m *Metrics) ObserveDelivery(source, outcome string) {
	if m == nil {
		return
	}
	m.deliveriesTotal.WithLabelValues(source, outcome).Inc()
}

// ConnectAttempt counts a connect attempt.
func (m *Metrics) ConnectAttempt(transportName string, err error) {
	if m == nil {
		return
	}
	m.connectAttempts.WithLabelValues(transportName, resultLabel(err)).Inc()
}

// ConnectionUp sets the connection gauge.
func (m *Metrics) ConnectionUp(transportName string, up bool) {
	if m == nil {
		return
	}
	value := 0.0
	if up {
		value = 1
	}
	m.connectionUp.WithLabelValues(transportName).Set(value)
}

func resultLabel(err error) string {
	if err != nil {
		return ResultFailed
	}
	return ResultAccepted
}

// registerCollector registers c, treating an identical existing collector as
// success.
func registerCollector(registerer prometheus.Registerer, c prometheus.Collector) error {
	if err := registerer.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
	}
	return nil
}
