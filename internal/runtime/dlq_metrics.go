package runtime

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DLQMetrics tracks dead-letter routing statistics per source queue.
type DLQMetrics struct {
	mu sync.RWMutex

	sourceCounts map[string]*DLQSourceMetrics

	messagesTotal   *prometheus.CounterVec
	routingFailures *prometheus.CounterVec
	ageSecondsHist  *prometheus.HistogramVec
	retryCountHist  *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
	now        func() time.Time
}

// DLQSourceMetrics holds the dead-letter figures of one source queue.
type DLQSourceMetrics struct {
	MessagesRouted  uint64    `json:"messages_routed"`
	RoutingFailures uint64    `json:"routing_failures"`
	OldestMessageAt time.Time `json:"oldest_message_at,omitempty"`
	NewestMessageAt time.Time `json:"newest_message_at,omitempty"`
	AvgRetryCount   float64   `json:"avg_retry_count"`
	LastUpdatedAt   time.Time `json:"last_updated_at"`
}

// DLQMetricsSnapshot provides a point-in-time view of DLQ metrics.
type DLQMetricsSnapshot struct {
	TotalRouted   uint64                       `json:"total_routed"`
	TotalFailures uint64                       `json:"total_failures"`
	SourceMetrics map[string]*DLQSourceMetrics `json:"source_metrics"`
	CollectedAt   time.Time                    `json:"collected_at"`
}

func newDLQCounterVec(namespace, name, help string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dlq",
			Name:      name,
			Help:      help,
		},
		[]string{"source"},
	)
}

func newDLQHistogramVec(namespace, name, help string, buckets []float64) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dlq",
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		[]string{"source"},
	)
}

// NewDLQMetrics creates a new DLQ metrics collector.
func NewDLQMetrics(registerer prometheus.Registerer, namespace string) *DLQMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultMetricsNamespace
	}

	return &DLQMetrics{
		sourceCounts:    make(map[string]*DLQSourceMetrics),
		registerer:      registerer,
		now:             time.Now,
		messagesTotal:   newDLQCounterVec(namespace, "messages_total", "Total number of messages routed to the dead letter queue"),
		routingFailures: newDLQCounterVec(namespace, "routing_failures_total", "Dead letter writes the broker did not accept"),
		ageSecondsHist:  newDLQHistogramVec(namespace, "message_age_seconds", "Age of messages when moved to DLQ (time since first publish)", []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600}),
		retryCountHist:  newDLQHistogramVec(namespace, "retry_count", "Retry count carried by messages moved to DLQ", []float64{1, 2, 3, 5, 10, 20}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *DLQMetrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.messagesTotal,
		m.routingFailures,
		m.ageSecondsHist,
		m.retryCountHist,
	}
	for _, c := range collectors {
		if err := registerCollector(m.registerer, c); err != nil {
			return err
		}
	}

	m.registered = true
	return nil
}

// RecordMessageToDLQ records a message routed to the DLQ from source.
func (m *DLQMetrics) RecordMessageToDLQ(source string, retryCount int, messageAge time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	metrics := m.getOrCreateSourceMetrics(source)
	metrics.MessagesRouted++
	metrics.LastUpdatedAt = now
	if metrics.OldestMessageAt.IsZero() {
		metrics.OldestMessageAt = now
	}
	metrics.NewestMessageAt = now

	// rolling average
	total := metrics.MessagesRouted
	metrics.AvgRetryCount = ((metrics.AvgRetryCount * float64(total-1)) + float64(retryCount)) / float64(total)

	m.messagesTotal.WithLabelValues(source).Inc()
	m.ageSecondsHist.WithLabelValues(source).Observe(max(messageAge.Seconds(), 0))
	m.retryCountHist.WithLabelValues(source).Observe(float64(retryCount))
}

// RecordRoutingFailure records a dead-letter write that failed.
func (m *DLQMetrics) RecordRoutingFailure(source string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.getOrCreateSourceMetrics(source)
	metrics.RoutingFailures++
	metrics.LastUpdatedAt = m.now()

	m.routingFailures.WithLabelValues(source).Inc()
}

// GetSnapshot returns a point-in-time snapshot of all DLQ metrics.
func (m *DLQMetrics) GetSnapshot() DLQMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := DLQMetricsSnapshot{
		SourceMetrics: make(map[string]*DLQSourceMetrics, len(m.sourceCounts)),
		CollectedAt:   m.now(),
	}
	for source, metrics := range m.sourceCounts {
		metricsCopy := *metrics
		snapshot.SourceMetrics[source] = &metricsCopy
		snapshot.TotalRouted += metrics.MessagesRouted
		snapshot.TotalFailures += metrics.RoutingFailures
	}
	return snapshot
}

// GetSourceMetrics returns a copy of the metrics for source, or nil.
func (m *DLQMetrics) GetSourceMetrics(source string) *DLQSourceMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if metrics, ok := m.sourceCounts[source]; ok {
		metricsCopy := *metrics
		return &metricsCopy
	}
	return nil
}

func (m *DLQMetrics) getOrCreateSourceMetrics(source string) *DLQSourceMetrics {
	if metrics, ok := m.sourceCounts[source]; ok {
		return metrics
	}
	metrics := &DLQSourceMetrics{}
	m.sourceCounts[source] = metrics
	return metrics
}

// Reset resets all metrics (useful for testing).
func (m *DLQMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sourceCounts = make(map[string]*DLQSourceMetrics)
	m.messagesTotal.Reset()
	m.routingFailures.Reset()
	m.ageSecondsHist.Reset()
	m.retryCountHist.Reset()
}
