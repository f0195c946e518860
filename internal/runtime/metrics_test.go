package runtime

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "")
	require.NoError(t, m.Register())

	m.ObservePublish("jobs.exchange", nil)
	m.ObservePublish("jobs.exchange", nil)
	m.ObservePublish("jobs.exchange", errors.New("nack"))
	m.ObserveDelivery("jobs.queue", OutcomeHandled)
	m.ConnectAttempt("rabbitmq", errors.New("refused"))
	m.ConnectAttempt("rabbitmq", nil)
	m.ConnectionUp("rabbitmq", true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.publishTotal.WithLabelValues("jobs.exchange", ResultAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.publishTotal.WithLabelValues("jobs.exchange", ResultFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveriesTotal.WithLabelValues("jobs.queue", OutcomeHandled)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectAttempts.WithLabelValues("rabbitmq", ResultFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionUp.WithLabelValues("rabbitmq")))

	m.ConnectionUp("rabbitmq", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.connectionUp.WithLabelValues("rabbitmq")))
}

func TestMetrics_Namespace(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "portal")
	require.NoError(t, m.Register())
	m.ObservePublish("jobs.exchange", nil)

	count, err := testutil.GatherAndCount(reg, "portal_publish_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetrics_RegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "")
	require.NoError(t, m.Register())
	require.NoError(t, m.Register())
	require.NoError(t, NewMetrics(reg, "").Register())
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObservePublish("jobs.exchange", nil)
		m.ObserveDelivery("jobs.queue", OutcomeAcked)
		m.ConnectAttempt("rabbitmq", nil)
		m.ConnectionUp("rabbitmq", true)
		assert.NoError(t, m.Register())
	})
}
