package runtime

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosmic-horizons/eventbus/internal/runtime/envelope"
	errspkg "github.com/cosmic-horizons/eventbus/internal/runtime/errors"
	handlerpkg "github.com/cosmic-horizons/eventbus/internal/runtime/handlers"
	"github.com/cosmic-horizons/eventbus/internal/runtime/topology"
)

func TestConsumeEvents_TypedDispatch(t *testing.T) {
	m := newChannelManager(t, 1)
	dlq := tap(t, m, topology.JobsDLQ)
	c := NewConsumer(m)
	router := NewDeadLetterRouter(NewPublisher(m), WithDeadLetterConsumer(c))

	got := make(chan handlerpkg.EventContext[envelope.JobSubmitted], 1)
	_, err := ConsumeEvents(context.Background(), c, func(ctx context.Context, evt handlerpkg.EventContext[envelope.JobSubmitted]) error {
		got <- evt
		return nil
	}, ConsumeOptions{Source: topology.JobsQueue}, RetryOrDeadLetter(c, router, RetryConfig{}), AckOnSuccess(c))
	require.NoError(t, err)

	env := publishJob(t, m, "job-77")
	select {
	case evt := <-got:
		assert.Equal(t, "job-77", evt.Payload.ID)
		assert.Equal(t, env.EventID, evt.Envelope.EventID)
		assert.Equal(t, env.CorrelationID, evt.CorrelationID())
		assert.Zero(t, evt.RetryCount())
		assert.NotNil(t, evt.Delivery)
	case <-timeoutCh():
		t.Fatal("typed handler not called")
	}

	// Another variant on the same queue is unprocessable and dead-lettered
	// without retries.
	completed := mustEnvelope(t, envelope.JobCompleted{JobID: "job-77"})
	ok, err := NewPublisher(m).Publish(context.Background(), completed, PublishOptions{Destination: topology.JobsExchange, Key: topology.RouteJobCompleted})
	require.NoError(t, err)
	require.True(t, ok)

	record := decodeRecord(t, receive(t, dlq))
	assert.Equal(t, completed.EventID, record.MessageID)
	assert.Equal(t, 1, record.RetryCount)
	assert.True(t, strings.HasPrefix(record.DLQReason, "Unprocessable: "), record.DLQReason)
	assert.Contains(t, record.DLQReason, "payload does not match event type")
}

func TestConsumeEnvelopes_UndecodableBodyIsDeadLettered(t *testing.T) {
	m := newChannelManager(t, 1)
	dlq := tap(t, m, topology.JobsDLQ)
	c := NewConsumer(m)
	router := NewDeadLetterRouter(NewPublisher(m), WithDeadLetterConsumer(c))

	seen := make(chan envelope.Envelope, 1)
	_, err := c.ConsumeEnvelopes(context.Background(), func(_ context.Context, evt handlerpkg.EnvelopeContext) error {
		seen <- evt.Envelope
		return nil
	}, ConsumeOptions{Source: topology.JobsQueue}, RetryOrDeadLetter(c, router, RetryConfig{}), AckOnSuccess(c))
	require.NoError(t, err)

	ok, err := NewPublisher(m).PublishRaw(context.Background(), []byte("not an envelope"), PublishOptions{
		Destination: topology.JobsExchange,
		Key:         topology.RouteJobSubmitted,
	})
	require.NoError(t, err)
	require.True(t, ok)

	record := decodeRecord(t, receive(t, dlq))
	assert.Equal(t, []byte("not an envelope"), record.OriginalPayload())
	assert.True(t, strings.HasPrefix(record.DLQReason, "Unprocessable: "))

	env := publishJob(t, m, "job-5")
	select {
	case got := <-seen:
		assert.Equal(t, env.EventID, got.EventID)
	case <-timeoutCh():
		t.Fatal("envelope handler not called")
	}
}

func TestConsumeEvents_UnsupportedSchemaVersionIsDeadLettered(t *testing.T) {
	m := newChannelManager(t, 1)
	dlq := tap(t, m, topology.JobsDLQ)
	c := NewConsumer(m)
	router := NewDeadLetterRouter(NewPublisher(m), WithDeadLetterConsumer(c))

	got := make(chan envelope.Envelope, 1)
	_, err := ConsumeEvents(context.Background(), c, func(_ context.Context, evt handlerpkg.EventContext[envelope.JobSubmitted]) error {
		got <- evt.Envelope
		return nil
	}, ConsumeOptions{Source: topology.JobsQueue, SchemaVersions: []int{2}}, RetryOrDeadLetter(c, router, RetryConfig{}), AckOnSuccess(c))
	require.NoError(t, err)

	pub := NewPublisher(m)
	opts := PublishOptions{Destination: topology.JobsExchange, Key: topology.RouteJobSubmitted}

	v1 := mustEnvelope(t, envelope.JobSubmitted{ID: "job-1", Agent: "AlphaCal"})
	ok, err := pub.Publish(context.Background(), v1, opts)
	require.NoError(t, err)
	require.True(t, ok)

	record := decodeRecord(t, receive(t, dlq))
	assert.Equal(t, v1.EventID, record.MessageID)
	assert.Equal(t, 1, record.RetryCount)
	assert.True(t, strings.HasPrefix(record.DLQReason, "Unprocessable: "), record.DLQReason)
	assert.Contains(t, record.DLQReason, errspkg.ErrUnsupportedSchemaVersion.Error())

	v2 := mustEnvelope(t, envelope.JobSubmitted{ID: "job-2", Agent: "AlphaCal"}, envelope.WithSchemaVersion(2))
	ok, err = pub.Publish(context.Background(), v2, opts)
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case env := <-got:
		assert.Equal(t, v2.EventID, env.EventID)
		assert.Equal(t, 2, env.SchemaVersion)
	case <-timeoutCh():
		t.Fatal("handler not called for an accepted version")
	}
	assertNoDelivery(t, dlq)
}

func TestRegistration_Errors(t *testing.T) {
	_, err := ConsumeEvents[envelope.JobSubmitted](context.Background(), nil, func(context.Context, handlerpkg.EventContext[envelope.JobSubmitted]) error { return nil }, ConsumeOptions{Source: topology.JobsQueue})
	assert.ErrorIs(t, err, errspkg.ErrConsumerRequired)

	var nilConsumer *Consumer
	_, err = nilConsumer.ConsumeEnvelopes(context.Background(), func(context.Context, handlerpkg.EnvelopeContext) error { return nil }, ConsumeOptions{Source: topology.JobsQueue})
	assert.ErrorIs(t, err, errspkg.ErrConsumerRequired)

	c := NewConsumer(newChannelManager(t, 1))
	_, err = ConsumeEvents[envelope.JobSubmitted](context.Background(), c, nil, ConsumeOptions{Source: topology.JobsQueue})
	assert.ErrorIs(t, err, errspkg.ErrHandlerRequired)
	_, err = c.ConsumeEnvelopes(context.Background(), nil, ConsumeOptions{Source: topology.JobsQueue})
	assert.ErrorIs(t, err, errspkg.ErrHandlerRequired)
}
