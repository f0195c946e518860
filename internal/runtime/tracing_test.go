package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/cosmic-horizons/eventbus/internal/runtime/envelope"
	metadatapkg "github.com/cosmic-horizons/eventbus/internal/runtime/metadata"
	"github.com/cosmic-horizons/eventbus/internal/runtime/topology"
	"github.com/cosmic-horizons/eventbus/transport"
)

func parentSpanContext(t *testing.T) trace.SpanContext {
	t.Helper()
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	return trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
}

func TestTracing_PublishStampsActiveSpan(t *testing.T) {
	m := newChannelManager(t, 1)
	jobs := tap(t, m, topology.JobsQueue)
	parent := parentSpanContext(t)

	ctx := trace.ContextWithSpanContext(context.Background(), parent)
	_, err := NewPublisher(m).Publish(ctx, mustEnvelope(t, envelope.JobSubmitted{ID: "job-1"}), PublishOptions{
		Destination: topology.JobsExchange,
		Key:         topology.RouteJobSubmitted,
	})
	require.NoError(t, err)

	headers := receive(t, jobs).Headers()
	assert.Equal(t, parent.TraceID().String(), headers[metadatapkg.TraceID])
	assert.Equal(t, parent.SpanID().String(), headers[metadatapkg.SpanID])
}

func TestTracing_NoSpanNoHeaders(t *testing.T) {
	msg := message.NewMessage("m-1", nil)
	stampTrace(msg, trace.SpanContext{})
	assert.Empty(t, msg.Metadata.Get(metadatapkg.TraceID))
	assert.Empty(t, msg.Metadata.Get(metadatapkg.SpanID))
}

func TestTracing_RemoteSpanContext(t *testing.T) {
	parent := parentSpanContext(t)

	md := message.Metadata{}
	md.Set(metadatapkg.TraceID, parent.TraceID().String())
	md.Set(metadatapkg.SpanID, parent.SpanID().String())
	sc, ok := remoteSpanContext(md)
	require.True(t, ok)
	assert.Equal(t, parent.TraceID(), sc.TraceID())
	assert.Equal(t, parent.SpanID(), sc.SpanID())
	assert.True(t, sc.IsRemote())

	_, ok = remoteSpanContext(message.Metadata{metadatapkg.TraceID: "not-hex"})
	assert.False(t, ok)
	_, ok = remoteSpanContext(message.Metadata{metadatapkg.TraceID: parent.TraceID().String()})
	assert.False(t, ok)
}

func TestTracing_ConsumerContinuesPublisherTrace(t *testing.T) {
	m := newChannelManager(t, 1)
	c := NewConsumer(m)
	parent := parentSpanContext(t)

	seen := make(chan trace.SpanContext, 1)
	_, err := c.Consume(context.Background(), func(ctx context.Context, d *transport.Delivery) error {
		seen <- trace.SpanContextFromContext(ctx)
		return c.Acknowledge(d)
	}, ConsumeOptions{Source: topology.JobsQueue})
	require.NoError(t, err)

	ctx := trace.ContextWithSpanContext(context.Background(), parent)
	_, err = NewPublisher(m).Publish(ctx, mustEnvelope(t, envelope.JobSubmitted{ID: "job-1"}), PublishOptions{
		Destination: topology.JobsExchange,
		Key:         topology.RouteJobSubmitted,
	})
	require.NoError(t, err)

	select {
	case sc := <-seen:
		assert.Equal(t, parent.TraceID(), sc.TraceID())
	case <-time.After(receiveTimeout):
		t.Fatal("handler not called")
	}
}
