package runtime

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cosmic-horizons/eventbus/internal/runtime/metadata"
	"github.com/cosmic-horizons/eventbus/transport"
)

const tracerName = "github.com/cosmic-horizons/eventbus"

// Span names.
const (
	SpanPublish = "eventbus.publish"
	SpanConsume = "eventbus.consume"
)

func startPublishSpan(ctx context.Context, dest transport.Destination, msg *message.Message) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, SpanPublish,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", dest.Name),
			attribute.String("messaging.routing_key", dest.Key),
			attribute.String("messaging.message.id", msg.UUID),
			attribute.String("eventbus.event_type", msg.Metadata.Get(metadata.EventType)),
			attribute.Bool("eventbus.persistent", dest.Persistent),
		),
	)
	stampTrace(msg, span.SpanContext())
	return ctx, span
}

// stampTrace writes the active trace and span ids into the message headers.
func stampTrace(msg *message.Message, sc trace.SpanContext) {
	if !sc.IsValid() {
		return
	}
	msg.Metadata.Set(metadata.TraceID, sc.TraceID().String())
	msg.Metadata.Set(metadata.SpanID, sc.SpanID().String())
}

// startConsumeSpan opens the dispatch span, continuing the publisher's trace
// when the delivery carries one.
func startConsumeSpan(ctx context.Context, d *transport.Delivery) (context.Context, trace.Span) {
	if remote, ok := remoteSpanContext(d.Message.Metadata); ok {
		ctx = trace.ContextWithRemoteSpanContext(ctx, remote)
	}
	return otel.Tracer(tracerName).Start(ctx, SpanConsume,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.source.name", d.Source),
			attribute.String("messaging.consumer.tag", d.ConsumerTag),
			attribute.String("messaging.message.id", d.MessageID()),
			attribute.String("eventbus.event_type", d.Message.Metadata.Get(metadata.EventType)),
			attribute.Int("eventbus.retry_count", d.RetryCount),
		),
	)
}

func remoteSpanContext(md message.Metadata) (trace.SpanContext, bool) {
	traceID, err := trace.TraceIDFromHex(md.Get(metadata.TraceID))
	if err != nil {
		return trace.SpanContext{}, false
	}
	spanID, err := trace.SpanIDFromHex(md.Get(metadata.SpanID))
	if err != nil {
		return trace.SpanContext{}, false
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	}), true
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
