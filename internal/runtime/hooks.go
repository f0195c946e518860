package runtime

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	loggingpkg "github.com/cosmic-horizons/eventbus/internal/runtime/logging"
)

// DeliveryContext describes one handler invocation to hooks.
type DeliveryContext struct {
	// Source is the queue or topic the delivery came from.
	Source string
	// ConsumerTag identifies the subscription.
	ConsumerTag string
	// MessageID is the message-id header, or the message UUID.
	MessageID string
	// EventType is the event-type header, when present.
	EventType string
	// Metadata contains the message headers.
	Metadata message.Metadata
	// Context is the dispatch context, carrying the consume span.
	Context context.Context
	// StartedAt is when the handler was invoked.
	StartedAt time.Time
	// Duration is how long the handler took (only set in OnDeliveryDone and
	// OnDeliveryError).
	Duration time.Duration
	// RetryCount is the application-level retry count of the delivery.
	RetryCount int
}

// DeliveryHooks defines callbacks around handler invocation.
// All hooks are optional - nil hooks are simply not called.
type DeliveryHooks struct {
	// OnDeliveryStart is called before the handler is invoked.
	OnDeliveryStart func(ctx DeliveryContext)

	// OnDeliveryDone is called when the handler returns nil.
	OnDeliveryDone func(ctx DeliveryContext)

	// OnDeliveryError is called when the handler returns an error or panics.
	OnDeliveryError func(ctx DeliveryContext, err error)
}

// Merge combines two DeliveryHooks. The hooks from other run after h.
func (h DeliveryHooks) Merge(other DeliveryHooks) DeliveryHooks {
	return DeliveryHooks{
		OnDeliveryStart: chainHooks(h.OnDeliveryStart, other.OnDeliveryStart),
		OnDeliveryDone:  chainHooks(h.OnDeliveryDone, other.OnDeliveryDone),
		OnDeliveryError: chainErrorHooks(h.OnDeliveryError, other.OnDeliveryError),
	}
}

func chainHooks(a, b func(DeliveryContext)) func(DeliveryContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DeliveryContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(DeliveryContext, error)) func(DeliveryContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DeliveryContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (h DeliveryHooks) start(ctx DeliveryContext) {
	if h.OnDeliveryStart != nil {
		h.OnDeliveryStart(ctx)
	}
}

func (h DeliveryHooks) finish(ctx DeliveryContext, err error) {
	if err != nil {
		if h.OnDeliveryError != nil {
			h.OnDeliveryError(ctx, err)
		}
		return
	}
	if h.OnDeliveryDone != nil {
		h.OnDeliveryDone(ctx)
	}
}

// LoggingHooks returns hooks that log every handler invocation.
func LoggingHooks(logger loggingpkg.ServiceLogger) DeliveryHooks {
	logger = loggingpkg.OrNop(logger)
	return DeliveryHooks{
		OnDeliveryStart: func(ctx DeliveryContext) {
			logger.Debug("Delivery started", loggingpkg.LogFields{
				"source":       ctx.Source,
				"consumer_tag": ctx.ConsumerTag,
				"message_id":   ctx.MessageID,
				"event_type":   ctx.EventType,
				"retry_count":  ctx.RetryCount,
			})
		},
		OnDeliveryDone: func(ctx DeliveryContext) {
			logger.Debug("Delivery handled", loggingpkg.LogFields{
				"source":       ctx.Source,
				"consumer_tag": ctx.ConsumerTag,
				"message_id":   ctx.MessageID,
				"duration_ms":  ctx.Duration.Milliseconds(),
			})
		},
		OnDeliveryError: func(ctx DeliveryContext, err error) {
			logger.Error("Delivery handler failed", err, loggingpkg.LogFields{
				"source":       ctx.Source,
				"consumer_tag": ctx.ConsumerTag,
				"message_id":   ctx.MessageID,
				"duration_ms":  ctx.Duration.Milliseconds(),
				"retry_count":  ctx.RetryCount,
			})
		},
	}
}

// MetricsHooks returns hooks that report handler outcomes per source.
func MetricsHooks(onStart, onDone, onError func(source, eventType string)) DeliveryHooks {
	return DeliveryHooks{
		OnDeliveryStart: func(ctx DeliveryContext) {
			if onStart != nil {
				onStart(ctx.Source, ctx.EventType)
			}
		},
		OnDeliveryDone: func(ctx DeliveryContext) {
			if onDone != nil {
				onDone(ctx.Source, ctx.EventType)
			}
		},
		OnDeliveryError: func(ctx DeliveryContext, err error) {
			if onError != nil {
				onError(ctx.Source, ctx.EventType)
			}
		},
	}
}

// AlertingHooks returns hooks that call alertFunc on handler errors.
func AlertingHooks(alertFunc func(ctx DeliveryContext, err error)) DeliveryHooks {
	return DeliveryHooks{
		OnDeliveryError: alertFunc,
	}
}
