package runtime

import (
	"context"

	"github.com/cosmic-horizons/eventbus/internal/runtime/envelope"
	errspkg "github.com/cosmic-horizons/eventbus/internal/runtime/errors"
	handlerpkg "github.com/cosmic-horizons/eventbus/internal/runtime/handlers"
)

// ConsumeEnvelopes subscribes a handler that receives decoded envelopes.
// Bodies that are not valid envelopes, or that carry a schema version outside
// opts.SchemaVersions, fail with an UnprocessableEventError.
func (c *Consumer) ConsumeEnvelopes(ctx context.Context, handler handlerpkg.EnvelopeHandler, opts ConsumeOptions, mws ...Middleware) (string, error) {
	if c == nil {
		return "", errspkg.ErrConsumerRequired
	}
	h, err := handlerpkg.BuildEnvelopeHandler(handler, c.logger, handlerpkg.AcceptVersions(opts.SchemaVersions...))
	if err != nil {
		return "", err
	}
	return c.Consume(ctx, Chain(h, mws...), opts)
}

// ConsumeEvents subscribes a handler for one payload variant. Envelopes of
// other variants fail with an UnprocessableEventError, which the default
// RetryOrDeadLetter policy routes straight to the DLQ.
func ConsumeEvents[T envelope.Payload](ctx context.Context, c *Consumer, handler handlerpkg.EventHandler[T], opts ConsumeOptions, mws ...Middleware) (string, error) {
	if c == nil {
		return "", errspkg.ErrConsumerRequired
	}
	h, err := handlerpkg.BuildEventHandler(handler, c.logger, handlerpkg.AcceptVersions(opts.SchemaVersions...))
	if err != nil {
		return "", err
	}
	return c.Consume(ctx, Chain(h, mws...), opts)
}
