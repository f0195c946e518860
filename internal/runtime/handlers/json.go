// Package handlers adapts typed envelope callbacks to delivery handlers. The
// wrappers decode the JSON envelope carried by a delivery, check its payload
// variant and hand the typed value to the callback.
package handlers

import (
	"context"
	"fmt"
	"slices"

	"github.com/cosmic-horizons/eventbus/internal/runtime/envelope"
	errspkg "github.com/cosmic-horizons/eventbus/internal/runtime/errors"
	loggingpkg "github.com/cosmic-horizons/eventbus/internal/runtime/logging"
	"github.com/cosmic-horizons/eventbus/transport"
)

// DeliveryHandler is the shape the consumer dispatches to.
type DeliveryHandler = func(ctx context.Context, d *transport.Delivery) error

// UnprocessableEventError wraps bodies that could not be decoded into the
// expected envelope. Redelivering them cannot succeed.
type UnprocessableEventError struct {
	MessageID string
	Err       error
}

func (e *UnprocessableEventError) Error() string {
	return "unprocessable event " + e.MessageID + ": " + e.Err.Error()
}

func (e *UnprocessableEventError) Unwrap() error {
	return e.Err
}

// EnvelopeContext exposes a decoded envelope and the delivery it came from.
type EnvelopeContext struct {
	MessageContextBase
	Envelope envelope.Envelope
}

// EventContext exposes the typed payload of a decoded envelope.
type EventContext[T envelope.Payload] struct {
	MessageContextBase
	Envelope envelope.Envelope
	Payload  T
}

// EnvelopeHandler processes any envelope.
type EnvelopeHandler func(ctx context.Context, evt EnvelopeContext) error

// EventHandler processes envelopes of one payload variant.
type EventHandler[T envelope.Payload] func(ctx context.Context, evt EventContext[T]) error

// BuildOption configures a built handler.
type BuildOption func(*buildSettings)

type buildSettings struct {
	versions []int
}

// AcceptVersions limits the handler to envelopes stamped with one of versions.
// Any other schema_version fails with ErrUnsupportedSchemaVersion wrapped in an
// UnprocessableEventError. Without versions every version is accepted.
func AcceptVersions(versions ...int) BuildOption {
	return func(s *buildSettings) { s.versions = append([]int(nil), versions...) }
}

func newBuildSettings(opts []BuildOption) buildSettings {
	var s buildSettings
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Decode reads the envelope carried by d. When versions is not empty the
// envelope's schema_version must be one of them.
func Decode(d *transport.Delivery, versions ...int) (envelope.Envelope, error) {
	var env envelope.Envelope
	if err := env.UnmarshalJSON(d.Payload()); err != nil {
		return envelope.Envelope{}, &UnprocessableEventError{MessageID: d.MessageID(), Err: err}
	}
	if err := env.Validate(); err != nil {
		return envelope.Envelope{}, &UnprocessableEventError{MessageID: d.MessageID(), Err: err}
	}
	if len(versions) > 0 && !slices.Contains(versions, env.SchemaVersion) {
		return envelope.Envelope{}, &UnprocessableEventError{
			MessageID: d.MessageID(),
			Err:       fmt.Errorf("%w: %s v%d, accepted %v", errspkg.ErrUnsupportedSchemaVersion, env.EventType, env.SchemaVersion, versions),
		}
	}
	return env, nil
}

// BuildEnvelopeHandler converts handler into a delivery handler.
func BuildEnvelopeHandler(handler EnvelopeHandler, logger loggingpkg.ServiceLogger, opts ...BuildOption) (DeliveryHandler, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	settings := newBuildSettings(opts)
	return func(ctx context.Context, d *transport.Delivery) error {
		env, err := Decode(d, settings.versions...)
		if err != nil {
			return err
		}
		return handler(ctx, EnvelopeContext{
			MessageContextBase: newBase(d, logger),
			Envelope:           env,
		})
	}, nil
}

// BuildEventHandler converts a typed handler into a delivery handler. An
// envelope carrying another payload variant fails with ErrInvalidPayload
// wrapped in an UnprocessableEventError.
func BuildEventHandler[T envelope.Payload](handler EventHandler[T], logger loggingpkg.ServiceLogger, opts ...BuildOption) (DeliveryHandler, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	settings := newBuildSettings(opts)
	return func(ctx context.Context, d *transport.Delivery) error {
		env, err := Decode(d, settings.versions...)
		if err != nil {
			return err
		}
		payload, ok := env.Payload.(T)
		if !ok {
			var want T
			return &UnprocessableEventError{
				MessageID: d.MessageID(),
				Err:       fmt.Errorf("%w: got %s, want %s", errspkg.ErrInvalidPayload, env.EventType, want.EventType()),
			}
		}
		return handler(ctx, EventContext[T]{
			MessageContextBase: newBase(d, logger),
			Envelope:           env,
			Payload:            payload,
		})
	}, nil
}
