package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	handlerpkg "github.com/cosmic-horizons/eventbus/internal/runtime/handlers"
	loggingpkg "github.com/cosmic-horizons/eventbus/internal/runtime/logging"
	metadatapkg "github.com/cosmic-horizons/eventbus/internal/runtime/metadata"
	"github.com/cosmic-horizons/eventbus/transport"
)

// Middleware wraps a Handler.
type Middleware func(Handler) Handler

// Chain wraps h with mws. The first middleware is the outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}

// DefaultMaxRetries and DefaultDLQReason apply to a zero RetryConfig.
const (
	DefaultMaxRetries = 3
	DefaultDLQReason  = "Max retries exceeded"
)

// RetryConfig customises RetryOrDeadLetter.
type RetryConfig struct {
	// MaxRetries is how many times a delivery is requeued before it is
	// dead-lettered.
	MaxRetries int
	// InitialInterval delays the first requeue and doubles per retry up to
	// MaxInterval. Zero requeues immediately.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// RetryIf selects retryable errors. Others go straight to the DLQ. By
	// default everything but an UnprocessableEventError is retried.
	RetryIf func(error) bool
	// Reason is the dlq_reason of exhausted deliveries.
	Reason string
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.InitialInterval > 0 && cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 30 * time.Second
	}
	if cfg.RetryIf == nil {
		cfg.RetryIf = func(err error) bool {
			var unprocessable *handlerpkg.UnprocessableEventError
			return !errors.As(err, &unprocessable)
		}
	}
	if cfg.Reason == "" {
		cfg.Reason = DefaultDLQReason
	}
	return cfg
}

// delay is the wait before requeueing a delivery that has been retried
// retries times.
func (cfg RetryConfig) delay(retries int) time.Duration {
	if cfg.InitialInterval <= 0 {
		return 0
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval: cfg.InitialInterval,
		Multiplier:      2,
		MaxInterval:     cfg.MaxInterval,
	}
	b.Reset()
	d := b.NextBackOff()
	for i := 0; i < retries; i++ {
		d = b.NextBackOff()
	}
	return d
}

// RetryOrDeadLetter settles deliveries the handler failed on. A retryable
// failure under the retry budget is requeued through c with its retry count
// incremented; anything else is routed to the DLQ. When the DLQ write fails
// the delivery is nacked without requeue so the broker's own dead-letter
// exchange takes it. The handler error is always returned.
func RetryOrDeadLetter(c *Consumer, router *DeadLetterRouter, cfg RetryConfig) Middleware {
	cfg = cfg.withDefaults()
	return func(h Handler) Handler {
		return func(ctx context.Context, d *transport.Delivery) error {
			err := h(ctx, d)
			if err == nil || d.Settled() {
				return err
			}

			retryable := cfg.RetryIf(err)
			if retryable && d.RetryCount < cfg.MaxRetries {
				if wait := cfg.delay(d.RetryCount); wait > 0 {
					timer := time.NewTimer(wait)
					select {
					case <-timer.C:
					case <-ctx.Done():
						timer.Stop()
					}
				}
				if _, retryErr := c.Retry(d); retryErr != nil {
					return errors.Join(err, retryErr)
				}
				return err
			}

			reason := cfg.Reason
			if !retryable {
				reason = "Unprocessable: " + err.Error()
			}
			if !router.SendToDLQ(ctx, d, reason) && !d.Settled() {
				if nackErr := c.Nack(d, false); nackErr != nil {
					return errors.Join(err, nackErr)
				}
			}
			return err
		}
	}
}

// AckOnSuccess acknowledges through c every delivery the handler returned
// nil for and left unsettled.
func AckOnSuccess(c *Consumer) Middleware {
	return func(h Handler) Handler {
		return func(ctx context.Context, d *transport.Delivery) error {
			if err := h(ctx, d); err != nil {
				return err
			}
			if d.Settled() {
				return nil
			}
			return c.Acknowledge(d)
		}
	}
}

type correlationIDKey struct{}

// CorrelationIDFromContext returns the correlation id placed on ctx by
// CorrelationIDMiddleware.
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

// CorrelationIDMiddleware makes the correlation id of every delivery
// available through CorrelationIDFromContext, defaulting a missing header to
// the message id.
func CorrelationIDMiddleware() Middleware {
	return func(h Handler) Handler {
		return func(ctx context.Context, d *transport.Delivery) error {
			id := d.Message.Metadata.Get(metadatapkg.CorrelationID)
			if id == "" {
				id = d.MessageID()
				d.Message.Metadata.Set(metadatapkg.CorrelationID, id)
			}
			return h(context.WithValue(ctx, correlationIDKey{}, id), d)
		}
	}
}

// LogMessagesMiddleware logs every delivery before the handler runs.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) Middleware {
	logger = loggingpkg.OrNop(logger)
	return func(h Handler) Handler {
		return func(ctx context.Context, d *transport.Delivery) error {
			logger.Debug("Processing message", loggingpkg.LogFields{
				"message_id":    d.MessageID(),
				"source":        d.Source,
				"routing_key":   d.RoutingKey,
				"retry_count":   d.RetryCount,
				"payload_bytes": len(d.Payload()),
			})
			return h(ctx, d)
		}
	}
}

// TimeoutMiddleware bounds each handler call.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(h Handler) Handler {
		if timeout <= 0 {
			return h
		}
		return func(ctx context.Context, d *transport.Delivery) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return h(ctx, d)
		}
	}
}
