package runtime

import (
	"context"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/cosmic-horizons/eventbus/internal/runtime/connection"
	"github.com/cosmic-horizons/eventbus/internal/runtime/envelope"
	errspkg "github.com/cosmic-horizons/eventbus/internal/runtime/errors"
	idspkg "github.com/cosmic-horizons/eventbus/internal/runtime/ids"
	loggingpkg "github.com/cosmic-horizons/eventbus/internal/runtime/logging"
	metadatapkg "github.com/cosmic-horizons/eventbus/internal/runtime/metadata"
	"github.com/cosmic-horizons/eventbus/transport"
)

// PublishOptions controls how one message is framed and routed.
type PublishOptions struct {
	// Destination is the exchange or topic. Required.
	Destination string
	// Key is the routing key on the broker and the partition key on the log.
	// Empty on a fanout destination means no ordering guarantee.
	Key string
	// PartitionKey overrides the ordering key when Key is a routing key.
	PartitionKey string
	// Persistent defaults to true.
	Persistent *bool
	// ContentType defaults to application/json.
	ContentType string
	// CorrelationID defaults to the envelope's correlation id, then the
	// message id.
	CorrelationID string
	// MessageID defaults to the envelope's event id, then a fresh ULID.
	MessageID string
	// Headers are merged under the standard headers.
	Headers map[string]string
}

// Persistent returns a pointer to v for PublishOptions.Persistent.
func Persistent(v bool) *bool {
	return &v
}

// Publisher frames envelopes as messages and hands them to the connection
// managed by its Manager. It never buffers: a disconnected manager fails the
// call with ErrNotConnected.
type Publisher struct {
	manager *connection.Manager
	logger  loggingpkg.ServiceLogger
	metrics *Metrics
	now     func() time.Time
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithPublisherLogger sets the publisher logger.
func WithPublisherLogger(log loggingpkg.ServiceLogger) PublisherOption {
	return func(p *Publisher) { p.logger = loggingpkg.OrNop(log) }
}

// WithPublisherMetrics records every publish on m.
func WithPublisherMetrics(m *Metrics) PublisherOption {
	return func(p *Publisher) { p.metrics = m }
}

// NewPublisher creates a publisher over manager.
func NewPublisher(manager *connection.Manager, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		manager: manager,
		logger:  loggingpkg.NopLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish serialises env and publishes it. The result reports whether the
// transport accepted the message, which is not a guarantee that any consumer
// processed it.
func (p *Publisher) Publish(ctx context.Context, env envelope.Envelope, opts PublishOptions) (bool, error) {
	if err := env.Validate(); err != nil {
		return false, err
	}
	body, err := env.MarshalJSON()
	if err != nil {
		return false, err
	}

	if opts.MessageID == "" {
		opts.MessageID = env.EventID
	}
	if opts.CorrelationID == "" {
		opts.CorrelationID = env.CorrelationID
	}
	if opts.Key == "" && opts.PartitionKey == "" {
		opts.Key = env.PartitionKey()
	}
	standard := metadatapkg.Metadata{
		metadatapkg.EventType:     env.EventType,
		metadatapkg.SchemaVersion: strconv.Itoa(env.SchemaVersion),
	}
	return p.publish(ctx, body, opts, standard)
}

// PublishRaw publishes a pre-serialised body.
func (p *Publisher) PublishRaw(ctx context.Context, payload []byte, opts PublishOptions) (bool, error) {
	return p.publish(ctx, payload, opts, nil)
}

func (p *Publisher) publish(ctx context.Context, body []byte, opts PublishOptions, standard metadatapkg.Metadata) (bool, error) {
	if p == nil || p.manager == nil {
		return false, errspkg.ErrPublisherRequired
	}
	if opts.Destination == "" {
		return false, errspkg.ErrDestinationRequired
	}
	conn, err := p.manager.Conn()
	if err != nil {
		return false, err
	}

	msg := p.frame(body, opts, standard)
	dest := transport.Destination{
		Name:       opts.Destination,
		Key:        opts.Key,
		Persistent: opts.Persistent == nil || *opts.Persistent,
	}

	ctx, span := startPublishSpan(ctx, dest, msg)
	err = conn.Publish(ctx, dest, msg)
	endSpan(span, err)
	p.metrics.ObservePublish(dest.Name, err)

	fields := loggingpkg.LogFields{
		"destination":    dest.Name,
		"routing_key":    dest.Key,
		"message_id":     msg.UUID,
		"correlation_id": msg.Metadata.Get(metadatapkg.CorrelationID),
	}
	if err != nil {
		p.logger.Error("Publish failed", err, fields)
		return false, err
	}
	p.logger.Debug("Message published", fields)
	return true, nil
}

// frame builds the message: caller headers first, standard headers on top.
func (p *Publisher) frame(body []byte, opts PublishOptions, standard metadatapkg.Metadata) *message.Message {
	id := opts.MessageID
	if id == "" {
		id = idspkg.CreateULID()
	}
	correlationID := opts.CorrelationID
	if correlationID == "" {
		correlationID = id
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = metadatapkg.DefaultContentType
	}
	persistent := opts.Persistent == nil || *opts.Persistent

	md := metadatapkg.Metadata(opts.Headers).Merge(standard).Merge(map[string]string{
		metadatapkg.ContentType:   contentType,
		metadatapkg.CorrelationID: correlationID,
		metadatapkg.MessageID:     id,
		metadatapkg.Timestamp:     metadatapkg.FormatTime(p.now()),
		metadatapkg.Persistent:    strconv.FormatBool(persistent),
	})
	if opts.PartitionKey != "" {
		md[metadatapkg.PartitionKey] = opts.PartitionKey
	}

	msg := message.NewMessage(id, body)
	msg.Metadata = metadatapkg.ToWatermill(md)
	return msg
}
