package runtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cosmic-horizons/eventbus/internal/runtime/jsoncodec"
	loggingpkg "github.com/cosmic-horizons/eventbus/internal/runtime/logging"
	metadatapkg "github.com/cosmic-horizons/eventbus/internal/runtime/metadata"
	"github.com/cosmic-horizons/eventbus/internal/runtime/topology"
	"github.com/cosmic-horizons/eventbus/transport"
)

// Header stamped on dead-lettered messages.
const HeaderDLQReason = "x-dlq-reason"

// DeadLetterRecord is the body written to the dead-letter destination.
type DeadLetterRecord struct {
	MessageID string `json:"message_id"`
	// Payload is the original body: embedded as-is when it is valid JSON,
	// otherwise as a base64 string.
	Payload            json.RawMessage   `json:"payload"`
	Headers            map[string]string `json:"headers,omitempty"`
	OriginalExchange   string            `json:"original_exchange"`
	OriginalRoutingKey string            `json:"original_routing_key"`
	DLQReason          string            `json:"dlq_reason"`
	DLQTimestamp       string            `json:"dlq_timestamp"`
	RetryCount         int               `json:"retry_count"`
	OriginalTimestamp  string            `json:"original_timestamp,omitempty"`
}

// OriginalPayload decodes Payload back to the bytes that were dead-lettered.
func (r DeadLetterRecord) OriginalPayload() []byte {
	var encoded string
	if err := jsoncodec.Unmarshal(r.Payload, &encoded); err == nil {
		if raw, err := base64.StdEncoding.DecodeString(encoded); err == nil {
			return raw
		}
	}
	return []byte(r.Payload)
}

// DeadLetterRouter moves deliveries whose retry budget is exhausted to the
// dead-letter exchange. The owning service calls it; the Consumer never does.
type DeadLetterRouter struct {
	publisher  *Publisher
	consumer   *Consumer
	exchange   string
	routingKey string
	logger     loggingpkg.ServiceLogger
	metrics    *DLQMetrics
	now        func() time.Time
}

// DeadLetterOption configures a DeadLetterRouter.
type DeadLetterOption func(*DeadLetterRouter)

// WithDeadLetterDestination overrides dlx.exchange / dlq.messages.
func WithDeadLetterDestination(exchange, routingKey string) DeadLetterOption {
	return func(r *DeadLetterRouter) {
		r.exchange = exchange
		r.routingKey = routingKey
	}
}

// WithDeadLetterConsumer settles routed deliveries through c, which also
// forgets their retry counts.
func WithDeadLetterConsumer(c *Consumer) DeadLetterOption {
	return func(r *DeadLetterRouter) { r.consumer = c }
}

// WithDeadLetterLogger sets the router logger.
func WithDeadLetterLogger(log loggingpkg.ServiceLogger) DeadLetterOption {
	return func(r *DeadLetterRouter) { r.logger = loggingpkg.OrNop(log) }
}

// WithDeadLetterMetrics records routing results on m.
func WithDeadLetterMetrics(m *DLQMetrics) DeadLetterOption {
	return func(r *DeadLetterRouter) { r.metrics = m }
}

// NewDeadLetterRouter creates a router publishing through pub.
func NewDeadLetterRouter(pub *Publisher, opts ...DeadLetterOption) *DeadLetterRouter {
	r := &DeadLetterRouter{
		publisher:  pub,
		exchange:   topology.DeadLetterExchange,
		routingKey: topology.DeadLetterKey,
		logger:     loggingpkg.NopLogger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SendToDLQ publishes a DeadLetterRecord for d, persistently, with the retry
// count incremented by one and reason attached. It never panics and never
// returns an error: a failed write is logged and counted, and the result
// reports whether the broker accepted it. On success the original delivery
// is acknowledged if still unsettled.
func (r *DeadLetterRouter) SendToDLQ(ctx context.Context, d *transport.Delivery, reason string) (routed bool) {
	source := ""
	if d != nil {
		source = d.Source
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.fail(source, fmt.Errorf("dead letter routing panic: %v", rec), nil)
			routed = false
		}
	}()

	if d == nil || d.Message == nil {
		r.fail(source, fmt.Errorf("dead letter routing: delivery is nil"), nil)
		return false
	}

	record := r.record(d, reason)
	fields := loggingpkg.LogFields{
		"source":      d.Source,
		"message_id":  record.MessageID,
		"retry_count": record.RetryCount,
		"dlq_reason":  reason,
	}

	body, err := jsoncodec.Marshal(record)
	if err != nil {
		r.fail(source, fmt.Errorf("marshal dead letter record: %w", err), fields)
		return false
	}

	headers := map[string]string{
		metadatapkg.RetryCount: strconv.Itoa(record.RetryCount),
		HeaderDLQReason:        reason,
	}
	if record.OriginalTimestamp != "" {
		headers[metadatapkg.OriginalTimestamp] = record.OriginalTimestamp
	}

	ok, err := r.publisher.PublishRaw(ctx, body, PublishOptions{
		Destination:   r.exchange,
		Key:           r.routingKey,
		Persistent:    Persistent(true),
		CorrelationID: d.Message.Metadata.Get(metadatapkg.CorrelationID),
		MessageID:     record.MessageID,
		Headers:       headers,
	})
	if err != nil || !ok {
		if err == nil {
			err = fmt.Errorf("dead letter write to %s not accepted", r.exchange)
		}
		r.fail(source, err, fields)
		return false
	}

	r.settle(d)

	age := time.Duration(0)
	if !d.OriginalTimestamp.IsZero() {
		age = r.now().Sub(d.OriginalTimestamp)
	}
	r.metrics.RecordMessageToDLQ(d.Source, record.RetryCount, age)
	r.logger.Info("Message routed to dead letter queue", fields)
	return true
}

func (r *DeadLetterRouter) record(d *transport.Delivery, reason string) DeadLetterRecord {
	record := DeadLetterRecord{
		MessageID:          d.MessageID(),
		Payload:            encodePayload(d.Payload()),
		Headers:            d.Headers(),
		OriginalExchange:   d.Exchange,
		OriginalRoutingKey: d.RoutingKey,
		DLQReason:          reason,
		DLQTimestamp:       metadatapkg.FormatTime(r.now()),
		RetryCount:         d.RetryCount + 1,
	}
	if !d.OriginalTimestamp.IsZero() {
		record.OriginalTimestamp = metadatapkg.FormatTime(d.OriginalTimestamp)
	}
	return record
}

func (r *DeadLetterRouter) settle(d *transport.Delivery) {
	if d.Settled() {
		return
	}
	var err error
	if r.consumer != nil {
		err = r.consumer.Acknowledge(d)
	} else {
		err = d.Ack()
	}
	if err != nil {
		r.logger.Error("Dead-lettered delivery could not be acknowledged", err, loggingpkg.LogFields{"message_id": d.MessageID()})
	}
}

func (r *DeadLetterRouter) fail(source string, err error, fields loggingpkg.LogFields) {
	r.metrics.RecordRoutingFailure(source)
	r.logger.Error("Dead letter routing failed", err, fields)
}

func encodePayload(raw []byte) json.RawMessage {
	if len(raw) > 0 && jsoncodec.Valid(raw) {
		return append(json.RawMessage(nil), raw...)
	}
	encoded, _ := jsoncodec.Marshal(base64.StdEncoding.EncodeToString(raw))
	return encoded
}
