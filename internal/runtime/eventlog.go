package runtime

import (
	"context"
	"fmt"

	"github.com/cosmic-horizons/eventbus/internal/runtime/envelope"
	errspkg "github.com/cosmic-horizons/eventbus/internal/runtime/errors"
	"github.com/cosmic-horizons/eventbus/internal/runtime/topology"
)

// EventLog publishes envelopes to the durable log topics, keyed so that each
// causal chain stays in one partition.
type EventLog struct {
	publisher *Publisher
}

// NewEventLog creates an event log over a publisher bound to the log
// connection.
func NewEventLog(pub *Publisher) *EventLog {
	return &EventLog{publisher: pub}
}

// Publish writes env to topic with key. The topic must be in the topic
// registry.
func (l *EventLog) Publish(ctx context.Context, topic string, env envelope.Envelope, key string) error {
	if !topology.IsValidTopic(topic) {
		return fmt.Errorf("%w: %q", errspkg.ErrUnknownTopic, topic)
	}
	_, err := l.publisher.Publish(ctx, env, PublishOptions{
		Destination:  topic,
		Key:          key,
		PartitionKey: key,
		Persistent:   Persistent(true),
	})
	return err
}

// PublishJobLifecycle writes a job event keyed by job id.
func (l *EventLog) PublishJobLifecycle(ctx context.Context, env envelope.Envelope) error {
	return l.Publish(ctx, topology.TopicJobLifecycle, env, env.PartitionKey())
}

// PublishJobMetrics writes a metrics sample keyed by job id.
func (l *EventLog) PublishJobMetrics(ctx context.Context, env envelope.Envelope) error {
	return l.Publish(ctx, topology.TopicJobMetrics, env, env.PartitionKey())
}

// PublishNotification writes a notification with a null key.
func (l *EventLog) PublishNotification(ctx context.Context, env envelope.Envelope) error {
	return l.Publish(ctx, topology.TopicNotifications, env, "")
}

// PublishAudit writes an audit entry keyed by the audited resource.
func (l *EventLog) PublishAudit(ctx context.Context, env envelope.Envelope, resourceID string) error {
	return l.Publish(ctx, topology.TopicAuditTrail, env, resourceID)
}

// PublishSystemHealth writes a health probe keyed by component.
func (l *EventLog) PublishSystemHealth(ctx context.Context, env envelope.Envelope, componentID string) error {
	return l.Publish(ctx, topology.TopicSystemHealth, env, componentID)
}
