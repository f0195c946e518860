package transport

// Capabilities describes the features supported by a transport backend.
// Use this to introspect what operations are available at runtime.
type Capabilities struct {
	// SupportsTopology indicates the transport declares exchanges, queues or
	// topics before it reports ready.
	SupportsTopology bool

	// SupportsConfirms indicates the broker acknowledges each publish.
	SupportsConfirms bool

	// SupportsNativeDLQ indicates rejected messages are dead-lettered by the
	// broker itself. When false, eventbus routes them at the application level.
	SupportsNativeDLQ bool

	// SupportsOrdering indicates the transport keeps per-key ordering.
	SupportsOrdering bool

	// SupportsPartitioning indicates messages are spread over partitions by key.
	SupportsPartitioning bool

	// SupportsAck indicates the transport supports explicit message acknowledgment.
	SupportsAck bool

	// SupportsNack indicates the transport supports negative acknowledgment (redelivery).
	SupportsNack bool

	// SupportsPrefetch indicates per-consumer prefetch is honoured by the broker.
	SupportsPrefetch bool

	// SupportsConsumerGroups indicates consumers share work through named groups.
	SupportsConsumerGroups bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64

	// Name is the human-readable name of the transport.
	Name string
}

// RequiresDLQEmulation returns true if the transport needs application-level
// DLQ routing because it doesn't support native dead letter queues.
func (c Capabilities) RequiresDLQEmulation() bool {
	return !c.SupportsNativeDLQ
}

// SupportsReliableDelivery returns true if the transport supports at-least-once
// delivery semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Predefined capability sets for the built-in transports.
var (
	// ChannelCapabilities for the in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsTopology: true,
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	// RabbitMQCapabilities for the low-latency AMQP broker.
	RabbitMQCapabilities = Capabilities{
		Name:              "rabbitmq",
		SupportsTopology:  true,
		SupportsConfirms:  true,
		SupportsNativeDLQ: true,
		SupportsOrdering:  true,
		SupportsAck:       true,
		SupportsNack:      true,
		SupportsPrefetch:  true,
	}

	// FanoutCapabilities for broadcast over an AMQP fanout exchange.
	FanoutCapabilities = Capabilities{
		Name:         "fanout",
		SupportsAck:  true,
		SupportsNack: true,
	}

	// KafkaCapabilities for the durable Kafka log.
	KafkaCapabilities = Capabilities{
		Name:                   "kafka",
		SupportsTopology:       true,
		SupportsConfirms:       true,
		SupportsOrdering:       true,
		SupportsPartitioning:   true,
		SupportsAck:            true,
		SupportsConsumerGroups: true,
		MaxMessageSize:         1048576, // Default 1MB
	}

	// NATSCapabilities for NATS Core broadcast.
	NATSCapabilities = Capabilities{
		Name:           "nats",
		MaxMessageSize: 1048576, // Default 1MB
	}
)

// GetCapabilities returns the capabilities for a transport by name.
// Uses the registry to look up capabilities registered by each transport package.
// Returns a zero Capabilities struct if the transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
