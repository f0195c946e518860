// Package transport defines the contracts between the eventbus runtime and
// the brokers behind it. Each transport implementation (rabbitmq, kafka,
// fanout, nats, channel) lives in its own sub-package and registers itself
// with the transport registry.
package transport

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/cosmic-horizons/eventbus/internal/runtime/topology"
)

// Config provides the settings a transport needs to connect.
// This interface keeps transports independent of the config package.
type Config interface {
	// GetTransportName returns the registered transport name.
	GetTransportName() string
	// GetURLs returns broker addresses in preference order.
	GetURLs() []string
	GetReconnectInterval() time.Duration
	GetHeartbeat() time.Duration
	GetPrefetch() int
	GetConsumerGroup() string
	GetClientID() string
	GetConfirmPublishes() bool
	GetConnectTimeout() time.Duration
}

// Destination names where a message is published. On the low-latency broker
// Name is an exchange and Key the routing key; on the durable log Name is a
// topic and Key the partition key.
type Destination struct {
	Name       string
	Key        string
	Persistent bool
}

// Subscription describes one consumer.
type Subscription struct {
	Source    string
	Tag       string
	AutoAck   bool
	Exclusive bool
	Prefetch  int
	Group     string
}

// Conn is a live connection to one broker. Subscribe returns a channel that is
// closed once ctx is done or the connection closes.
type Conn interface {
	Publish(ctx context.Context, dest Destination, msg *message.Message) error
	Subscribe(ctx context.Context, sub Subscription) (<-chan *Delivery, error)
	Close() error
}

// Builder is the function signature for creating a connection from config.
// Each transport package provides one and registers it.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Conn, error)

// TopologyDeclarer is implemented by connections that can declare exchanges,
// queues or topics before they are used.
type TopologyDeclarer interface {
	Declare(ctx context.Context, topo topology.Topology) error
}

// HealthChecker is implemented by connections that can detect a dead link.
type HealthChecker interface {
	Healthy() bool
}

// GroupDescriber is implemented by connections that can describe consumer
// groups on the broker.
type GroupDescriber interface {
	DescribeGroup(ctx context.Context, groupID string) (GroupInfo, error)
}

// GroupInfo describes a consumer group.
type GroupInfo struct {
	GroupID string
	State   string
	Members []GroupMember
}

// GroupMember is one member of a consumer group.
type GroupMember struct {
	MemberID string
	ClientID string
	Host     string
}
