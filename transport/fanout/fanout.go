// Package fanout provides the broadcast transport: messages published to an
// AMQP fanout exchange reach one queue per service instance.
package fanout

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/cosmic-horizons/eventbus/internal/runtime/errors"
	"github.com/cosmic-horizons/eventbus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "fanout"

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

// closeConnection closes a connection opened by ConnectionFactory.
var closeConnection = func(conn *amqp.ConnectionWrapper) error {
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Register registers the fanout transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.FanoutCapabilities)
}

// Conn is a broadcast connection. Exchanges and queues are declared lazily by
// watermill on first use.
type Conn struct {
	*transport.WatermillConn
	conn *amqp.ConnectionWrapper
}

// Healthy reports whether the AMQP connection is up.
func (c *Conn) Healthy() bool {
	return c.conn == nil || c.conn.IsConnected()
}

// Close closes the publisher, the subscriber and the shared connection.
func (c *Conn) Close() error {
	return errors.Join(c.WatermillConn.Close(), closeConnection(c.conn))
}

// Build creates a broadcast connection to the first configured URL. Each
// instance consumes through its own queue, suffixed with the client id.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Conn, error) {
	urls := cfg.GetURLs()
	if len(urls) == 0 {
		return nil, errspkg.ErrNoBrokerURLs
	}
	url := urls[0]

	queueName := amqp.GenerateQueueNameTopicName
	if id := cfg.GetClientID(); id != "" {
		queueName = amqp.GenerateQueueNameTopicNameWithSuffix(id)
	}
	amqpConfig := amqp.NewDurablePubSubConfig(url, queueName)
	if prefetch := cfg.GetPrefetch(); prefetch > 0 {
		amqpConfig.Consume.Qos.PrefetchCount = prefetch
	}

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		TLSConfig: nil,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return nil, err
	}

	publisher, err := PublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		_ = closeConnection(conn)
		return nil, err
	}

	subscriber, err := SubscriberFactory(amqpConfig, logger, conn)
	if err != nil {
		_ = publisher.Close()
		_ = closeConnection(conn)
		return nil, err
	}

	return &Conn{
		WatermillConn: transport.NewWatermillConn(publisher, subscriber),
		conn:          conn,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.FanoutCapabilities
}
