// Package rabbitmq provides the low-latency AMQP broker transport: topology
// declaration, publisher confirms, per-consumer prefetch and nack with requeue.
package rabbitmq

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	amqp "github.com/rabbitmq/amqp091-go"

	errspkg "github.com/cosmic-horizons/eventbus/internal/runtime/errors"
	"github.com/cosmic-horizons/eventbus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "rabbitmq"

// DialFactory allows overriding the connection creation for testing.
var DialFactory = func(url string, cfg amqp.Config) (Connection, error) {
	conn, err := amqp.DialConfig(url, cfg)
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn}, nil
}

// Register registers the RabbitMQ transport with the default registry.
// This should be called from an init() function in an importing package,
// or explicitly before using the transport.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RabbitMQCapabilities)
}

// Build dials the first configured URL. Failover across the remaining URLs is
// the connection manager's job.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Conn, error) {
	urls := cfg.GetURLs()
	if len(urls) == 0 {
		return nil, errspkg.ErrNoBrokerURLs
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	amqpCfg := amqp.Config{
		Heartbeat: cfg.GetHeartbeat(),
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(cfg.GetConnectTimeout()),
	}
	if id := cfg.GetClientID(); id != "" {
		amqpCfg.Properties = amqp.Table{"connection_name": id}
	}

	conn, err := DialFactory(urls[0], amqpCfg)
	if err != nil {
		return nil, err
	}

	c, err := newConn(conn, cfg, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}
