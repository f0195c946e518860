// Package nats provides an alternative broadcast transport over NATS Core.
package nats

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	errspkg "github.com/cosmic-horizons/eventbus/internal/runtime/errors"
	"github.com/cosmic-horizons/eventbus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

// Register registers the NATS transport with the default registry.
// This should be called from an init() function in an importing package,
// or explicitly before using the transport.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// connectOptions maps reconnect and connect timeouts onto the NATS client.
func connectOptions(cfg transport.Config) []nc.Option {
	opts := []nc.Option{nc.MaxReconnects(-1)}
	if wait := cfg.GetReconnectInterval(); wait > 0 {
		opts = append(opts, nc.ReconnectWait(wait))
	}
	if timeout := cfg.GetConnectTimeout(); timeout > 0 {
		opts = append(opts, nc.Timeout(timeout))
	}
	if hb := cfg.GetHeartbeat(); hb > 0 {
		opts = append(opts, nc.PingInterval(hb))
	}
	if id := cfg.GetClientID(); id != "" {
		opts = append(opts, nc.Name(id))
	}
	return opts
}

// Build creates a new NATS connection to the first configured URL. No queue
// group is used, so every instance receives every broadcast.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Conn, error) {
	urls := cfg.GetURLs()
	if len(urls) == 0 {
		return nil, errspkg.ErrNoBrokerURLs
	}
	url := urls[0]
	marshaler := &nats.NATSMarshaler{}
	opts := connectOptions(cfg)

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			NatsOptions: opts,
			Marshaler:   marshaler,
			JetStream:   nats.JetStreamConfig{Disabled: true},
		},
		logger,
	)
	if err != nil {
		return nil, err
	}

	subscriber, err := SubscriberFactory(
		nats.SubscriberConfig{
			URL:         url,
			NatsOptions: opts,
			Unmarshaler: marshaler,
			JetStream:   nats.JetStreamConfig{Disabled: true},
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return nil, err
	}

	return transport.NewWatermillConn(publisher, subscriber), nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
