// Package channel provides an in-memory Go channel transport.
// Exchanges and bindings declared through Declare are emulated with routing-key
// matching, which makes it the test double for the AMQP broker. Destinations
// that are not declared exchanges are used as topics directly.
package channel

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	errspkg "github.com/cosmic-horizons/eventbus/internal/runtime/errors"
	"github.com/cosmic-horizons/eventbus/internal/runtime/topology"
	"github.com/cosmic-horizons/eventbus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates a new Go channel transport. URLs are ignored.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Conn, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	pub, sub := Factory(gochannel.Config{OutputChannelBuffer: int64(max(cfg.GetPrefetch(), 0))}, logger)
	c := &Conn{WatermillConn: transport.NewWatermillConn(pub, sub)}
	c.healthy.Store(true)
	return c, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}

// Conn is an in-memory connection.
type Conn struct {
	*transport.WatermillConn

	mu   sync.RWMutex
	topo topology.Topology

	healthy atomic.Bool
}

var (
	_ transport.TopologyDeclarer = (*Conn)(nil)
	_ transport.HealthChecker    = (*Conn)(nil)
)

// Declare records the exchanges and queues used for routing.
func (c *Conn) Declare(ctx context.Context, topo topology.Topology) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topo.Exchanges = append(c.topo.Exchanges, topo.Exchanges...)
	c.topo.Queues = append(c.topo.Queues, topo.Queues...)
	c.topo.Topics = append(c.topo.Topics, topo.Topics...)
	return ctx.Err()
}

// Publish delivers msg to every queue bound to dest.Name that matches dest.Key.
// Like AMQP, a message no queue matches is dropped.
func (c *Conn) Publish(ctx context.Context, dest transport.Destination, msg *message.Message) error {
	if dest.Name == "" {
		return errspkg.ErrDestinationRequired
	}

	c.mu.RLock()
	_, isExchange := c.topo.FindExchange(dest.Name)
	queues := c.topo.Routes(dest.Name, dest.Key)
	c.mu.RUnlock()

	if !isExchange {
		return c.WatermillConn.Publish(ctx, dest, msg)
	}

	transport.StampDestination(msg, dest)
	msg.SetContext(ctx)
	for _, queue := range queues {
		if err := c.WatermillConn.Publisher.Publish(queue, msg.Copy()); err != nil {
			return err
		}
	}
	return nil
}

// Healthy reports the health flag, true unless SetHealthy(false) was called.
func (c *Conn) Healthy() bool {
	return c.healthy.Load()
}

// SetHealthy flips the health flag to simulate a lost broker link.
func (c *Conn) SetHealthy(healthy bool) {
	c.healthy.Store(healthy)
}
