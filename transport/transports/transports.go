// Package transports imports all built-in transports for auto-registration.
// Import this package to have all transports registered with the default registry.
package transports

import (
	"github.com/cosmic-horizons/eventbus/transport/fanout"
	"github.com/cosmic-horizons/eventbus/transport/nats"
	"github.com/cosmic-horizons/eventbus/transport/rabbitmq"

	// Import self-registering transports for side-effect registration
	_ "github.com/cosmic-horizons/eventbus/transport/channel"
	_ "github.com/cosmic-horizons/eventbus/transport/kafka"
)

func init() {
	rabbitmq.Register()
	fanout.Register()
	nats.Register()
}
