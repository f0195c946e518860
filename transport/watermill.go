package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/cosmic-horizons/eventbus/internal/runtime/errors"
	"github.com/cosmic-horizons/eventbus/internal/runtime/metadata"
)

// WatermillConn adapts a watermill publisher and subscriber pair to Conn.
// Destination keys travel as the partition-key and x-routing-key headers.
type WatermillConn struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	closeOnce sync.Once
	closeErr  error
}

// NewWatermillConn wraps pub and sub. Either may be nil for one-way transports.
func NewWatermillConn(pub message.Publisher, sub message.Subscriber) *WatermillConn {
	return &WatermillConn{Publisher: pub, Subscriber: sub}
}

// Publish stamps the destination headers and publishes to dest.Name.
func (c *WatermillConn) Publish(ctx context.Context, dest Destination, msg *message.Message) error {
	if dest.Name == "" {
		return errspkg.ErrDestinationRequired
	}
	if c.Publisher == nil {
		return errors.New("transport: connection has no publisher")
	}
	StampDestination(msg, dest)
	msg.SetContext(ctx)
	return c.Publisher.Publish(dest.Name, msg)
}

// Subscribe consumes sub.Source through the wrapped subscriber.
func (c *WatermillConn) Subscribe(ctx context.Context, sub Subscription) (<-chan *Delivery, error) {
	if c.Subscriber == nil {
		return nil, errors.New("transport: connection has no subscriber")
	}
	return SubscribeMessages(ctx, c.Subscriber, sub)
}

// Close closes the publisher and subscriber once.
func (c *WatermillConn) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		if c.Publisher != nil {
			errs = append(errs, c.Publisher.Close())
		}
		if c.Subscriber != nil && any(c.Subscriber) != any(c.Publisher) {
			errs = append(errs, c.Subscriber.Close())
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

// StampDestination records the exchange and key on msg so consumers can
// recover where it was published. An existing partition-key header wins over
// dest.Key, which lets a routed message carry a separate ordering key.
func StampDestination(msg *message.Message, dest Destination) {
	msg.Metadata.Set(metadata.Exchange, dest.Name)
	if dest.Key == "" {
		return
	}
	msg.Metadata.Set(metadata.RoutingKey, dest.Key)
	if msg.Metadata.Get(metadata.PartitionKey) == "" {
		msg.Metadata.Set(metadata.PartitionKey, dest.Key)
	}
}

// SubscribeMessages turns a watermill subscription into a Delivery stream.
// Nack without requeue acks the watermill message, dropping it.
func SubscribeMessages(ctx context.Context, subscriber message.Subscriber, sub Subscription) (<-chan *Delivery, error) {
	if sub.Source == "" {
		return nil, errspkg.ErrSourceRequired
	}
	messages, err := subscriber.Subscribe(ctx, sub.Source)
	if err != nil {
		return nil, err
	}

	out := make(chan *Delivery, max(sub.Prefetch, 0))
	go func() {
		defer close(out)
		for msg := range messages {
			d := NewDelivery(sub.Source, msg, watermillAcker{msg: msg})
			d.ConsumerTag = sub.Tag
			if sub.AutoAck {
				_ = d.Ack()
			}
			select {
			case out <- d:
			case <-ctx.Done():
				if !d.Settled() {
					msg.Nack()
				}
				return
			}
		}
	}()
	return out, nil
}

type watermillAcker struct {
	msg *message.Message
}

func (a watermillAcker) Ack() error {
	a.msg.Ack()
	return nil
}

func (a watermillAcker) Nack(requeue bool) error {
	if requeue {
		a.msg.Nack()
		return nil
	}
	a.msg.Ack()
	return nil
}
