package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	amqp "github.com/rabbitmq/amqp091-go"

	errspkg "github.com/cosmic-horizons/eventbus/internal/runtime/errors"
	"github.com/cosmic-horizons/eventbus/internal/runtime/metadata"
	"github.com/cosmic-horizons/eventbus/internal/runtime/topology"
	"github.com/cosmic-horizons/eventbus/transport"
)

// Conn is a live AMQP connection. Publishes share one channel, in confirm mode
// when confirms are enabled; every consumer gets its own channel so its
// prefetch applies to it alone.
type Conn struct {
	conn     Connection
	logger   watermill.LoggerAdapter
	prefetch int
	confirm  bool

	pubMu sync.Mutex
	pubCh Channel

	closeOnce sync.Once
	closeErr  error
}

var (
	_ transport.Conn             = (*Conn)(nil)
	_ transport.TopologyDeclarer = (*Conn)(nil)
	_ transport.HealthChecker    = (*Conn)(nil)
)

func newConn(conn Connection, cfg transport.Config, logger watermill.LoggerAdapter) (*Conn, error) {
	pubCh, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	if cfg.GetConfirmPublishes() {
		if err := pubCh.Confirm(false); err != nil {
			_ = pubCh.Close()
			return nil, fmt.Errorf("enable publisher confirms: %w", err)
		}
	}

	c := &Conn{
		conn:     conn,
		logger:   logger,
		prefetch: cfg.GetPrefetch(),
		confirm:  cfg.GetConfirmPublishes(),
		pubCh:    pubCh,
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if err, ok := <-closed; ok && err != nil {
			logger.Error("AMQP connection closed by broker", err, watermill.LogFields{
				"code":   err.Code,
				"server": err.Server,
			})
		}
	}()

	return c, nil
}

// Declare creates the exchanges, queues and bindings of topo. Topics are
// ignored; they belong to the durable log.
func (c *Conn) Declare(ctx context.Context, topo topology.Topology) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open topology channel: %w", err)
	}
	defer ch.Close()

	for _, ex := range topo.Exchanges {
		if err := ch.ExchangeDeclare(ex.Name, string(ex.Kind), ex.Durable, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.Name, err)
		}
	}
	for _, q := range topo.Queues {
		if _, err := ch.QueueDeclare(q.Name, q.Durable, false, false, false, amqp.Table(q.Arguments())); err != nil {
			return fmt.Errorf("declare queue %s: %w", q.Name, err)
		}
		for _, b := range q.Bindings {
			if err := ch.QueueBind(q.Name, b.Pattern, b.Exchange, false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s (%q): %w", q.Name, b.Exchange, b.Pattern, err)
			}
		}
	}

	c.logger.Debug("AMQP topology declared", watermill.LogFields{
		"exchanges": len(topo.Exchanges),
		"queues":    len(topo.Queues),
	})
	return ctx.Err()
}

// Publish sends msg to dest.Name with routing key dest.Key and, with confirms
// enabled, waits for the broker to acknowledge it.
func (c *Conn) Publish(ctx context.Context, dest transport.Destination, msg *message.Message) error {
	if dest.Name == "" {
		return errspkg.ErrDestinationRequired
	}

	pub := toPublishing(msg, dest.Persistent)

	c.pubMu.Lock()
	confirmation, err := c.pubCh.Publish(ctx, dest.Name, dest.Key, false, false, pub)
	c.pubMu.Unlock()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", dest.Name, err)
	}
	if !c.confirm || confirmation == nil {
		return nil
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm from %s: %w", dest.Name, err)
	}
	if !acked {
		return errspkg.ErrPublishNotConfirmed
	}
	return nil
}

// Subscribe starts a consumer on queue sub.Source on a dedicated channel.
// Cancelling ctx cancels the consumer and closes its channel.
func (c *Conn) Subscribe(ctx context.Context, sub transport.Subscription) (<-chan *transport.Delivery, error) {
	if sub.Source == "" {
		return nil, errspkg.ErrSourceRequired
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open consumer channel: %w", err)
	}

	prefetch := sub.Prefetch
	if prefetch <= 0 {
		prefetch = c.prefetch
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("set prefetch %d: %w", prefetch, err)
		}
	}

	raw, err := ch.Consume(sub.Source, sub.Tag, sub.AutoAck, sub.Exclusive, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("consume %s: %w", sub.Source, err)
	}

	out := make(chan *transport.Delivery, max(prefetch, 0))
	go func() {
		defer close(out)
		defer ch.Close()

		for {
			select {
			case <-ctx.Done():
				if err := ch.Cancel(sub.Tag, false); err != nil && !errors.Is(err, amqp.ErrClosed) {
					c.logger.Error("Cancel AMQP consumer", err, watermill.LogFields{"consumer_tag": sub.Tag})
				}
				return
			case d, ok := <-raw:
				if !ok {
					return
				}
				delivery := fromDelivery(sub, d)
				select {
				case out <- delivery:
				case <-ctx.Done():
					if !sub.AutoAck {
						_ = d.Nack(false, true)
					}
					_ = ch.Cancel(sub.Tag, false)
					return
				}
			}
		}
	}()

	return out, nil
}

// Healthy reports whether the underlying connection is still open.
func (c *Conn) Healthy() bool {
	return !c.conn.IsClosed()
}

// Close closes the publish channel and the connection once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		if err := c.pubCh.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
		if !c.conn.IsClosed() {
			if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
				errs = append(errs, err)
			}
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

func toPublishing(msg *message.Message, persistent bool) amqp.Publishing {
	md := msg.Metadata
	headers := make(amqp.Table, len(md))
	for k, v := range md {
		headers[k] = v
	}

	pub := amqp.Publishing{
		Headers:       headers,
		ContentType:   md.Get(metadata.ContentType),
		CorrelationId: md.Get(metadata.CorrelationID),
		MessageId:     md.Get(metadata.MessageID),
		Type:          md.Get(metadata.EventType),
		Timestamp:     time.Now().UTC(),
		DeliveryMode:  amqp.Transient,
		Body:          msg.Payload,
	}
	if pub.MessageId == "" {
		pub.MessageId = msg.UUID
	}
	if ts, ok := metadata.FromWatermill(md).Time(metadata.Timestamp); ok {
		pub.Timestamp = ts
	}
	if persistent {
		pub.DeliveryMode = amqp.Persistent
	}
	return pub
}

func fromDelivery(sub transport.Subscription, d amqp.Delivery) *transport.Delivery {
	uuid := d.MessageId
	if uuid == "" {
		uuid = watermill.NewUUID()
	}
	msg := message.NewMessage(uuid, d.Body)
	for k, v := range d.Headers {
		msg.Metadata.Set(k, fmt.Sprint(v))
	}
	if d.ContentType != "" && msg.Metadata.Get(metadata.ContentType) == "" {
		msg.Metadata.Set(metadata.ContentType, d.ContentType)
	}
	if d.CorrelationId != "" && msg.Metadata.Get(metadata.CorrelationID) == "" {
		msg.Metadata.Set(metadata.CorrelationID, d.CorrelationId)
	}
	if d.MessageId != "" {
		msg.Metadata.Set(metadata.MessageID, d.MessageId)
	}
	msg.Metadata.Set(metadata.Exchange, d.Exchange)
	msg.Metadata.Set(metadata.RoutingKey, d.RoutingKey)

	var acker transport.Acknowledger
	if !sub.AutoAck {
		acker = deliveryAcker{d}
	}
	delivery := transport.NewDelivery(sub.Source, msg, acker)
	delivery.ConsumerTag = sub.Tag
	delivery.Redelivered = delivery.Redelivered || d.Redelivered
	if sub.AutoAck {
		_ = delivery.Ack()
	}
	return delivery
}

type deliveryAcker struct {
	d amqp.Delivery
}

func (a deliveryAcker) Ack() error              { return a.d.Ack(false) }
func (a deliveryAcker) Nack(requeue bool) error { return a.d.Nack(false, requeue) }
